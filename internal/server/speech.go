package server

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/MrWong99/jessy/internal/observe"
	"github.com/MrWong99/jessy/internal/resilience"
	"github.com/MrWong99/jessy/pkg/audio"
	"github.com/MrWong99/jessy/pkg/provider/stt"
)

var errMissingUpload = errors.New("server: no audio uploaded")

type transcriptResponse struct {
	Text          string   `json:"text"`
	Confidence    *float64 `json:"confidence"`
	LowConfidence bool     `json:"low_confidence"`
}

// handleSpeechToText handles POST /api/speech-to-text. The upload is spooled
// to a temporary file that is removed on every return path.
func (s *Server) handleSpeechToText(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	path, contentType, err := s.spoolUpload(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
		case errors.Is(err, errMissingUpload):
			writeError(w, http.StatusBadRequest, "No audio uploaded")
		default:
			log.Error("server: spool upload", "err", err)
			writeError(w, http.StatusInternalServerError, "failed to store upload")
		}
		return
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("server: remove upload", "path", path, "err", err)
		}
	}()

	res, err := s.pipeline.Transcribe(ctx, &audio.Clip{Path: path, ContentType: contentType})
	if err != nil {
		log.Warn("server: transcribe upload", "err", err)
		var (
			malformed *stt.MalformedOutputError
			proc      *stt.ProcessError
		)
		switch {
		case errors.Is(err, resilience.ErrCircuitOpen):
			writeError(w, http.StatusServiceUnavailable, "Speech recognition is temporarily unavailable.")
		case errors.Is(err, stt.ErrModelUnavailable):
			writeError(w, http.StatusInternalServerError, "Whisper model file not found.")
		case errors.As(err, &malformed):
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Whisper JSON parse failed", Raw: malformed.Raw})
		case errors.As(err, &proc):
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: proc.Stage + " failed", Detail: proc.Stderr})
		default:
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "transcription failed", Detail: err.Error()})
		}
		return
	}

	writeJSON(w, http.StatusOK, transcriptResponse{
		Text:          res.Text,
		Confidence:    res.Confidence,
		LowConfidence: s.pipeline.Verdict(res) == stt.VerdictLowConfidence,
	})
}

// spoolUpload copies the "audio" form file into the temp dir and returns its
// path. On error no file is left behind.
func (s *Server) spoolUpload(r *http.Request) (path, contentType string, err error) {
	src, hdr, err := r.FormFile("audio")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return "", "", errMissingUpload
	}
	if err != nil {
		return "", "", err
	}
	defer src.Close()
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	dst, err := os.CreateTemp(s.tempDir, "upload-*"+filepath.Ext(hdr.Filename))
	if err != nil {
		return "", "", err
	}
	_, copyErr := io.Copy(dst, src)
	closeErr := dst.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(dst.Name())
		return "", "", err
	}
	return dst.Name(), hdr.Header.Get("Content-Type"), nil
}

// handleTTS handles GET /tts. The artifact is deleted once the body has been
// written, whether or not the copy succeeded.
func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	text := r.URL.Query().Get("text")
	if text == "" {
		writeError(w, http.StatusBadRequest, "Text is required")
		return
	}

	art, err := s.pipeline.Speak(ctx, text)
	if err != nil {
		log.Warn("server: synthesize", "err", err)
		status := http.StatusInternalServerError
		if errors.Is(err, resilience.ErrCircuitOpen) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, errorBody{Error: "TTS failed: " + err.Error(), Text: text})
		return
	}
	defer func() {
		if err := art.Close(); err != nil {
			log.Warn("server: remove tts artifact", "err", err)
		}
	}()

	f, err := art.Open()
	if err != nil {
		log.Error("server: open tts artifact", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Failed to send TTS audio", Text: text})
		return
	}
	defer f.Close()

	ct := art.ContentType
	if ct == "" {
		ct = "audio/wav"
	}
	w.Header().Set("Content-Type", ct)
	if n, err := art.Size(); err == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(n, 10))
	}
	if _, err := io.Copy(w, f); err != nil {
		log.Warn("server: stream tts audio", "err", err)
	}
}
