package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/jessy/internal/observe"
	"github.com/MrWong99/jessy/internal/voice"
	"github.com/MrWong99/jessy/pkg/audio"
	"github.com/MrWong99/jessy/pkg/audio/capture"
)

const (
	writeTimeout  = 10 * time.Second
	maxFrameBytes = 1 << 20
)

// event is a JSON text frame sent on the voice socket.
type event struct {
	Type        string           `json:"type"`
	Level       *int             `json:"level,omitempty"`
	Constraints *constraintsInfo `json:"constraints,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	DurationMS  int64            `json:"duration_ms,omitempty"`
	Kind        string           `json:"kind,omitempty"`
	Message     string           `json:"message,omitempty"`
	Text        string           `json:"text,omitempty"`
	Confidence  *float64         `json:"confidence,omitempty"`
	Verdict     string           `json:"verdict,omitempty"`
	PendingID   string           `json:"pending_id,omitempty"`
	Fallback    bool             `json:"fallback,omitempty"`
}

// constraintsInfo is the capture handshake. The processing flags are
// requests for the client's capture source.
type constraintsInfo struct {
	SampleRate       int   `json:"sample_rate"`
	ChannelCount     int   `json:"channel_count"`
	EchoCancellation bool  `json:"echo_cancellation"`
	NoiseSuppression bool  `json:"noise_suppression"`
	MaxDurationMS    int64 `json:"max_duration_ms"`
}

type controlMessage struct {
	Type string `json:"type"`
}

// handleVoice handles GET /api/voice. One socket carries one capture:
//
//	server → ready {constraints}
//	client → binary PCM frames (s16le, ?rate= and ?channels=)
//	server → level {level}          (latest value only, while capturing)
//	client → {"type":"stop"}        (or the max duration elapses)
//	server → stopped {reason}, advisory*, transcript, reply, binary audio
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	in, err := frameFormat(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		observe.Logger(r.Context()).Warn("server: voice upgrade", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	log := observe.Logger(ctx)

	handle, err := s.recorder.Start(ctx, s.constraints)
	if err != nil {
		log.Error("server: start capture", "err", err)
		conn.Close(websocket.StatusInternalError, "capture unavailable")
		return
	}
	if s.metrics != nil {
		s.metrics.ActiveCaptures.Add(ctx, 1)
		defer s.metrics.ActiveCaptures.Add(context.WithoutCancel(ctx), -1)
	}

	c := s.constraints
	if err := send(ctx, conn, event{Type: "ready", Constraints: &constraintsInfo{
		SampleRate:       c.Format.SampleRate,
		ChannelCount:     c.Format.Channels,
		EchoCancellation: c.EchoCancellation,
		NoiseSuppression: c.NoiseSuppression,
		MaxDurationMS:    c.MaxDuration.Milliseconds(),
	}}); err != nil {
		handle.Stop()
		return
	}

	levelsDone := make(chan struct{})
	go func() {
		defer close(levelsDone)
		for lvl := range handle.Levels() {
			if err := send(ctx, conn, event{Type: "level", Level: &lvl}); err != nil {
				return
			}
		}
	}()

	go s.readFrames(ctx, cancel, conn, handle, in)

	<-handle.Done()
	<-levelsDone
	clip, reason, _ := handle.Result(context.Background())
	if ctx.Err() != nil {
		log.Debug("server: voice client gone before processing", "reason", reason.String())
		return
	}
	if err := send(ctx, conn, event{
		Type:       "stopped",
		Reason:     reason.String(),
		DurationMS: clip.Duration().Milliseconds(),
	}); err != nil {
		return
	}

	turn, err := s.pipeline.Process(ctx, clip)
	if err != nil {
		log.Warn("server: process voice turn", "err", err)
		conn.Close(websocket.StatusInternalError, "processing failed")
		return
	}
	defer func() {
		if err := turn.Close(); err != nil {
			log.Warn("server: remove voice artifact", "err", err)
		}
	}()

	if err := s.sendTurn(ctx, conn, turn); err != nil {
		log.Debug("server: send voice turn", "err", err)
		return
	}
	conn.Close(websocket.StatusNormalClosure, "done")
}

// readFrames feeds binary frames into the capture until the socket fails.
// A read error stops the capture and cancels the session.
func (s *Server) readFrames(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, h *capture.Handle, in audio.Format) {
	log := observe.Logger(ctx)
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			h.Stop()
			cancel()
			return
		}
		switch typ {
		case websocket.MessageBinary:
			if err := h.Write(audio.Frame{Data: data, Format: in}); err != nil && !errors.Is(err, capture.ErrAlreadyStopped) {
				log.Warn("server: write capture frame", "err", err)
			}
		case websocket.MessageText:
			var msg controlMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Debug("server: bad control message", "err", err)
				continue
			}
			if msg.Type == "stop" {
				h.Stop()
			}
		}
	}
}

func (s *Server) sendTurn(ctx context.Context, conn *websocket.Conn, turn *voice.Turn) error {
	for _, a := range turn.Advisories {
		if err := send(ctx, conn, event{Type: "advisory", Kind: string(a.Kind), Message: a.Message}); err != nil {
			return err
		}
	}
	if t := turn.Transcript; t != nil {
		if err := send(ctx, conn, event{
			Type:       "transcript",
			Text:       t.Text,
			Confidence: t.Confidence,
			Verdict:    turn.Verdict.String(),
			PendingID:  turn.PendingID,
		}); err != nil {
			return err
		}
	}
	if rep := turn.Reply; rep != nil {
		if err := send(ctx, conn, event{Type: "reply", Text: rep.Text, Fallback: rep.Fallback}); err != nil {
			return err
		}
	}
	if turn.Speech != nil {
		data, err := os.ReadFile(turn.Speech.Path)
		if err != nil {
			return err
		}
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		return conn.Write(wctx, websocket.MessageBinary, data)
	}
	return nil
}

func send(ctx context.Context, conn *websocket.Conn, ev event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}

// frameFormat reads the incoming PCM layout from ?rate= and ?channels=.
func frameFormat(r *http.Request) (audio.Format, error) {
	f := audio.SpeechFormat
	q := r.URL.Query()
	if v := q.Get("rate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return audio.Format{}, errors.New("rate must be a positive integer")
		}
		f.SampleRate = n
	}
	if v := q.Get("channels"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 8 {
			return audio.Format{}, errors.New("channels must be between 1 and 8")
		}
		f.Channels = n
	}
	return f, nil
}

type acceptRequest struct {
	ID string `json:"id"`
}

type acceptResponse struct {
	Text        string           `json:"text"`
	Reply       string           `json:"reply"`
	Fallback    bool             `json:"fallback,omitempty"`
	Advisories  []voice.Advisory `json:"advisories,omitempty"`
	Audio       []byte           `json:"audio,omitempty"`
	ContentType string           `json:"content_type,omitempty"`
}

// handleAccept handles POST /api/voice/accept. Audio, when synthesized, is
// returned base64-encoded in the JSON body.
func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	var req acceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	turn, err := s.pipeline.Accept(ctx, req.ID)
	if errors.Is(err, voice.ErrUnknownTranscript) {
		writeError(w, http.StatusNotFound, "unknown or expired transcript")
		return
	}
	if err != nil {
		log.Error("server: accept transcript", "err", err)
		writeError(w, http.StatusInternalServerError, "reply failed")
		return
	}
	defer func() {
		if err := turn.Close(); err != nil {
			log.Warn("server: remove voice artifact", "err", err)
		}
	}()

	resp := acceptResponse{
		Text:       turn.Transcript.Text,
		Reply:      turn.Reply.Text,
		Fallback:   turn.Reply.Fallback,
		Advisories: turn.Advisories,
	}
	if turn.Speech != nil {
		data, err := os.ReadFile(turn.Speech.Path)
		if err != nil {
			log.Warn("server: read voice artifact", "err", err)
		} else {
			resp.Audio, resp.ContentType = data, turn.Speech.ContentType
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
