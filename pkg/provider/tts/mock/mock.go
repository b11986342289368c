// Package mock provides a test double for [tts.Provider].
//
// By default Synthesize writes the text into a real temporary file so the
// caller can stream it and Close it like a genuine artifact.
package mock

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"

	"github.com/MrWong99/jessy/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

// Provider records synthesized texts and produces file-backed artifacts.
type Provider struct {
	mu    sync.Mutex
	texts []string
	arts  []*tts.Artifact

	// Dir is where artifacts are written. Empty uses os.TempDir().
	Dir string

	// Audio is written to each artifact. Defaults to the text itself.
	Audio []byte

	// Err, if non-nil, is returned by Synthesize.
	Err error
}

// Synthesize implements [tts.Provider].
func (p *Provider) Synthesize(_ context.Context, text string) (*tts.Artifact, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.texts = append(p.texts, text)
	if p.Err != nil {
		return nil, p.Err
	}

	f, err := os.CreateTemp(p.Dir, "tts-output-*.wav")
	if err != nil {
		return nil, fmt.Errorf("mock tts: %w", err)
	}
	data := p.Audio
	if data == nil {
		data = []byte(text)
	}
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("mock tts: write artifact: %v %v", werr, cerr)
	}
	art := tts.NewArtifact(f.Name(), "audio/wav")
	p.arts = append(p.arts, art)
	return art, nil
}

// Texts returns every text passed to Synthesize.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.texts)
}

// Artifacts returns every artifact handed out.
func (p *Provider) Artifacts() []*tts.Artifact {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.arts)
}
