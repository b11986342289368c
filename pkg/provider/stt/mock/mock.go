// Package mock provides a test double for [stt.Provider].
//
//	p := &mock.Provider{Result: stt.Result{Text: "Hello"}}
//	res, _ := p.Transcribe(ctx, clip)
//	if len(p.Calls()) != 1 { … }
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/jessy/pkg/audio"
	"github.com/MrWong99/jessy/pkg/provider/stt"
)

var _ stt.Provider = (*Provider)(nil)

// Provider returns a canned [stt.Result] and records every clip it saw.
type Provider struct {
	mu    sync.Mutex
	calls []*audio.Clip

	// Result is returned by Transcribe when Err is nil.
	Result stt.Result

	// Err, if non-nil, is returned by Transcribe.
	Err error

	// TranscribeFunc, when set, replaces Result and Err.
	TranscribeFunc func(ctx context.Context, clip *audio.Clip) (stt.Result, error)
}

// Transcribe implements [stt.Provider].
func (p *Provider) Transcribe(ctx context.Context, clip *audio.Clip) (stt.Result, error) {
	p.mu.Lock()
	p.calls = append(p.calls, clip)
	fn, res, err := p.TranscribeFunc, p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, clip)
	}
	if err != nil {
		return stt.Result{}, err
	}
	return res, nil
}

// Calls returns the clips passed to Transcribe, in order.
func (p *Provider) Calls() []*audio.Clip {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.calls)
}

// Reset clears recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}
