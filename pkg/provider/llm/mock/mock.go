// Package mock provides a test double for the llm.Provider interface.
//
// Responses are served in order from Responses; once exhausted the last
// entry repeats. A CompleteFunc, when set, takes precedence.
//
//	p := &mock.Provider{Responses: []mock.Response{
//	    {Err: errors.New("503")},
//	    {Content: "Hi there!"},
//	}}
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/jessy/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Response is one scripted reply.
type Response struct {
	Content string
	Err     error
}

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider. The zero value answers
// every call with an empty response and nil error.
type Provider struct {
	mu    sync.Mutex
	calls []CompleteCall

	// Responses is the scripted reply sequence.
	Responses []Response

	// CompleteFunc, if set, handles every call.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

// Complete records the call and returns the next scripted response.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	n := len(p.calls)
	p.calls = append(p.calls, CompleteCall{Ctx: ctx, Req: req})
	fn := p.CompleteFunc
	var r Response
	if len(p.Responses) > 0 {
		r = p.Responses[min(n, len(p.Responses)-1)]
	}
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return &llm.CompletionResponse{Content: r.Content}, nil
}

// Calls returns a copy of all recorded calls.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.calls)
}

// CallCount returns how many times Complete was invoked.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}
