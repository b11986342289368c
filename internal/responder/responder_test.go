package responder

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/jessy/internal/observe"
	"github.com/MrWong99/jessy/pkg/memory"
	"github.com/MrWong99/jessy/pkg/memory/inmem"
	memmock "github.com/MrWong99/jessy/pkg/memory/mock"
	"github.com/MrWong99/jessy/pkg/provider/llm"
	llmmock "github.com/MrWong99/jessy/pkg/provider/llm/mock"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

var errUnreachable = errors.New("dial tcp: connection refused")

func assertTurns(t *testing.T, got []memory.Turn, want ...memory.Turn) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d turns %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i].Speaker != want[i].Speaker || got[i].Text != want[i].Text {
			t.Errorf("turn[%d] = {%s %q}, want {%s %q}", i, got[i].Speaker, got[i].Text, want[i].Speaker, want[i].Text)
		}
	}
}

func list(t *testing.T, s memory.SessionStore) []memory.Turn {
	t.Helper()
	turns, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	return turns
}

func TestRespond_HappyPath(t *testing.T) {
	store := inmem.New()
	backend := &llmmock.Provider{Responses: []llmmock.Response{{Content: "Hi there!"}}}
	r := New(backend, store)

	reply, err := r.Respond(context.Background(), "Hello")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply.Text != "Hi there!" || reply.Fallback {
		t.Fatalf("reply = %+v", reply)
	}
	if len(reply.Attempts) != 1 || reply.Attempts[0].Outcome != OutcomeSuccess {
		t.Fatalf("attempts = %+v", reply.Attempts)
	}

	assertTurns(t, list(t, store),
		memory.Turn{Speaker: memory.SpeakerUser, Text: "Hello"},
		memory.Turn{Speaker: memory.SpeakerAssistant, Text: "Hi there!"},
	)

	calls := backend.Calls()
	if len(calls) != 1 {
		t.Fatalf("backend called %d times", len(calls))
	}
	req := calls[0].Req
	if req.Temperature != 0.7 {
		t.Errorf("temperature = %v, want 0.7", req.Temperature)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != llm.RoleUser {
		t.Fatalf("messages = %+v", req.Messages)
	}
	if want := RenderPrompt(DefaultPersona, nil, "Hello"); req.Messages[0].Content != want {
		t.Errorf("prompt =\n%q\nwant\n%q", req.Messages[0].Content, want)
	}
}

func TestRespond_ContextWindowExcludesDegradedAndIsBounded(t *testing.T) {
	store := inmem.New()
	ctx := context.Background()
	seed := []memory.Turn{
		{Speaker: memory.SpeakerUser, Text: "one"},
		{Speaker: memory.SpeakerAssistant, Text: "Service temporarily unavailable"},
		{Speaker: memory.SpeakerUser, Text: "two"},
		{Speaker: memory.SpeakerAssistant, Text: "I was offline"},
		{Speaker: memory.SpeakerUser, Text: "three"},
		{Speaker: memory.SpeakerAssistant, Text: "four"},
		{Speaker: memory.SpeakerUser, Text: "five"},
		{Speaker: memory.SpeakerAssistant, Text: "six"},
	}
	for _, tr := range seed {
		if err := store.Append(ctx, tr); err != nil {
			t.Fatal(err)
		}
	}

	backend := &llmmock.Provider{Responses: []llmmock.Response{{Content: "ok then"}}}
	r := New(backend, store)
	if _, err := r.Respond(ctx, "seven"); err != nil {
		t.Fatal(err)
	}

	wantWindow := []memory.Turn{
		{Speaker: memory.SpeakerUser, Text: "two"},
		{Speaker: memory.SpeakerUser, Text: "three"},
		{Speaker: memory.SpeakerAssistant, Text: "four"},
		{Speaker: memory.SpeakerUser, Text: "five"},
		{Speaker: memory.SpeakerAssistant, Text: "six"},
	}
	want := RenderPrompt(DefaultPersona, wantWindow, "seven")
	if got := backend.Calls()[0].Req.Messages[0].Content; got != want {
		t.Errorf("prompt =\n%q\nwant\n%q", got, want)
	}
}

func TestRespond_AlwaysDegradedStopsAtThreeAttempts(t *testing.T) {
	store := inmem.New()
	backend := &llmmock.Provider{Responses: []llmmock.Response{{Content: "The service is unavailable right now"}}}
	r := New(backend, store)

	reply, err := r.Respond(context.Background(), "Tell me a joke")
	if err != nil {
		t.Fatal(err)
	}
	if n := backend.CallCount(); n != 3 {
		t.Fatalf("backend called %d times, want exactly 3", n)
	}
	for i, a := range reply.Attempts {
		if a.Outcome != OutcomeLowQuality || a.Number != i+1 {
			t.Errorf("attempt[%d] = %+v", i, a)
		}
	}
	if !reply.Fallback || reply.FallbackReason != ReasonDegraded {
		t.Fatalf("reply = %+v, want degraded fallback", reply)
	}

	turns := list(t, store)
	assertTurns(t, turns,
		memory.Turn{Speaker: memory.SpeakerUser, Text: "Tell me a joke"},
		memory.Turn{Speaker: memory.SpeakerAssistant, Text: FallbackReply("Tell me a joke")},
	)
}

func TestRespond_UnreachableBackendFallsBack(t *testing.T) {
	store := inmem.New()
	backend := &llmmock.Provider{Responses: []llmmock.Response{{Err: errUnreachable}}}
	r := New(backend, store)

	reply, err := r.Respond(context.Background(), "Hello")
	if err != nil {
		t.Fatalf("Respond returned error %v, want fallback reply", err)
	}
	if !reply.Fallback {
		t.Fatalf("reply = %+v, want fallback", reply)
	}
	if !strings.Contains(reply.Text, `You said: "Hello"`) {
		t.Errorf("fallback %q does not quote the prompt", reply.Text)
	}
	if backend.CallCount() != 3 {
		t.Errorf("backend called %d times, want 3", backend.CallCount())
	}
	last := reply.Attempts[len(reply.Attempts)-1]
	if last.Outcome != OutcomeTransportError || !errors.Is(last.Err, errUnreachable) {
		t.Errorf("last attempt = %+v", last)
	}
	if got := list(t, store); len(got) != 2 || got[1].Text != reply.Text {
		t.Errorf("stored turns = %v", got)
	}
}

func TestRespond_RecoversOnRetry(t *testing.T) {
	backend := &llmmock.Provider{Responses: []llmmock.Response{
		{Err: errUnreachable},
		{Content: "currently offline"},
		{Content: "Sure, here you go."},
	}}
	r := New(backend, inmem.New())

	reply, err := r.Respond(context.Background(), "Help me")
	if err != nil {
		t.Fatal(err)
	}
	if reply.Text != "Sure, here you go." || reply.Fallback {
		t.Fatalf("reply = %+v", reply)
	}
	want := []Outcome{OutcomeTransportError, OutcomeLowQuality, OutcomeSuccess}
	for i, o := range want {
		if reply.Attempts[i].Outcome != o {
			t.Errorf("attempt[%d] = %v, want %v", i, reply.Attempts[i].Outcome, o)
		}
	}
}

func TestRespond_EchoFallsBack(t *testing.T) {
	backend := &llmmock.Provider{Responses: []llmmock.Response{{Content: "You said ok, so ok."}}}
	r := New(backend, inmem.New())

	reply, err := r.Respond(context.Background(), "ok")
	if err != nil {
		t.Fatal(err)
	}
	if !reply.Fallback || reply.FallbackReason != ReasonEcho {
		t.Fatalf("reply = %+v, want echo fallback", reply)
	}
	if backend.CallCount() != 1 {
		t.Errorf("echo must not trigger retries, got %d calls", backend.CallCount())
	}
}

func TestRespond_EmptyPrompt(t *testing.T) {
	store := &memmock.SessionStore{}
	backend := &llmmock.Provider{}
	r := New(backend, store)

	for _, p := range []string{"", "   ", "\n\t"} {
		if _, err := r.Respond(context.Background(), p); !errors.Is(err, ErrEmptyPrompt) {
			t.Errorf("Respond(%q) err = %v, want ErrEmptyPrompt", p, err)
		}
	}
	if backend.CallCount() != 0 {
		t.Errorf("backend called %d times", backend.CallCount())
	}
	if n := len(store.Calls()); n != 0 {
		t.Errorf("store touched %d times", n)
	}
}

func TestRespond_StoreFailuresAreNotSurfaced(t *testing.T) {
	store := &memmock.SessionStore{
		RecentErr: errors.New("relation chats does not exist"),
		AppendErr: errors.New("disk full"),
	}
	backend := &llmmock.Provider{Responses: []llmmock.Response{{Content: "Hi there!"}}}
	r := New(backend, store)

	reply, err := r.Respond(context.Background(), "Hello")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply.Text != "Hi there!" {
		t.Errorf("reply = %q", reply.Text)
	}
	if n := store.CallCount("Append"); n != 2 {
		t.Errorf("Append called %d times, want 2", n)
	}
}

func TestRespond_EmptyCompletion(t *testing.T) {
	backend := &llmmock.Provider{Responses: []llmmock.Response{{Content: ""}}}
	r := New(backend, inmem.New())

	reply, err := r.Respond(context.Background(), "Hello")
	if err != nil {
		t.Fatal(err)
	}
	if reply.Text != EmptyCompletionText {
		t.Errorf("reply = %q, want %q", reply.Text, EmptyCompletionText)
	}
}

func TestRespond_AttemptTimeout(t *testing.T) {
	backend := &llmmock.Provider{CompleteFunc: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	r := New(backend, inmem.New(), WithSettings(Settings{AttemptTimeout: 10 * time.Millisecond}))

	start := time.Now()
	reply, err := r.Respond(context.Background(), "Hello")
	if err != nil {
		t.Fatal(err)
	}
	if !reply.Fallback {
		t.Fatalf("reply = %+v, want fallback", reply)
	}
	if backend.CallCount() != 3 {
		t.Errorf("backend called %d times, want 3", backend.CallCount())
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Respond took %v", elapsed)
	}
	for _, a := range reply.Attempts {
		if !errors.Is(a.Err, context.DeadlineExceeded) {
			t.Errorf("attempt %d err = %v, want deadline exceeded", a.Number, a.Err)
		}
	}
}

func TestRespond_CancelledContextStillRecordsTurns(t *testing.T) {
	store := inmem.New()
	ctx, cancel := context.WithCancel(context.Background())
	backend := &llmmock.Provider{CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		cancel()
		return nil, context.Canceled
	}}
	r := New(backend, store)

	reply, err := r.Respond(ctx, "Hello")
	if err != nil {
		t.Fatal(err)
	}
	if backend.CallCount() != 1 {
		t.Errorf("backend called %d times after cancellation, want 1", backend.CallCount())
	}
	if !reply.Fallback {
		t.Error("want fallback after cancellation")
	}
	if got := list(t, store); len(got) != 2 {
		t.Errorf("stored %d turns, want 2", len(got))
	}
}

func TestUpdateSettings(t *testing.T) {
	backend := &llmmock.Provider{Responses: []llmmock.Response{{Content: "fine"}}}
	r := New(backend, inmem.New(), WithSettings(Settings{MaxAttempts: 1}))

	r.UpdateSettings(Settings{Persona: "You are terse.", Temperature: 0.2})
	if _, err := r.Respond(context.Background(), "Hi"); err != nil {
		t.Fatal(err)
	}
	req := backend.Calls()[0].Req
	if req.Temperature != 0.2 {
		t.Errorf("temperature = %v, want 0.2", req.Temperature)
	}
	if !strings.HasPrefix(req.Messages[0].Content, "You are terse.\n\n") {
		t.Errorf("prompt = %q", req.Messages[0].Content)
	}
	if got := r.Settings().MaxAttempts; got != defaultMaxAttempts {
		t.Errorf("MaxAttempts after update = %d, want default %d", got, defaultMaxAttempts)
	}
}

func TestRespond_RecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	backend := &llmmock.Provider{Responses: []llmmock.Response{{Err: errUnreachable}}}
	r := New(backend, inmem.New(), WithMetrics(m), WithProviderName("groq"))
	if _, err := r.Respond(context.Background(), "Hello"); err != nil {
		t.Fatal(err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if sum, ok := met.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					counts[met.Name] += dp.Value
				}
			}
		}
	}
	if counts["jessy.completion.attempts"] != 3 {
		t.Errorf("attempts = %d, want 3", counts["jessy.completion.attempts"])
	}
	if counts["jessy.responder.fallbacks"] != 1 {
		t.Errorf("fallbacks = %d, want 1", counts["jessy.responder.fallbacks"])
	}
	if counts["jessy.provider.errors"] != 3 {
		t.Errorf("provider errors = %d, want 3", counts["jessy.provider.errors"])
	}
}

func TestNext(t *testing.T) {
	tests := []struct {
		outcome Outcome
		n       int
		want    step
	}{
		{OutcomeSuccess, 1, stepDone},
		{OutcomeLowQuality, 1, stepRetry},
		{OutcomeLowQuality, 3, stepDone},
		{OutcomeTransportError, 2, stepRetry},
		{OutcomeTransportError, 3, stepExhausted},
	}
	for _, tt := range tests {
		if got := next(Attempt{Number: tt.n, Outcome: tt.outcome}, 3); got != tt.want {
			t.Errorf("next(%v, n=%d) = %v, want %v", tt.outcome, tt.n, got, tt.want)
		}
	}
}
