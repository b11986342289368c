package procpipe_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/jessy/pkg/procpipe"
)

func upper() procpipe.Func {
	return procpipe.Func{Label: "upper", F: func(_ context.Context, in io.Reader, out io.Writer) error {
		b, err := io.ReadAll(in)
		if err != nil {
			return err
		}
		_, err = out.Write(bytes.ToUpper(b))
		return err
	}}
}

func TestChain_Funcs(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	reverse := procpipe.Func{Label: "reverse", F: func(_ context.Context, in io.Reader, out io.Writer) error {
		b, _ := io.ReadAll(in)
		for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
			b[i], b[j] = b[j], b[i]
		}
		_, err := out.Write(b)
		return err
	}}

	err := procpipe.Chain(context.Background(), strings.NewReader("abc"), &out, upper(), reverse)
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	if got := out.String(); got != "CBA" {
		t.Errorf("output = %q, want %q", got, "CBA")
	}
}

func TestChain_NoStages(t *testing.T) {
	t.Parallel()
	if err := procpipe.Chain(context.Background(), nil, io.Discard); !errors.Is(err, procpipe.ErrNoStages) {
		t.Errorf("err = %v, want ErrNoStages", err)
	}
}

func TestChain_DownstreamFailureUnblocksProducer(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")

	// Producer writes forever; it only stops because the consumer failed.
	producer := procpipe.Func{Label: "producer", F: func(ctx context.Context, _ io.Reader, out io.Writer) error {
		chunk := make([]byte, 1024)
		for {
			if _, err := out.Write(chunk); err != nil {
				return err
			}
		}
	}}
	consumer := procpipe.Func{Label: "consumer", F: func(_ context.Context, in io.Reader, _ io.Writer) error {
		_, _ = in.Read(make([]byte, 10))
		return boom
	}}

	done := make(chan error, 1)
	go func() { done <- procpipe.Chain(context.Background(), nil, io.Discard, producer, consumer) }()

	select {
	case err := <-done:
		if !errors.Is(err, boom) {
			t.Errorf("err = %v, want boom", err)
		}
		var se *procpipe.StageError
		if !errors.As(err, &se) || se.Stage != "consumer" {
			t.Errorf("expected StageError for consumer, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("chain did not return after consumer failure")
	}
}

func TestChain_UpstreamFailureReachesConsumer(t *testing.T) {
	t.Parallel()
	bad := errors.New("decode failed")
	producer := procpipe.Func{Label: "producer", F: func(_ context.Context, _ io.Reader, out io.Writer) error {
		_, _ = out.Write([]byte("partial"))
		return bad
	}}

	var out bytes.Buffer
	err := procpipe.Chain(context.Background(), nil, &out, producer, upper())
	if !errors.Is(err, bad) {
		t.Fatalf("err = %v, want %v", err, bad)
	}
}

// script writes an executable shell script into a temp dir.
func script(t *testing.T, body string) string {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	path := filepath.Join(t.TempDir(), "stage.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestCommand_Pipeline(t *testing.T) {
	t.Parallel()
	upperSh := script(t, `tr 'a-z' 'A-Z'`)
	var out bytes.Buffer

	err := procpipe.Chain(context.Background(), strings.NewReader("hello"), &out,
		procpipe.Command{Path: "/bin/cat"},
		procpipe.Command{Label: "upper", Path: upperSh},
	)
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	if got := out.String(); got != "HELLO" {
		t.Errorf("output = %q, want HELLO", got)
	}
}

func TestCommand_NonZeroExitCarriesStderr(t *testing.T) {
	t.Parallel()
	failing := script(t, `echo "model load failed" >&2; exit 3`)

	err := procpipe.Chain(context.Background(), strings.NewReader("x"), io.Discard,
		procpipe.Command{Label: "decoder", Path: failing})

	var se *procpipe.StageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StageError, got %v", err)
	}
	if se.Stage != "decoder" {
		t.Errorf("Stage = %q, want decoder", se.Stage)
	}
	if !strings.Contains(se.Stderr, "model load failed") {
		t.Errorf("Stderr = %q", se.Stderr)
	}
	if code := procpipe.ExitCode(err); code != 3 {
		t.Errorf("ExitCode = %d, want 3", code)
	}
}

func TestCommand_MissingExecutable(t *testing.T) {
	t.Parallel()
	err := procpipe.Chain(context.Background(), nil, io.Discard,
		procpipe.Command{Path: filepath.Join(t.TempDir(), "nope")})
	var se *procpipe.StageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StageError, got %v", err)
	}
	if procpipe.ExitCode(err) != -1 {
		t.Errorf("ExitCode = %d, want -1", procpipe.ExitCode(err))
	}
}

func TestCommand_ContextCancelKills(t *testing.T) {
	t.Parallel()
	sleeper := script(t, `sleep 30`)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := procpipe.Chain(ctx, nil, io.Discard, procpipe.Command{Path: sleeper, WaitDelay: 100 * time.Millisecond})
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Error("cancellation did not stop the process promptly")
	}
}
