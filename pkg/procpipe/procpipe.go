// Package procpipe runs chains of streaming stages, typically external
// processes, connected stdout to stdin.
//
// Adjacent stages are joined by an unbuffered [io.Pipe], so a slow consumer
// holds back its producer instead of letting data pile up in memory. All
// stages run concurrently under one [errgroup.Group]: the first failure
// cancels the shared context, which kills every process still running, and
// [Chain] returns the error of the stage that failed first. Pipes are closed on every exit path so
// no stage is left blocked on a dead neighbour.
package procpipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Stage is one step of a pipeline. Run must consume from in and produce to
// out until done, and must return promptly once ctx is cancelled.
type Stage interface {
	Name() string
	Run(ctx context.Context, in io.Reader, out io.Writer) error
}

// StageError reports a failed stage. For process stages Stderr holds the
// tail of the diagnostic output.
type StageError struct {
	Stage  string
	Stderr string
	Err    error
}

func (e *StageError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("procpipe: stage %s: %v: %s", e.Stage, e.Err, e.Stderr)
	}
	return fmt.Sprintf("procpipe: stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// ErrNoStages is returned by [Chain] when called without stages.
var ErrNoStages = errors.New("procpipe: no stages")

// Chain streams in through stages and writes the last stage's output to
// out. It blocks until every stage has returned.
func Chain(ctx context.Context, in io.Reader, out io.Writer, stages ...Stage) error {
	if len(stages) == 0 {
		return ErrNoStages
	}

	var (
		mu    sync.Mutex
		first error
	)
	g, gctx := errgroup.WithContext(ctx)
	src := in
	for i, st := range stages {
		var (
			dst io.Writer = out
			pw  *io.PipeWriter
			pr  *io.PipeReader
		)
		if i < len(stages)-1 {
			pr, pw = io.Pipe()
			dst = pw
		}
		stageIn := src
		var upstream *io.PipeReader
		if i > 0 {
			upstream = src.(*io.PipeReader)
		}

		g.Go(func() error {
			err := st.Run(gctx, stageIn, dst)
			if err != nil {
				var se *StageError
				if !errors.As(err, &se) {
					err = &StageError{Stage: st.Name(), Err: err}
				}
				// Record before closing pipes so the root cause wins over
				// the broken-pipe errors it triggers in neighbours.
				mu.Lock()
				if first == nil {
					first = err
				}
				mu.Unlock()
			}
			// Downstream sees EOF on success or our error on failure.
			if pw != nil {
				pw.CloseWithError(err)
			}
			// Upstream writes fail from now on instead of blocking.
			if upstream != nil {
				upstream.CloseWithError(io.ErrClosedPipe)
			}
			return err
		})

		if pr != nil {
			src = pr
		}
	}
	if err := g.Wait(); err != nil {
		mu.Lock()
		defer mu.Unlock()
		return first
	}
	return nil
}

// Func adapts a function to [Stage].
type Func struct {
	Label string
	F     func(ctx context.Context, in io.Reader, out io.Writer) error
}

// Name implements [Stage].
func (f Func) Name() string { return f.Label }

// Run implements [Stage].
func (f Func) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	return f.F(ctx, in, out)
}
