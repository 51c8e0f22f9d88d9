package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/kailas-cloud/ragstream/internal/domain"
)

// Config controls prompt packing and stream timing.
type Config struct {
	SystemPrompt    string
	ContextBudget   int // <= 0 disables the budget
	OpenTimeout     time.Duration
	FragmentTimeout time.Duration
	Buffer          int
}

// Service is the Generation Facade.
type Service struct {
	backend Backend
	counter Counter
	cfg     Config
}

// New creates a Service. A nil counter measures characters.
func New(backend Backend, counter Counter, cfg Config) *Service {
	if counter == nil {
		counter = CharCounter{}
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}
	return &Service{backend: backend, counter: counter, cfg: cfg}
}

// Open starts generation and returns its fragments in producer order.
// Fragments carry seq 1..n; the last one has EOS or Err set, then the channel
// closes. Cancelling ctx aborts the backend call and closes the channel.
func (s *Service) Open(ctx context.Context, p domain.Prompt) (<-chan domain.Fragment, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	var openExpired atomic.Bool
	var openTimer *time.Timer
	if s.cfg.OpenTimeout > 0 {
		openTimer = time.AfterFunc(s.cfg.OpenTimeout, func() {
			openExpired.Store(true)
			cancel()
		})
	}

	stream, err := s.backend.Stream(streamCtx, p)
	if openTimer != nil {
		openTimer.Stop()
	}
	if openExpired.Load() {
		if err == nil {
			_ = stream.Close()
		}
		err = fmt.Errorf("open stream: %w", context.DeadlineExceeded)
	}
	if err != nil {
		cancel()
		return nil, domain.UpstreamError("generate", err)
	}

	out := make(chan domain.Fragment, s.cfg.Buffer)
	go s.produce(ctx, cancel, stream, out)
	return out, nil
}

func (s *Service) produce(
	ctx context.Context, cancel context.CancelFunc,
	stream domain.TokenStream, out chan<- domain.Fragment,
) {
	defer close(out)
	defer cancel()
	defer func() { _ = stream.Close() }()

	send := func(f domain.Fragment) bool {
		select {
		case out <- f:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var stalled atomic.Bool
	seq := 0
	for {
		var timer *time.Timer
		if s.cfg.FragmentTimeout > 0 {
			timer = time.AfterFunc(s.cfg.FragmentTimeout, func() {
				stalled.Store(true)
				cancel()
			})
		}
		text, err := stream.Recv()
		if timer != nil {
			timer.Stop()
		}

		switch {
		case errors.Is(err, io.EOF):
			send(domain.Fragment{Seq: seq + 1, EOS: true})
			return
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			if stalled.Load() {
				err = fmt.Errorf("fragment wait: %w", context.DeadlineExceeded)
			}
			send(domain.Fragment{Seq: seq + 1, Err: domain.UpstreamError("generate", err)})
			return
		case text == "":
			continue
		}

		seq++
		if !send(domain.Fragment{Seq: seq, Text: text}) {
			return
		}
	}
}
