package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/ragstream/internal/domain"
	"github.com/kailas-cloud/ragstream/internal/domain/candidate"
	"github.com/kailas-cloud/ragstream/internal/logger"
	"github.com/kailas-cloud/ragstream/internal/metrics"
	"github.com/kailas-cloud/ragstream/internal/observe"
)

// Outcome is how a request was answered.
type Outcome string

const (
	// Answered carries a generated stream.
	Answered Outcome = "answered"
	// Refused carries the fixed refusal message.
	Refused Outcome = "refused"
	// NoResults carries the fixed no-results message.
	NoResults Outcome = "no_results"
)

// Terminal request outcomes recorded in metrics and spans.
const (
	outcomeDone        = "done"
	outcomeRefused     = "refused"
	outcomeNoResults   = "no_results"
	outcomeAborted     = "aborted"
	outcomeCancelled   = "cancelled"
	outcomeStreamError = "stream_error"
	outcomeOK          = "ok"
	outcomeDegraded    = "degraded"
	outcomeError       = "error"
)

var errBlocked = errors.New("blocked by safety gate")

// Config holds request-wide settings.
type Config struct {
	RetrieveTopK     int
	RerankTopK       int
	RequestTimeout   time.Duration
	RefusalMessage   string
	NoResultsMessage string
}

// Deps are the stage facades. Rewriter and Variants can be nil.
type Deps struct {
	Guard     Guard
	Rewriter  Rewriter
	Retriever Retriever
	Reranker  Reranker
	Generator Generator
	Filter    Filter
	Variants  VariantPicker
}

// Response is the result of a request that was not rejected with an error.
// Fragments is nil unless Outcome is Answered; it is closed when the
// stream ends, and the request's resources are released with it.
type Response struct {
	TraceID   string
	Outcome   Outcome
	Message   string
	Variant   string
	Fragments <-chan domain.Fragment
	State     *State
}

// Orchestrator drives one request through guard, rewrite, retrieval,
// rerank, generation and output filtering.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	sink   observe.Sink
	logger *zap.Logger
}

// New creates an Orchestrator. sink and log can be nil.
func New(deps Deps, cfg Config, sink observe.Sink, log *zap.Logger) *Orchestrator {
	if sink == nil {
		sink = observe.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{deps: deps, cfg: cfg, sink: sink, logger: log}
}

// Run executes the pipeline. Errors are returned only before streaming
// starts; later failures arrive as a terminal fragment with Err set.
func (o *Orchestrator) Run(ctx context.Context, q domain.Query) (*Response, error) {
	if strings.TrimSpace(q.Text()) == "" {
		return nil, fmt.Errorf("%w: query is required", domain.ErrValidation)
	}

	start := time.Now()
	traceID := q.TraceID()
	if traceID == "" {
		traceID = uuid.NewString()
	}

	deadline := q.Deadline()
	if o.cfg.RequestTimeout > 0 {
		if d := start.Add(o.cfg.RequestTimeout); deadline.IsZero() || d.Before(deadline) {
			deadline = d
		}
	}
	var reqCtx context.Context
	var cancel context.CancelFunc
	if deadline.IsZero() {
		reqCtx, cancel = context.WithCancel(ctx)
	} else {
		reqCtx, cancel = context.WithDeadline(ctx, deadline)
	}

	st := newState(traceID, deadline)
	stopWatch := context.AfterFunc(reqCtx, st.cancel)

	reqCtx, log := logger.WithTrace(reqCtx, o.logger, traceID)

	v := domain.Variant{Name: domain.VariantControl}
	if o.deps.Variants != nil {
		v = o.deps.Variants.Pick(q.UserID())
	}
	metrics.VariantRequestsTotal.WithLabelValues(v.Name).Inc()

	r := &request{o: o, ctx: reqCtx, st: st, log: log, variant: v, userID: q.UserID()}
	release := func(outcome string) {
		stopWatch()
		cancel()
		r.span("request", start, time.Now(), outcome)
		metrics.PipelineRequestsTotal.WithLabelValues(outcome).Inc()
	}

	resp, frags, err := r.run(q.Text())
	if err != nil {
		release(r.terminal(err))
		return nil, err
	}
	resp.TraceID = traceID
	resp.Variant = v.Name
	resp.State = st

	if frags == nil {
		release(string(resp.Outcome))
		return resp, nil
	}
	out := make(chan domain.Fragment)
	resp.Fragments = out
	go r.forward(frags, out, release)
	return resp, nil
}

type request struct {
	o       *Orchestrator
	ctx     context.Context
	st      *State
	log     *zap.Logger
	variant domain.Variant
	userID  string
}

func (r *request) run(text string) (*Response, <-chan domain.Fragment, error) {
	deps, cfg := r.o.deps, r.o.cfg

	verdict, rewritten, err := r.guardTransform(text)
	if err != nil {
		return nil, nil, err
	}
	if verdict.Decision == domain.Block {
		return &Response{Outcome: Refused, Message: cfg.RefusalMessage}, nil, nil
	}
	safeText := verdict.Text(text)
	searchText := rewritten
	if verdict.Decision == domain.Modify {
		searchText = safeText
	}

	var cands []candidate.Candidate
	err = r.stage(StageRetrieve, func() (string, error) {
		var err error
		cands, err = deps.Retriever.Retrieve(r.ctx, searchText, cfg.RetrieveTopK)
		if err != nil {
			return outcomeError, r.fail(StageRetrieve, err)
		}
		return outcomeOK, nil
	})
	if err != nil {
		return nil, nil, err
	}
	if len(cands) == 0 {
		return &Response{Outcome: NoResults, Message: cfg.NoResultsMessage}, nil, nil
	}

	var ranked []candidate.Ranked
	err = r.stage(StageRerank, func() (string, error) {
		var err error
		ranked, err = deps.Reranker.Rerank(r.ctx, safeText, r.userID, cands, cfg.RerankTopK)
		if err != nil {
			if r.ctx.Err() != nil {
				return outcomeCancelled, r.fail(StageRerank, err)
			}
			r.degraded(StageRerank, err)
			ranked = deps.Reranker.Fallback(cands, cfg.RerankTopK)
			return outcomeDegraded, nil
		}
		return outcomeOK, nil
	})
	if err != nil {
		return nil, nil, err
	}

	var frags <-chan domain.Fragment
	err = r.stage(StageGenerate, func() (string, error) {
		pc := deps.Generator.BuildPrompt(safeText, ranked)
		var err error
		frags, err = deps.Generator.Open(r.ctx, deps.Generator.Render(pc, r.variant.Model))
		if err != nil {
			return outcomeError, r.fail(StageGenerate, err)
		}
		return outcomeOK, nil
	})
	if err != nil {
		return nil, nil, err
	}

	if err := r.st.enter(StageFilterStream); err != nil {
		return nil, nil, err
	}
	return &Response{Outcome: Answered}, deps.Filter.Apply(r.ctx, frags), nil
}

// guardTransform runs the safety gate and the rewriter concurrently and
// joins them. A gate failure is treated as a block.
func (r *request) guardTransform(text string) (domain.Verdict, string, error) {
	var verdict domain.Verdict
	rewritten := text

	err := r.stage(StageGuardTransform, func() (string, error) {
		var guardErr, rewriteErr error
		g, gctx := errgroup.WithContext(r.ctx)

		g.Go(func() error {
			t0 := time.Now()
			verdict, guardErr = r.o.deps.Guard.Check(gctx, text)
			outcome := outcomeOK
			switch {
			case guardErr != nil:
				outcome = outcomeError
			case verdict.Decision == domain.Block:
				outcome = outcomeRefused
			}
			r.span("guard", t0, time.Now(), outcome)
			if guardErr != nil {
				return guardErr
			}
			if verdict.Decision == domain.Block {
				return errBlocked
			}
			return nil
		})
		if rw := r.o.deps.Rewriter; rw != nil {
			g.Go(func() error {
				t0 := time.Now()
				out, err := rw.Rewrite(gctx, text)
				if err == nil && strings.TrimSpace(out) != "" {
					rewritten = out
				}
				rewriteErr = err
				outcome := outcomeOK
				if err != nil {
					outcome = outcomeDegraded
				}
				r.span("rewrite", t0, time.Now(), outcome)
				return nil
			})
		}
		_ = g.Wait()

		if r.ctx.Err() != nil {
			return outcomeCancelled, r.fail(StageGuardTransform, r.ctx.Err())
		}
		if guardErr != nil {
			r.log.Warn("Safety gate failed, refusing query",
				zap.String("stage", "guard"), zap.Error(guardErr))
			verdict = domain.Verdict{Decision: domain.Block, Reason: "safety gate unavailable"}
			return outcomeRefused, nil
		}
		if verdict.Decision == domain.Block {
			r.log.Info("Query blocked by safety gate", zap.String("reason", verdict.Reason))
			return outcomeRefused, nil
		}
		if rewriteErr != nil {
			r.degraded("rewrite", rewriteErr)
			return outcomeDegraded, nil
		}
		return outcomeOK, nil
	})
	return verdict, rewritten, err
}

// stage enters a stage, runs fn, and records its timing and span.
func (r *request) stage(name string, fn func() (string, error)) error {
	if err := r.st.enter(name); err != nil {
		return err
	}
	t0 := time.Now()
	outcome, err := fn()
	if err != nil && r.ctx.Err() != nil {
		outcome = outcomeCancelled
	}
	end := time.Now()
	r.st.record(name, end.Sub(t0))
	r.span(name, t0, end, outcome)
	return err
}

// fail attributes a stage error, preferring the request's own cancellation
// or deadline over whatever the facade reported.
func (r *request) fail(stage string, err error) error {
	if cause := r.ctx.Err(); cause != nil {
		return domain.UpstreamError(stage, cause)
	}
	if domain.StageOf(err) != "" {
		return err
	}
	return domain.UpstreamError(stage, err)
}

// terminal maps a pre-stream failure to its end state. A caller that went
// away and an expired request deadline both end CANCELLED; the error kept for
// the HTTP layer still tells them apart (499 vs 504).
func (r *request) terminal(err error) string {
	if errors.Is(err, domain.ErrCancelled) || r.ctx.Err() != nil {
		return outcomeCancelled
	}
	return outcomeAborted
}

func (r *request) degraded(stage string, err error) {
	metrics.PipelineDegradedTotal.WithLabelValues(stage).Inc()
	r.log.Warn("Stage degraded, using fallback", zap.String("stage", stage), zap.Error(err))
}

func (r *request) span(name string, start, end time.Time, outcome string) {
	r.o.sink.RecordSpan(name, start, end, map[string]string{
		observe.AttrTraceID: r.st.TraceID,
		observe.AttrStage:   name,
		observe.AttrOutcome: outcome,
		observe.AttrVariant: r.variant.Name,
	})
}

// forward relays filtered fragments to the caller and releases the request
// when the stream ends for any reason.
func (r *request) forward(in <-chan domain.Fragment, out chan<- domain.Fragment, release func(string)) {
	t0 := time.Now()
	outcome := outcomeCancelled
	defer func() {
		end := time.Now()
		r.st.record(StageFilterStream, end.Sub(t0))
		r.span(StageFilterStream, t0, end, outcome)
		release(outcome)
		close(out)
	}()

	for f := range in {
		select {
		case out <- f:
		case <-r.ctx.Done():
			return
		}
		if f.Err != nil {
			outcome = outcomeStreamError
			r.log.Warn("Answer stream ended with error", zap.String("stage", StageGenerate), zap.Error(f.Err))
			return
		}
		if f.EOS {
			outcome = outcomeDone
			return
		}
	}
}
