// Package gate implements the Quality Gate Runner (spec §4.6): five
// independent pass/fail checks (build, test, review, health, budget) run
// concurrently with a process-local, clearable cache for passing and
// not-applicable results.
package gate

import (
	"context"
	"sync"
	"time"

	"github.com/kkelly-oss/kkcode/pkg/events"
	"github.com/kkelly-oss/kkcode/pkg/observability"
	"golang.org/x/sync/errgroup"
)

// Status is a single gate's verdict.
type Status string

const (
	StatusPass          Status = "pass"
	StatusFail          Status = "fail"
	StatusWarn          Status = "warn"
	StatusNotApplicable Status = "not_applicable"
	StatusDisabled      Status = "disabled"
)

// passing reports whether a status counts toward allPass.
func (s Status) passing() bool {
	return s == StatusPass || s == StatusNotApplicable
}

// Result is one gate's outcome.
type Result struct {
	Enabled bool
	Status  Status
	Reason  string
	Output  string
}

// Check is the narrow external-collaborator contract a single named gate
// implements; build/test/review/health/budget are all instances of this
// shape, the same way the Worker Pool interface abstracts over an
// external sub-session transport.
type Check func(ctx context.Context) (Result, error)

// cacheTTL is the spec's fixed 5-minute memoization window for passing
// and not-applicable verdicts.
const cacheTTL = 5 * time.Minute

type cacheEntry struct {
	result  Result
	expires time.Time
}

// Runner runs a fixed, named set of Checks concurrently, memoizing
// passing/not-applicable verdicts per gate name.
type Runner struct {
	checks map[string]Check
	order  []string
	bus    events.Sink

	mu    sync.Mutex
	cache map[string]cacheEntry

	// Metrics and Tracer are optional; both are nil-safe.
	Metrics   observability.Recorder
	Tracer    *observability.Tracer
	SessionID string
}

// New creates a Runner over the given named checks. names controls
// iteration/reporting order; checks missing from the map are treated as
// disabled.
func New(bus events.Sink, names []string, checks map[string]Check) *Runner {
	if bus == nil {
		bus = noopSink{}
	}
	return &Runner{checks: checks, order: names, bus: bus, cache: map[string]cacheEntry{}}
}

type noopSink struct{}

func (noopSink) Emit(events.Event) {}

// Failure is one failing/warning gate surfaced in the summary.
type Failure struct {
	Gate   string
	Status Status
	Reason string
	Output string
}

// Summary is the Runner's output (spec §4.6: {allPass, gates, failures}).
type Summary struct {
	AllPass  bool
	Gates    map[string]Result
	Failures []Failure
}

// Run executes every named gate concurrently and summarizes the
// results, consulting and refreshing the pass/not_applicable cache.
func (r *Runner) Run(ctx context.Context) Summary {
	results := make(map[string]Result, len(r.order))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range r.order {
		name := name
		g.Go(func() error {
			result := r.runOne(gctx, name)
			mu.Lock()
			results[name] = result
			mu.Unlock()

			r.bus.Emit(events.Event{Name: events.GateChecked, Payload: map[string]any{
				"gate": name, "status": string(result.Status), "reason": result.Reason,
			}})
			return nil
		})
	}
	_ = g.Wait()

	summary := Summary{Gates: results, AllPass: true}
	for _, name := range r.order {
		res := results[name]
		if !res.Status.passing() {
			summary.AllPass = false
			summary.Failures = append(summary.Failures, Failure{
				Gate: name, Status: res.Status, Reason: res.Reason, Output: res.Output,
			})
		}
	}
	return summary
}

func (r *Runner) runOne(ctx context.Context, name string) Result {
	check, ok := r.checks[name]
	if !ok {
		return Result{Enabled: false, Status: StatusDisabled, Reason: "gate not configured"}
	}

	if cached, ok := r.cached(name); ok {
		return cached
	}

	start := time.Now()
	spanCtx, span := r.Tracer.StartGateCheck(ctx, r.SessionID, name)
	defer span.End()

	result, err := check(spanCtx)
	if err != nil {
		result = Result{Enabled: true, Status: StatusFail, Reason: err.Error()}
	}
	result.Enabled = true

	r.Tracer.AddGateResult(span, string(result.Status))
	r.Tracer.RecordError(span, err)
	if r.Metrics != nil {
		r.Metrics.RecordGateCheck(name, string(result.Status), time.Since(start))
	}

	if result.Status.passing() {
		r.store(name, result)
	}
	return result
}

func (r *Runner) cached(name string) (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[name]
	if !ok || time.Now().After(entry.expires) {
		return Result{}, false
	}
	return entry.result, true
}

func (r *Runner) store(name string, result Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[name] = cacheEntry{result: result, expires: time.Now().Add(cacheTTL)}
}

// ClearCache empties the memoization cache; tests use this to force a
// fresh run of every gate.
func (r *Runner) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = map[string]cacheEntry{}
}
