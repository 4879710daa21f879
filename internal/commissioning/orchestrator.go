package commissioning

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-dali/internal/bridges/dali"
)

// terminateTimeout bounds the cleanup TERMINATE on exit paths.
const terminateTimeout = 5 * time.Second

// Outcome labels used for metrics and persistence.
const (
	OutcomeDone          = "done"
	OutcomePoolExhausted = "pool_exhausted"
	OutcomeBusFault      = "bus_fault"
	OutcomeCancelled     = "cancelled"
)

// ResultStore persists finished runs. *SQLiteRepository satisfies it.
type ResultStore interface {
	SaveRun(ctx context.Context, r *Result) error
}

// Options configures a Commissioner.
type Options struct {
	// Logger is optional structured logger.
	Logger Logger

	// Events receive progress events. Optional.
	Events []EventSink

	// Metrics records a summary per run. Optional.
	Metrics MetricsRecorder

	// Store persists each finished run. Optional.
	Store ResultStore

	// SettleDelay overrides the post-RANDOMISE wait. Zero means SettleDelay.
	SettleDelay time.Duration
}

// Commissioner runs the commissioning procedure on one bus.
//
// Thread Safety:
//   - Run may be called from any goroutine, but only one run executes at a
//     time; concurrent calls fail fast with ErrRunInProgress.
//   - Running and ShareBus are safe to call at any time.
type Commissioner struct {
	bus  Bus
	opts Options

	runMu   sync.Mutex
	running atomic.Bool

	// busMu is held exclusively by a run and shared by bridge commands,
	// so no light command lands between arbitration frames.
	busMu sync.RWMutex

	// wait is replaced in tests to skip the real settle delay.
	wait func(ctx context.Context, d time.Duration) error
}

// NewCommissioner creates a commissioner that owns bus.
func NewCommissioner(bus Bus, opts Options) *Commissioner {
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	if opts.SettleDelay == 0 {
		opts.SettleDelay = SettleDelay
	}
	return &Commissioner{bus: bus, opts: opts, wait: sleepContext}
}

// Running reports whether a run currently holds the bus.
func (c *Commissioner) Running() bool {
	return c.running.Load()
}

// ShareBus grants shared use of the bus for a short command. It fails
// while a run holds the bus, and a run started meanwhile waits for
// release.
func (c *Commissioner) ShareBus() (release func(), ok bool) {
	if !c.busMu.TryRLock() {
		return nil, false
	}
	return c.busMu.RUnlock, true
}

// holdBus waits for in-flight shared commands and takes the bus.
func (c *Commissioner) holdBus() (release func()) {
	c.busMu.Lock()
	c.running.Store(true)
	return func() {
		c.running.Store(false)
		c.busMu.Unlock()
	}
}

// run holds the state of one invocation of Run.
type run struct {
	c      *Commissioner
	result *Result
	logger Logger
}

// Run performs one complete commissioning pass and returns its result.
//
// The result is returned on every path, including errors, and always
// carries the assignments made before the failure. TERMINATE is issued on
// every exit path using a context that is not cancelled with ctx.
//
// Errors:
//   - ErrRunInProgress: another run holds the bus (result is nil)
//   - ErrPoolExhausted: a device was found with no free short address left
//   - ErrBusFault: the bus reported a transport failure
//   - ctx.Err(): the run was cancelled
func (c *Commissioner) Run(ctx context.Context) (*Result, error) {
	if !c.runMu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer c.runMu.Unlock()
	release := c.holdBus()
	defer release()

	runID := uuid.NewString()
	r := &run{
		c: c,
		result: &Result{
			RunID:       runID,
			StartedAt:   time.Now().UTC(),
			Phase:       PhaseIdle,
			Assignments: []Assignment{},
		},
		logger: c.opts.Logger,
	}

	r.logger.Info("commissioning run started", "run_id", runID)

	err := r.execute(ctx)
	r.terminate(ctx)
	r.finish(ctx, err)

	return r.result, err
}

// execute walks the phases until the search finds no more devices.
func (r *run) execute(ctx context.Context) error {
	bus := r.c.bus

	r.setPhase(PhaseScanning)
	used, err := NewScanner(bus, r.logger).Scan(ctx)
	if err != nil {
		return err
	}
	r.result.Used = used
	pool := NewPool(used)
	r.logger.Info("allocation pool ready", "used", used.Len(), "available", pool.Len())

	r.setPhase(PhaseRandomising)
	initiator := &Initiator{bus: bus, settle: r.c.opts.SettleDelay, wait: r.c.wait}
	if err := initiator.Randomise(ctx); err != nil {
		return err
	}

	r.setPhase(PhaseSettling)
	if err := initiator.Settle(ctx); err != nil {
		return err
	}

	discoverer := NewDiscoverer(bus)
	allocator := NewAllocator(bus, pool, r.logger)
	defer func() { r.result.Probes = discoverer.Probes() }()

	low, high := dali.RandomAddress(0), dali.MaxRandomAddress
	for {
		r.setPhase(PhaseSearching)
		found, ok, err := discoverer.FindNext(ctx, low, high)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		r.emit(Event{Type: EventDeviceFound, Random: &found})
		r.logger.Debug("device found", "random_address", found.String())

		r.setPhase(PhaseAllocating)
		assignment, err := allocator.Assign(ctx, found)
		if errors.Is(err, ErrPoolExhausted) {
			r.result.Unassigned = append(r.result.Unassigned, found)
			r.emit(Event{Type: EventPoolExhausted, Random: &found, Message: err.Error()})
			return err
		}
		if err != nil {
			return err
		}

		r.result.Assignments = append(r.result.Assignments, assignment)
		short := assignment.Short
		if !assignment.Verified {
			r.result.VerificationFailures = append(r.result.VerificationFailures, short)
			r.emit(Event{Type: EventVerifyFailed, Random: &found, Short: &short})
		}
		r.emit(Event{Type: EventAddressAssigned, Random: &found, Short: &short})

		if found == high {
			return nil
		}
		low = found + 1
	}
}

// terminate leaves the bus in normal operation. It runs even when ctx is
// already cancelled.
func (r *run) terminate(ctx context.Context) {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminateTimeout)
	defer cancel()

	if err := r.c.bus.Terminate(tctx); err != nil {
		r.logger.Error("terminate after commissioning failed", "run_id", r.result.RunID, "error", err)
	}
}

// finish stamps the result, records metrics, persists and announces it.
func (r *run) finish(ctx context.Context, err error) {
	res := r.result
	res.FinishedAt = time.Now().UTC()

	outcome := OutcomeDone
	if err != nil {
		res.Error = err.Error()
		outcome = outcomeOf(err)
		r.setPhase(PhaseAborted)
		r.logger.Error("commissioning run aborted",
			"run_id", res.RunID,
			"outcome", outcome,
			"assigned", len(res.Assignments),
			"error", err)
	} else {
		r.setPhase(PhaseDone)
		r.logger.Info("commissioning run finished",
			"run_id", res.RunID,
			"assigned", len(res.Assignments),
			"probes", res.Probes,
			"verify_failures", len(res.VerificationFailures),
			"duration", res.Duration())
	}

	if m := r.c.opts.Metrics; m != nil {
		m.WriteCommissioningRun(res.RunID, outcome, len(res.Assignments), len(res.Unassigned),
			res.Probes, len(res.VerificationFailures), res.Duration())
	}

	if s := r.c.opts.Store; s != nil {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminateTimeout)
		if serr := s.SaveRun(sctx, res); serr != nil {
			r.logger.Error("failed to persist commissioning run", "run_id", res.RunID, "error", serr)
		}
		cancel()
	}

	r.emit(Event{Type: EventRunFinished, Message: outcome})
}

func (r *run) setPhase(p Phase) {
	if r.result.Phase == p {
		return
	}
	r.result.Phase = p
	r.emit(Event{Type: EventPhaseChanged})
}

func (r *run) emit(ev Event) {
	if len(r.c.opts.Events) == 0 {
		return
	}
	ev.RunID = r.result.RunID
	ev.Phase = r.result.Phase
	ev.Timestamp = time.Now().UTC()
	for _, sink := range r.c.opts.Events {
		sink.Emit(ev)
	}
}

// outcomeOf classifies a run error.
func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrPoolExhausted):
		return OutcomePoolExhausted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	default:
		return OutcomeBusFault
	}
}

// ScanOnly runs the address scan without arbitration. It holds the bus like
// Run does.
func (c *Commissioner) ScanOnly(ctx context.Context) (AddressSet, error) {
	if !c.runMu.TryLock() {
		return AddressSet{}, ErrRunInProgress
	}
	defer c.runMu.Unlock()
	release := c.holdBus()
	defer release()

	used, err := NewScanner(c.bus, c.opts.Logger).Scan(ctx)
	if err != nil {
		return AddressSet{}, fmt.Errorf("scan: %w", err)
	}
	return used, nil
}
