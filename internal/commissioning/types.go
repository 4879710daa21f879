package commissioning

import (
	"context"
	"encoding/json"
	"fmt"
	"math/bits"
	"time"

	"github.com/nerrad567/gray-logic-dali/internal/bridges/dali"
)

// Bus is the command channel a run drives. Every method returns an error
// only for transport faults; a device that does not answer is a normal
// outcome (ResponseNone or false).
type Bus interface {
	// Terminate ends the initialisation state on all devices. Idempotent.
	Terminate(ctx context.Context) error

	// Initialise arms devices for arbitration. With all=false only
	// devices without a short address respond.
	Initialise(ctx context.Context, all bool) error

	// Randomise makes initialised devices pick a new random address.
	Randomise(ctx context.Context) error

	// SetSearchAddress writes the search register in high, mid, low order.
	SetSearchAddress(ctx context.Context, high, mid, low byte) error

	// Compare asks whether any initialised, non-withdrawn device has a
	// random address at or below the search address.
	Compare(ctx context.Context) (dali.Response, error)

	// Withdraw removes the device whose random address equals the search
	// address from further comparisons. Idempotent.
	Withdraw(ctx context.Context) error

	QueryPresence(ctx context.Context, a dali.ShortAddress) (bool, error)
	ProgramShortAddress(ctx context.Context, a dali.ShortAddress) error
	VerifyShortAddress(ctx context.Context, a dali.ShortAddress) (bool, error)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// nopLogger discards everything.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// AddressSet is an immutable set of short addresses.
type AddressSet struct {
	bits uint64
}

// NewAddressSet builds a set from the given addresses. Invalid addresses
// are ignored.
func NewAddressSet(addrs ...dali.ShortAddress) AddressSet {
	var s AddressSet
	for _, a := range addrs {
		s = s.with(a)
	}
	return s
}

func (s AddressSet) with(a dali.ShortAddress) AddressSet {
	if !a.Valid() {
		return s
	}
	return AddressSet{bits: s.bits | 1<<a}
}

// Contains reports whether a is in the set.
func (s AddressSet) Contains(a dali.ShortAddress) bool {
	return a.Valid() && s.bits&(1<<a) != 0
}

// Len returns the number of addresses in the set.
func (s AddressSet) Len() int {
	return bits.OnesCount64(s.bits)
}

// Addresses returns the members in ascending order.
func (s AddressSet) Addresses() []dali.ShortAddress {
	out := make([]dali.ShortAddress, 0, s.Len())
	for b := s.bits; b != 0; b &= b - 1 {
		out = append(out, dali.ShortAddress(bits.TrailingZeros64(b)))
	}
	return out
}

// MarshalJSON encodes the set as a sorted array.
func (s AddressSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Addresses())
}

// UnmarshalJSON decodes a JSON array of short addresses.
func (s *AddressSet) UnmarshalJSON(data []byte) error {
	var addrs []dali.ShortAddress
	if err := json.Unmarshal(data, &addrs); err != nil {
		return fmt.Errorf("decoding address set: %w", err)
	}
	*s = NewAddressSet(addrs...)
	return nil
}

// Pool holds the short addresses still free for allocation in one run.
//
// Allocation is deterministic: Take always returns the lowest free address.
// The pool only shrinks; addresses are never returned to it.
type Pool struct {
	free uint64
}

// allAddresses has one bit per short address 0-63.
const allAddresses = ^uint64(0)

// NewPool returns the complement of the used set.
func NewPool(used AddressSet) *Pool {
	return &Pool{free: allAddresses &^ used.bits}
}

// Take removes and returns the lowest free address.
func (p *Pool) Take() (dali.ShortAddress, bool) {
	if p.free == 0 {
		return 0, false
	}
	a := dali.ShortAddress(bits.TrailingZeros64(p.free))
	p.free &^= 1 << a
	return a, true
}

// Len returns the number of free addresses.
func (p *Pool) Len() int {
	return bits.OnesCount64(p.free)
}

// Available returns the free addresses in ascending order.
func (p *Pool) Available() []dali.ShortAddress {
	return AddressSet{bits: p.free}.Addresses()
}

// Assignment binds one discovered device to a short address.
type Assignment struct {
	Random dali.RandomAddress `json:"random_address"`
	Short  dali.ShortAddress  `json:"short_address"`

	// Verified is false when VERIFY SHORT ADDRESS got no YES after
	// programming. The assignment stands either way.
	Verified bool `json:"verified"`
}

// Phase is the state of a commissioning run.
type Phase string

// Run phases, in order.
const (
	PhaseIdle        Phase = "idle"
	PhaseScanning    Phase = "scanning"
	PhaseRandomising Phase = "randomising"
	PhaseSettling    Phase = "settling"
	PhaseSearching   Phase = "searching"
	PhaseAllocating  Phase = "allocating"
	PhaseDone        Phase = "done"
	PhaseAborted     Phase = "aborted"
)

// Terminal reports whether the phase ends a run.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseAborted
}

// Result is the outcome of one run. Assignments are in discovery order,
// which is ascending random address order.
type Result struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Phase      Phase     `json:"phase"`

	// Used is the set of short addresses found by the scan.
	Used AddressSet `json:"used"`

	Assignments []Assignment `json:"assignments"`

	// Unassigned lists devices that were discovered but could not be bound
	// because the pool was empty.
	Unassigned []dali.RandomAddress `json:"unassigned,omitempty"`

	// Probes counts COMPARE commands issued by the search.
	Probes int `json:"probes"`

	// VerificationFailures lists short addresses whose read-back failed.
	VerificationFailures []dali.ShortAddress `json:"verification_failures,omitempty"`

	// Error describes why an aborted run stopped.
	Error string `json:"error,omitempty"`
}

// Duration returns how long the run took.
func (r *Result) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Assigned returns the newly assigned short addresses in discovery order.
func (r *Result) Assigned() []dali.ShortAddress {
	out := make([]dali.ShortAddress, len(r.Assignments))
	for i, a := range r.Assignments {
		out[i] = a.Short
	}
	return out
}

// EventType identifies a commissioning progress event.
type EventType string

// Event types emitted during a run.
const (
	EventPhaseChanged    EventType = "phase_changed"
	EventDeviceFound     EventType = "device_found"
	EventAddressAssigned EventType = "address_assigned"
	EventVerifyFailed    EventType = "verify_failed"
	EventPoolExhausted   EventType = "pool_exhausted"
	EventRunFinished     EventType = "run_finished"
)

// Event reports run progress to observers (websocket hub, MQTT).
type Event struct {
	Type      EventType           `json:"type"`
	RunID     string              `json:"run_id"`
	Phase     Phase               `json:"phase"`
	Timestamp time.Time           `json:"timestamp"`
	Random    *dali.RandomAddress `json:"random_address,omitempty"`
	Short     *dali.ShortAddress  `json:"short_address,omitempty"`
	Message   string              `json:"message,omitempty"`
}

// EventSink receives run events. Emit must not block for long; it is
// called on the run's goroutine.
type EventSink interface {
	Emit(ev Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ev Event)

// Emit calls f(ev).
func (f EventSinkFunc) Emit(ev Event) { f(ev) }

// MetricsRecorder records a summary of each finished run.
// *influxdb.Client satisfies it.
type MetricsRecorder interface {
	WriteCommissioningRun(runID, outcome string, assigned, unassigned, probes, verifyFailures int, duration time.Duration)
}

// MetricsRecorders fans a run summary out to several recorders.
type MetricsRecorders []MetricsRecorder

// WriteCommissioningRun implements MetricsRecorder.
func (rs MetricsRecorders) WriteCommissioningRun(runID, outcome string, assigned, unassigned, probes, verifyFailures int, duration time.Duration) {
	for _, r := range rs {
		r.WriteCommissioningRun(runID, outcome, assigned, unassigned, probes, verifyFailures, duration)
	}
}
