package commissioning

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-dali/internal/bridges/dali"
	"github.com/nerrad567/gray-logic-dali/internal/bridges/dali/dalitest"
)

// logEntry is one captured log call.
type logEntry struct {
	Level string
	Msg   string
}

// testLogger records log calls.
type testLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *testLogger) add(level, msg string) {
	l.mu.Lock()
	l.entries = append(l.entries, logEntry{Level: level, Msg: msg})
	l.mu.Unlock()
}

func (l *testLogger) Debug(msg string, _ ...any) { l.add("debug", msg) }
func (l *testLogger) Info(msg string, _ ...any)  { l.add("info", msg) }
func (l *testLogger) Warn(msg string, _ ...any)  { l.add("warn", msg) }
func (l *testLogger) Error(msg string, _ ...any) { l.add("error", msg) }

func (l *testLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.Level == level {
			n++
		}
	}
	return n
}

// eventRecorder collects emitted events.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Emit(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) ofType(typ EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// newSimBus returns a simulator plus the GatewayBus that drives it.
func newSimBus() (*dalitest.SimBus, *dali.GatewayBus) {
	sim := dalitest.New()
	return sim, dali.NewGatewayBus(sim)
}

// addUsed attaches addressed devices for each short address.
func addUsed(sim *dalitest.SimBus, shorts ...dali.ShortAddress) {
	for i, a := range shorts {
		// Random addresses of addressed gear are irrelevant; they never
		// take part in an unaddressed-only search.
		sim.AddAddressedDevice(dali.RandomAddress(0xA00000+i), a)
	}
}

// newTestCommissioner uses a 1ms settle delay.
func newTestCommissioner(t *testing.T, bus Bus, opts Options) *Commissioner {
	t.Helper()
	if opts.SettleDelay == 0 {
		opts.SettleDelay = time.Millisecond
	}
	return NewCommissioner(bus, opts)
}

// lastCommand returns the kind of the final frame on the bus.
func lastCommand(t *testing.T, sim *dalitest.SimBus) dali.CommandKind {
	t.Helper()
	cmds := sim.Commands()
	if len(cmds) == 0 {
		t.Fatal("no commands on the bus")
	}
	return cmds[len(cmds)-1].Kind
}

// failNthCompare fails the nth COMPARE frame (1-based) and every later one.
func failNthCompare(n int) func(dali.ForwardFrame) bool {
	seen := 0
	return func(f dali.ForwardFrame) bool {
		if dali.DecodeFrame(f).Kind != dali.CmdCompare {
			return false
		}
		seen++
		return seen >= n
	}
}

var errWire = errors.New("wire broken")
