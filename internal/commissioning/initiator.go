package commissioning

import (
	"context"
	"fmt"
	"time"
)

// SettleDelay is the fixed wait after RANDOMISE before the first COMPARE.
// Devices need this long to generate their random address.
const SettleDelay = 100 * time.Millisecond

// Initiator puts unaddressed gear into the initialisation state with fresh
// random addresses.
type Initiator struct {
	bus    Bus
	settle time.Duration
	wait   func(ctx context.Context, d time.Duration) error
}

// NewInitiator creates an initiator using SettleDelay.
func NewInitiator(bus Bus) *Initiator {
	return &Initiator{bus: bus, settle: SettleDelay, wait: sleepContext}
}

// Arm sends TERMINATE, INITIALISE (unaddressed only) and RANDOMISE, then
// waits for the settle delay. The wait is a fixed delay, not a poll, and
// returns early only if ctx is cancelled.
func (i *Initiator) Arm(ctx context.Context) error {
	if err := i.Randomise(ctx); err != nil {
		return err
	}
	return i.Settle(ctx)
}

// Randomise runs the three arming commands without the settle wait.
func (i *Initiator) Randomise(ctx context.Context) error {
	if err := i.bus.Terminate(ctx); err != nil {
		return fmt.Errorf("%w: terminate: %w", ErrBusFault, err)
	}
	if err := i.bus.Initialise(ctx, false); err != nil {
		return fmt.Errorf("%w: initialise: %w", ErrBusFault, err)
	}
	if err := i.bus.Randomise(ctx); err != nil {
		return fmt.Errorf("%w: randomise: %w", ErrBusFault, err)
	}
	return nil
}

// Settle blocks for the settle delay.
func (i *Initiator) Settle(ctx context.Context) error {
	return i.wait(ctx, i.settle)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
