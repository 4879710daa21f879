package commissioning

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-dali/internal/bridges/dali"
)

// Allocator binds discovered devices to short addresses from a pool.
type Allocator struct {
	bus    Bus
	pool   *Pool
	logger Logger
}

// NewAllocator creates an allocator drawing from pool. A nil logger
// discards output.
func NewAllocator(bus Bus, pool *Pool, logger Logger) *Allocator {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Allocator{bus: bus, pool: pool, logger: logger}
}

// Assign programs the lowest free short address into the device selected
// by the current search address, verifies it and withdraws the device.
//
// An empty pool returns ErrPoolExhausted without touching the bus. A failed
// verification is logged and reported through Assignment.Verified; the
// assignment still stands.
func (a *Allocator) Assign(ctx context.Context, found dali.RandomAddress) (Assignment, error) {
	short, ok := a.pool.Take()
	if !ok {
		return Assignment{}, fmt.Errorf("%w: device %s", ErrPoolExhausted, found)
	}

	// The device was withdrawn by the search, which leaves it selected:
	// the search register still holds its random address.
	if err := a.bus.ProgramShortAddress(ctx, short); err != nil {
		return Assignment{}, fmt.Errorf("%w: program %d: %w", ErrBusFault, short, err)
	}

	verified, err := a.bus.VerifyShortAddress(ctx, short)
	if err != nil {
		return Assignment{}, fmt.Errorf("%w: verify %d: %w", ErrBusFault, short, err)
	}
	if !verified {
		a.logger.Warn("short address verification failed",
			"short_address", int(short),
			"random_address", found.String())
	}

	if err := a.bus.Withdraw(ctx); err != nil {
		return Assignment{}, fmt.Errorf("%w: withdraw %s: %w", ErrBusFault, found, err)
	}

	a.logger.Info("short address assigned",
		"short_address", int(short),
		"random_address", found.String(),
		"verified", verified)

	return Assignment{Random: found, Short: short, Verified: verified}, nil
}

// Remaining returns the number of free addresses left in the pool.
func (a *Allocator) Remaining() int {
	return a.pool.Len()
}
