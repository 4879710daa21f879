package commissioning

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-dali/internal/bridges/dali"
)

// Discoverer locates the lowest random address in a range by binary
// search over COMPARE.
//
// The search descends into the lower half first and returns its hit
// without probing the upper half, so it always finds the lowest
// participating address. Recursion depth is bounded by the 24-bit address
// width.
type Discoverer struct {
	bus    Bus
	probes int
}

// NewDiscoverer creates a discoverer.
func NewDiscoverer(bus Bus) *Discoverer {
	return &Discoverer{bus: bus}
}

// Probes returns the number of COMPARE commands issued so far.
func (d *Discoverer) Probes() int {
	return d.probes
}

// FindNext returns the lowest random address in [low, high] held by a
// participating device, withdrawing that device before returning. The
// boolean is false when no device in the range answered.
//
// Devices below low are expected to be withdrawn already. When one still
// takes part, every COMPARE in the range answers yes and the hit cannot
// be placed, so FindNext reports nothing found and withdraws nobody.
func (d *Discoverer) FindNext(ctx context.Context, low, high dali.RandomAddress) (dali.RandomAddress, bool, error) {
	return d.find(ctx, low, high, low)
}

// find searches [low, high]; floor is the low bound of the public call.
func (d *Discoverer) find(ctx context.Context, low, high, floor dali.RandomAddress) (dali.RandomAddress, bool, error) {
	if low > high || !high.Valid() {
		return 0, false, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	if low == high {
		if low == floor && floor > 0 {
			below, err := d.probe(ctx, floor-1)
			if err != nil || below {
				return 0, false, err
			}
		}
		// The search address must equal low when WITHDRAW goes out.
		yes, err := d.probe(ctx, low)
		if err != nil || !yes {
			return 0, false, err
		}
		if err := d.bus.Withdraw(ctx); err != nil {
			return 0, false, fmt.Errorf("%w: withdraw %s: %w", ErrBusFault, low, err)
		}
		return low, true, nil
	}

	yes, err := d.probe(ctx, high)
	if err != nil || !yes {
		return 0, false, err
	}

	mid := low + (high-low)/2
	if found, ok, err := d.find(ctx, low, mid, floor); err != nil || ok {
		return found, ok, err
	}
	return d.find(ctx, mid+1, high, floor)
}

// probe sets the search address and reports whether any device is at or
// below it.
func (d *Discoverer) probe(ctx context.Context, search dali.RandomAddress) (bool, error) {
	h, m, l := search.Bytes()
	if err := d.bus.SetSearchAddress(ctx, h, m, l); err != nil {
		return false, fmt.Errorf("%w: set search address %s: %w", ErrBusFault, search, err)
	}

	d.probes++
	resp, err := d.bus.Compare(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: compare %s: %w", ErrBusFault, search, err)
	}
	return resp.Affirmative(), nil
}
