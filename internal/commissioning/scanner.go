package commissioning

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-dali/internal/bridges/dali"
)

// Scanner finds the short addresses already in use on the bus.
type Scanner struct {
	bus    Bus
	logger Logger
}

// NewScanner creates a scanner. A nil logger discards output.
func NewScanner(bus Bus, logger Logger) *Scanner {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Scanner{bus: bus, logger: logger}
}

// Scan queries every short address 0-63 and returns those that answered.
// It always covers the full range and has no arbitration side effects.
func (s *Scanner) Scan(ctx context.Context) (AddressSet, error) {
	var used AddressSet
	for a := dali.ShortAddress(0); a <= dali.MaxShortAddress; a++ {
		if err := ctx.Err(); err != nil {
			return AddressSet{}, err
		}

		present, err := s.bus.QueryPresence(ctx, a)
		if err != nil {
			return AddressSet{}, fmt.Errorf("%w: query presence %d: %w", ErrBusFault, a, err)
		}
		if present {
			s.logger.Debug("short address in use", "short_address", int(a))
			used = used.with(a)
		}
	}

	s.logger.Info("address scan complete", "used", used.Len())
	return used, nil
}
