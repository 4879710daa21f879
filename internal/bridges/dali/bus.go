package dali

import (
	"context"
	"errors"
	"fmt"
)

// yesAnswer is the backward frame value DALI uses for YES.
const yesAnswer byte = 0xFF

// GatewayBus exposes typed DALI commands on top of a Transmitter.
//
// It implements the bus command channel used by the commissioning package
// and the arc power commands used by Bridge. GatewayBus holds no state of
// its own; serialisation is the Transmitter's job.
type GatewayBus struct {
	tx Transmitter
}

// NewGatewayBus wraps a transmitter.
func NewGatewayBus(tx Transmitter) *GatewayBus {
	return &GatewayBus{tx: tx}
}

// Terminate ends the initialisation state on all devices.
func (b *GatewayBus) Terminate(ctx context.Context) error {
	return b.send(ctx, TerminateFrame())
}

// Initialise arms devices for arbitration. With all=false only devices
// without a short address respond.
func (b *GatewayBus) Initialise(ctx context.Context, all bool) error {
	return b.send(ctx, InitialiseFrame(all))
}

// Randomise makes initialised devices pick a new random address.
func (b *GatewayBus) Randomise(ctx context.Context) error {
	return b.send(ctx, RandomiseFrame())
}

// SetSearchAddress writes the search register in high, mid, low order.
func (b *GatewayBus) SetSearchAddress(ctx context.Context, high, mid, low byte) error {
	for _, f := range SearchAddressFrames(high, mid, low) {
		if err := b.send(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

// Compare asks whether any initialised, non-withdrawn device has a random
// address <= the search address. A collision counts as YES.
func (b *GatewayBus) Compare(ctx context.Context) (Response, error) {
	reply, err := b.query(ctx, CompareFrame())
	if err != nil {
		return ResponseNone, err
	}
	return replyResponse(reply), nil
}

// Withdraw removes the device matching the search address from arbitration.
func (b *GatewayBus) Withdraw(ctx context.Context) error {
	return b.send(ctx, WithdrawFrame())
}

// QueryPresence reports whether a device answers on the short address.
func (b *GatewayBus) QueryPresence(ctx context.Context, a ShortAddress) (bool, error) {
	if !a.Valid() {
		return false, fmt.Errorf("%w: %d", ErrInvalidShortAddress, a)
	}
	reply, err := b.query(ctx, QueryPresenceFrame(a))
	if err != nil {
		return false, err
	}
	return replyResponse(reply).Affirmative(), nil
}

// ProgramShortAddress binds a short address to the selected device.
func (b *GatewayBus) ProgramShortAddress(ctx context.Context, a ShortAddress) error {
	if !a.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidShortAddress, a)
	}
	return b.send(ctx, ProgramShortAddressFrame(a))
}

// VerifyShortAddress asks the selected device to confirm its short address.
func (b *GatewayBus) VerifyShortAddress(ctx context.Context, a ShortAddress) (bool, error) {
	if !a.Valid() {
		return false, fmt.Errorf("%w: %d", ErrInvalidShortAddress, a)
	}
	reply, err := b.query(ctx, VerifyShortAddressFrame(a))
	if err != nil {
		return false, err
	}
	return replyResponse(reply).Affirmative(), nil
}

// QueryActualLevel reads the arc power level of a target.
// The second return value is false when nobody answered.
func (b *GatewayBus) QueryActualLevel(ctx context.Context, t Target) (uint8, bool, error) {
	if !t.Valid() {
		return 0, false, invalidTarget(t)
	}
	reply, err := b.query(ctx, QueryActualLevelFrame(t))
	if err != nil {
		return 0, false, err
	}
	if reply.Status != ReplyAnswer {
		return 0, false, nil
	}
	return reply.Value, true, nil
}

// DirectArcPower sets the arc power level of a target.
func (b *GatewayBus) DirectArcPower(ctx context.Context, t Target, level uint8) error {
	if !t.Valid() {
		return invalidTarget(t)
	}
	if level > MaxLevel {
		return fmt.Errorf("%w: %d", ErrInvalidLevel, level)
	}
	return b.send(ctx, DAPCFrame(t, level))
}

// Off switches a target off without fading.
func (b *GatewayBus) Off(ctx context.Context, t Target) error {
	if !t.Valid() {
		return invalidTarget(t)
	}
	return b.send(ctx, OffFrame(t))
}

func (b *GatewayBus) send(ctx context.Context, f ForwardFrame) error {
	if _, err := b.query(ctx, f); err != nil {
		return err
	}
	return nil
}

func (b *GatewayBus) query(ctx context.Context, f ForwardFrame) (Reply, error) {
	reply, err := b.tx.Transmit(ctx, f)
	if err != nil {
		if errors.Is(err, ErrTransport) {
			return Reply{}, fmt.Errorf("frame %s: %w", f, err)
		}
		return Reply{}, fmt.Errorf("%w: frame %s: %w", ErrTransport, f, err)
	}
	return reply, nil
}

// replyResponse maps a gateway reply to a tri-state response.
func replyResponse(r Reply) Response {
	switch r.Status {
	case ReplyCollision:
		return ResponseYes
	case ReplyAnswer:
		if r.Value == yesAnswer {
			return ResponseYes
		}
		return ResponseNo
	default:
		return ResponseNone
	}
}

func invalidTarget(t Target) error {
	if t.Group {
		return fmt.Errorf("%w: %d", ErrInvalidGroup, t.Index)
	}
	return fmt.Errorf("%w: %d", ErrInvalidShortAddress, t.Index)
}
