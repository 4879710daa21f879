package dali_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-dali/internal/bridges/dali"
	"github.com/nerrad567/gray-logic-dali/internal/bridges/dali/dalitest"
)

func TestGatewayBusSearchAddressOrder(t *testing.T) {
	sim := dalitest.New()
	bus := dali.NewGatewayBus(sim)

	require.NoError(t, bus.SetSearchAddress(context.Background(), 0x12, 0x34, 0x56))

	cmds := sim.Commands()
	require.Len(t, cmds, 3)
	assert.Equal(t, dali.CmdSearchAddrH, cmds[0].Kind)
	assert.Equal(t, byte(0x12), cmds[0].Data)
	assert.Equal(t, dali.CmdSearchAddrM, cmds[1].Kind)
	assert.Equal(t, byte(0x34), cmds[1].Data)
	assert.Equal(t, dali.CmdSearchAddrL, cmds[2].Kind)
	assert.Equal(t, byte(0x56), cmds[2].Data)
}

func TestGatewayBusCompare(t *testing.T) {
	ctx := context.Background()
	sim := dalitest.New()
	sim.AddDevice(0x000100)
	sim.AddDevice(0x000200)
	bus := dali.NewGatewayBus(sim)

	require.NoError(t, bus.Terminate(ctx))
	require.NoError(t, bus.Initialise(ctx, false))

	require.NoError(t, bus.SetSearchAddress(ctx, 0x00, 0x00, 0xFF))
	resp, err := bus.Compare(ctx)
	require.NoError(t, err)
	assert.Equal(t, dali.ResponseNone, resp, "no device at or below 0x0000FF")

	require.NoError(t, bus.SetSearchAddress(ctx, 0x00, 0x01, 0x00))
	resp, err = bus.Compare(ctx)
	require.NoError(t, err)
	assert.Equal(t, dali.ResponseYes, resp)

	// Several answers collide on the wire; still a YES.
	sim.SetCollisions(true)
	require.NoError(t, bus.SetSearchAddress(ctx, 0xFF, 0xFF, 0xFF))
	resp, err = bus.Compare(ctx)
	require.NoError(t, err)
	assert.Equal(t, dali.ResponseYes, resp)
}

func TestGatewayBusWithdrawIsIdempotent(t *testing.T) {
	ctx := context.Background()
	sim := dalitest.New()
	sim.AddDevice(0x123456)
	bus := dali.NewGatewayBus(sim)

	require.NoError(t, bus.Initialise(ctx, false))
	require.NoError(t, bus.SetSearchAddress(ctx, 0x12, 0x34, 0x56))
	require.NoError(t, bus.Withdraw(ctx))
	require.NoError(t, bus.Withdraw(ctx))
	assert.True(t, sim.Withdrawn(0x123456))

	resp, err := bus.Compare(ctx)
	require.NoError(t, err)
	assert.Equal(t, dali.ResponseNone, resp, "withdrawn device must not answer")
}

func TestGatewayBusProgramAndVerify(t *testing.T) {
	ctx := context.Background()
	sim := dalitest.New()
	sim.AddDevice(0x00ABCD)
	bus := dali.NewGatewayBus(sim)

	require.NoError(t, bus.Initialise(ctx, false))
	require.NoError(t, bus.SetSearchAddress(ctx, 0x00, 0xAB, 0xCD))
	require.NoError(t, bus.ProgramShortAddress(ctx, 9))

	ok, err := bus.VerifyShortAddress(ctx, 9)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = bus.VerifyShortAddress(ctx, 10)
	require.NoError(t, err)
	assert.False(t, ok)

	present, err := bus.QueryPresence(ctx, 9)
	require.NoError(t, err)
	assert.True(t, present)

	short, has := sim.ShortAddressOf(0x00ABCD)
	assert.True(t, has)
	assert.Equal(t, dali.ShortAddress(9), short)
}

func TestGatewayBusInitialiseUnaddressedOnly(t *testing.T) {
	ctx := context.Background()
	sim := dalitest.New()
	sim.AddAddressedDevice(0x000001, 4)
	bus := dali.NewGatewayBus(sim)

	require.NoError(t, bus.Initialise(ctx, false))
	require.NoError(t, bus.SetSearchAddress(ctx, 0xFF, 0xFF, 0xFF))
	resp, err := bus.Compare(ctx)
	require.NoError(t, err)
	assert.Equal(t, dali.ResponseNone, resp, "addressed device must ignore INITIALISE(unaddressed)")

	require.NoError(t, bus.Initialise(ctx, true))
	resp, err = bus.Compare(ctx)
	require.NoError(t, err)
	assert.Equal(t, dali.ResponseYes, resp)
}

func TestGatewayBusArcPower(t *testing.T) {
	ctx := context.Background()
	sim := dalitest.New()
	sim.AddAddressedDevice(0x000001, 3)
	grouped := sim.AddAddressedDevice(0x000002, 4)
	grouped.Groups = 1 << 2
	bus := dali.NewGatewayBus(sim)

	require.NoError(t, bus.DirectArcPower(ctx, dali.ShortTarget(3), 200))
	level, ok := sim.Level(3)
	require.True(t, ok)
	assert.Equal(t, uint8(200), level)

	got, answered, err := bus.QueryActualLevel(ctx, dali.ShortTarget(3))
	require.NoError(t, err)
	assert.True(t, answered)
	assert.Equal(t, uint8(200), got)

	require.NoError(t, bus.DirectArcPower(ctx, dali.GroupTarget(2), 80))
	level, _ = sim.Level(4)
	assert.Equal(t, uint8(80), level)

	require.NoError(t, bus.Off(ctx, dali.GroupTarget(2)))
	level, _ = sim.Level(4)
	assert.Zero(t, level)

	_, answered, err = bus.QueryActualLevel(ctx, dali.ShortTarget(40))
	require.NoError(t, err)
	assert.False(t, answered, "absent device does not answer")
}

func TestGatewayBusValidation(t *testing.T) {
	ctx := context.Background()
	sim := dalitest.New()
	bus := dali.NewGatewayBus(sim)

	assert.ErrorIs(t, bus.ProgramShortAddress(ctx, 64), dali.ErrInvalidShortAddress)
	assert.ErrorIs(t, bus.DirectArcPower(ctx, dali.ShortTarget(1), 255), dali.ErrInvalidLevel)
	assert.ErrorIs(t, bus.Off(ctx, dali.Target{Group: true, Index: 16}), dali.ErrInvalidGroup)
	assert.Empty(t, sim.Frames(), "invalid commands must not reach the bus")
}

func TestGatewayBusTransportError(t *testing.T) {
	sim := dalitest.New()
	sim.FailOn(func(dali.ForwardFrame) bool { return true }, nil)
	bus := dali.NewGatewayBus(sim)

	_, err := bus.Compare(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, dali.ErrTransport)
	assert.True(t, errors.Is(err, dalitest.ErrInjected))
}
