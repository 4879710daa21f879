// Package dalitest provides a simulated DALI bus for tests.
//
// SimBus implements dali.Transmitter at the forward frame level, so code
// under test runs through the real frame encoding in dali.GatewayBus. It
// models the arbitration state of each control gear (random address,
// initialised and withdrawn flags) and answers COMPARE with the logical OR
// of every participating device.
package dalitest

import (
	"context"
	"errors"
	"sync"

	"github.com/nerrad567/gray-logic-dali/internal/bridges/dali"
)

// ErrInjected is the default error returned by an injected fault.
var ErrInjected = errors.New("dalitest: injected fault")

// yes is the backward frame value for YES.
const yes byte = 0xFF

// Device is one simulated control gear.
type Device struct {
	Random dali.RandomAddress

	// Short is valid only when HasShort is true.
	Short    dali.ShortAddress
	HasShort bool

	Level  uint8
	Groups uint16

	// IgnoreProgram makes the device drop PROGRAM SHORT ADDRESS, so the
	// following VERIFY fails.
	IgnoreProgram bool

	initialised bool
	withdrawn   bool
}

// SimBus is an in-memory DALI bus. It is safe for concurrent use.
type SimBus struct {
	mu      sync.Mutex
	devices []*Device
	search  [3]byte
	frames  []dali.ForwardFrame

	// collisions makes COMPARE report a framing error when more than one
	// device answers.
	collisions bool

	failOn  func(dali.ForwardFrame) bool
	failErr error
}

var _ dali.Transmitter = (*SimBus)(nil)

// New creates an empty bus.
func New() *SimBus {
	return &SimBus{}
}

// AddDevice attaches an uncommissioned device with a fixed random address.
func (s *SimBus) AddDevice(random dali.RandomAddress) *Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := &Device{Random: random}
	s.devices = append(s.devices, d)
	return d
}

// AddAddressedDevice attaches a device that already owns a short address.
func (s *SimBus) AddAddressedDevice(random dali.RandomAddress, short dali.ShortAddress) *Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := &Device{Random: random, Short: short, HasShort: true}
	s.devices = append(s.devices, d)
	return d
}

// SetCollisions toggles collision reporting for multi-device COMPARE answers.
func (s *SimBus) SetCollisions(on bool) {
	s.mu.Lock()
	s.collisions = on
	s.mu.Unlock()
}

// FailOn makes Transmit return err for every frame the predicate matches.
// A nil err defaults to ErrInjected. A nil predicate clears the fault.
func (s *SimBus) FailOn(match func(dali.ForwardFrame) bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	s.failOn = match
	s.failErr = err
}

// FailAfter makes Transmit fail once n frames have been accepted.
func (s *SimBus) FailAfter(n int, err error) {
	count := 0
	s.FailOn(func(dali.ForwardFrame) bool {
		count++
		return count > n
	}, err)
}

// Frames returns a copy of every frame accepted so far.
func (s *SimBus) Frames() []dali.ForwardFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dali.ForwardFrame(nil), s.frames...)
}

// Commands returns the decoded form of every accepted frame.
func (s *SimBus) Commands() []dali.Command {
	frames := s.Frames()
	out := make([]dali.Command, len(frames))
	for i, f := range frames {
		out[i] = dali.DecodeFrame(f)
	}
	return out
}

// CountCommands returns how many accepted frames decode to kind.
func (s *SimBus) CountCommands(kind dali.CommandKind) int {
	n := 0
	for _, c := range s.Commands() {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

// ShortAddressOf returns the short address held by the device with the
// random address.
func (s *SimBus) ShortAddressOf(random dali.RandomAddress) (dali.ShortAddress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.devices {
		if d.Random == random {
			return d.Short, d.HasShort
		}
	}
	return 0, false
}

// Level returns the arc power level of the device with the short address.
func (s *SimBus) Level(a dali.ShortAddress) (uint8, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.devices {
		if d.HasShort && d.Short == a {
			return d.Level, true
		}
	}
	return 0, false
}

// Withdrawn reports whether the device with the random address is
// currently withdrawn from arbitration.
func (s *SimBus) Withdrawn(random dali.RandomAddress) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.devices {
		if d.Random == random {
			return d.withdrawn
		}
	}
	return false
}

// Initialised reports whether any device is still in the initialisation state.
func (s *SimBus) Initialised() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.devices {
		if d.initialised {
			return true
		}
	}
	return false
}

// Transmit applies one forward frame to the simulated devices.
func (s *SimBus) Transmit(ctx context.Context, f dali.ForwardFrame) (dali.Reply, error) {
	if err := ctx.Err(); err != nil {
		return dali.Reply{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failOn != nil && s.failOn(f) {
		return dali.Reply{}, s.failErr
	}
	s.frames = append(s.frames, f)

	cmd := dali.DecodeFrame(f)
	switch cmd.Kind {
	case dali.CmdTerminate:
		for _, d := range s.devices {
			d.initialised = false
			d.withdrawn = false
		}
	case dali.CmdInitialise:
		s.initialise(cmd.Data)
	case dali.CmdRandomise:
		// Random addresses are fixed at AddDevice time.
	case dali.CmdSearchAddrH:
		s.search[0] = cmd.Data
	case dali.CmdSearchAddrM:
		s.search[1] = cmd.Data
	case dali.CmdSearchAddrL:
		s.search[2] = cmd.Data
	case dali.CmdCompare:
		return s.compare(), nil
	case dali.CmdWithdraw:
		for _, d := range s.selected() {
			d.withdrawn = true
		}
	case dali.CmdProgramShortAddress:
		for _, d := range s.selected() {
			if d.IgnoreProgram {
				continue
			}
			if a, ok := dali.DataShortAddress(cmd.Data); ok {
				d.Short, d.HasShort = a, true
			} else {
				d.Short, d.HasShort = 0, false
			}
		}
	case dali.CmdVerifyShortAddress:
		a, ok := dali.DataShortAddress(cmd.Data)
		if !ok {
			return dali.Reply{}, nil
		}
		for _, d := range s.devices {
			if d.initialised && d.HasShort && d.Short == a {
				return dali.Reply{Status: dali.ReplyAnswer, Value: yes}, nil
			}
		}
	case dali.CmdQueryPresence:
		if len(s.addressed(cmd)) > 0 {
			return dali.Reply{Status: dali.ReplyAnswer, Value: yes}, nil
		}
	case dali.CmdQueryActualLevel:
		if ds := s.addressed(cmd); len(ds) > 0 {
			return dali.Reply{Status: dali.ReplyAnswer, Value: ds[0].Level}, nil
		}
	case dali.CmdDAPC:
		for _, d := range s.addressed(cmd) {
			d.Level = cmd.Data
		}
	case dali.CmdOff:
		for _, d := range s.addressed(cmd) {
			d.Level = 0
		}
	}
	return dali.Reply{Status: dali.ReplyNone}, nil
}

func (s *SimBus) initialise(data byte) {
	single, isSingle := dali.DataShortAddress(data)
	for _, d := range s.devices {
		switch {
		case data == 0x00:
		case data == 0xFF:
			if d.HasShort {
				continue
			}
		case isSingle:
			if !d.HasShort || d.Short != single {
				continue
			}
		default:
			continue
		}
		d.initialised = true
		d.withdrawn = false
	}
}

func (s *SimBus) searchAddress() dali.RandomAddress {
	return dali.RandomAddressFromBytes(s.search[0], s.search[1], s.search[2])
}

// compare answers YES when any participating device's random address is at
// or below the search address.
func (s *SimBus) compare() dali.Reply {
	search := s.searchAddress()
	matches := 0
	for _, d := range s.devices {
		if d.initialised && !d.withdrawn && d.Random <= search {
			matches++
		}
	}
	switch {
	case matches == 0:
		return dali.Reply{Status: dali.ReplyNone}
	case matches > 1 && s.collisions:
		return dali.Reply{Status: dali.ReplyCollision}
	default:
		return dali.Reply{Status: dali.ReplyAnswer, Value: yes}
	}
}

// selected returns initialised devices whose random address equals the
// search address.
func (s *SimBus) selected() []*Device {
	search := s.searchAddress()
	var out []*Device
	for _, d := range s.devices {
		if d.initialised && d.Random == search {
			out = append(out, d)
		}
	}
	return out
}

// addressed returns the devices an addressed command reaches.
func (s *SimBus) addressed(cmd dali.Command) []*Device {
	var out []*Device
	for _, d := range s.devices {
		switch {
		case cmd.Broadcast:
			out = append(out, d)
		case cmd.Target.Group:
			if d.Groups&(1<<cmd.Target.Index) != 0 {
				out = append(out, d)
			}
		default:
			if d.HasShort && uint8(d.Short) == cmd.Target.Index {
				out = append(out, d)
			}
		}
	}
	return out
}
