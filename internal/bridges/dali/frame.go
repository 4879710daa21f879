package dali

import "fmt"

// Special command address bytes (IEC 62386-102, table 16).
// Special commands are broadcast; the second byte carries data.
const (
	opTerminate        byte = 0xA1
	opInitialise       byte = 0xA5
	opRandomise        byte = 0xA7
	opCompare          byte = 0xA9
	opWithdraw         byte = 0xAB
	opSearchAddrH      byte = 0xB1
	opSearchAddrM      byte = 0xB3
	opSearchAddrL      byte = 0xB5
	opProgramShortAddr byte = 0xB7
	opVerifyShortAddr  byte = 0xB9
)

// Standard command opcodes (second byte when the selector bit is set).
const (
	cmdOff                     byte = 0x00
	cmdQueryControlGearPresent byte = 0x91
	cmdQueryActualLevel        byte = 0xA0
)

// INITIALISE data values.
const (
	initialiseAll         byte = 0x00
	initialiseUnaddressed byte = 0xFF
)

// groupFlag marks a group address byte (0b100g_ggg0).
const groupFlag byte = 0x80

// ForwardFrame is a 16-bit DALI forward frame plus the delivery flags the
// gateway needs.
type ForwardFrame struct {
	Address byte
	Data    byte

	// SendTwice repeats the frame within 100 ms, required by configuration
	// commands such as INITIALISE and RANDOMISE.
	SendTwice bool

	// ExpectAnswer makes the gateway wait for a backward frame.
	ExpectAnswer bool
}

// String renders the frame for debug logging.
func (f ForwardFrame) String() string {
	return fmt.Sprintf("%02X %02X", f.Address, f.Data)
}

// TerminateFrame ends the initialisation state on every device.
func TerminateFrame() ForwardFrame {
	return ForwardFrame{Address: opTerminate}
}

// InitialiseFrame arms devices for arbitration. With all=false only devices
// without a short address react.
func InitialiseFrame(all bool) ForwardFrame {
	data := initialiseUnaddressed
	if all {
		data = initialiseAll
	}
	return ForwardFrame{Address: opInitialise, Data: data, SendTwice: true}
}

// RandomiseFrame makes initialised devices generate a new random address.
func RandomiseFrame() ForwardFrame {
	return ForwardFrame{Address: opRandomise, SendTwice: true}
}

// CompareFrame asks whether any device's random address is <= the search
// address.
func CompareFrame() ForwardFrame {
	return ForwardFrame{Address: opCompare, ExpectAnswer: true}
}

// WithdrawFrame removes the device whose random address equals the search
// address from further comparisons.
func WithdrawFrame() ForwardFrame {
	return ForwardFrame{Address: opWithdraw}
}

// SearchAddressFrames returns the three writes for the search register in
// the mandatory high, middle, low order.
func SearchAddressFrames(high, mid, low byte) [3]ForwardFrame {
	return [3]ForwardFrame{
		{Address: opSearchAddrH, Data: high},
		{Address: opSearchAddrM, Data: mid},
		{Address: opSearchAddrL, Data: low},
	}
}

// ProgramShortAddressFrame binds a short address to the selected device.
func ProgramShortAddressFrame(a ShortAddress) ForwardFrame {
	return ForwardFrame{Address: opProgramShortAddr, Data: shortData(a)}
}

// VerifyShortAddressFrame asks the selected device to confirm its short address.
func VerifyShortAddressFrame(a ShortAddress) ForwardFrame {
	return ForwardFrame{Address: opVerifyShortAddr, Data: shortData(a), ExpectAnswer: true}
}

// QueryPresenceFrame asks whether a device with the short address exists.
func QueryPresenceFrame(a ShortAddress) ForwardFrame {
	return ForwardFrame{Address: shortData(a), Data: cmdQueryControlGearPresent, ExpectAnswer: true}
}

// QueryActualLevelFrame reads the current arc power level of a target.
func QueryActualLevelFrame(t Target) ForwardFrame {
	return ForwardFrame{Address: commandAddress(t), Data: cmdQueryActualLevel, ExpectAnswer: true}
}

// DAPCFrame sets a direct arc power level on a target.
func DAPCFrame(t Target, level uint8) ForwardFrame {
	return ForwardFrame{Address: directAddress(t), Data: level}
}

// OffFrame switches a target off immediately.
func OffFrame(t Target) ForwardFrame {
	return ForwardFrame{Address: commandAddress(t), Data: cmdOff}
}

// shortData encodes a short address as 0AAA_AAA1.
func shortData(a ShortAddress) byte {
	return byte(a)<<1 | 1
}

// directAddress encodes the selector-clear form used by DAPC.
func directAddress(t Target) byte {
	if t.Group {
		return groupFlag | t.Index<<1
	}
	return t.Index << 1
}

// commandAddress encodes the selector-set form used by standard commands.
func commandAddress(t Target) byte {
	return directAddress(t) | 1
}

// CommandKind classifies a decoded forward frame.
type CommandKind uint8

// Command kinds recognised by DecodeFrame.
const (
	CmdUnknown CommandKind = iota
	CmdTerminate
	CmdInitialise
	CmdRandomise
	CmdCompare
	CmdWithdraw
	CmdSearchAddrH
	CmdSearchAddrM
	CmdSearchAddrL
	CmdProgramShortAddress
	CmdVerifyShortAddress
	CmdQueryPresence
	CmdQueryActualLevel
	CmdDAPC
	CmdOff
)

// Command is a decoded forward frame.
type Command struct {
	Kind CommandKind

	// Target is set for addressed commands unless Broadcast is true.
	Target    Target
	Broadcast bool

	// Data is the raw second byte (level, search field, encoded short address).
	Data byte
}

// broadcast address bytes (direct and command form).
const (
	broadcastDirect  byte = 0xFE
	broadcastCommand byte = 0xFF
)

// DecodeFrame interprets a forward frame. Frames outside the subset this
// package emits decode as CmdUnknown.
func DecodeFrame(f ForwardFrame) Command {
	switch f.Address {
	case opTerminate:
		return Command{Kind: CmdTerminate, Data: f.Data}
	case opInitialise:
		return Command{Kind: CmdInitialise, Data: f.Data}
	case opRandomise:
		return Command{Kind: CmdRandomise, Data: f.Data}
	case opCompare:
		return Command{Kind: CmdCompare, Data: f.Data}
	case opWithdraw:
		return Command{Kind: CmdWithdraw, Data: f.Data}
	case opSearchAddrH:
		return Command{Kind: CmdSearchAddrH, Data: f.Data}
	case opSearchAddrM:
		return Command{Kind: CmdSearchAddrM, Data: f.Data}
	case opSearchAddrL:
		return Command{Kind: CmdSearchAddrL, Data: f.Data}
	case opProgramShortAddr:
		return Command{Kind: CmdProgramShortAddress, Data: f.Data}
	case opVerifyShortAddr:
		return Command{Kind: CmdVerifyShortAddress, Data: f.Data}
	}

	cmd := Command{Data: f.Data}
	switch {
	case f.Address == broadcastDirect || f.Address == broadcastCommand:
		cmd.Broadcast = true
	case f.Address&0x80 == 0:
		cmd.Target = Target{Index: (f.Address >> 1) & MaxShortAddress}
	case f.Address&0xE0 == groupFlag:
		cmd.Target = Target{Group: true, Index: (f.Address >> 1) & MaxGroup}
	default:
		return Command{Kind: CmdUnknown, Data: f.Data}
	}

	if f.Address&1 == 0 {
		cmd.Kind = CmdDAPC
		return cmd
	}
	switch f.Data {
	case cmdOff:
		cmd.Kind = CmdOff
	case cmdQueryControlGearPresent:
		cmd.Kind = CmdQueryPresence
	case cmdQueryActualLevel:
		cmd.Kind = CmdQueryActualLevel
	default:
		cmd.Kind = CmdUnknown
	}
	return cmd
}

// DataShortAddress decodes the 0AAA_AAA1 form used by PROGRAM and VERIFY
// SHORT ADDRESS and by INITIALISE for a single device. It returns false for
// any other value, including 0xFF ("no short address").
func DataShortAddress(data byte) (ShortAddress, bool) {
	if data&0x81 != 0x01 {
		return 0, false
	}
	return ShortAddress(data >> 1), true
}
