package dali

import (
	"fmt"
	"strconv"
)

// Address space limits.
const (
	// MaxShortAddress is the highest assignable short address.
	MaxShortAddress = 63

	// ShortAddressCount is the number of short addresses on one bus.
	ShortAddressCount = MaxShortAddress + 1

	// MaxGroup is the highest group number.
	MaxGroup = 15

	// MaxRandomAddress is the highest 24-bit random (search) address.
	MaxRandomAddress RandomAddress = 0xFFFFFF

	// MaxLevel is the highest arc power level accepted by DAPC.
	// 255 (MASK) means "no change" and is never sent.
	MaxLevel = 254
)

// ShortAddress is the permanent 6-bit operational identifier of a device.
type ShortAddress uint8

// ParseShortAddress converts a decimal string (e.g. an MQTT topic segment)
// to a ShortAddress.
func ParseShortAddress(s string) (ShortAddress, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidShortAddress, s)
	}
	if n < 0 || n > MaxShortAddress {
		return 0, fmt.Errorf("%w: %d", ErrInvalidShortAddress, n)
	}
	return ShortAddress(n), nil
}

// Valid reports whether the address is within 0-63.
func (a ShortAddress) Valid() bool {
	return a <= MaxShortAddress
}

// String returns the decimal form used in topics and logs.
func (a ShortAddress) String() string {
	return strconv.Itoa(int(a))
}

// MarshalJSON encodes the address as a number. Without it, encoding/json
// would render a []ShortAddress as base64.
func (a ShortAddress) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// RandomAddress is the ephemeral 24-bit value an uncommissioned device
// generates for arbitration. Only the low 24 bits are significant.
type RandomAddress uint32

// Bytes splits the address into its high, middle and low 8-bit fields,
// in the order they are written to the search register.
func (r RandomAddress) Bytes() (high, mid, low byte) {
	return byte(r >> 16), byte(r >> 8), byte(r) //nolint:gosec // deliberate truncation to octets
}

// RandomAddressFromBytes reassembles an address from its three fields.
func RandomAddressFromBytes(high, mid, low byte) RandomAddress {
	return RandomAddress(high)<<16 | RandomAddress(mid)<<8 | RandomAddress(low)
}

// Valid reports whether the address fits in 24 bits.
func (r RandomAddress) Valid() bool {
	return r <= MaxRandomAddress
}

// String formats the address as six hex digits.
func (r RandomAddress) String() string {
	return fmt.Sprintf("0x%06X", uint32(r))
}

// MarshalText encodes the address in its hex form.
func (r RandomAddress) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText accepts "0x123456" or a decimal value.
func (r *RandomAddress) UnmarshalText(text []byte) error {
	n, err := strconv.ParseUint(string(text), 0, 32)
	if err != nil || n > uint64(MaxRandomAddress) {
		return fmt.Errorf("dali: invalid random address %q", text)
	}
	*r = RandomAddress(n)
	return nil
}

// Group is a DALI group number (0-15).
type Group uint8

// ParseGroup converts a decimal string to a Group.
func ParseGroup(s string) (Group, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidGroup, s)
	}
	if n < 0 || n > MaxGroup {
		return 0, fmt.Errorf("%w: %d", ErrInvalidGroup, n)
	}
	return Group(n), nil
}

// Target identifies the receiver of an arc power command: either a single
// short address or a group.
type Target struct {
	Group bool
	Index uint8
}

// ShortTarget addresses a single device.
func ShortTarget(a ShortAddress) Target {
	return Target{Index: uint8(a)}
}

// GroupTarget addresses every member of a group.
func GroupTarget(g Group) Target {
	return Target{Group: true, Index: uint8(g)}
}

// Valid reports whether the index fits the address kind.
func (t Target) Valid() bool {
	if t.Group {
		return t.Index <= MaxGroup
	}
	return t.Index <= MaxShortAddress
}

// String returns "light/3" or "group/2".
func (t Target) String() string {
	if t.Group {
		return fmt.Sprintf("group/%d", t.Index)
	}
	return fmt.Sprintf("light/%d", t.Index)
}

// Response is the tri-state outcome of a command that expects an answer.
type Response uint8

const (
	// ResponseNone means no device answered. For COMPARE this is the normal
	// "no device in range" outcome, not an error.
	ResponseNone Response = iota

	// ResponseYes means a YES (0xFF) backward frame, or a collision of
	// several simultaneous answers, was received.
	ResponseYes

	// ResponseNo is an explicit negative answer.
	ResponseNo
)

// Affirmative reports whether the response counts as YES.
func (r Response) Affirmative() bool {
	return r == ResponseYes
}

// String returns the response name.
func (r Response) String() string {
	switch r {
	case ResponseYes:
		return "yes"
	case ResponseNo:
		return "no"
	default:
		return "none"
	}
}
