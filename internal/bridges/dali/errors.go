package dali

import "errors"

// Domain errors for the DALI bridge package.
var (
	// ErrNotConnected is returned when an operation requires a gateway
	// connection but the client is not connected.
	ErrNotConnected = errors.New("dali: not connected to gateway")

	// ErrConnectionFailed is returned when the connection to the gateway fails.
	ErrConnectionFailed = errors.New("dali: connection to gateway failed")

	// ErrTransport is returned when a forward frame could not be delivered
	// or its reply could not be read.
	ErrTransport = errors.New("dali: transport failure")

	// ErrInvalidShortAddress is returned for short addresses outside 0-63.
	ErrInvalidShortAddress = errors.New("dali: invalid short address")

	// ErrInvalidGroup is returned for group numbers outside 0-15.
	ErrInvalidGroup = errors.New("dali: invalid group")

	// ErrInvalidLevel is returned for arc power levels outside 0-254.
	ErrInvalidLevel = errors.New("dali: invalid arc power level")

	// ErrInvalidFrame is returned when a gateway reply is malformed.
	ErrInvalidFrame = errors.New("dali: invalid gateway frame")

	// ErrInvalidTopic is returned for MQTT topics outside the command layout.
	ErrInvalidTopic = errors.New("dali: invalid command topic")

	// ErrInvalidPayload is returned for unparseable command payloads.
	ErrInvalidPayload = errors.New("dali: invalid command payload")
)
