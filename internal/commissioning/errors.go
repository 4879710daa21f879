package commissioning

import "errors"

// Domain errors for the commissioning package.
var (
	// ErrPoolExhausted is returned when a device was discovered but every
	// short address is already in use. Assignments made before the
	// exhaustion are kept.
	ErrPoolExhausted = errors.New("commissioning: no free short addresses left")

	// ErrBusFault wraps transport failures reported by the bus.
	ErrBusFault = errors.New("commissioning: bus fault")

	// ErrRunInProgress is returned when Run is called while another run
	// holds the bus.
	ErrRunInProgress = errors.New("commissioning: run already in progress")

	// ErrRunNotFound is returned when a stored run does not exist.
	ErrRunNotFound = errors.New("commissioning: run not found")
)
