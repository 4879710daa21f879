package mqtt

import "fmt"

// TopicPrefix is the root of every topic this service publishes.
const TopicPrefix = "graylogic"

// Topics builds the service-level topics owned by this package. Bridge
// command, state and health topics live with the DALI bridge.
type Topics struct{}

// SystemStatus returns the retained online/offline topic for a client.
//
// Example: graylogic/system/status/graylogic-dali
func (Topics) SystemStatus(clientID string) string {
	return fmt.Sprintf("%s/system/status/%s", TopicPrefix, clientID)
}

// AllSystemStatus matches the status topic of every service.
//
// Pattern: graylogic/system/status/+
func (Topics) AllSystemStatus() string {
	return TopicPrefix + "/system/status/+"
}
