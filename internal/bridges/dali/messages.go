package dali

import (
	"fmt"
	"strings"
	"time"
)

// MQTT topics and payloads for the light/group bridge.
//
// Command topics (subscribed):
//
//	{device}/lights/{n}/status/set      payload ON | OFF
//	{device}/lights/{n}/brightness/set  payload 0-254
//	{device}/groups/{n}/status/set
//	{device}/groups/{n}/brightness/set
//
// State topics (published):
//
//	{device}/lights/{n}/status/state
//	{device}/lights/{n}/brightness/state
//	{device}/groups/{n}/status/state
//	{device}/groups/{n}/brightness/state

// Payload values for the status topics.
const (
	PayloadOn  = "ON"
	PayloadOff = "OFF"
)

// Topic segments.
const (
	segmentLights     = "lights"
	segmentGroups     = "groups"
	segmentStatus     = "status"
	segmentBrightness = "brightness"
	segmentSet        = "set"
	segmentState      = "state"

	// commandTopicParts is {device}/{kind}/{n}/{op}/set.
	commandTopicParts = 5
)

// DefaultDeviceName is the base topic when none is configured.
const DefaultDeviceName = "dali"

// Operation is the controlled property in a command topic.
type Operation string

const (
	// OpStatus switches a target on or off.
	OpStatus Operation = segmentStatus

	// OpBrightness sets an arc power level.
	OpBrightness Operation = segmentBrightness
)

// CommandSubscribeTopics returns the four subscription filters for a device.
func CommandSubscribeTopics(deviceName string) []string {
	return []string{
		fmt.Sprintf("%s/%s/+/%s/%s", deviceName, segmentLights, segmentStatus, segmentSet),
		fmt.Sprintf("%s/%s/+/%s/%s", deviceName, segmentLights, segmentBrightness, segmentSet),
		fmt.Sprintf("%s/%s/+/%s/%s", deviceName, segmentGroups, segmentStatus, segmentSet),
		fmt.Sprintf("%s/%s/+/%s/%s", deviceName, segmentGroups, segmentBrightness, segmentSet),
	}
}

// CommandTopic returns the set topic for a target and operation.
// Example: dali/lights/3/brightness/set
func CommandTopic(deviceName string, t Target, op Operation) string {
	return fmt.Sprintf("%s/%s/%s/%s", deviceName, targetSegment(t), op, segmentSet)
}

// StateTopic returns the state topic for a target and operation.
// Example: dali/groups/2/status/state
func StateTopic(deviceName string, t Target, op Operation) string {
	return fmt.Sprintf("%s/%s/%s/%s", deviceName, targetSegment(t), op, segmentState)
}

// ParseCommandTopic extracts the target and operation from a set topic.
func ParseCommandTopic(deviceName, topic string) (Target, Operation, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != commandTopicParts || parts[0] != deviceName || parts[4] != segmentSet {
		return Target{}, "", fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}

	var op Operation
	switch parts[3] {
	case segmentStatus:
		op = OpStatus
	case segmentBrightness:
		op = OpBrightness
	default:
		return Target{}, "", fmt.Errorf("%w: unknown operation %q", ErrInvalidTopic, parts[3])
	}

	switch parts[1] {
	case segmentLights:
		a, err := ParseShortAddress(parts[2])
		if err != nil {
			return Target{}, "", err
		}
		return ShortTarget(a), op, nil
	case segmentGroups:
		g, err := ParseGroup(parts[2])
		if err != nil {
			return Target{}, "", err
		}
		return GroupTarget(g), op, nil
	default:
		return Target{}, "", fmt.Errorf("%w: unknown target kind %q", ErrInvalidTopic, parts[1])
	}
}

func targetSegment(t Target) string {
	if t.Group {
		return fmt.Sprintf("%s/%d", segmentGroups, t.Index)
	}
	return fmt.Sprintf("%s/%d", segmentLights, t.Index)
}

// TopicPrefix is the base topic for Gray Logic system messages.
const TopicPrefix = "graylogic"

// HealthTopic returns the MQTT topic for bridge health status.
// Example: graylogic/health/dali
func HealthTopic() string {
	return fmt.Sprintf("%s/health/dali", TopicPrefix)
}

// CommissioningEventTopic returns the topic for commissioning progress events.
// Example: graylogic/commissioning/dali/event
func CommissioningEventTopic() string {
	return fmt.Sprintf("%s/commissioning/dali/event", TopicPrefix)
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is operating with issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline indicates the bridge is not connected (from LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the bridge's operational status.
// Topic: graylogic/health/dali
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`

	// Commissioning is true while a commissioning run holds the bus.
	Commissioning bool `json:"commissioning"`

	Gateway *GatewayStatus `json:"gateway,omitempty"`

	// Reason explains the status (especially for offline/degraded).
	Reason string `json:"reason,omitempty"`
}

// GatewayStatus describes the gateway connection.
type GatewayStatus struct {
	Connected    bool      `json:"connected"`
	FramesSent   uint64    `json:"frames_sent"`
	Replies      uint64    `json:"replies"`
	Errors       uint64    `json:"errors"`
	Reconnects   uint64    `json:"reconnects"`
	LastActivity time.Time `json:"last_activity"`
}

// NewHealthMessage builds a health message from gateway statistics.
func NewHealthMessage(bridgeID, version string, status HealthStatus, stats GatewayStats, startTime time.Time) HealthMessage {
	return HealthMessage{
		Bridge:        bridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		Gateway: &GatewayStatus{
			Connected:    stats.Connected,
			FramesSent:   stats.FramesTx,
			Replies:      stats.RepliesRx,
			Errors:       stats.ErrorsTotal,
			Reconnects:   stats.Reconnects,
			LastActivity: stats.LastActivity,
		},
	}
}

// NewLWTMessage creates the Last Will and Testament published by the broker
// if the bridge disconnects unexpectedly.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}
