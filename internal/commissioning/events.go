package commissioning

import (
	"encoding/json"

	"github.com/nerrad567/gray-logic-dali/internal/bridges/dali"
)

// Publisher is the MQTT publish operation the event sink needs.
// *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// MQTTEventSink publishes run events as JSON on the commissioning event
// topic. Events are not retained. Publish failures are logged and dropped so
// a broker outage never stalls a run.
type MQTTEventSink struct {
	pub    Publisher
	topic  string
	logger Logger
}

// NewMQTTEventSink creates a sink publishing to dali.CommissioningEventTopic.
func NewMQTTEventSink(pub Publisher, logger Logger) *MQTTEventSink {
	if logger == nil {
		logger = nopLogger{}
	}
	return &MQTTEventSink{pub: pub, topic: dali.CommissioningEventTopic(), logger: logger}
}

// Emit implements EventSink.
func (s *MQTTEventSink) Emit(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("encoding commissioning event", "type", string(ev.Type), "error", err)
		return
	}
	if err := s.pub.Publish(s.topic, payload, 1, false); err != nil {
		s.logger.Warn("publishing commissioning event failed", "type", string(ev.Type), "error", err)
	}
}
