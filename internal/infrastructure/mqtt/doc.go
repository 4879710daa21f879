// Package mqtt connects the DALI bridge to the site MQTT broker.
//
// The broker is the only channel between the bridge and the rest of the
// building: light commands arrive on dali/.../set topics, state is
// published back retained, and commissioning progress is streamed as JSON
// events.
//
// The client wraps paho.mqtt.golang and adds:
//   - a last will on graylogic/system/status/{client_id} plus an explicit
//     online/offline message on connect and clean shutdown
//   - a subscription registry replayed after every reconnect
//   - panic recovery around message handlers
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe("dali/light/+/status/set", 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
package mqtt
