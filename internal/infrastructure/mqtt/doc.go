// Package mqtt connects Homeflow to an MQTT broker.
//
// It wraps paho.mqtt.golang with:
//   - auto-reconnect with backoff and subscription restore
//   - a retained system status topic with a Last Will for crash detection
//   - topic builders for the homeflow/ hierarchy (Topics)
//
// # Topics
//
//	homeflow/command/{deviceId}   in   manual status patch
//	homeflow/report/{deviceId}    in   hardware status report
//	homeflow/trigger/location     in   presence transition
//	homeflow/trigger/voice        in   voice phrase
//	homeflow/state/{deviceId}     out  retained full status
//	homeflow/ack/{deviceId}       out  command result
//	homeflow/event/{type}         out  engine events
//	homeflow/system/status        out  retained online/offline, LWT
//
// The prefix is configurable (mqtt.topic_prefix).
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllCommands(), 1, handler)
package mqtt
