// Package events is the in-process event stream that connects the device
// store to its observers: the rule engine, the anomaly detector, the
// WebSocket hub, the MQTT bridge and telemetry.
//
// # Delivery
//
// Each Subscription has its own unbounded queue and goroutine. Publish only
// appends to queues, so publishers never wait for consumers, and each
// subscriber receives events in the order they were published. Handler
// panics are recovered and logged.
//
// A handler must not call Close on its own Subscription.
//
// # Usage
//
//	bus := events.NewBus()
//	sub := bus.Subscribe("engine", func(ev events.Event) {
//	    change := ev.Payload.(device.StateChange)
//	    ...
//	}, events.TopicDeviceStateChanged)
//	defer sub.Close()
//
//	bus.Publish(events.TopicAlertRaised, alert)
package events
