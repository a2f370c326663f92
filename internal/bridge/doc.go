// Package bridge links Homeflow to an MQTT broker.
//
// Hardware and voice or presence services publish to the ingress topics;
// the bridge turns those messages into device patches and engine triggers.
// In the other direction it mirrors every bus event, and keeps one retained
// state topic per device so late subscribers see current status at once.
//
// Commands arrive with the manual source and are acked on ack/{id}.
// Reports arrive with the device source, which the arbiter lets through a
// locked device. Neither can change the AI safety lock: that needs the
// guardian capability, which only the REST API can grant.
package bridge
