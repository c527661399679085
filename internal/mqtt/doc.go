// Package mqtt forwards tubeblog events to an MQTT broker.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it publishes a retained birth message ("online") to the
// availability topic. A will message moves that topic to "offline" on
// unexpected disconnects. Each event from the bus is published as JSON
// to <prefix>/events/<kind>.
package mqtt
