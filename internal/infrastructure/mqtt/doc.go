// Package mqtt maintains the broker connection used to mirror hub
// events onto MQTT topics and to accept device commands from external
// automation systems.
//
// The connection reconnects automatically with exponential backoff and
// restores subscriptions after a reconnect. A last-will message flips
// the service status topic to "offline" if the connection drops
// uncleanly.
package mqtt
