package mqtt

import "strings"

// Topic layout under the sortline/ prefix.
const (
	// StatusTopic carries the service's online/offline state, retained.
	StatusTopic = "sortline/status"

	// CommandTopicFilter matches inbound device commands from external
	// automation: sortline/commands/<device-id>.
	CommandTopicFilter = "sortline/commands/+"

	eventTopicPrefix   = "sortline/events/"
	commandTopicPrefix = "sortline/commands/"
)

// EventTopic returns the broker topic an event topic mirrors to.
func EventTopic(topic string) string {
	return eventTopicPrefix + topic
}

// DeviceFromCommandTopic extracts the device ID from an inbound command
// topic, reporting whether the topic matched the expected layout.
func DeviceFromCommandTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, commandTopicPrefix)
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
