package mqtt

import "testing"

func TestEventTopic(t *testing.T) {
	if got := EventTopic("sensor_data"); got != "sortline/events/sensor_data" {
		t.Errorf("EventTopic(sensor_data) = %s", got)
	}
}

func TestDeviceFromCommandTopic(t *testing.T) {
	cases := []struct {
		topic string
		want  string
		ok    bool
	}{
		{"sortline/commands/ctl-01", "ctl-01", true},
		{"sortline/commands/", "", false},
		{"sortline/commands/ctl-01/extra", "", false},
		{"sortline/events/sensor_data", "", false},
		{"", "", false},
	}

	for _, tc := range cases {
		got, ok := DeviceFromCommandTopic(tc.topic)
		if got != tc.want || ok != tc.ok {
			t.Errorf("DeviceFromCommandTopic(%q) = (%q, %v), want (%q, %v)",
				tc.topic, got, ok, tc.want, tc.ok)
		}
	}
}
