package mqtt

import "fmt"

// Publish sends a payload to a topic and waits for the broker to
// acknowledge it.
func (c *Client) Publish(topic string, payload []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, byte(c.cfg.QoS), false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// PublishEvent mirrors a hub event onto its broker topic. Failures are
// logged, not propagated: the broker mirror is best effort and must
// never stall event fan-out.
func (c *Client) PublishEvent(topic string, payload []byte) {
	if err := c.Publish(EventTopic(topic), payload); err != nil {
		c.logger.Warn("event mirror failed", "topic", topic, "error", err)
	}
}
