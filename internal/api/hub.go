package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sortline/sortline-core/internal/infrastructure/config"
	"github.com/sortline/sortline-core/internal/infrastructure/logging"
)

// Event topics published by the hub. The namespace is open: observers
// may subscribe to names not listed here and simply receive nothing
// until something publishes to them.
const (
	TopicSensorData     = "sensor-data"
	TopicClassification = "classification-results"
	TopicDeviceStatus   = "device-status"
	TopicSystemStatus   = "system-status"
)

// Connection groups. Observers declare their audience on connect;
// anything unrecognized lands in the dashboard group.
const (
	GroupMobileApp  = "mobile_app"
	GroupDashboard  = "dashboard"
	GroupAutomation = "automation"
	GroupDevices    = "devices"
)

// replayCacheCap bounds each topic's replay buffer.
const replayCacheCap = 50

// classificationReplayCount is how many recent classification records a
// new observer receives on connect.
const classificationReplayCount = 5

// Event is the wire shape of every topic publication.
type Event struct {
	Topic     string `json:"topic"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
}

// EventSink receives a copy of every hub publication. Used to mirror
// events onto the MQTT bridge; delivery is best effort.
type EventSink interface {
	PublishEvent(topic string, payload []byte)
}

// Hub manages observer connections, their group membership and topic
// subscriptions, and fans published events out to subscribers.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	clientsMu sync.RWMutex
	clients   map[*WSClient]struct{}

	groupsMu sync.RWMutex
	groups   map[string]*subscriberSet

	topicsMu sync.RWMutex
	topics   map[string]*subscriberSet

	replays map[string]*replayCache

	sink EventSink
}

// subscriberSet is one topic's (or group's) membership. Each set has
// its own lock so unrelated topics never contend.
type subscriberSet struct {
	mu      sync.RWMutex
	members map[*WSClient]struct{}
}

func newSubscriberSet() *subscriberSet {
	return &subscriberSet{members: make(map[*WSClient]struct{})}
}

func (s *subscriberSet) add(c *WSClient) {
	s.mu.Lock()
	s.members[c] = struct{}{}
	s.mu.Unlock()
}

func (s *subscriberSet) remove(c *WSClient) {
	s.mu.Lock()
	delete(s.members, c)
	s.mu.Unlock()
}

func (s *subscriberSet) snapshot() []*WSClient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*WSClient, 0, len(s.members))
	for c := range s.members {
		out = append(out, c)
	}
	return out
}

func (s *subscriberSet) size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members)
}

// replayCache retains recent publications for catch-up replay. A
// latest-only cache models a continuously refreshed snapshot; a capped
// cache models a stream of discrete events (FIFO eviction).
type replayCache struct {
	mu         sync.Mutex
	latestOnly bool
	entries    [][]byte
}

func (rc *replayCache) append(data []byte) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.latestOnly {
		if len(rc.entries) == 0 {
			rc.entries = [][]byte{data}
		} else {
			rc.entries[0] = data
		}
		return
	}

	if len(rc.entries) >= replayCacheCap {
		copy(rc.entries, rc.entries[1:])
		rc.entries[len(rc.entries)-1] = data
		return
	}
	rc.entries = append(rc.entries, data)
}

// recent returns up to n cached entries, oldest first. n <= 0 returns
// everything cached.
func (rc *replayCache) recent(n int) [][]byte {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if n <= 0 || n > len(rc.entries) {
		n = len(rc.entries)
	}
	out := make([][]byte, n)
	copy(out, rc.entries[len(rc.entries)-n:])
	return out
}

// NewHub creates an event hub with replay caches for the standard
// topics.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger.With("component", "hub"),
		clients: make(map[*WSClient]struct{}),
		groups:  make(map[string]*subscriberSet),
		topics:  make(map[string]*subscriberSet),
		replays: map[string]*replayCache{
			TopicSystemStatus:   {latestOnly: true},
			TopicSensorData:     {},
			TopicClassification: {},
			TopicDeviceStatus:   {},
		},
	}
}

// SetSink attaches an event mirror. Must be called before the hub
// starts accepting connections.
func (h *Hub) SetSink(sink EventSink) {
	h.sink = sink
}

// Run blocks until the context is cancelled, then disconnects every
// client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client under its group and replays recent state so
// the new observer is not blank until the next live event: the latest
// system status snapshot, the most recent sensor reading, and the last
// five classification records, each only if present.
func (h *Hub) Register(client *WSClient) {
	h.clientsMu.Lock()
	h.clients[client] = struct{}{}
	h.clientsMu.Unlock()

	h.groupSet(client.group).add(client)

	h.replayTo(client)

	h.logger.Debug("observer connected",
		"connection_id", client.id, "group", client.group, "clients", h.ClientCount())
}

// replayTo sends the catch-up payloads directly to one client.
func (h *Hub) replayTo(client *WSClient) {
	for _, data := range h.replays[TopicSystemStatus].recent(1) {
		client.trySend(data)
	}
	for _, data := range h.replays[TopicSensorData].recent(1) {
		client.trySend(data)
	}
	for _, data := range h.replays[TopicClassification].recent(classificationReplayCount) {
		client.trySend(data)
	}
}

// Unregister removes a client from its group and every topic set.
// Only the goroutine that removes the client from the client map closes
// the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.clientsMu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.clientsMu.Unlock()

	if !existed {
		return
	}

	client.closed.Store(true)

	h.groupSet(client.group).remove(client)

	for _, topic := range client.topicList() {
		if set := h.topicSet(topic, false); set != nil {
			set.remove(client)
		}
	}

	close(client.send)

	h.logger.Debug("observer disconnected",
		"connection_id", client.id, "group", client.group, "clients", h.ClientCount())
}

// Subscribe adds the client to a topic's subscriber set. Unrecognized
// topic names are accepted; the namespace is additive.
func (h *Hub) Subscribe(client *WSClient, topic string) {
	h.topicSet(topic, true).add(client)
	client.addTopic(topic)
}

// Unsubscribe removes the client from a topic's subscriber set.
func (h *Hub) Unsubscribe(client *WSClient, topic string) {
	if set := h.topicSet(topic, false); set != nil {
		set.remove(client)
	}
	client.removeTopic(topic)
}

// Publish wraps the payload with its topic and timestamp, appends it to
// the topic's replay cache, and delivers it to every subscriber. A
// subscriber whose connection is already dead is pruned from the set;
// one bad connection never blocks delivery to the rest.
func (h *Hub) Publish(topic string, data any) {
	raw, err := json.Marshal(Event{
		Topic:     topic,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	})
	if err != nil {
		h.logger.Error("marshalling event failed", "topic", topic, "error", err)
		return
	}

	if cache, ok := h.replays[topic]; ok {
		cache.append(raw)
	}

	set := h.topicSet(topic, false)
	if set != nil {
		delivered := 0
		for _, client := range set.snapshot() {
			if !client.trySend(raw) {
				set.remove(client)
				h.Unregister(client)
				continue
			}
			delivered++
		}
		if delivered > 0 {
			h.logger.Debug("event delivered", "topic", topic, "recipients", delivered)
		}
	}

	if h.sink != nil {
		go h.sink.PublishEvent(topic, raw)
	}
}

// BroadcastToGroup delivers a payload to every connection in a group
// regardless of topic subscriptions. Used for control-plane messages
// such as forwarding operator commands toward devices.
func (h *Hub) BroadcastToGroup(group string, payload []byte) int {
	set := h.groupSet(group)
	delivered := 0
	for _, client := range set.snapshot() {
		if !client.trySend(payload) {
			set.remove(client)
			h.Unregister(client)
			continue
		}
		delivered++
	}
	return delivered
}

// ConnectionStats summarizes hub membership for get_stats replies and
// the metrics endpoint.
type ConnectionStats struct {
	Total         int            `json:"total"`
	Groups        map[string]int `json:"groups"`
	Subscriptions map[string]int `json:"subscriptions"`
}

// Stats returns current connection and subscription counts.
func (h *Hub) Stats() ConnectionStats {
	stats := ConnectionStats{
		Total:         h.ClientCount(),
		Groups:        make(map[string]int),
		Subscriptions: make(map[string]int),
	}

	h.groupsMu.RLock()
	for name, set := range h.groups {
		if n := set.size(); n > 0 {
			stats.Groups[name] = n
		}
	}
	h.groupsMu.RUnlock()

	h.topicsMu.RLock()
	for name, set := range h.topics {
		if n := set.size(); n > 0 {
			stats.Subscriptions[name] = n
		}
	}
	h.topicsMu.RUnlock()

	return stats
}

// ClientCount returns the number of connected observers.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// NormalizeGroup maps an observer-supplied group name to a known group,
// defaulting to the dashboard audience.
func NormalizeGroup(group string) string {
	switch group {
	case GroupMobileApp, GroupDashboard, GroupAutomation, GroupDevices:
		return group
	default:
		return GroupDashboard
	}
}

// groupSet returns the membership set for a group, creating it on
// first use.
func (h *Hub) groupSet(group string) *subscriberSet {
	h.groupsMu.RLock()
	set, ok := h.groups[group]
	h.groupsMu.RUnlock()
	if ok {
		return set
	}

	h.groupsMu.Lock()
	defer h.groupsMu.Unlock()
	if set, ok = h.groups[group]; ok {
		return set
	}
	set = newSubscriberSet()
	h.groups[group] = set
	return set
}

// topicSet returns the subscriber set for a topic. When create is
// false and no set exists, it returns nil.
func (h *Hub) topicSet(topic string, create bool) *subscriberSet {
	h.topicsMu.RLock()
	set, ok := h.topics[topic]
	h.topicsMu.RUnlock()
	if ok || !create {
		return set
	}

	h.topicsMu.Lock()
	defer h.topicsMu.Unlock()
	if set, ok = h.topics[topic]; ok {
		return set
	}
	set = newSubscriberSet()
	h.topics[topic] = set
	return set
}

// closeAll disconnects every client during shutdown.
func (h *Hub) closeAll() {
	h.clientsMu.Lock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clientsMu.Unlock()

	for _, client := range clients {
		h.Unregister(client)
		if client.conn != nil {
			client.conn.Close()
		}
	}
}
