// Package ws projects lifecycle events from the bus onto live client
// connections, scoped by organization and user.
package ws

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/clearlane/tradeflow/internal/bus"
	"github.com/clearlane/tradeflow/internal/lifecycle"
)

const handlerName = "connection-registry"

// Conn is the transport a connection writes to. *websocket.Conn satisfies it;
// tests supply fakes.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Config controls registry behavior. Zero values fall back to defaults.
type Config struct {
	IdleTimeout     time.Duration
	CleanupInterval time.Duration
	SendBuffer      int
	SyncLimit       int
	// Registerer receives the registry metrics; nil keeps them unregistered.
	Registerer prometheus.Registerer
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 15 * time.Minute
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Minute
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.SyncLimit <= 0 {
		c.SyncLimit = 50
	}
	return c
}

// Connection is one live client session.
type Connection struct {
	ID             string
	OrganizationID string
	UserID         string

	conn   Conn
	send   chan Frame
	topics map[string]struct{}

	lastActivity time.Time
	closed       bool
}

func (c *Connection) subscribedTo(topic string) bool {
	if _, ok := c.topics[TopicAll]; ok {
		return true
	}
	_, ok := c.topics[topic]
	return ok
}

// Registry tracks live connections keyed by organization and user and
// re-broadcasts bus events to the sessions whose scope matches.
type Registry struct {
	logger  *zap.Logger
	bus     *bus.Bus
	cfg     Config
	metrics *Metrics

	mu     sync.RWMutex
	conns  map[string]*Connection
	byOrg  map[string]map[string]*Connection
	byUser map[string]map[string]*Connection

	stop    chan struct{}
	running bool
}

// NewRegistry creates a registry bound to the given bus.
func NewRegistry(logger *zap.Logger, b *bus.Bus, cfg Config) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Registry{
		logger:  logger,
		bus:     b,
		cfg:     cfg,
		metrics: NewMetrics(cfg.Registerer),
		conns:   make(map[string]*Connection),
		byOrg:   make(map[string]map[string]*Connection),
		byUser:  make(map[string]map[string]*Connection),
	}
}

// Start subscribes the registry to every lifecycle topic and launches the
// idle sweeper. Idempotent.
func (r *Registry) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stop = make(chan struct{})
	r.mu.Unlock()

	for _, topic := range lifecycle.Topics {
		r.bus.Subscribe(topic, handlerName, r.handleEvent)
	}
	go r.sweeper()
	r.logger.Info("connection registry started",
		zap.Duration("idle_timeout", r.cfg.IdleTimeout))
}

// Stop unsubscribes from the bus and closes every connection.
func (r *Registry) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stop)
	r.mu.Unlock()

	for _, topic := range lifecycle.Topics {
		r.bus.Unsubscribe(topic, handlerName)
	}
	for _, id := range r.connectionIDs() {
		r.Disconnect(id)
	}
	r.logger.Info("connection registry stopped")
}

// Connect registers a connection and immediately sends the
// connection_established frame with the subscribable topic list.
func (r *Registry) Connect(conn Conn, userID, orgID string) (string, error) {
	if userID == "" || orgID == "" {
		return "", fmt.Errorf("user id and organization id are required")
	}

	c := &Connection{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		UserID:         userID,
		conn:           conn,
		send:           make(chan Frame, r.cfg.SendBuffer),
		topics:         make(map[string]struct{}),
		lastActivity:   time.Now(),
	}

	r.mu.Lock()
	r.conns[c.ID] = c
	if r.byOrg[orgID] == nil {
		r.byOrg[orgID] = make(map[string]*Connection)
	}
	r.byOrg[orgID][c.ID] = c
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]*Connection)
	}
	r.byUser[userID][c.ID] = c
	r.mu.Unlock()

	go r.writer(c)
	r.enqueue(c, Frame{
		Type: FrameConnectionEstablished,
		Payload: map[string]interface{}{
			"connection_id": c.ID,
			"topics":        SubscribableTopics(),
		},
		Timestamp: time.Now().UTC(),
	})

	r.metrics.ActiveConnections.Inc()
	r.logger.Debug("connection established",
		zap.String("connection_id", c.ID),
		zap.String("organization_id", orgID),
		zap.String("user_id", userID))
	return c.ID, nil
}

// Disconnect unregisters a connection and closes its transport.
func (r *Registry) Disconnect(connectionID string) {
	r.mu.Lock()
	c, ok := r.conns[connectionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, connectionID)
	if orgConns := r.byOrg[c.OrganizationID]; orgConns != nil {
		delete(orgConns, connectionID)
		if len(orgConns) == 0 {
			delete(r.byOrg, c.OrganizationID)
		}
	}
	if userConns := r.byUser[c.UserID]; userConns != nil {
		delete(userConns, connectionID)
		if len(userConns) == 0 {
			delete(r.byUser, c.UserID)
		}
	}
	alreadyClosed := c.closed
	c.closed = true
	r.mu.Unlock()

	if !alreadyClosed {
		close(c.send)
	}
	c.conn.Close()
	r.metrics.ActiveConnections.Dec()
	r.logger.Debug("connection closed", zap.String("connection_id", connectionID))
}

// HandleInbound dispatches one control frame from a client. Malformed frames
// get an error frame back; they never close the connection.
func (r *Registry) HandleInbound(connectionID string, raw []byte) {
	r.mu.Lock()
	c, ok := r.conns[connectionID]
	if ok {
		c.lastActivity = time.Now()
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	var frame InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		r.sendError(c, "malformed frame: not valid JSON")
		return
	}

	switch frame.Type {
	case FramePing:
		r.enqueue(c, Frame{Type: FramePong, Timestamp: time.Now().UTC()})

	case FrameSubscribe:
		if !validTopic(frame.Topic) {
			r.sendError(c, fmt.Sprintf("unknown topic %q", frame.Topic))
			return
		}
		r.mu.Lock()
		c.topics[frame.Topic] = struct{}{}
		r.mu.Unlock()
		r.enqueue(c, Frame{Type: FrameSubscriptionConfirmed, Topic: frame.Topic, Timestamp: time.Now().UTC()})

	case FrameUnsubscribe:
		if !validTopic(frame.Topic) {
			r.sendError(c, fmt.Sprintf("unknown topic %q", frame.Topic))
			return
		}
		r.mu.Lock()
		delete(c.topics, frame.Topic)
		r.mu.Unlock()
		r.enqueue(c, Frame{Type: FrameSubscriptionConfirmed, Topic: frame.Topic, Timestamp: time.Now().UTC()})

	case FrameSyncRequest:
		r.sync(c, frame)

	default:
		r.sendError(c, fmt.Sprintf("unknown frame type %q", frame.Type))
	}
}

// BroadcastToOrg delivers an event to every connection in the organization
// that has subscribed to the event's topic. Each delivery is independent.
func (r *Registry) BroadcastToOrg(orgID string, evt bus.Event) {
	r.broadcast(r.snapshot(r.byOrg, orgID), evt)
}

// BroadcastToUser delivers an event to every connection of the user that has
// subscribed to the event's topic.
func (r *Registry) BroadcastToUser(userID string, evt bus.Event) {
	r.broadcast(r.snapshot(r.byUser, userID), evt)
}

// CleanupInactive evicts connections idle longer than maxIdle and returns the
// number evicted. In-flight sends on a connection being evicted are not
// interrupted; the transport close ends the session.
func (r *Registry) CleanupInactive(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	r.mu.RLock()
	var idle []string
	for id, c := range r.conns {
		if c.lastActivity.Before(cutoff) {
			idle = append(idle, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range idle {
		r.logger.Info("evicting idle connection", zap.String("connection_id", id))
		r.Disconnect(id)
		r.metrics.IdleEvictions.Inc()
	}
	return len(idle)
}

// ConnectionCount returns the number of live connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// handleEvent is the bus handler: it scopes the event by organization (or
// user when no organization is set) and fans it out.
func (r *Registry) handleEvent(evt bus.Event) error {
	switch {
	case evt.Metadata.OrganizationID != "":
		r.BroadcastToOrg(evt.Metadata.OrganizationID, evt)
	case evt.Metadata.UserID != "":
		r.BroadcastToUser(evt.Metadata.UserID, evt)
	}
	return nil
}

func (r *Registry) broadcast(conns []*Connection, evt bus.Event) {
	if len(conns) == 0 {
		return
	}
	frame := Frame{
		Type:      FrameEvent,
		Topic:     evt.Metadata.Type,
		Payload:   evt,
		Timestamp: time.Now().UTC(),
	}
	r.mu.RLock()
	targets := conns[:0]
	for _, c := range conns {
		if c.subscribedTo(evt.Metadata.Type) {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range targets {
		r.enqueue(c, frame)
	}
}

// sync replays the most recent retained events for the requested topic,
// restricted to the connection's own organization.
func (r *Registry) sync(c *Connection, frame InboundFrame) {
	topic := frame.Topic
	if topic == TopicAll {
		topic = ""
	}
	if topic != "" && !validTopic(topic) {
		r.sendError(c, fmt.Sprintf("unknown topic %q", frame.Topic))
		return
	}
	limit := frame.Limit
	if limit <= 0 || limit > r.cfg.SyncLimit {
		limit = r.cfg.SyncLimit
	}

	var matched []bus.Event
	for _, evt := range r.bus.History(topic, 0) {
		if evt.Metadata.OrganizationID != c.OrganizationID {
			continue
		}
		matched = append(matched, evt)
	}
	// Keep the most recent events when the limit truncates the replay.
	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	for _, evt := range matched {
		r.enqueue(c, Frame{
			Type:      FrameEvent,
			Topic:     evt.Metadata.Type,
			Payload:   evt,
			Timestamp: time.Now().UTC(),
		})
	}
}

// enqueue hands a frame to the connection's writer. A full buffer drops the
// frame rather than blocking the dispatch path.
func (r *Registry) enqueue(c *Connection, frame Frame) {
	// The read lock is held across the send so Disconnect cannot close the
	// channel underneath it.
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
		r.metrics.FramesDropped.Inc()
		r.logger.Warn("dropping frame for slow connection",
			zap.String("connection_id", c.ID),
			zap.String("frame_type", frame.Type))
	}
}

// writer drains the connection's send channel. The first write failure
// unregisters only this connection; siblings are unaffected.
func (r *Registry) writer(c *Connection) {
	for frame := range c.send {
		if err := c.conn.WriteJSON(frame); err != nil {
			r.metrics.SendErrors.Inc()
			r.logger.Debug("connection send failed, unregistering",
				zap.String("connection_id", c.ID),
				zap.Error(err))
			r.Disconnect(c.ID)
			return
		}
		r.metrics.FramesSent.Inc()
	}
}

func (r *Registry) sweeper() {
	ticker := time.NewTicker(r.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.CleanupInactive(r.cfg.IdleTimeout)
		}
	}
}

func (r *Registry) sendError(c *Connection, message string) {
	r.enqueue(c, Frame{
		Type:      FrameError,
		Payload:   map[string]string{"message": message},
		Timestamp: time.Now().UTC(),
	})
}

func (r *Registry) snapshot(index map[string]map[string]*Connection, key string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Connection, 0, len(index[key]))
	for _, c := range index[key] {
		conns = append(conns, c)
	}
	return conns
}

func (r *Registry) connectionIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}
