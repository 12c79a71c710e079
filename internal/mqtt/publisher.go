package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"github.com/nugget/seqthink/internal/buildinfo"
	"github.com/nugget/seqthink/internal/config"
	"github.com/nugget/seqthink/internal/events"
)

// eventBuffer is the bus subscription size. Events published faster
// than the broker accepts them are dropped once it fills.
const eventBuffer = 256

// StatsSource provides runtime data for state publishing. The concrete
// adapter is wired in main.go to avoid coupling the MQTT package to the
// trace store or the MCP handler.
type StatsSource interface {
	// HistoryLength returns the number of retained thoughts.
	HistoryLength() int
	// BranchCount returns the number of known branches.
	BranchCount() int
	// ActiveSessions returns the count of live MCP sessions.
	ActiveSessions() int
}

// broker is the subset of [autopaho.ConnectionManager] the publisher
// uses once connected.
type broker interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Publisher manages the MQTT connection, forwards bus events, and runs
// a periodic loop that pushes trace state to the broker.
type Publisher struct {
	cfg    config.MQTTConfig
	bus    *events.Bus
	stats  StatsSource
	logger *slog.Logger

	// Start sets the connection while Stop may run on the shutdown
	// goroutine.
	mu     sync.Mutex
	cm     *autopaho.ConnectionManager
	client broker
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to begin the connection and publish loop. stats may be nil, in which
// case only uptime and version state is published.
func New(cfg config.MQTTConfig, bus *events.Bus, stats StatsSource, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:    cfg,
		bus:    bus,
		stats:  stats,
		logger: logger,
	}
}

// Start connects to the MQTT broker and begins forwarding events and
// publishing state. It blocks until ctx is cancelled. On every
// (re-)connect it publishes a birth message.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.clientID(),
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	// Subscribe before connecting so events raised while the broker is
	// still coming up are buffered rather than lost. A nil channel
	// disables forwarding.
	var sub <-chan events.Event
	if p.bus != nil {
		sub = p.bus.Subscribe(eventBuffer)
		defer p.bus.Unsubscribe(sub)
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.setConnection(cm)

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.runLoop(ctx, sub)
	return nil
}

// Stop gracefully disconnects by publishing an "offline" availability
// message before closing the MQTT connection. The provided context
// controls how long to wait for the publish and disconnect to complete.
func (p *Publisher) Stop(ctx context.Context) error {
	cm := p.connection()
	if cm == nil {
		return nil
	}
	p.publishAvailability(ctx, cm, "offline")
	return cm.Disconnect(ctx)
}

// AwaitConnection blocks until the MQTT broker connection is
// established or ctx expires.
func (p *Publisher) AwaitConnection(ctx context.Context) error {
	cm := p.connection()
	if cm == nil {
		return fmt.Errorf("mqtt publisher not started")
	}
	return cm.AwaitConnection(ctx)
}

func (p *Publisher) setConnection(cm *autopaho.ConnectionManager) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cm = cm
	if cm != nil {
		p.client = cm
	}
}

func (p *Publisher) connection() *autopaho.ConnectionManager {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cm
}

// publishClient returns the client used for event and state
// publishing, or nil before Start connects.
func (p *Publisher) publishClient() broker {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client
}

func (p *Publisher) clientID() string {
	if p.cfg.ClientID != "" {
		return p.cfg.ClientID
	}
	return "seqthink-" + uuid.NewString()[:8]
}

// --- Topic helpers ---

func (p *Publisher) baseTopic() string {
	return strings.TrimSuffix(p.cfg.TopicPrefix, "/")
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) eventTopic(kind string) string {
	return p.baseTopic() + "/events/" + kind
}

func (p *Publisher) stateTopic(entity string) string {
	return p.baseTopic() + "/state/" + entity
}

func (p *Publisher) publishAvailability(ctx context.Context, b broker, status string) {
	if _, err := b.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

// --- Event forwarding and periodic state ---

func (p *Publisher) runLoop(ctx context.Context, sub <-chan events.Event) {
	interval := p.cfg.PublishInterval
	if interval <= 0 {
		interval = config.DefaultPublishInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Publish immediately on start.
	p.publishStates(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			p.forwardEvent(ctx, e)
		case <-ticker.C:
			p.publishStates(ctx)
		}
	}
}

// forwardEvent publishes one bus event as JSON. Trace events that
// change the trace shape also refresh the retained state.
func (p *Publisher) forwardEvent(ctx context.Context, e events.Event) {
	client := p.publishClient()
	if client == nil {
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("mqtt marshal event", "kind", e.Kind, "error", err)
		return
	}
	topic := p.eventTopic(e.Kind)
	if _, err := client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     0,
	}); err != nil {
		p.logger.Debug("mqtt event publish failed", "topic", topic, "error", err)
		return
	}

	switch e.Kind {
	case events.KindThoughtProcessed, events.KindHistoryCleared,
		events.KindSessionStarted, events.KindSessionEnded:
		p.publishStates(ctx)
	}
}

// states returns the retained state values keyed by entity.
func (p *Publisher) states() map[string]string {
	states := map[string]string{
		"uptime":  buildinfo.Uptime().String(),
		"version": buildinfo.Version,
	}
	if p.stats != nil {
		states["history_length"] = strconv.Itoa(p.stats.HistoryLength())
		states["branches"] = strconv.Itoa(p.stats.BranchCount())
		states["sessions"] = strconv.Itoa(p.stats.ActiveSessions())
	}
	return states
}

func (p *Publisher) publishStates(ctx context.Context) {
	client := p.publishClient()
	if client == nil {
		return
	}

	states := p.states()
	for entity, value := range states {
		if _, err := client.Publish(ctx, &paho.Publish{
			Topic:   p.stateTopic(entity),
			Payload: []byte(value),
			QoS:     0,
			Retain:  true,
		}); err != nil {
			p.logger.Debug("mqtt state publish failed",
				"entity", entity, "error", err)
		}
	}

	p.logger.Debug("mqtt trace state published",
		"entities", len(states))
}
