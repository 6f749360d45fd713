// Package telemetry publishes motion-core state out to observers that
// never drive motion themselves: an MQTT fleet-status topic and an
// InfluxDB segment time series. Publish failures here are swallowed,
// never propagated back into the motion core.
package telemetry

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/edgeflow/edgeflow/internal/logger"
	"github.com/edgeflow/edgeflow/internal/motion"
)

// MQTTConfig configures the fleet-telemetry publisher.
type MQTTConfig struct {
	Broker         string
	ClientID       string
	Topic          string
	Username       string
	Password       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
}

// StateEvent is the JSON payload published on every machine-state
// transition.
type StateEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	State     string         `json:"state"`
	Positions motion.Vector  `json:"positions"`
	MoveID    string         `json:"move_id,omitempty"`
}

// MQTTPublisher holds one paho client publishing StateEvents to a fixed
// topic. It degrades silently (logs, doesn't return an error to
// callers) on publish failure, since losing a telemetry sample must
// never affect motion.
type MQTTPublisher struct {
	cfg    MQTTConfig
	client mqtt.Client

	mu        sync.RWMutex
	connected bool
}

// NewMQTTPublisher connects to cfg.Broker and returns a ready publisher.
func NewMQTTPublisher(cfg MQTTConfig) (*MQTTPublisher, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("motiond-%d", time.Now().Unix())
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 60 * time.Second
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	p := &MQTTPublisher{cfg: cfg}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetOnConnectHandler(func(mqtt.Client) {
		p.mu.Lock()
		p.connected = true
		p.mu.Unlock()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.mu.Lock()
		p.connected = false
		p.mu.Unlock()
		logger.Warn("mqtt telemetry connection lost", zap.Error(err))
	})

	p.client = mqtt.NewClient(opts)
	token := p.client.Connect()
	token.Wait()
	if token.Error() != nil {
		return nil, fmt.Errorf("telemetry: mqtt connect: %w", token.Error())
	}

	return p, nil
}

// PublishState publishes ev to the configured topic at QoS 0; telemetry
// is best-effort, so a publish failure is logged and swallowed rather
// than surfaced to the motion loop calling this.
func (p *MQTTPublisher) PublishState(ev StateEvent) {
	p.mu.RLock()
	connected := p.connected
	p.mu.RUnlock()
	if !connected {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Warn("telemetry: marshal state event failed", zap.Error(err))
		return
	}

	token := p.client.Publish(p.cfg.Topic, 0, false, payload)
	go func() {
		token.Wait()
		if token.Error() != nil {
			logger.Warn("telemetry: mqtt publish failed", zap.Error(token.Error()))
		}
	}()
}

// Close disconnects the MQTT client.
func (p *MQTTPublisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
