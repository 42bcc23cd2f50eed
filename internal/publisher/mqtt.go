package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/your-org/iaction/internal/config"
	"github.com/your-org/iaction/internal/observability"
)

const publishTimeout = 2 * time.Second

// client is the subset of mqtt.Client the publisher uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

type bufferedState struct {
	sensorID string
	state    bool
}

// MQTT publishes Home Assistant binary sensors over MQTT.
type MQTT struct {
	cfg    config.MQTTConfig
	node   string
	client client

	mu      sync.Mutex
	pending []bufferedState
	index   map[string]int

	// retained holds the last retained payload per topic, replayed on
	// every (re)connect in first-publish order.
	retainedMu    sync.Mutex
	retained      map[string][]byte
	retainedOrder []string
}

func NewMQTT(cfg config.MQTTConfig) *MQTT {
	return &MQTT{
		cfg:      cfg,
		node:     sanitize(cfg.ClientID),
		index:    make(map[string]int),
		retained: make(map[string][]byte),
	}
}

// Connect dials the broker. An error means the broker was not reachable
// within the wait; the client keeps retrying in the background and the
// publisher stays usable, dropping messages until it connects.
func (p *MQTT) Connect(ctx context.Context) error {
	broker := p.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(p.cfg.ClientID)
	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetWill(p.availabilityTopic(), "offline", p.cfg.QoS, true)

	opts.OnConnect = func(c mqtt.Client) {
		slog.Info("mqtt connection established", "broker", broker, "client_id", p.cfg.ClientID)
		c.Publish(p.availabilityTopic(), p.cfg.QoS, true, "online")
		go p.replay()
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		slog.Warn("mqtt connection lost, will auto-reconnect", "broker", broker, "error", err)
	}

	c := mqtt.NewClient(opts)
	p.client = c

	slog.Info("connecting to mqtt broker", "broker", broker)
	token := c.Connect()
	wait := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		wait = time.Until(deadline)
	}
	if !token.WaitTimeout(wait) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	return nil
}

func (p *MQTT) SetupBinarySensor(sensorID, name, deviceClass string) {
	id := sanitize(sensorID)
	cfg := map[string]any{
		"name":               name,
		"unique_id":          p.node + "_" + id,
		"object_id":          p.node + "_" + id,
		"state_topic":        p.stateTopic(id),
		"payload_on":         "ON",
		"payload_off":        "OFF",
		"availability_topic": p.availabilityTopic(),
		"device": map[string]any{
			"identifiers":  []string{p.node},
			"name":         p.cfg.DeviceName,
			"manufacturer": "IAction",
		},
	}
	if deviceClass != "" {
		cfg["device_class"] = deviceClass
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		slog.Error("marshal discovery config", "sensor_id", sensorID, "error", err)
		return
	}
	p.publish(p.discoveryTopic("binary_sensor", id), true, payload)
}

// RemoveSensor clears the retained discovery config, which makes Home
// Assistant delete the entity.
func (p *MQTT) RemoveSensor(sensorID, kind string) {
	if kind == "" {
		kind = "binary_sensor"
	}
	id := sanitize(sensorID)
	p.publish(p.discoveryTopic(kind, id), true, []byte{})
	p.publish(p.stateTopic(id), true, []byte{})
}

func (p *MQTT) PublishBinarySensorState(sensorID string, state bool) {
	p.publish(p.stateTopic(sanitize(sensorID)), true, []byte(onOff(state)))
}

// BufferBinarySensorState queues a state until FlushMessageBuffer. A sensor
// buffered twice keeps its first position and its last value.
func (p *MQTT) BufferBinarySensorState(sensorID string, state bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i, ok := p.index[sensorID]; ok {
		p.pending[i].state = state
		return
	}
	p.index[sensorID] = len(p.pending)
	p.pending = append(p.pending, bufferedState{sensorID: sensorID, state: state})
}

func (p *MQTT) FlushMessageBuffer() {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.index = make(map[string]int)
	p.mu.Unlock()

	for _, s := range pending {
		p.PublishBinarySensorState(s.sensorID, s.state)
	}
}

func (p *MQTT) PublishStatus(status any) {
	payload, err := json.Marshal(status)
	if err != nil {
		slog.Error("marshal status", "error", err)
		return
	}
	p.publish(p.cfg.BaseTopic+"/status", false, payload)
}

// Close publishes offline when connected and stops the client, including
// a connect retry still in progress.
func (p *MQTT) Close() {
	if p.client == nil {
		return
	}
	if p.client.IsConnected() {
		p.send(p.availabilityTopic(), true, []byte("offline"))
	}
	p.client.Disconnect(250)
	slog.Info("mqtt disconnected")
}

// replay republishes every remembered retained message, so discovery
// configs and states dropped while disconnected reach the broker.
func (p *MQTT) replay() {
	p.retainedMu.Lock()
	defer p.retainedMu.Unlock()
	for _, topic := range p.retainedOrder {
		p.send(topic, true, p.retained[topic])
	}
	if n := len(p.retainedOrder); n > 0 {
		slog.Info("mqtt retained messages replayed", "count", n)
	}
}

// remember records a retained payload; an empty payload forgets the topic.
// The caller holds retainedMu.
func (p *MQTT) remember(topic string, payload []byte) {
	if len(payload) == 0 {
		if _, ok := p.retained[topic]; ok {
			delete(p.retained, topic)
			for i, t := range p.retainedOrder {
				if t == topic {
					p.retainedOrder = append(p.retainedOrder[:i], p.retainedOrder[i+1:]...)
					break
				}
			}
		}
		return
	}
	if p.retained == nil {
		p.retained = make(map[string][]byte)
	}
	if _, ok := p.retained[topic]; !ok {
		p.retainedOrder = append(p.retainedOrder, topic)
	}
	p.retained[topic] = payload
}

func (p *MQTT) publish(topic string, retained bool, payload []byte) {
	if !retained {
		p.send(topic, false, payload)
		return
	}
	// Held across the send so a replay never overtakes a newer state.
	p.retainedMu.Lock()
	defer p.retainedMu.Unlock()
	p.remember(topic, payload)
	p.send(topic, true, payload)
}

func (p *MQTT) send(topic string, retained bool, payload []byte) {
	if p.client == nil || !p.client.IsConnected() {
		observability.MQTTPublishErrors.Inc()
		slog.Debug("mqtt not connected, dropping message", "topic", topic)
		return
	}
	token := p.client.Publish(topic, p.cfg.QoS, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		observability.MQTTPublishErrors.Inc()
		slog.Warn("mqtt publish timeout", "topic", topic)
		return
	}
	if err := token.Error(); err != nil {
		observability.MQTTPublishErrors.Inc()
		slog.Warn("mqtt publish failed", "topic", topic, "error", err)
	}
}

func (p *MQTT) discoveryTopic(kind, sensorID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", p.cfg.DiscoveryPrefix, kind, p.node, sensorID)
}

func (p *MQTT) stateTopic(sensorID string) string {
	return p.cfg.BaseTopic + "/" + sensorID + "/state"
}

func (p *MQTT) availabilityTopic() string {
	return p.cfg.BaseTopic + "/availability"
}

func onOff(state bool) string {
	if state {
		return "ON"
	}
	return "OFF"
}

var unsafeTopicChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

func sanitize(id string) string {
	return unsafeTopicChars.ReplaceAllString(id, "_")
}
