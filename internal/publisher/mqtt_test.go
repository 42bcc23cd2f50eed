package publisher

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/your-org/iaction/internal/config"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type message struct {
	topic    string
	retained bool
	payload  string
}

type fakeClient struct {
	mu          sync.Mutex
	connected   bool
	failWith    error
	messages    []message
	disconnects int
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, message{topic: topic, retained: retained, payload: string(payload.([]byte))})
	return doneToken{err: c.failWith}
}

func (c *fakeClient) IsConnected() bool { return c.connected }
func (c *fakeClient) Disconnect(uint) {
	c.connected = false
	c.disconnects++
}

func newTestMQTT() (*MQTT, *fakeClient) {
	p := NewMQTT(config.MQTTConfig{
		ClientID:        "iaction-01",
		DiscoveryPrefix: "homeassistant",
		BaseTopic:       "iaction",
		DeviceName:      "IAction",
	})
	fc := &fakeClient{connected: true}
	p.client = fc
	return p, fc
}

func TestMQTT_setupBinarySensor(t *testing.T) {
	p, fc := newTestMQTT()
	p.SetupBinarySensor("capture_active_front-door", "Capture front-door", "running")

	if len(fc.messages) != 1 {
		t.Fatalf("messages = %+v", fc.messages)
	}
	m := fc.messages[0]
	if m.topic != "homeassistant/binary_sensor/iaction_01/capture_active_front_door/config" {
		t.Errorf("topic = %s", m.topic)
	}
	if !m.retained {
		t.Error("discovery config must be retained")
	}

	var cfg map[string]any
	if err := json.Unmarshal([]byte(m.payload), &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg["state_topic"] != "iaction/capture_active_front_door/state" {
		t.Errorf("state_topic = %v", cfg["state_topic"])
	}
	if cfg["device_class"] != "running" || cfg["payload_on"] != "ON" {
		t.Errorf("config = %v", cfg)
	}
	if cfg["availability_topic"] != "iaction/availability" {
		t.Errorf("availability_topic = %v", cfg["availability_topic"])
	}
}

func TestMQTT_bufferCoalescesPerSensor(t *testing.T) {
	p, fc := newTestMQTT()

	p.BufferBinarySensorState("a", true)
	p.BufferBinarySensorState("b", true)
	p.BufferBinarySensorState("a", false)
	if len(fc.messages) != 0 {
		t.Fatal("buffered states must not be published before flush")
	}

	p.FlushMessageBuffer()
	want := []message{
		{topic: "iaction/a/state", retained: true, payload: "OFF"},
		{topic: "iaction/b/state", retained: true, payload: "ON"},
	}
	if len(fc.messages) != len(want) {
		t.Fatalf("messages = %+v, want %+v", fc.messages, want)
	}
	for i := range want {
		if fc.messages[i] != want[i] {
			t.Errorf("message %d = %+v, want %+v", i, fc.messages[i], want[i])
		}
	}

	p.FlushMessageBuffer()
	if len(fc.messages) != 2 {
		t.Error("second flush should publish nothing")
	}
}

func TestMQTT_removeSensorClearsRetained(t *testing.T) {
	p, fc := newTestMQTT()
	p.RemoveSensor("detection_x_cam1", "")

	if len(fc.messages) != 2 {
		t.Fatalf("messages = %+v", fc.messages)
	}
	if fc.messages[0].topic != "homeassistant/binary_sensor/iaction_01/detection_x_cam1/config" || fc.messages[0].payload != "" {
		t.Errorf("discovery clear = %+v", fc.messages[0])
	}
}

func TestMQTT_failuresAreSwallowed(t *testing.T) {
	p, fc := newTestMQTT()

	fc.failWith = errors.New("broker rejected")
	p.PublishBinarySensorState("a", true)
	p.PublishStatus(map[string]any{"camera_id": "cam1"})

	fc.connected = false
	p.PublishBinarySensorState("a", false)
	if len(fc.messages) != 2 {
		t.Errorf("disconnected client should not be used, messages = %d", len(fc.messages))
	}

	var unset MQTT
	unset.PublishBinarySensorState("a", true)
	unset.Close()
}

func TestMQTT_replaysRetainedAfterLateConnect(t *testing.T) {
	p, fc := newTestMQTT()
	fc.connected = false

	p.SetupBinarySensor("capture_active_cam1", "Capture cam1", "running")
	p.SetupBinarySensor("detection_x_cam1", "x on cam1", "")
	p.PublishBinarySensorState("capture_active_cam1", false)
	p.PublishBinarySensorState("capture_active_cam1", true)
	p.RemoveSensor("detection_x_cam1", "")
	p.PublishStatus(map[string]any{"camera_id": "cam1"})
	if len(fc.messages) != 0 {
		t.Fatalf("published while disconnected: %+v", fc.messages)
	}

	fc.connected = true
	p.replay()

	want := []string{
		"homeassistant/binary_sensor/iaction_01/capture_active_cam1/config",
		"iaction/capture_active_cam1/state",
	}
	if len(fc.messages) != len(want) {
		t.Fatalf("messages = %+v, want topics %v", fc.messages, want)
	}
	for i, topic := range want {
		if fc.messages[i].topic != topic || !fc.messages[i].retained {
			t.Errorf("message %d = %+v, want retained %s", i, fc.messages[i], topic)
		}
	}
	if fc.messages[1].payload != "ON" {
		t.Errorf("replayed state = %q, want latest ON", fc.messages[1].payload)
	}
}

func TestMQTT_closeStopsDisconnectedClient(t *testing.T) {
	p, fc := newTestMQTT()
	fc.connected = false

	p.Close()
	if fc.disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", fc.disconnects)
	}
	if len(fc.messages) != 0 {
		t.Errorf("offline published while disconnected: %+v", fc.messages)
	}
}
