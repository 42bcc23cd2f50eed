package publisher

// Publisher mirrors camera and detection state to an external system.
// No method returns an error: failures are logged and dropped.
type Publisher interface {
	SetupBinarySensor(sensorID, name, deviceClass string)
	RemoveSensor(sensorID, kind string)
	PublishBinarySensorState(sensorID string, state bool)
	BufferBinarySensorState(sensorID string, state bool)
	FlushMessageBuffer()
	PublishStatus(status any)
	Close()
}

// Nop discards everything. It is used when MQTT is disabled.
type Nop struct{}

var (
	_ Publisher = Nop{}
	_ Publisher = (*MQTT)(nil)
)

func (Nop) SetupBinarySensor(string, string, string) {}
func (Nop) RemoveSensor(string, string)              {}
func (Nop) PublishBinarySensorState(string, bool)    {}
func (Nop) BufferBinarySensorState(string, bool)     {}
func (Nop) FlushMessageBuffer()                      {}
func (Nop) PublishStatus(any)                        {}
func (Nop) Close()                                   {}
