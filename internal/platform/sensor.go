package platform

import "time"

// SensorType identifies a kind of motion sensor.
type SensorType int

const (
	// Accelerometer reports acceleration along three axes.
	Accelerometer SensorType = iota + 1
)

// String returns the display name of the sensor type.
func (t SensorType) String() string {
	switch t {
	case Accelerometer:
		return "Accelerometer"
	default:
		return "Unknown"
	}
}

// Sensor is a handle to one sensor exposed by a SensorSource.
type Sensor struct {
	Name string
	Type SensorType

	path string
}

// SensorEvent is one reading delivered to a SensorListener.
type SensorEvent struct {
	Sensor    *Sensor
	Values    [3]float64
	Timestamp time.Time
}

// SensorListener receives readings on the source's own goroutine.
// Implementations must be comparable; sources key registrations by listener.
type SensorListener interface {
	OnSensorChanged(event SensorEvent)
}

// SensorSource hands out sensors and delivers their readings to listeners.
// The requested delay is a hint; the source decides the actual cadence.
type SensorSource interface {
	DefaultSensor(t SensorType) (*Sensor, bool)
	RegisterListener(l SensorListener, s *Sensor, delay time.Duration) bool
	UnregisterListener(l SensorListener)
}
