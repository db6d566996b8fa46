// Package stream owns the sensor stream: the producers that generate samples
// and the Manager that runs at most one subscription at a time.
package stream

import (
	"fmt"
	"time"
)

// Origin tells which producer generated a Sample.
type Origin int

const (
	OriginReal Origin = iota + 1
	OriginSimulated
)

// String returns the source label used in rendered samples.
func (o Origin) String() string {
	switch o {
	case OriginReal:
		return "Accelerometer"
	case OriginSimulated:
		return "Simulated Sensor"
	default:
		return "Unknown"
	}
}

// TimestampLayout renders sample timestamps, e.g. "Tue Mar 05 14:07:09 UTC 2024".
const TimestampLayout = "Mon Jan 02 15:04:05 MST 2006"

// Sample is one three-axis reading.
type Sample struct {
	Values    [3]float64
	Timestamp time.Time
	Origin    Origin
}

// Render formats the sample as it is sent to the host:
// "<Source> - X: 1.23, Y: -4.56, Z: 7.89 | <timestamp>".
func (s Sample) Render() string {
	return fmt.Sprintf("%s - X: %.2f, Y: %.2f, Z: %.2f | %s",
		s.Origin, s.Values[0], s.Values[1], s.Values[2], s.Timestamp.Format(TimestampLayout))
}

// Sink is the outbound path for rendered samples. Deliver must not fail or
// block on I/O, since Cancel waits for an in-flight Deliver; an absent
// consumer makes it a no-op.
type Sink interface {
	Deliver(event string)
}

// EmitFunc hands a sample to the session. It returns false once the session
// no longer has a sink, telling the producer to stop.
type EmitFunc func(Sample) bool

// Producer generates samples for one session. Start is called once; Stop may
// be called any number of times and must not block on delivery.
type Producer interface {
	Start(emit EmitFunc) error
	Stop()
}
