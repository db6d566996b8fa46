package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"platformbridge/internal/logger"
)

var accelAxes = [3]string{"x", "y", "z"}

// IIOSource exposes Linux Industrial I/O accelerometers found under a sysfs
// root such as /sys/bus/iio/devices. Each registered listener gets its own
// poller goroutine.
type IIOSource struct {
	root  string
	clock clock.Clock

	mu      sync.Mutex
	pollers map[SensorListener]*iioPoller
	closed  bool
}

type iioPoller struct {
	stop chan struct{}
	done chan struct{}
}

// NewIIOSource creates a source rooted at root.
func NewIIOSource(root string, clk clock.Clock) *IIOSource {
	if clk == nil {
		clk = clock.New()
	}
	return &IIOSource{
		root:    root,
		clock:   clk,
		pollers: make(map[SensorListener]*iioPoller),
	}
}

// DefaultSensor returns the first device that exposes all three raw
// acceleration channels.
func (s *IIOSource) DefaultSensor(t SensorType) (*Sensor, bool) {
	if t != Accelerometer || s.root == "" {
		return nil, false
	}

	matches, err := filepath.Glob(filepath.Join(s.root, "*", "in_accel_x_raw"))
	if err != nil || len(matches) == 0 {
		return nil, false
	}
	sort.Strings(matches)

	for _, m := range matches {
		dir := filepath.Dir(m)
		if !fileExists(filepath.Join(dir, "in_accel_y_raw")) || !fileExists(filepath.Join(dir, "in_accel_z_raw")) {
			continue
		}
		name := readTrimmed(filepath.Join(dir, "name"))
		if name == "" {
			name = filepath.Base(dir)
		}
		return &Sensor{Name: name, Type: Accelerometer, path: dir}, true
	}
	return nil, false
}

// RegisterListener starts polling sensor for l every delay. It returns false
// if the sensor cannot be read, the listener is already registered or the
// source is closed.
func (s *IIOSource) RegisterListener(l SensorListener, sensor *Sensor, delay time.Duration) bool {
	if l == nil || sensor == nil || sensor.path == "" {
		return false
	}
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	if _, err := readAccel(sensor.path); err != nil {
		log := logger.WithComponent("iio")
		log.Warn().Err(err).Str("sensor", sensor.Name).Msg("Sensor not readable")
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if _, exists := s.pollers[l]; exists {
		return false
	}

	p := &iioPoller{stop: make(chan struct{}), done: make(chan struct{})}
	s.pollers[l] = p
	ticker := s.clock.Ticker(delay)
	go s.poll(l, sensor, ticker, p)

	log := logger.WithComponent("iio")
	log.Debug().
		Str("sensor", sensor.Name).
		Dur("delay", delay).
		Msg("Listener registered")
	return true
}

// UnregisterListener stops delivering readings to l. Once it returns, l
// receives no further events. Unknown listeners are ignored.
func (s *IIOSource) UnregisterListener(l SensorListener) {
	s.mu.Lock()
	p, ok := s.pollers[l]
	if ok {
		delete(s.pollers, l)
	}
	s.mu.Unlock()

	if ok {
		close(p.stop)
		<-p.done
	}
}

// Close unregisters every listener.
func (s *IIOSource) Close() {
	s.mu.Lock()
	s.closed = true
	pollers := s.pollers
	s.pollers = make(map[SensorListener]*iioPoller)
	s.mu.Unlock()

	for _, p := range pollers {
		close(p.stop)
		<-p.done
	}
}

func (s *IIOSource) poll(l SensorListener, sensor *Sensor, ticker *clock.Ticker, p *iioPoller) {
	defer close(p.done)
	defer ticker.Stop()
	log := logger.WithComponent("iio")

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			values, err := readAccel(sensor.path)
			if err != nil {
				log.Debug().Err(err).Str("sensor", sensor.Name).Msg("Failed to read sensor")
				continue
			}
			select {
			case <-p.stop:
				return
			default:
			}
			l.OnSensorChanged(SensorEvent{
				Sensor:    sensor,
				Values:    values,
				Timestamp: s.clock.Now(),
			})
		}
	}
}

// readAccel converts raw counts to m/s^2 using (raw + offset) * scale.
// Devices expose either a shared in_accel_scale or one per axis.
func readAccel(dir string) ([3]float64, error) {
	var out [3]float64
	shared, sharedErr := readFloat(filepath.Join(dir, "in_accel_scale"))
	offset, err := readFloat(filepath.Join(dir, "in_accel_offset"))
	if err != nil {
		offset = 0
	}

	for i, axis := range accelAxes {
		raw, err := readFloat(filepath.Join(dir, "in_accel_"+axis+"_raw"))
		if err != nil {
			return out, fmt.Errorf("failed to read %s axis: %w", axis, err)
		}
		scale := shared
		if sharedErr != nil {
			scale, err = readFloat(filepath.Join(dir, "in_accel_"+axis+"_scale"))
			if err != nil {
				scale = 1
			}
		}
		out[i] = (raw + offset) * scale
	}
	return out, nil
}

func readFloat(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
}

func readTrimmed(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
