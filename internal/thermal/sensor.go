package thermal

import "sync"

// Reading is what a Sensor.Update call reports back to the monitor loop so
// it can decide whether to log.
type Reading struct {
	Level               AlertLevel
	PreviousLevel       AlertLevel
	Temperature         float64
	PreviousTemperature float64
	Present             bool
	FirstReading        bool
	LevelChanged        bool
}

// Sensor pairs a name and threshold table with the mutable (level,
// temperature) state the governor's aggregation and the control socket's
// monitor-data query both read.
type Sensor struct {
	Name string

	mu          sync.Mutex
	table       *Table
	level       AlertLevel
	temperature float64
	hasReading  bool
}

// NewSensor builds a sensor bound to kind's threshold table.
func NewSensor(name string, kind Kind) *Sensor {
	return &Sensor{Name: name, table: NewTable(kind)}
}

// Update evaluates a new reading under the sensor's lock and returns the
// transition for the monitor to act on.
func (s *Sensor) Update(v float64, present bool) Reading {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevLevel, prevTemp, firstReading := s.level, s.temperature, !s.hasReading
	newLevel := s.table.Level(v, present)

	s.level = newLevel
	s.hasReading = true
	if present {
		s.temperature = v
	}

	return Reading{
		Level:               newLevel,
		PreviousLevel:       prevLevel,
		Temperature:         s.temperature,
		PreviousTemperature: prevTemp,
		Present:             present,
		FirstReading:        firstReading,
		LevelChanged:        newLevel != prevLevel,
	}
}

// Snapshot returns the sensor's current (level, temperature) without
// mutating it, for the control socket's monitor-data query and the
// governor's aggregation pass.
func (s *Sensor) Snapshot() Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Reading{Level: s.level, Temperature: s.temperature, Present: s.hasReading}
}
