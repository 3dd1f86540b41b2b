// Package handle classifies cable position samples into handle states.
package handle

import (
	"math"
	"time"

	"github.com/lowaak/vitruvian-trainer/internal/protocol"
)

// State is the classified handle state.
type State int

const (
	Released State = iota
	Moving
	Grabbed
)

func (s State) String() string {
	switch s {
	case Released:
		return "Released"
	case Moving:
		return "Moving"
	case Grabbed:
		return "Grabbed"
	default:
		return "Unknown"
	}
}

// Config holds the detector thresholds. They are empirically tuned and
// should be recalibrated against device logs.
type Config struct {
	// GrabPosition must be exceeded, together with GrabVelocity, for Grabbed.
	GrabPosition float64
	// ReleasePosition is the position below which the handles are Released.
	ReleasePosition float64
	// GrabVelocity is in position units per second.
	GrabVelocity float64
	// VelocityWindow is how many instantaneous velocities are averaged.
	VelocityWindow int
}

// DefaultConfig returns the thresholds used on real devices.
func DefaultConfig() Config {
	return Config{
		GrabPosition:    8.0,
		ReleasePosition: 2.5,
		GrabVelocity:    100,
		VelocityWindow:  3,
	}
}

// Detector is a hysteresis classifier. Positions between ReleasePosition and
// GrabPosition keep the previous state. Not safe for concurrent use.
type Detector struct {
	cfg   Config
	state State

	hasLast bool
	lastPos float64
	lastAt  time.Time

	velocities []float64
	next       int
	filled     int
}

// NewDetector returns a detector in the Released state.
func NewDetector(cfg Config) *Detector {
	if cfg.VelocityWindow <= 0 {
		cfg.VelocityWindow = 1
	}
	return &Detector{
		cfg:        cfg,
		velocities: make([]float64, cfg.VelocityWindow),
	}
}

// Reset forgets all samples and returns to Released.
func (d *Detector) Reset() {
	d.state = Released
	d.hasLast = false
	d.next = 0
	d.filled = 0
}

// State returns the current classification.
func (d *Detector) State() State {
	return d.state
}

// Velocity returns the windowed velocity estimate in units per second.
func (d *Detector) Velocity() float64 {
	if d.filled == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < d.filled; i++ {
		sum += d.velocities[i]
	}
	return sum / float64(d.filled)
}

func (d *Detector) pushVelocity(v float64) {
	d.velocities[d.next] = v
	d.next = (d.next + 1) % len(d.velocities)
	if d.filled < len(d.velocities) {
		d.filled++
	}
}

// Update feeds one position sample taken at the given time and returns the
// new state. Spikes are dropped without touching the velocity estimate.
func (d *Detector) Update(position float64, at time.Time) State {
	if math.Abs(position) > protocol.PositionSpikeThreshold {
		return d.state
	}

	if d.hasLast {
		if dt := at.Sub(d.lastAt).Seconds(); dt > 0 {
			d.pushVelocity((position - d.lastPos) / dt)
		}
	}
	d.hasLast = true
	d.lastPos = position
	d.lastAt = at

	speed := math.Abs(d.Velocity())
	switch {
	case position < d.cfg.ReleasePosition:
		d.state = Released
	case position > d.cfg.GrabPosition && speed > d.cfg.GrabVelocity:
		d.state = Grabbed
	case position > d.cfg.GrabPosition:
		d.state = Moving
	}
	return d.state
}
