package workout

import (
	"time"

	"github.com/lowaak/vitruvian-trainer/internal/handle"
	"github.com/lowaak/vitruvian-trainer/internal/reps"
)

// Config holds the controller timings and the thresholds of its detectors.
type Config struct {
	CountdownSeconds   int
	Tick               time.Duration // one countdown or rest second
	AutoStartHold      time.Duration
	AutoStopHold       time.Duration
	DefaultRestSeconds int
	Autoplay           bool
	MaxMetricSamples   int
	PersistTimeout     time.Duration
	Handle             handle.Config
	Reps               reps.Config
}

func DefaultConfig() Config {
	return Config{
		CountdownSeconds:   5,
		Tick:               time.Second,
		AutoStartHold:      1200 * time.Millisecond,
		AutoStopHold:       3 * time.Second,
		DefaultRestSeconds: 90,
		Autoplay:           true,
		MaxMetricSamples:   72000, // 2h at 100ms
		PersistTimeout:     10 * time.Second,
		Handle:             handle.DefaultConfig(),
		Reps:               reps.DefaultConfig(),
	}
}
