package protocol

import (
	"fmt"
	"strings"
	"time"
)

// ProgramMode selects one of the fixed resistance profiles.
type ProgramMode int

// Values match the mode ids the trainer firmware reports.
const (
	OldSchool     ProgramMode = 0
	Pump          ProgramMode = 2
	TUT           ProgramMode = 3
	TUTBeast      ProgramMode = 4
	EccentricOnly ProgramMode = 6
)

// ProgramModes lists every fixed-profile mode.
var ProgramModes = []ProgramMode{OldSchool, Pump, TUT, TUTBeast, EccentricOnly}

func (m ProgramMode) String() string {
	switch m {
	case OldSchool:
		return "Old School"
	case Pump:
		return "Pump"
	case TUT:
		return "TUT"
	case TUTBeast:
		return "TUT Beast"
	case EccentricOnly:
		return "Eccentric Only"
	default:
		return fmt.Sprintf("ProgramMode(%d)", int(m))
	}
}

func (m ProgramMode) valid() bool {
	_, ok := modeProfiles[m]
	return ok
}

// ParseProgramMode accepts the display name or a snake/kebab variant ("old_school").
func ParseProgramMode(s string) (ProgramMode, error) {
	key := normalizeName(s)
	for _, m := range ProgramModes {
		if normalizeName(m.String()) == key {
			return m, nil
		}
	}
	return 0, &ConfigurationError{Field: "mode", Reason: fmt.Sprintf("unknown program mode %q", s)}
}

// EchoLevel is the difficulty of Echo mode.
type EchoLevel int

const (
	EchoHard EchoLevel = iota
	EchoHarder
	EchoHardest
	EchoEpic
)

// EchoLevels lists every Echo difficulty.
var EchoLevels = []EchoLevel{EchoHard, EchoHarder, EchoHardest, EchoEpic}

func (l EchoLevel) String() string {
	switch l {
	case EchoHard:
		return "Hard"
	case EchoHarder:
		return "Harder"
	case EchoHardest:
		return "Hardest"
	case EchoEpic:
		return "Epic"
	default:
		return fmt.Sprintf("EchoLevel(%d)", int(l))
	}
}

// ParseEchoLevel parses a level name, case-insensitively.
func ParseEchoLevel(s string) (EchoLevel, error) {
	key := normalizeName(s)
	for _, l := range EchoLevels {
		if normalizeName(l.String()) == key {
			return l, nil
		}
	}
	return 0, &ConfigurationError{Field: "echo_level", Reason: fmt.Sprintf("unknown echo level %q", s)}
}

func normalizeName(s string) string {
	r := strings.NewReplacer(" ", "", "_", "", "-", "")
	return strings.ToLower(r.Replace(s))
}

// EccentricLoad is the Echo eccentric load as a percentage of the concentric load.
type EccentricLoad int

const (
	EccentricLoad0   EccentricLoad = 0
	EccentricLoad50  EccentricLoad = 50
	EccentricLoad75  EccentricLoad = 75
	EccentricLoad100 EccentricLoad = 100
	EccentricLoad110 EccentricLoad = 110
	EccentricLoad120 EccentricLoad = 120
	EccentricLoad130 EccentricLoad = 130
	EccentricLoad140 EccentricLoad = 140
	EccentricLoad150 EccentricLoad = 150

	MaxEccentricLoad = EccentricLoad150
)

// WorkoutType is either Program or Echo.
type WorkoutType interface {
	isWorkoutType()
	String() string
}

// Program runs one of the fixed resistance profiles.
type Program struct {
	Mode ProgramMode
}

func (Program) isWorkoutType() {}

func (p Program) String() string { return p.Mode.String() }

// Echo runs the adaptive resistance mode.
type Echo struct {
	Level         EchoLevel
	EccentricLoad EccentricLoad
}

func (Echo) isWorkoutType() {}

func (e Echo) String() string {
	return fmt.Sprintf("Echo %s (%d%% eccentric)", e.Level, int(e.EccentricLoad))
}

// ProgramParams is everything EncodeProgramParams needs to know about a set.
type ProgramParams struct {
	Type             WorkoutType
	Reps             int
	WarmupReps       int
	WeightPerCableKg float64
	ProgressionKg    float64
	IsJustLift       bool
}

// MonitorMetric is one decoded telemetry sample. Timestamp is filled in by
// the receiver, the frame itself carries only the device tick counter.
type MonitorMetric struct {
	Timestamp time.Time `json:"timestamp"`
	Ticks     uint32    `json:"ticks"`
	PositionA int       `json:"positionA"`
	PositionB int       `json:"positionB"`
	LoadA     float64   `json:"loadA"`
	LoadB     float64   `json:"loadB"`
}

// RepNotification carries the two hardware rep counters.
type RepNotification struct {
	TopCounter      uint16
	CompleteCounter uint16
}

// RGB is one LED colour.
type RGB struct {
	R, G, B uint8
}

// PositionSpikeThreshold is the magnitude above which a position is a sensor glitch.
const PositionSpikeThreshold = 50000

// IsPositionSpike reports whether a raw encoder position is a sensor glitch.
func IsPositionSpike(pos int) bool {
	return pos > PositionSpikeThreshold || pos < -PositionSpikeThreshold
}

// HasSpike reports whether either cable position of m is a glitch.
func (m MonitorMetric) HasSpike() bool {
	return IsPositionSpike(m.PositionA) || IsPositionSpike(m.PositionB)
}
