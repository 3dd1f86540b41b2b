package workout

import "fmt"

// StateKind enumerates the workout states.
type StateKind int

const (
	Idle StateKind = iota
	Initializing
	Countdown
	Active
	Resting
	Completed
	Error
)

func (k StateKind) String() string {
	switch k {
	case Idle:
		return "Idle"
	case Initializing:
		return "Initializing"
	case Countdown:
		return "Countdown"
	case Active:
		return "Active"
	case Resting:
		return "Resting"
	case Completed:
		return "Completed"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// MarshalText encodes the kind by name.
func (k StateKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *StateKind) UnmarshalText(text []byte) error {
	for kind := Idle; kind <= Error; kind++ {
		if kind.String() == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown workout state %q", text)
}

// State is the single live workout state. Only the fields belonging to Kind
// are meaningful: SecondsRemaining for Countdown and Resting, the routine
// fields for Resting and Message for Error.
type State struct {
	Kind             StateKind `json:"kind"`
	SecondsRemaining int       `json:"secondsRemaining,omitempty"`
	NextExerciseName string    `json:"nextExerciseName,omitempty"`
	IsLastExercise   bool      `json:"isLastExercise,omitempty"`
	CurrentSet       int       `json:"currentSet,omitempty"`
	TotalSets        int       `json:"totalSets,omitempty"`
	Message          string    `json:"message,omitempty"`
}

func IdleState() State         { return State{Kind: Idle} }
func InitializingState() State { return State{Kind: Initializing} }
func ActiveState() State       { return State{Kind: Active} }
func CompletedState() State    { return State{Kind: Completed} }

func CountdownState(secondsRemaining int) State {
	return State{Kind: Countdown, SecondsRemaining: secondsRemaining}
}

func ErrorState(message string) State {
	return State{Kind: Error, Message: message}
}

// RestingState describes the rest before the given set of the next exercise.
// currentSet is 1-based.
func RestingState(secondsRemaining int, nextExerciseName string, isLastExercise bool, currentSet, totalSets int) State {
	return State{
		Kind:             Resting,
		SecondsRemaining: secondsRemaining,
		NextExerciseName: nextExerciseName,
		IsLastExercise:   isLastExercise,
		CurrentSet:       currentSet,
		TotalSets:        totalSets,
	}
}

// IsActive reports whether a workout is in flight, the states during which a
// lost connection must be flagged.
func (s State) IsActive() bool {
	switch s.Kind {
	case Initializing, Countdown, Active, Resting:
		return true
	}
	return false
}

// canStart reports whether a new set may be started by the user.
func (s State) canStart() bool {
	return s.Kind == Idle || s.Kind == Completed || s.Kind == Error
}

func (s State) String() string {
	switch s.Kind {
	case Countdown:
		return fmt.Sprintf("Countdown(%d)", s.SecondsRemaining)
	case Resting:
		return fmt.Sprintf("Resting(%ds, next %q set %d/%d)", s.SecondsRemaining, s.NextExerciseName, s.CurrentSet, s.TotalSets)
	case Error:
		return fmt.Sprintf("Error(%s)", s.Message)
	default:
		return s.Kind.String()
	}
}
