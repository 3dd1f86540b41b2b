package workout

type timerKind int

const (
	timerCountdown timerKind = iota
	timerRest
	timerAutoStart
	timerAutoStop
	timerKindCount
)

func (k timerKind) String() string {
	switch k {
	case timerCountdown:
		return "countdown"
	case timerRest:
		return "rest"
	case timerAutoStart:
		return "auto-start"
	case timerAutoStop:
		return "auto-stop"
	default:
		return "unknown"
	}
}

type timerHandle struct {
	gen  uint64
	stop chan struct{}
}

// timerSet holds at most one running timer per kind. Every start gets a new
// generation; a fire whose generation is no longer current is stale and
// must be ignored. Guarded by the controller's mutex.
type timerSet struct {
	handles [timerKindCount]timerHandle
	nextGen uint64
}

// start cancels any timer of the same kind and registers a new one.
func (s *timerSet) start(kind timerKind) (uint64, <-chan struct{}) {
	s.cancel(kind)
	s.nextGen++
	h := timerHandle{gen: s.nextGen, stop: make(chan struct{})}
	s.handles[kind] = h
	return h.gen, h.stop
}

func (s *timerSet) cancel(kind timerKind) {
	if h := s.handles[kind]; h.stop != nil {
		close(h.stop)
	}
	s.handles[kind] = timerHandle{}
}

func (s *timerSet) cancelAll() {
	for k := timerKind(0); k < timerKindCount; k++ {
		s.cancel(k)
	}
}

func (s *timerSet) running(kind timerKind) bool {
	return s.handles[kind].stop != nil
}

func (s *timerSet) current(kind timerKind, gen uint64) bool {
	h := s.handles[kind]
	return h.stop != nil && h.gen == gen
}

// finish retires the timer from inside its own goroutine.
func (s *timerSet) finish(kind timerKind, gen uint64) {
	if s.current(kind, gen) {
		s.handles[kind] = timerHandle{}
	}
}
