package analysis

type EventKind int

const (
	// EventLine carries one engine output line.
	EventLine EventKind = iota
	EventEngineFailed
	EventSeek
	EventAutoplay
	EventEnable
	EventDisable
	EventRetry
)

func (k EventKind) String() string {
	switch k {
	case EventLine:
		return "line"
	case EventEngineFailed:
		return "engine-failed"
	case EventSeek:
		return "seek"
	case EventAutoplay:
		return "autoplay"
	case EventEnable:
		return "enable"
	case EventDisable:
		return "disable"
	case EventRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// Event is the single input type of the reactor. Generation ties engine events
// to the handle that produced them.
type Event struct {
	Kind       EventKind
	Generation uint64
	Line       string
	Err        error
	Cursor     int
	On         bool
}
