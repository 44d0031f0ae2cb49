package resource

// Handle is an opaque reference to a host value held for a guest.
// Handle 0 is reserved and always invalid.
type Handle uint32

// EventType distinguishes lifecycle notifications.
type EventType uint8

const (
	EventCreated EventType = iota
	EventDropped
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventDropped:
		return "dropped"
	}
	return "unknown"
}

// Event is a resource lifecycle notification.
type Event struct {
	Value  any
	Handle Handle
	TypeID uint32
	Type   EventType
}

// Observer receives lifecycle events.
type Observer interface {
	OnResourceEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnResourceEvent(e Event) { f(e) }

// Closer is implemented by values that hold resources of their own. The
// table closes them when they are removed.
type Closer interface {
	Close() error
}
