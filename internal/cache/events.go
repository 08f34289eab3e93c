package cache

// EventKind says what part of the cache changed.
type EventKind int

const (
	EventConversations EventKind = iota // conversation list or metadata
	EventMessages                       // streamed message text
	EventSelection                      // viewed conversation, agent or model
	EventProgress                       // sync progress
)

func (k EventKind) String() string {
	switch k {
	case EventConversations:
		return "conversations"
	case EventMessages:
		return "messages"
	case EventSelection:
		return "selection"
	case EventProgress:
		return "progress"
	}
	return "unknown"
}

// Event is delivered to subscribers after a state change. UUID is set when
// the change concerns a single conversation; Progress carries the value of
// an EventProgress.
type Event struct {
	Kind     EventKind
	UUID     string
	Progress float64
}

const subscriberBuffer = 64

// Subscribe returns a channel of change events and a function that ends the
// subscription. Slow subscribers miss events instead of blocking the cache.
func (c *Cache) Subscribe() (<-chan Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	ch := make(chan Event, subscriberBuffer)
	c.subs[id] = ch

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
}

func (c *Cache) notifyLocked(ev Event) {
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
