package core

const (
	defaultCommandBuffer = 16
	defaultEventBuffer   = 64
)

// Client is a connection as seen by the core layer.
// Transports write to Commands and read from Events; the hub closes Events
// once the client is unregistered.
type Client struct {
	ID       string
	Commands chan *Command
	Events   chan *Event

	done   chan struct{}
	closed bool // owned by the hub goroutine
}

// NewClient constructs a client with initialized channels.
func NewClient(id string) *Client {
	return NewClientWithBuffer(id, defaultEventBuffer)
}

// NewClientWithBuffer constructs a client whose outbound queue holds up to buffer events.
func NewClientWithBuffer(id string, buffer int) *Client {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	return &Client{
		ID:       id,
		Commands: make(chan *Command, defaultCommandBuffer),
		Events:   make(chan *Event, buffer),
		done:     make(chan struct{}),
	}
}

// Done is closed after the hub has released the client.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// deliver performs a non-blocking send. Slow consumers lose the event.
func (c *Client) deliver(ev *Event) bool {
	if c.closed {
		return false
	}
	select {
	case c.Events <- ev:
		return true
	default:
		return false
	}
}

func (c *Client) release() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	close(c.Events)
}
