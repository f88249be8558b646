package machine

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"wifip2p/models"
)

var (
	// ErrClientClosed is returned by a ChannelClient after Close.
	ErrClientClosed = errors.New("client closed")
	// ErrClientBacklog is returned when a ChannelClient's buffer is full.
	ErrClientBacklog = errors.New("client backlog full")
)

const defaultClientBuffer = 16

// ChannelClient is a registry.Client that buffers service responses on a channel.
type ChannelClient struct {
	id        string
	responses chan models.ServiceResponse

	mu     sync.Mutex
	closed bool
}

// NewChannelClient returns a client with a random id. A non-positive
// buffer uses the default size.
func NewChannelClient(buffer int) *ChannelClient {
	if buffer <= 0 {
		buffer = defaultClientBuffer
	}
	return &ChannelClient{
		id:        uuid.NewString(),
		responses: make(chan models.ServiceResponse, buffer),
	}
}

func (c *ChannelClient) ID() string { return c.id }

// Responses returns the channel service responses are delivered on.
func (c *ChannelClient) Responses() <-chan models.ServiceResponse {
	return c.responses
}

func (c *ChannelClient) Deliver(resp models.ServiceResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.responses <- resp:
		return nil
	default:
		return ErrClientBacklog
	}
}

func (c *ChannelClient) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	return nil
}

// Close marks the client dead. The machine releases its services on the
// next liveness check or delivery.
func (c *ChannelClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.responses)
	}
}
