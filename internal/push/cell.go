// Package push fans aggregated stream entries out to live sockets. Every
// online principal is backed by an isolated cell actor that owns a buffered
// mailbox and the principal's session set, so one slow consumer never stalls
// the dispatcher or the MQ consumers behind it.
package push

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openacad/activity-service/internal/domain/model"
)

const sessionSendTimeout = 500 * time.Millisecond

// Celler is the internal API of a per-principal delivery unit.
type Celler interface {
	Push(frame *Frame) bool
	Attach(conn Connector)
	Detach(connID uuid.UUID) bool
	IsIdle(timeout time.Duration) bool
	Stop()
}

// Cell delivers frames to every session of a single principal.
type Cell struct {
	principalID string

	// mailbox decouples the dispatcher from socket latency.
	mailbox chan *Frame

	// sessions multiplexes one principal across devices. Read-heavy.
	sessions map[uuid.UUID]Connector
	mu       sync.RWMutex

	doneCh chan struct{}

	lastActivityAt time.Time
}

func NewCell(principalID string, bufferSize int) *Cell {
	c := &Cell{
		principalID:    principalID,
		mailbox:        make(chan *Frame, bufferSize),
		sessions:       make(map[uuid.UUID]Connector),
		doneCh:         make(chan struct{}),
		lastActivityAt: time.Now(),
	}
	go c.loop()
	return c
}

// IsIdle reports whether the cell has no sessions and no recent traffic.
func (c *Cell) IsIdle(timeout time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions) == 0 && time.Since(c.lastActivityAt) > timeout
}

func (c *Cell) touch() {
	c.mu.Lock()
	c.lastActivityAt = time.Now()
	c.mu.Unlock()
}

// Push enqueues a frame. Returns false on mailbox overflow.
func (c *Cell) Push(frame *Frame) bool {
	c.touch()
	select {
	case c.mailbox <- frame:
		return true
	default:
		return false
	}
}

func (c *Cell) Attach(conn Connector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivityAt = time.Now()
	c.sessions[conn.ID()] = conn
}

// Detach removes the session and reports whether the cell emptied.
func (c *Cell) Detach(connID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, connID)
	c.lastActivityAt = time.Now()
	return len(c.sessions) == 0
}

func (c *Cell) loop() {
	for {
		select {
		case <-c.doneCh:
			return
		case frame := <-c.mailbox:
			c.deliver(frame)
		}
	}
}

// deliver multiplexes a frame to the sessions that subscribed this cell's
// route in the frame's format. Sessions holding a different format for the
// same route are skipped, never translated.
func (c *Cell) deliver(frame *Frame) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.sessions) == 0 {
		return
	}

	routeID := model.Route{RecipientID: c.principalID, StreamType: frame.StreamType}.RouteID()
	for _, conn := range c.sessions {
		if frame.Type == FrameDelivery && !conn.Subscribed(routeID, frame.Format) {
			continue
		}
		conn.Send(frame, sessionSendTimeout)
	}
}

func (c *Cell) Stop() {
	close(c.doneCh)
}
