package push

import (
	"sync"

	"github.com/google/uuid"
)

// Hubber is the gateway for session management and frame routing. Sessions
// register under every recipient whose streams they subscribed, which may be
// a resource rather than the authenticated user.
type Hubber interface {
	Publish(recipientID string, frame *Frame) bool
	Register(recipientID string, conn Connector)
	Unregister(recipientID string, connID uuid.UUID)
	IsConnected(recipientID string) bool
}

// Hub routes frames to per-principal cells. Lookups are lock-free; cells are
// created lazily on first registration and reclaimed when the last session
// detaches.
type Hub struct {
	// cells stores map[string]Celler keyed by principal id.
	cells sync.Map

	mailboxSize int
}

func NewHub(mailboxSize int) *Hub {
	if mailboxSize <= 0 {
		mailboxSize = 2048
	}
	return &Hub{mailboxSize: mailboxSize}
}

func (h *Hub) IsConnected(recipientID string) bool {
	_, ok := h.cells.Load(recipientID)
	return ok
}

// Publish routes a frame to the recipient's cell. Returns false on a miss or
// mailbox overflow; offline recipients read their streams from storage later.
func (h *Hub) Publish(recipientID string, frame *Frame) bool {
	if val, ok := h.cells.Load(recipientID); ok {
		if cell, ok := val.(Celler); ok {
			return cell.Push(frame)
		}
	}
	return false
}

// Register attaches a session, creating the recipient's cell on first use.
func (h *Hub) Register(recipientID string, conn Connector) {
	fresh := NewCell(recipientID, h.mailboxSize)
	val, loaded := h.cells.LoadOrStore(recipientID, fresh)
	if loaded {
		// Lost the race; an existing cell owns this recipient.
		fresh.Stop()
	}
	if cell, ok := val.(Celler); ok {
		cell.Attach(conn)
	}
}

// Unregister detaches a session and purges the cell when it empties.
func (h *Hub) Unregister(recipientID string, connID uuid.UUID) {
	if val, ok := h.cells.Load(recipientID); ok {
		if cell, ok := val.(Celler); ok {
			if cell.Detach(connID) {
				cell.Stop()
				h.cells.Delete(recipientID)
			}
		}
	}
}
