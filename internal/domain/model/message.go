package model

import "fmt"

// DeleteType selects the delete pipeline behavior for a message.
type DeleteType string

const (
	// DeleteSoft marks the row deleted; it keeps its place in listings.
	DeleteSoft DeleteType = "soft"
	// DeleteHard tombstones the row and removes it from the thread index.
	DeleteHard DeleteType = "hard"
	// DeleteLeaf resolves to hard when the message has no descendants, soft otherwise.
	DeleteLeaf DeleteType = "leaf"
)

// Message is a single entry of a threaded message box.
//
// Created is milliseconds since epoch and is strictly unique within a box;
// the creation path serializes colliding timestamps with a sequence lock.
type Message struct {
	ID           string `json:"id"` // "<messageBoxId>#<created>"
	MessageBoxID string `json:"messageBoxId"`
	ThreadKey    string `json:"threadKey"`
	Body         string `json:"body,omitempty"`
	CreatedBy    string `json:"createdBy,omitempty"`
	Created      int64  `json:"created"`
	Level        int    `json:"level"`
	// ReplyTo is the parent's Created, or 0 for a root message.
	ReplyTo int64 `json:"replyTo,omitempty"`
	// Deleted is the soft-delete timestamp, or 0 while the message is live.
	Deleted int64 `json:"deleted,omitempty"`
}

func MessageID(boxID string, created int64) string {
	return fmt.Sprintf("%s#%d", boxID, created)
}

// Scrub strips everything a deleted message must not expose in listings.
func (m *Message) Scrub() *Message {
	return &Message{
		ID:           m.ID,
		MessageBoxID: m.MessageBoxID,
		ThreadKey:    m.ThreadKey,
		Created:      m.Created,
		Level:        m.Level,
		ReplyTo:      m.ReplyTo,
		Deleted:      m.Deleted,
	}
}

func (m *Message) IsDeleted() bool { return m.Deleted != 0 }
