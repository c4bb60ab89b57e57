package push

import "github.com/openacad/activity-service/internal/domain/model"

// FrameType discriminates the wire frames exchanged over a push socket.
type FrameType string

const (
	// Client to server.
	FrameAuthentication FrameType = "authentication"
	FrameSubscribe      FrameType = "subscribe"
	FrameClose          FrameType = "close"

	// Server to client.
	FrameAck      FrameType = "ack"
	FrameError    FrameType = "error"
	FrameDelivery FrameType = "delivery"
)

// Frame is one JSON message on a push socket. The field set is a union over
// the frame types; unused fields are omitted on the wire.
type Frame struct {
	Type FrameType `json:"type"`
	// ID correlates a response with the client frame that caused it. Required
	// on every client frame after authentication.
	ID string `json:"id,omitempty"`

	// Authentication.
	UserID      string `json:"userId,omitempty"`
	TenantAlias string `json:"tenantAlias,omitempty"`
	Signature   string `json:"signature,omitempty"`

	// Subscribe.
	StreamType model.StreamType `json:"streamType,omitempty"`
	ResourceID string           `json:"resourceId,omitempty"`
	Format     model.Format     `json:"format,omitempty"`
	Token      string           `json:"token,omitempty"`

	// Delivery.
	Activities       []any `json:"activities,omitempty"`
	NumNewActivities int   `json:"numNewActivities,omitempty"`

	// Error.
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Ack builds the acknowledgment for a client frame.
func Ack(id string) *Frame {
	return &Frame{Type: FrameAck, ID: id}
}

// Error builds the error response for a client frame.
func Error(id string, code int, message string) *Frame {
	return &Frame{Type: FrameError, ID: id, Code: code, Message: message}
}
