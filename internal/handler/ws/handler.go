// Package ws terminates push sockets. A socket authenticates with its first
// frame, then subscribes recipient streams; aggregated deliveries flow back
// over the same connection.
package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/openacad/activity-service/internal/domain/model"
	"github.com/openacad/activity-service/internal/infra/signing"
	"github.com/openacad/activity-service/internal/push"
)

type Handler struct {
	logger      *slog.Logger
	hub         push.Hubber
	signer      *signing.Signer
	authTimeout time.Duration
	bufferSize  int
	upgrader    websocket.Upgrader
}

func NewHandler(logger *slog.Logger, hub push.Hubber, signer *signing.Signer, authTimeout time.Duration, bufferSize int) *Handler {
	return &Handler{
		logger:      logger,
		hub:         hub,
		signer:      signer,
		authTimeout: authTimeout,
		bufferSize:  bufferSize,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // Security: adjust for production
		},
	}
}

func (h *Handler) Mount(r chi.Router) {
	r.Get("/api/push", h.ServeHTTP)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", "err", err)
		return
	}
	defer ws.Close()

	principalID, ok := h.authenticate(ws)
	if !ok {
		return
	}

	conn := push.NewConnector(r.Context(), principalID, h.bufferSize)
	outbound := conn.Recv()

	// Recipients this session registered with, for teardown.
	registered := make(map[string]bool)
	defer func() {
		for recipientID := range registered {
			h.hub.Unregister(recipientID, conn.ID())
		}
		conn.Close()
	}()

	h.logger.Info("push socket opened", "principal_id", principalID, "conn_id", conn.ID())

	// Single writer pump; acks and errors travel the same channel as
	// deliveries so the socket never sees concurrent writes.
	writerDone := make(chan struct{})
	defer close(writerDone)
	go func() {
		for {
			select {
			case <-writerDone:
				return
			case <-r.Context().Done():
				return
			case frame := <-outbound:
				if err := ws.WriteJSON(frame); err != nil {
					h.logger.Warn("push write failed", "principal_id", principalID, "err", err)
					return
				}
			}
		}
	}()

	for {
		var frame push.Frame
		if err := ws.ReadJSON(&frame); err != nil {
			return
		}

		// Every post-authentication frame needs an id to correlate its
		// response; a frame without one terminates the session.
		if frame.ID == "" {
			conn.Send(push.Error("", http.StatusBadRequest, "a frame must carry an id"), h.authTimeout)
			// Give the error frame a moment to flush before the deferred
			// teardown, same as the close ack.
			time.Sleep(50 * time.Millisecond)
			return
		}

		switch frame.Type {
		case push.FrameSubscribe:
			h.subscribe(conn, registered, principalID, &frame)

		case push.FrameClose:
			conn.Send(push.Ack(frame.ID), h.authTimeout)
			// Give the ack a moment to flush before the deferred teardown.
			time.Sleep(50 * time.Millisecond)
			return

		default:
			conn.Send(push.Error(frame.ID, http.StatusBadRequest, "unknown frame type"), h.authTimeout)
		}
	}
}

// authenticate reads the first frame under the authentication deadline. A
// timeout closes the socket without a response frame.
func (h *Handler) authenticate(ws *websocket.Conn) (string, bool) {
	ws.SetReadDeadline(time.Now().Add(h.authTimeout))
	defer ws.SetReadDeadline(time.Time{})

	var frame push.Frame
	if err := ws.ReadJSON(&frame); err != nil {
		return "", false
	}
	if frame.Type != push.FrameAuthentication || frame.UserID == "" {
		ws.WriteJSON(push.Error(frame.ID, http.StatusBadRequest, "the first frame must authenticate"))
		return "", false
	}
	if !h.signer.VerifyAuthentication(frame.UserID, frame.TenantAlias, frame.Signature) {
		ws.WriteJSON(push.Error(frame.ID, http.StatusUnauthorized, "invalid credentials"))
		return "", false
	}
	ws.WriteJSON(push.Ack(frame.ID))
	return frame.UserID, true
}

// subscribe validates and applies one subscription frame. Failures answer
// with an error frame and keep the session open.
func (h *Handler) subscribe(conn push.Connector, registered map[string]bool, principalID string, frame *push.Frame) {
	// The email stream has no live subscribers; only these three are
	// reachable over a socket.
	switch frame.StreamType {
	case model.StreamActivity, model.StreamNotification, model.StreamMessage:
	default:
		conn.Send(push.Error(frame.ID, http.StatusBadRequest, "unknown stream type"), h.authTimeout)
		return
	}
	if !model.ValidFormat(frame.Format) {
		conn.Send(push.Error(frame.ID, http.StatusBadRequest, "unknown format"), h.authTimeout)
		return
	}
	resourceID := frame.ResourceID
	if resourceID == "" {
		resourceID = principalID
	}

	// The notification stream is personal; no token grants it for another
	// principal.
	if frame.StreamType == model.StreamNotification && resourceID != principalID {
		conn.Send(push.Error(frame.ID, http.StatusUnauthorized, "the notification stream is not shareable"), h.authTimeout)
		return
	}
	if resourceID != principalID && !h.signer.VerifyResource(resourceID, frame.Token) {
		conn.Send(push.Error(frame.ID, http.StatusUnauthorized, "missing or expired stream token"), h.authTimeout)
		return
	}

	routeID := model.Route{RecipientID: resourceID, StreamType: frame.StreamType}.RouteID()
	conn.Subscribe(routeID, frame.Format)
	if !registered[resourceID] {
		h.hub.Register(resourceID, conn)
		registered[resourceID] = true
	}
	conn.Send(push.Ack(frame.ID), h.authTimeout)
}
