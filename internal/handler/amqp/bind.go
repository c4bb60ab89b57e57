package amqp

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime/debug"

	"github.com/ThreeDotsLabs/watermill/message"
)

// TopicHandler is the business-logic signature consumers implement.
type TopicHandler[T any] func(ctx context.Context, payload *T) error

// Bind bridges watermill to a typed handler. Panics and undecodable
// payloads are terminal: they ack so the retry policy never replays them.
func Bind[T any](logger *slog.Logger, fn TopicHandler[T]) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("recovered from a handler panic",
					"err", r,
					"stack", string(debug.Stack()),
					"msg_id", msg.UUID)
			}
		}()

		payload := new(T)
		if err := json.Unmarshal(msg.Payload, payload); err != nil {
			logger.Error("undecodable payload", "err", err, "msg_id", msg.UUID)
			return nil
		}

		// A handler error nacks and triggers the retry policy.
		return fn(msg.Context(), payload)
	}
}
