package gateway

import (
	"context"
	"encoding/json"

	"sapo/internal/amqp"
)

// AMQPHandler adapts h to the broker consumer. Replies are returned as JSON
// so the consumer can publish them to the requester.
func AMQPHandler(h MessageHandler) amqp.Handler {
	return func(ctx context.Context, cm *amqp.ControlMessage) ([]byte, error) {
		msg := Message{
			Type:    MessageType(cm.Type),
			Payload: cm.Payload,
			Tag:     cm.Tag,
		}
		reply := make(chan Reply, 1)
		if err := h.HandleMessage(ctx, msg, reply); err != nil {
			return nil, err
		}
		select {
		case rep := <-reply:
			return json.Marshal(rep)
		default:
			return nil, nil
		}
	}
}
