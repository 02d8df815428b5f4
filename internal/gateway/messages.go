package gateway

import (
	"context"
	"errors"

	"sapo/internal/log"
)

type MessageType string

const (
	MsgSkipWaiting MessageType = "SKIP_WAITING"
	MsgCacheURLs   MessageType = "CACHE_URLS"
	MsgGetVersion  MessageType = "GET_VERSION"
	// MsgSync delivers a deferred-sync event; Tag names it.
	MsgSync MessageType = "SYNC"
)

// Message is an out-of-band control message.
type Message struct {
	Type    MessageType `json:"type"`
	Payload []string    `json:"payload,omitempty"`
	Tag     string      `json:"tag,omitempty"`
}

// Reply answers CACHE_URLS ({success, error?}) and GET_VERSION ({version}).
type Reply struct {
	Success *bool  `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
	Version string `json:"version,omitempty"`
}

func successReply() Reply {
	ok := true
	return Reply{Success: &ok}
}

func failureReply(err error) Reply {
	ok := false
	return Reply{Success: &ok, Error: err.Error()}
}

// MessageHandler processes control messages. Replies, when the message type
// has one, are sent on reply; a nil reply channel discards them.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg Message, reply chan<- Reply) error
}

var ErrNoGeneration = errors.New("no generation registered")

// HandleMessage implements MessageHandler for a single generation.
// SKIP_WAITING activates it when it is waiting.
func (g *Gateway) HandleMessage(ctx context.Context, msg Message, reply chan<- Reply) error {
	g.logger.DebugContext(ctx, "Control message received", log.FieldMessageType, string(msg.Type))

	switch msg.Type {
	case MsgSkipWaiting:
		if g.State() != Waiting {
			return nil
		}
		return g.Activate(ctx)
	case MsgCacheURLs:
		g.replyCacheURLs(ctx, msg, reply)
		return nil
	case MsgGetVersion:
		send(ctx, reply, Reply{Version: g.Generation()})
		return nil
	case MsgSync:
		return g.Sync(ctx, msg.Tag)
	default:
		g.logger.WarnContext(ctx, "Unknown control message", log.FieldMessageType, string(msg.Type))
		return nil
	}
}

func (g *Gateway) replyCacheURLs(ctx context.Context, msg Message, reply chan<- Reply) {
	if len(msg.Payload) == 0 {
		send(ctx, reply, successReply())
		return
	}
	if err := g.CacheURLs(ctx, msg.Payload); err != nil {
		g.logger.WarnContext(ctx, "Caching requested URLs failed",
			"count", len(msg.Payload),
			log.FieldError, err.Error())
		send(ctx, reply, failureReply(err))
		return
	}
	g.logger.InfoContext(ctx, "Cached requested URLs", "count", len(msg.Payload))
	send(ctx, reply, successReply())
}

func send(ctx context.Context, reply chan<- Reply, r Reply) {
	if reply == nil {
		return
	}
	select {
	case reply <- r:
	case <-ctx.Done():
	}
}
