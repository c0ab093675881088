package net

import (
	"context"
	"sync"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/meshdoc/core"
	"github.com/meshdoc/core/errors"
	"github.com/meshdoc/core/logging"
)

// MessageHandler processes one gossip message received on a context's
// topic. from is the publishing peer; data is the raw wire.Envelope
// bytes (still encrypted/signed as published, since Topics doesn't know
// about SecureStream keys).
type MessageHandler func(ctx context.Context, from peer.ID, ctxID core.ContextId, data []byte)

type joinedTopic struct {
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	stop  context.CancelFunc
}

// Topics manages one gossipsub topic per replicated context, adapting
// the teacher's addPubSubTopic/removePubSubTopic/publishLog bookkeeping
// (net/server.go) from the textile pubsub-rpc wrapper to the
// go-libp2p-pubsub API this module actually depends on.
type Topics struct {
	transport *Transport
	handler   MessageHandler

	mu     sync.Mutex
	topics map[core.ContextId]*joinedTopic
}

func NewTopics(t *Transport, handler MessageHandler) *Topics {
	return &Topics{transport: t, handler: handler, topics: make(map[core.ContextId]*joinedTopic)}
}

func topicName(ctxID core.ContextId) string {
	return "meshcore/context/" + ctxID.String()
}

// Join subscribes to ctxID's topic, starting a read loop that dispatches
// incoming messages to the configured MessageHandler. Idempotent.
func (t *Topics) Join(ctxID core.ContextId) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.topics[ctxID]; ok {
		return nil
	}

	topic, err := t.transport.PS.Join(topicName(ctxID))
	if err != nil {
		return errors.NewErrTransport("joining pubsub topic", err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		topic.Close()
		return errors.NewErrTransport("subscribing to pubsub topic", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	jt := &joinedTopic{topic: topic, sub: sub, stop: cancel}
	t.topics[ctxID] = jt

	go t.readLoop(loopCtx, ctxID, sub)
	return nil
}

func (t *Topics) readLoop(ctx context.Context, ctxID core.ContextId, sub *pubsub.Subscription) {
	self := t.transport.LocalPeerID()
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.ErrorE(ctx, "pubsub read loop error", err, logging.NewKV("Context", ctxID.String()))
			}
			return
		}
		if msg.ReceivedFrom == self {
			continue
		}
		if t.handler != nil {
			t.handler(ctx, msg.ReceivedFrom, ctxID, msg.Data)
		}
	}
}

// Publish broadcasts data (a wire.Encode'd envelope) to ctxID's topic,
// joining (and subscribing to) it first via Join if not already joined.
func (t *Topics) Publish(ctx context.Context, ctxID core.ContextId, data []byte) error {
	t.mu.Lock()
	jt, ok := t.topics[ctxID]
	t.mu.Unlock()
	if !ok {
		if err := t.Join(ctxID); err != nil {
			return err
		}
		t.mu.Lock()
		jt = t.topics[ctxID]
		t.mu.Unlock()
	}
	if err := jt.topic.Publish(ctx, data); err != nil {
		return errors.NewErrTransport("publishing to pubsub topic", err)
	}
	return nil
}

// Leave unsubscribes from ctxID's topic and stops its read loop.
func (t *Topics) Leave(ctxID core.ContextId) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	jt, ok := t.topics[ctxID]
	if !ok {
		return nil
	}
	delete(t.topics, ctxID)
	jt.stop()
	jt.sub.Cancel()
	return errors.Wrap("closing pubsub topic", jt.topic.Close())
}

// LeaveAll tears down every joined topic, used on shutdown.
func (t *Topics) LeaveAll() error {
	t.mu.Lock()
	ids := make([]core.ContextId, 0, len(t.topics))
	for id := range t.topics {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	for _, id := range ids {
		if err := t.Leave(id); err != nil {
			return err
		}
	}
	return nil
}

// ListPeers returns the peers currently subscribed to ctxID's topic,
// used to avoid double-pushing a delta to a replicator that will
// receive it via gossip anyway (mirrors the teacher's
// pushLogToReplicators peer-dedup check).
func (t *Topics) ListPeers(ctxID core.ContextId) []peer.ID {
	t.mu.Lock()
	jt, ok := t.topics[ctxID]
	t.mu.Unlock()
	if !ok {
		return nil
	}
	return t.transport.PS.ListPeers(jt.topic.String())
}
