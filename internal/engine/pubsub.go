package engine

import (
	"context"

	pubsub "github.com/libp2p/go-libp2p-pubsub"

	"github.com/meshlink/meshlink/internal/group"
)

// topicName namespaces every joined group under one GossipSub prefix,
// so a bare group name never collides with some other topic a future
// component might join on the same pubsub instance.
func topicName(groupName string) string { return "meshlink/group/" + groupName }

// pubsubAdapter bridges a real *pubsub.PubSub into the narrow
// group.PubSub seam C6 depends on, the same role the teacher's
// ManifestManager played by embedding *pubsub.PubSub directly
// (pkg/network/manifest.go), generalized here from one fixed topic to
// any joined group name.
type pubsubAdapter struct {
	ps *pubsub.PubSub
}

func newPubSubAdapter(ps *pubsub.PubSub) *pubsubAdapter { return &pubsubAdapter{ps: ps} }

func (a *pubsubAdapter) Join(name string) (group.Topic, error) {
	t, err := a.ps.Join(topicName(name))
	if err != nil {
		return nil, err
	}
	return &topicAdapter{topic: t}, nil
}

type topicAdapter struct {
	topic *pubsub.Topic
}

func (t *topicAdapter) Publish(ctx context.Context, data []byte) error {
	return t.topic.Publish(ctx, data)
}

func (t *topicAdapter) Subscribe() (group.Subscription, error) {
	sub, err := t.topic.Subscribe()
	if err != nil {
		return nil, err
	}
	return &subscriptionAdapter{sub: sub}, nil
}

func (t *topicAdapter) Close() error { return t.topic.Close() }

type subscriptionAdapter struct {
	sub *pubsub.Subscription
}

// Next mirrors the teacher's sub.Next(ctx) loop in manifest.go, tagging
// each message with its publisher's peer id for C6's self-suppression
// check.
func (s *subscriptionAdapter) Next(ctx context.Context) (group.IncomingMessage, error) {
	msg, err := s.sub.Next(ctx)
	if err != nil {
		return group.IncomingMessage{}, err
	}
	return group.IncomingMessage{Data: msg.Data, From: msg.GetFrom().String()}, nil
}

func (s *subscriptionAdapter) Cancel() { s.sub.Cancel() }
