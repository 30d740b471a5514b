// Package group implements C6: subscription bookkeeping for group
// chat topics and the serialization of what gets published to them.
// Its pub-sub seam borrows the teacher's manifest.go topic
// join/publish/subscribe shape (Network Core/pkg/network/manifest.go)
// without any of the DHT/validator machinery that shape was wrapped
// around there — groups here are plain GossipSub topics, no record
// store behind them.
package group

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meshlink/meshlink/internal/events"
	"github.com/meshlink/meshlink/internal/filesharing"
	"github.com/meshlink/meshlink/internal/merr"
	"github.com/meshlink/meshlink/internal/store"
)

// IncomingMessage is one pub-sub delivery handed up from a
// Subscription, carrying the raw publishing peer alongside the bytes
// so self-authored posts can be suppressed before decoding.
type IncomingMessage struct {
	Data []byte
	From string
}

// Subscription is the narrow slice of *pubsub.Subscription this
// package drives.
type Subscription interface {
	Next(ctx context.Context) (IncomingMessage, error)
	Cancel()
}

// Topic is the narrow slice of *pubsub.Topic this package drives.
type Topic interface {
	Publish(ctx context.Context, data []byte) error
	Subscribe() (Subscription, error)
	Close() error
}

// PubSub is the narrow slice of *pubsub.PubSub this package drives.
// The engine adapts a real libp2p-pubsub instance to it.
type PubSub interface {
	Join(topicName string) (Topic, error)
}

// PeerResolver resolves a peer-id to the nickname it last announced,
// borrowed from C7 so inbound publications can be attributed.
type PeerResolver interface {
	GetNickname(peerID string) (string, error)
}

// FileSharer is the slice of C4 send_group_file needs.
type FileSharer interface {
	ShareFile(ctx context.Context, path string) (string, error)
	GetFileInfo(shareCode string) (*filesharing.FileInfo, error)
}

type joinedTopic struct {
	topic  Topic
	cancel context.CancelFunc
}

// Manager is the concrete C6 implementation.
type Manager struct {
	store       *store.Store
	ps          PubSub
	files       FileSharer
	peers       PeerResolver
	localPeerID string
	bus         *events.Bus

	mu     sync.Mutex
	joined map[string]*joinedTopic
}

// New builds a group manager. localPeerID is compared against each
// inbound publication's source to suppress self-authored posts.
func New(st *store.Store, ps PubSub, files FileSharer, peers PeerResolver, localPeerID string, bus *events.Bus) *Manager {
	return &Manager{
		store:       st,
		ps:          ps,
		files:       files,
		peers:       peers,
		localPeerID: localPeerID,
		bus:         bus,
		joined:      make(map[string]*joinedTopic),
	}
}

// JoinGroup joins the pub-sub topic named name and starts its inbound
// read loop. Joining a group already joined is a no-op.
func (m *Manager) JoinGroup(ctx context.Context, name string) error {
	m.mu.Lock()
	if _, ok := m.joined[name]; ok {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	topic, err := m.ps.Join(name)
	if err != nil {
		return merr.Network("group.JoinGroup", err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		topic.Close()
		return merr.Network("group.JoinGroup", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.joined[name] = &joinedTopic{topic: topic, cancel: cancel}
	m.mu.Unlock()

	if err := m.store.UpsertGroup(store.Group{GroupID: name, Name: name, Joined: true}); err != nil {
		return err
	}

	go m.readLoop(loopCtx, name, sub)

	m.publish(events.GroupJoined{Group: name})
	return nil
}

// LeaveGroup unsubscribes from name, failing with GroupNotFound if not
// currently joined.
func (m *Manager) LeaveGroup(name string) error {
	m.mu.Lock()
	jt, ok := m.joined[name]
	if ok {
		delete(m.joined, name)
	}
	m.mu.Unlock()

	if !ok {
		return merr.NotFound("group.LeaveGroup", merr.ErrGroupNotFound)
	}

	jt.cancel()
	jt.topic.Close()

	g, ok, err := m.store.GetGroup(name)
	if err != nil {
		return err
	}
	if ok {
		g.Joined = false
		if err := m.store.UpsertGroup(*g); err != nil {
			return err
		}
	}

	m.publish(events.GroupLeft{Group: name})
	return nil
}

// SendGroupMessage publishes a plain-text post to the named group's
// topic, persists it as a Group-typed stored message and touches the
// group's conversation row. The group must already be joined.
func (m *Manager) SendGroupMessage(ctx context.Context, name, text, localNickname string) error {
	topic, err := m.topicFor(name)
	if err != nil {
		return err
	}
	data, err := encode(Message{FromNickname: localNickname, Text: text})
	if err != nil {
		return merr.Invalid("group.SendGroupMessage", err)
	}
	if err := topic.Publish(ctx, data); err != nil {
		return merr.Network("group.SendGroupMessage", err)
	}
	m.persistOutbound(name, text)
	return nil
}

// SendGroupFile shares path via C4, publishes a file-share
// announcement to the named group's topic, and persists the
// announcement the same way SendGroupMessage does.
func (m *Manager) SendGroupFile(ctx context.Context, name, path, localNickname string) error {
	topic, err := m.topicFor(name)
	if err != nil {
		return err
	}

	shareCode, err := m.files.ShareFile(ctx, path)
	if err != nil {
		return err
	}
	info, err := m.files.GetFileInfo(shareCode)
	if err != nil {
		return err
	}

	data, err := encode(Message{
		FromNickname: localNickname,
		HasFileShare: true,
		ShareCode:    shareCode,
		Filename:     info.FileName,
		FileSize:     info.SizeBytes,
		FileType:     fileType(info.FileName),
	})
	if err != nil {
		return merr.Invalid("group.SendGroupFile", err)
	}
	if err := topic.Publish(ctx, data); err != nil {
		return merr.Network("group.SendGroupFile", err)
	}
	m.persistOutbound(name, "shared file: "+info.FileName)
	return nil
}

// persistOutbound records a message this node published to a group as
// a Group-typed stored message and touches the group's conversation
// row, mirroring the direct-message path in internal/engine/direct.go.
func (m *Manager) persistOutbound(groupName, body string) {
	_ = m.store.PutMessage(store.Message{
		MessageID:      uuid.NewString(),
		ConversationID: groupName,
		IsGroup:        true,
		FromPeerID:     m.localPeerID,
		Body:           body,
		SentAt:         time.Now().Unix(),
		Status:         store.DeliveryDelivered,
	})
	_ = m.store.TouchConversation(groupName, true, store.SyncStatusDelivered, body)
}

func (m *Manager) topicFor(name string) (Topic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	jt, ok := m.joined[name]
	if !ok {
		return nil, merr.NotFound("group.topicFor", merr.ErrGroupNotFound)
	}
	return jt.topic, nil
}

func (m *Manager) readLoop(ctx context.Context, name string, sub Subscription) {
	defer sub.Cancel()
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if msg.From == m.localPeerID {
			continue
		}
		m.handleInbound(name, msg)
	}
}

func (m *Manager) handleInbound(groupName string, msg IncomingMessage) {
	payload, err := decode(msg.Data)
	if err != nil {
		return
	}

	nickname, err := m.peers.GetNickname(msg.From)
	if err != nil {
		nickname = payload.FromNickname
	}

	if payload.HasFileShare {
		m.persistInbound(groupName, msg.From, "shared file: "+payload.Filename)
		m.publish(events.GroupFileShareMessage{
			From:         msg.From,
			FromNickname: nickname,
			Group:        groupName,
			ShareCode:    payload.ShareCode,
			Filename:     payload.Filename,
			FileSize:     payload.FileSize,
			FileType:     payload.FileType,
			Message:      payload.Text,
		})
		return
	}

	m.persistInbound(groupName, msg.From, payload.Text)
	m.publish(events.GroupMessage{
		From:         msg.From,
		FromNickname: nickname,
		Group:        groupName,
		Message:      payload.Text,
	})
}

// persistInbound writes a received group post to C3, touches the
// group's conversation and bumps its unread count, before the caller
// emits the corresponding event — the group-chat counterpart of
// internal/engine/direct.go's persistInbound.
func (m *Manager) persistInbound(groupName, fromPeerID, body string) {
	_ = m.store.PutMessage(store.Message{
		MessageID:      uuid.NewString(),
		ConversationID: groupName,
		IsGroup:        true,
		FromPeerID:     fromPeerID,
		Body:           body,
		SentAt:         time.Now().Unix(),
		Status:         store.DeliveryDelivered,
	})
	_ = m.store.TouchConversation(groupName, true, store.SyncStatusDelivered, body)
	_ = m.store.IncrementUnread(groupName, true)
}

func (m *Manager) publish(ev events.Event) {
	if m.bus != nil {
		m.bus.Publish(ev)
	}
}

func fileType(filename string) string {
	ext := strings.TrimPrefix(filepath.Ext(filename), ".")
	if ext == "" {
		return "unknown"
	}
	return strings.ToLower(ext)
}
