package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/meshlink/meshlink/internal/events"
	"github.com/meshlink/meshlink/internal/peer"
	"github.com/meshlink/meshlink/internal/store"
)

// SendDirectMessage resolves nickname to a peer id and delivers text
// over `/direct/1.0.0`. A peer that can't be reached right now is
// queued for C9 to drain once it comes back online, rather than
// failing the call outright.
func (e *Engine) SendDirectMessage(ctx context.Context, nickname, text string) error {
	rec, err := e.peers.GetByNickname(nickname)
	if err != nil {
		return err
	}

	msg := store.Message{
		MessageID:      uuid.NewString(),
		ConversationID: rec.PeerID,
		FromPeerID:     e.LocalPeerID(),
		Body:           text,
		SentAt:         time.Now().Unix(),
		Status:         store.DeliveryPending,
		ExpiresAt:      time.Now().Add(e.cfg.MessageTTL).Unix(),
	}
	if err := e.store.PutMessage(msg); err != nil {
		return err
	}

	_, sendErr := e.sendDirectRequest(ctx, rec.PeerID, DirectRequest{
		Kind: directKindText, Text: text, FromNickname: e.cfg.Nickname, MessageID: msg.MessageID,
	})
	if sendErr == nil {
		msg.Status = store.DeliveryDelivered
		_ = e.store.PutMessage(msg)
		return e.store.TouchConversation(rec.PeerID, false, store.SyncStatusDelivered, text)
	}

	return e.queueForRetry(rec.PeerID, msg.MessageID)
}

// SendDirectFile shares path over C4 then announces it to nickname via
// a FileShare request, queuing the announcement like any other direct
// send if the peer is unreachable.
func (e *Engine) SendDirectFile(ctx context.Context, nickname, path string) (string, error) {
	rec, err := e.peers.GetByNickname(nickname)
	if err != nil {
		return "", err
	}
	shareCode, err := e.files.ShareFile(ctx, path)
	if err != nil {
		return "", err
	}
	info, err := e.files.GetFileInfo(shareCode)
	if err != nil {
		return "", err
	}

	msg := store.Message{
		MessageID:      uuid.NewString(),
		ConversationID: rec.PeerID,
		FromPeerID:     e.LocalPeerID(),
		Body:           "shared file: " + info.FileName,
		SentAt:         time.Now().Unix(),
		Status:         store.DeliveryPending,
		ExpiresAt:      time.Now().Add(e.cfg.MessageTTL).Unix(),
	}
	if err := e.store.PutMessage(msg); err != nil {
		return "", err
	}

	_, sendErr := e.sendDirectRequest(ctx, rec.PeerID, DirectRequest{
		Kind: directKindFileShare, FromNickname: e.cfg.Nickname, MessageID: msg.MessageID,
		ShareCode: shareCode, Filename: info.FileName, FileSize: info.SizeBytes, FileType: fileTypeOf(info.FileName),
	})
	if sendErr == nil {
		msg.Status = store.DeliveryDelivered
		_ = e.store.PutMessage(msg)
		return shareCode, e.store.TouchConversation(rec.PeerID, false, store.SyncStatusDelivered, msg.Body)
	}
	return shareCode, e.queueForRetry(rec.PeerID, msg.MessageID)
}

// queueForRetry records a message as pending delivery in C9's offline
// queue, to be drained by resendQueued the next time the peer is seen.
func (e *Engine) queueForRetry(peerID, messageID string) error {
	return e.store.Enqueue(store.QueuedItem{
		ItemID:    uuid.NewString(),
		PeerID:    peerID,
		MessageID: messageID,
	})
}

// DownloadFile resolves nickname to a peer id and starts a download of
// shareCode from it, returning the download id C10 events reference.
func (e *Engine) DownloadFile(ctx context.Context, nickname, shareCode string) (string, error) {
	rec, err := e.peers.GetByNickname(nickname)
	if err != nil {
		return "", err
	}
	return e.downloads.DownloadFile(ctx, rec.PeerID, nickname, shareCode), nil
}

// ShareFile registers path with C4 and returns its share code.
func (e *Engine) ShareFile(ctx context.Context, path string) (string, error) {
	return e.files.ShareFile(ctx, path)
}

// ShareContentURI registers a non-filesystem resource with C4 by a
// caller-supplied name and size.
func (e *Engine) ShareContentURI(ctx context.Context, uri, name string, size int64) (string, error) {
	return e.files.ShareContentURI(ctx, uri, name, size)
}

// UnshareFile deletes a previously shared file outright: its share
// code may be reused for an unrelated file afterward.
func (e *Engine) UnshareFile(shareCode string) error {
	return e.files.UnshareFile(shareCode)
}

// RevokeFile soft-revokes a previously shared file: downloads of it
// stop succeeding but, unlike UnshareFile, the entry survives and can
// be reinstated by re-sharing the same canonical source.
func (e *Engine) RevokeFile(shareCode string) error {
	if err := e.files.RevokeFile(shareCode); err != nil {
		return err
	}
	e.publish(events.FileRevoked{FileID: shareCode})
	return nil
}

// JoinGroup joins the named group's pub-sub topic.
func (e *Engine) JoinGroup(ctx context.Context, name string) error {
	return e.groups.JoinGroup(ctx, name)
}

// LeaveGroup leaves the named group.
func (e *Engine) LeaveGroup(name string) error {
	return e.groups.LeaveGroup(name)
}

// SendGroupMessage posts text to a joined group.
func (e *Engine) SendGroupMessage(ctx context.Context, group, text string) error {
	return e.groups.SendGroupMessage(ctx, group, text, e.cfg.Nickname)
}

// SendGroupFile shares path and announces it to a joined group.
func (e *Engine) SendGroupFile(ctx context.Context, group, path string) error {
	return e.groups.SendGroupFile(ctx, group, path, e.cfg.Nickname)
}

// ListPeers returns every peer currently tracked by C7.
func (e *Engine) ListPeers() []peer.Record {
	return e.peers.ListPeers()
}

// ListSharedFiles returns every file currently registered with C4.
func (e *Engine) ListSharedFiles() ([]store.SharedFile, error) {
	return e.files.ListSharedFiles()
}

// ListConversations returns every known conversation, direct or group,
// ordered most-recently-active first.
func (e *Engine) ListConversations() ([]store.Conversation, error) {
	return e.store.ListConversations()
}

// MarkConversationRead resets a conversation's unread counter to zero.
func (e *Engine) MarkConversationRead(conversationID string) error {
	return e.store.MarkAsRead(conversationID)
}
