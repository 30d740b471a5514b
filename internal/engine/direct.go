package engine

import (
	"context"
	"time"

	libp2pnetwork "github.com/libp2p/go-libp2p/core/network"
	libp2ppeer "github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/google/uuid"

	"github.com/meshlink/meshlink/internal/events"
	"github.com/meshlink/meshlink/internal/merr"
	"github.com/meshlink/meshlink/internal/store"
	"github.com/meshlink/meshlink/internal/sync"
)

const (
	directProtocol  = protocol.ID("/direct/1.0.0")
	requestDeadline = 30 * time.Second // spec §5, "per-request deadline (default 30s)"
)

// registerDirectHandler installs the `/direct/1.0.0` stream handler,
// the same read-request/write-response shape as the teacher's
// handleChunkStream, generalized to a typed CBOR request/response pair
// instead of a bare hash.
func (e *Engine) registerDirectHandler() {
	e.host.SetStreamHandler(directProtocol, e.handleDirectStream)
}

func (e *Engine) handleDirectStream(stream libp2pnetwork.Stream) {
	defer stream.Close()
	_ = stream.SetDeadline(time.Now().Add(requestDeadline))

	data, err := readFrame(stream)
	if err != nil {
		return
	}
	req, err := decodeDirectRequest(data)
	if err != nil {
		return
	}

	from := stream.Conn().RemotePeer().String()
	resp := e.handleDirectRequest(from, req)

	out, err := encodeDirectResponse(resp)
	if err != nil {
		return
	}
	_ = writeFrame(stream, out)
}

// handleDirectRequest dispatches one inbound request by kind,
// persisting before emitting, per spec §4.8 ("successful side effects
// occur before the event is emitted"). Unroutable kinds are still
// acknowledged with Error, never left unanswered.
func (e *Engine) handleDirectRequest(from string, req DirectRequest) DirectResponse {
	nickname, _ := e.peers.GetNickname(from)
	if req.FromNickname != "" && nickname == "" {
		nickname = req.FromNickname
	}

	switch req.Kind {
	case directKindText:
		e.persistInbound(from, req.Text, false)
		e.publish(events.DirectMessage{From: from, FromNickname: nickname, Message: req.Text})
		return DirectResponse{Ok: true}

	case directKindFileShare:
		e.publish(events.DirectFileShareMessage{
			From: from, FromNickname: nickname,
			ShareCode: req.ShareCode, Filename: req.Filename,
			FileSize: req.FileSize, FileType: req.FileType,
		})
		if e.cfg.AutoAcceptFiles {
			e.downloads.DownloadFile(e.ctx, from, nickname, req.ShareCode)
		}
		return DirectResponse{Ok: true}

	case directKindShareGroup:
		e.publish(events.DirectGroupShareMessage{
			From: from, FromNickname: nickname,
			GroupID: req.GroupID, GroupName: req.GroupName,
		})
		return DirectResponse{Ok: true}

	case directKindAck:
		ackType := sync.AckDelivered
		if req.AckKind == "read" {
			ackType = sync.AckRead
		}
		if err := e.syncMgr.OnMessageAcknowledged(req.MessageID, ackType); err != nil {
			return DirectResponse{Error: err.Error()}
		}
		return DirectResponse{Ok: true}

	default:
		return DirectResponse{Error: "unknown request kind"}
	}
}

// persistInbound writes a received direct message to C3, touches its
// conversation and bumps its unread count, before the caller emits the
// corresponding event.
func (e *Engine) persistInbound(from, body string, isGroup bool) {
	_ = e.store.PutMessage(store.Message{
		MessageID:      uuid.NewString(),
		ConversationID: from,
		IsGroup:        isGroup,
		FromPeerID:     from,
		Body:           body,
		SentAt:         time.Now().Unix(),
		Status:         store.DeliveryDelivered,
		ExpiresAt:      time.Now().Add(e.cfg.MessageTTL).Unix(),
	})
	_ = e.store.TouchConversation(from, isGroup, store.SyncStatusDelivered, body)
	_ = e.store.IncrementUnread(from, isGroup)
}

// sendDirectRequest opens a fresh stream to peerID, writes one framed
// DirectRequest and reads back the single DirectResponse, the client
// half of the teacher's Download/handleChunkStream pair generalized to
// a typed request/response.
func (e *Engine) sendDirectRequest(ctx context.Context, peerID string, req DirectRequest) (DirectResponse, error) {
	pid, err := libp2ppeer.Decode(peerID)
	if err != nil {
		return DirectResponse{}, merr.Invalid("engine.sendDirectRequest", err)
	}
	ctx, cancel := context.WithTimeout(ctx, requestDeadline)
	defer cancel()

	stream, err := e.host.NewStream(ctx, pid, directProtocol)
	if err != nil {
		return DirectResponse{}, merr.Network("engine.sendDirectRequest", err)
	}
	defer stream.Close()

	data, err := encodeDirectRequest(req)
	if err != nil {
		return DirectResponse{}, merr.Invalid("engine.sendDirectRequest", err)
	}
	if err := writeFrame(stream, data); err != nil {
		return DirectResponse{}, merr.Network("engine.sendDirectRequest", err)
	}

	respData, err := readFrame(stream)
	if err != nil {
		return DirectResponse{}, merr.Network("engine.sendDirectRequest", err)
	}
	resp, err := decodeDirectResponse(respData)
	if err != nil {
		return DirectResponse{}, merr.Network("engine.sendDirectRequest", err)
	}
	if !resp.Ok {
		return resp, merr.Network("engine.sendDirectRequest", merr.ErrTimeout)
	}
	return resp, nil
}

// resendQueued is the sync.Sender C9 calls to re-attempt a previously
// queued message: it loads the message body back out of C3 and
// replays it as a Text request.
func (e *Engine) resendQueued(ctx context.Context, peerID, messageID string) error {
	msg, ok, err := e.store.GetMessage(messageID)
	if err != nil {
		return err
	}
	if !ok {
		return merr.NotFound("engine.resendQueued", merr.ErrFileNotFound)
	}
	_, err = e.sendDirectRequest(ctx, peerID, DirectRequest{
		Kind: directKindText, Text: msg.Body, FromNickname: e.cfg.Nickname,
	})
	return err
}
