package engine

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	libp2pnetwork "github.com/libp2p/go-libp2p/core/network"
	libp2ppeer "github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/meshlink/meshlink/internal/download"
	"github.com/meshlink/meshlink/internal/filesharing"
	"github.com/meshlink/meshlink/internal/merr"
)

const fileProtocol = protocol.ID("/file/1.0.0")

// registerFileHandler installs the `/file/1.0.0` stream handler
// answering GetFileInfo/GetChunk/ListFiles requests against C4's
// registry, structurally the server half of the teacher's
// handleChunkStream.
func (e *Engine) registerFileHandler() {
	e.host.SetStreamHandler(fileProtocol, e.handleFileStream)
}

func (e *Engine) handleFileStream(stream libp2pnetwork.Stream) {
	defer stream.Close()
	_ = stream.SetDeadline(time.Now().Add(requestDeadline))

	data, err := readFrame(stream)
	if err != nil {
		return
	}
	req, err := decodeFileRequest(data)
	if err != nil {
		return
	}

	resp := e.handleFileRequest(context.Background(), req)
	out, err := encodeFileResponse(resp)
	if err != nil {
		return
	}
	_ = writeFrame(stream, out)
}

func (e *Engine) handleFileRequest(ctx context.Context, req FileRequest) FileResponse {
	switch req.Kind {
	case fileKindGetInfo:
		info, err := e.files.GetFileInfo(req.ShareCode)
		if err != nil {
			return FileResponse{Error: err.Error()}
		}
		return FileResponse{Ok: true, FileInfo: toWireFileInfo(*info)}

	case fileKindGetChunk:
		chunk, err := e.files.GetChunk(ctx, req.ShareCode, req.ChunkIndex)
		if err != nil {
			return FileResponse{Error: err.Error()}
		}
		return FileResponse{Ok: true, Chunk: &WireChunk{ChunkIndex: chunk.ChunkIndex, Data: chunk.Data, Hash: chunk.Hash}}

	case fileKindListFiles:
		files, err := e.files.ListFiles()
		if err != nil {
			return FileResponse{Error: err.Error()}
		}
		out := make([]WireFileInfo, 0, len(files))
		for _, f := range files {
			out = append(out, WireFileInfo{
				ShareCode: f.ShareCode, FileName: f.FileName, SizeBytes: f.SizeBytes,
				ChunkSize: f.ChunkSize, ChunkCount: f.ChunkCount, ContentHash: f.ContentHash,
			})
		}
		return FileResponse{Ok: true, Files: out}

	default:
		return FileResponse{Error: "unknown request kind"}
	}
}

func toWireFileInfo(info filesharing.FileInfo) *WireFileInfo {
	return &WireFileInfo{
		ShareCode: info.ShareCode, FileName: info.FileName, SizeBytes: info.SizeBytes,
		ChunkSize: info.ChunkSize, ChunkCount: info.ChunkCount, ContentHash: info.ContentHash,
	}
}

// fileClient implements download.FileClient over `/file/1.0.0`, the
// client half of the teacher's TransferManager.Download.
type fileClient struct {
	eng *Engine
}

func (c *fileClient) GetFileInfo(ctx context.Context, peerID, shareCode string) (*download.RemoteFileInfo, error) {
	resp, err := c.eng.sendFileRequest(ctx, peerID, FileRequest{Kind: fileKindGetInfo, ShareCode: shareCode})
	if err != nil {
		return nil, err
	}
	if !resp.Ok || resp.FileInfo == nil {
		return nil, merr.NotFound("engine.GetFileInfo", merr.ErrInvalidShareCode)
	}
	return &download.RemoteFileInfo{
		Filename:    resp.FileInfo.FileName,
		TotalChunks: resp.FileInfo.ChunkCount,
		FileType:    fileTypeOf(resp.FileInfo.FileName),
	}, nil
}

func (c *fileClient) GetChunk(ctx context.Context, peerID, shareCode string, index int) (*download.RemoteChunk, error) {
	resp, err := c.eng.sendFileRequest(ctx, peerID, FileRequest{Kind: fileKindGetChunk, ShareCode: shareCode, ChunkIndex: index})
	if err != nil {
		return nil, err
	}
	if !resp.Ok || resp.Chunk == nil {
		return nil, merr.NotFound("engine.GetChunk", merr.ErrInvalidShareCode)
	}
	return &download.RemoteChunk{Data: resp.Chunk.Data, Hash: resp.Chunk.Hash}, nil
}

func (e *Engine) sendFileRequest(ctx context.Context, peerID string, req FileRequest) (FileResponse, error) {
	pid, err := libp2ppeer.Decode(peerID)
	if err != nil {
		return FileResponse{}, merr.Invalid("engine.sendFileRequest", err)
	}
	ctx, cancel := context.WithTimeout(ctx, requestDeadline)
	defer cancel()

	stream, err := e.host.NewStream(ctx, pid, fileProtocol)
	if err != nil {
		return FileResponse{}, merr.Network("engine.sendFileRequest", err)
	}
	defer stream.Close()

	data, err := encodeFileRequest(req)
	if err != nil {
		return FileResponse{}, merr.Invalid("engine.sendFileRequest", err)
	}
	if err := writeFrame(stream, data); err != nil {
		return FileResponse{}, merr.Network("engine.sendFileRequest", err)
	}

	respData, err := readFrame(stream)
	if err != nil {
		return FileResponse{}, merr.Network("engine.sendFileRequest", err)
	}
	resp, err := decodeFileResponse(respData)
	if err != nil {
		return FileResponse{}, merr.Network("engine.sendFileRequest", err)
	}
	if !resp.Ok {
		return resp, merr.NotFound("engine.sendFileRequest", merr.ErrInvalidShareCode)
	}
	return resp, nil
}

func fileTypeOf(filename string) string {
	ext := strings.TrimPrefix(filepath.Ext(filename), ".")
	if ext == "" {
		return "unknown"
	}
	return strings.ToLower(ext)
}
