package engine

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"

	"github.com/meshlink/meshlink/internal/auth"
	"github.com/meshlink/meshlink/internal/config"
	"github.com/meshlink/meshlink/internal/discovery"
	"github.com/meshlink/meshlink/internal/download"
	"github.com/meshlink/meshlink/internal/events"
	"github.com/meshlink/meshlink/internal/filesharing"
	"github.com/meshlink/meshlink/internal/group"
	"github.com/meshlink/meshlink/internal/merr"
	"github.com/meshlink/meshlink/internal/peer"
	"github.com/meshlink/meshlink/internal/store"
	syncmgr "github.com/meshlink/meshlink/internal/sync"
	"github.com/meshlink/meshlink/internal/thumbnail"
)

// Engine is the concrete C8: it composes C1/C4/C5/C6/C7/C9/C11 over one
// libp2p host and exposes the public client API spec §4.8 names,
// generalizing the teacher's NetworkEngine (pkg/network/engine.go) from
// a dual transport/metadata-node DHT pair down to a single LAN-local
// host with no routing overlay.
type Engine struct {
	cfg      *config.Config
	identity *auth.Identity
	store    *store.Store
	bus      *events.Bus
	logger   *log.Logger

	host host.Host
	ps   *pubsub.PubSub

	discoveryMgr *discovery.Manager
	peers        *peer.Manager
	files        *filesharing.Manager
	downloads    *download.Manager
	groups       *group.Manager
	syncMgr      *syncmgr.Manager
	thumbs       *thumbnail.Generator

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an Engine for the given config, seed-derived identity and
// already-open store. It constructs the libp2p host, which listens as
// soon as it is built, and every sub-manager, but does not run any
// background loops; call Start for that.
func New(cfg *config.Config, identity *auth.Identity, st *store.Store) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	priv, err := hostIdentity(identity)
	if err != nil {
		return nil, merr.Auth("engine.New", err)
	}
	h, err := buildHost(priv, cfg.Port)
	if err != nil {
		return nil, merr.Network("engine.New", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ps, err := buildPubSub(ctx, h)
	if err != nil {
		cancel()
		h.Close()
		return nil, merr.Network("engine.New", err)
	}

	e := &Engine{
		cfg:      cfg,
		identity: identity,
		store:    st,
		bus:      events.NewBus(),
		logger:   log.New(os.Stderr, "[engine] ", log.LstdFlags),
		host:     h,
		ps:       ps,
		ctx:      ctx,
		cancel:   cancel,
		thumbs:   thumbnail.New(filepath.Join(cfg.DownloadFolder, "thumbnails")),
	}

	e.peers = peer.New(&hostDialer{h: h}, e.bus)
	notifyConnections(h, e.peers)

	e.files = filesharing.New(st, filesharing.NewFSChunkReader())
	e.downloads = download.New(cfg.DownloadFolder, cfg.MaxConcurrentDownloads, &fileClient{eng: e}, e.bus,
		download.WithThumbnailHook(e.onDownloadCompleted))
	e.groups = group.New(st, newPubSubAdapter(ps), e.files, e.peers, e.LocalPeerID(), e.bus)
	e.syncMgr = syncmgr.New(st, e.resendQueued,
		syncmgr.WithMaxBatchSize(cfg.MaxBatchSize),
		syncmgr.WithMaxRetries(cfg.MaxRetryAttempts),
		syncmgr.WithRetryInterval(cfg.RetryInterval),
		syncmgr.WithCleanupInterval(cfg.CleanupInterval),
	)

	discCfg := discovery.Config{
		Nickname:         cfg.Nickname,
		TTL:              cfg.TTL,
		QueryInterval:    cfg.QueryInterval,
		AnnounceInterval: cfg.AnnounceInterval,
		CleanupInterval:  cfg.CleanupIntervalDiscover,
	}
	sink := &discoverySink{ctx: ctx, peers: e.peers, eng: e}
	discMgr, err := discovery.NewManager(discCfg, e.LocalPeerID(), addrStrings(h), sink)
	if err != nil {
		cancel()
		h.Close()
		return nil, err
	}
	e.discoveryMgr = discMgr

	e.registerDirectHandler()
	e.registerFileHandler()

	return e, nil
}

// Start publishes a ListeningOn event per host address and launches
// every background loop (discovery per-interface tasks, the sync
// retry/cleanup loops). It then blocks until ctx is cancelled or Close
// is called.
func (e *Engine) Start(ctx context.Context) error {
	for _, a := range e.host.Addrs() {
		e.publish(events.ListeningOn{Address: a.String() + "/p2p/" + e.LocalPeerID()})
	}

	e.wg.Add(3)
	go func() { defer e.wg.Done(); _ = e.discoveryMgr.Run(e.ctx) }()
	go func() { defer e.wg.Done(); e.syncMgr.RunRetryLoop(e.ctx) }()
	go func() { defer e.wg.Done(); e.syncMgr.RunCleanupLoop(e.ctx) }()

	select {
	case <-ctx.Done():
	case <-e.ctx.Done():
	}
	return nil
}

// Close aborts every interface task, closes every event subscriber
// channel and closes the host, per spec §5's cancellation semantics.
func (e *Engine) Close() error {
	e.cancel()
	e.wg.Wait()
	e.bus.Close()
	return e.host.Close()
}

// Events subscribes a new consumer to the event stream.
func (e *Engine) Events(buffer int) (<-chan events.Event, func()) {
	return e.bus.Subscribe(buffer)
}

func (e *Engine) publish(ev events.Event) { e.bus.Publish(ev) }

// LocalPeerID returns the libp2p-native, base58-encoded peer id this
// engine dials and is dialed on — distinct in text form from
// auth.Identity.PeerID (see DESIGN.md) but derived from the same
// Ed25519 keypair.
func (e *Engine) LocalPeerID() string { return e.host.ID().String() }

func addrStrings(h host.Host) []string {
	out := make([]string, 0, len(h.Addrs()))
	for _, a := range h.Addrs() {
		out = append(out, a.String())
	}
	return out
}

// onDownloadCompleted is the ThumbnailHook download.Manager invokes on
// a completed image download, handing off to C11.
func (e *Engine) onDownloadCompleted(path string) {
	if !thumbnail.IsImage(path) {
		return
	}
	thumbPath, err := e.thumbs.Generate(path)
	if err != nil {
		e.logger.Printf("thumbnail generation failed for %s: %v", path, err)
		return
	}
	if err := e.store.PutThumbnail(store.ThumbnailEntry{FilePath: path, ThumbPath: thumbPath, CreatedAt: time.Now().Unix()}); err != nil {
		e.logger.Printf("thumbnail persist failed for %s: %v", path, err)
	}
}
