// Command meshlinkd is C14: a small process that loads configuration,
// unlocks or creates the local account, starts the engine, and offers
// a line-oriented REPL for manually exercising direct messages, group
// chat and file transfer, the same role the teacher's
// cmd/networkcore/main.go plays for the dual transport/validator node
// but over one LAN-local libp2p host instead.
package main

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/meshlink/meshlink/internal/auth"
	"github.com/meshlink/meshlink/internal/config"
	"github.com/meshlink/meshlink/internal/engine"
	"github.com/meshlink/meshlink/internal/events"
	"github.com/meshlink/meshlink/internal/store"
)

func main() {
	var (
		nickname   = flag.String("nickname", "", "display name announced to other peers")
		downloadTo = flag.String("download-dir", "./downloads", "directory completed downloads are written to")
		dataDir    = flag.String("data-dir", "./meshlink-data", "directory the local account and message store live in")
		port       = flag.Int("port", 0, "TCP/QUIC listen port (0 picks a free one)")
		autoAccept = flag.Bool("auto-accept-files", false, "automatically download files announced over direct messages")
		password   = flag.String("password", "", "account password (prompted on stdin if empty)")
		seedPhrase = flag.String("seed-phrase", "", "BIP-39 seed phrase for first-run account creation (prompted on stdin if empty)")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[meshlinkd] ", log.LstdFlags)

	if err := os.MkdirAll(*dataDir, 0o700); err != nil {
		logger.Fatalf("create data dir: %v", err)
	}

	st, err := store.Open(*dataDir)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer st.Close()

	identity, accountNickname, err := loadOrCreateIdentity(st, *password, *seedPhrase, *nickname)
	if err != nil {
		logger.Fatalf("account: %v", err)
	}
	if *nickname == "" {
		*nickname = accountNickname
	}

	cfg := config.New(
		config.WithNickname(*nickname),
		config.WithDownloadFolder(*downloadTo),
		config.WithPort(*port),
		config.WithAutoAcceptFiles(*autoAccept),
	)

	eng, err := engine.New(cfg, identity, st)
	if err != nil {
		logger.Fatalf("start engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	stream, unsubscribe := eng.Events(64)
	defer unsubscribe()
	go printEvents(stream)

	go func() {
		if err := eng.Start(ctx); err != nil {
			logger.Printf("engine stopped: %v", err)
		}
	}()

	fmt.Printf("meshlinkd: peer id %s, nickname %q\n", eng.LocalPeerID(), *nickname)
	fmt.Println("commands: share <path> | get <nick> <code> | join <group> | leave <group> | msg <nick> <text> | gmsg <group> <text> | peers | files | quit")

	runREPL(ctx, eng, logger)

	cancel()
	if err := eng.Close(); err != nil {
		logger.Printf("close engine: %v", err)
	}
}

// loadOrCreateIdentity unlocks the existing account under dataDir, or
// creates one on first run. The password is read from stdin when the
// flag is empty so it never lands in shell history or process args.
func loadOrCreateIdentity(st *store.Store, password, seedPhrase, nickname string) (*auth.Identity, string, error) {
	mgr := auth.NewManager(st)

	has, err := mgr.HasAccount()
	if err != nil {
		return nil, "", err
	}
	if password == "" {
		password = readLine("account password: ")
	}

	if !has {
		if seedPhrase == "" {
			seedPhrase = readLine("seed phrase (12-24 words): ")
		}
		info, err := mgr.CreateAccount(seedPhrase, password, nickname)
		if err != nil {
			return nil, "", err
		}
		identity, err := auth.DeriveIdentity(seedPhrase)
		if err != nil {
			return nil, "", err
		}
		return identity, info.Nickname, nil
	}

	result, err := mgr.Login(password)
	if err != nil {
		return nil, "", err
	}
	seed, err := hex.DecodeString(result.PrivateKeyHex)
	if err != nil {
		return nil, "", err
	}
	priv := ed25519.NewKeyFromSeed(seed)
	identity := &auth.Identity{
		PrivateKey: priv,
		PublicKey:  priv.Public().(ed25519.PublicKey),
		PeerID:     result.Account.PeerID,
		GroupID:    result.Account.GroupID,
		EVMAddress: result.Account.EVMAddress,
	}
	return identity, result.Account.Nickname, nil
}

func readLine(prompt string) string {
	fmt.Print(prompt)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Scan()
	return strings.TrimSpace(scanner.Text())
}

func printEvents(stream <-chan events.Event) {
	for ev := range stream {
		switch e := ev.(type) {
		case events.PeerDiscovered:
			fmt.Printf("* discovered %s (%s)\n", e.Nickname, e.PeerID)
		case events.PeerExpired:
			fmt.Printf("* %s went offline\n", e.Nickname)
		case events.Connected:
			fmt.Printf("* connected to %s\n", e.Nickname)
		case events.Disconnected:
			fmt.Printf("* disconnected from %s\n", e.Nickname)
		case events.DirectMessage:
			fmt.Printf("<%s> %s\n", e.FromNickname, e.Message)
		case events.DirectFileShareMessage:
			fmt.Printf("<%s> shared file %q (%s, %d bytes)\n", e.FromNickname, e.Filename, e.ShareCode, e.FileSize)
		case events.GroupMessage:
			fmt.Printf("[%s] <%s> %s\n", e.Group, e.FromNickname, e.Message)
		case events.GroupFileShareMessage:
			fmt.Printf("[%s] <%s> shared file %q (%s)\n", e.Group, e.FromNickname, e.Filename, e.ShareCode)
		case events.GroupJoined:
			fmt.Printf("* joined %s\n", e.Group)
		case events.GroupLeft:
			fmt.Printf("* left %s\n", e.Group)
		case events.FileDownloadStarted:
			fmt.Printf("* downloading %q from %s\n", e.Filename, e.FromNickname)
		case events.FileDownloadCompleted:
			fmt.Printf("* download complete: %s\n", e.FinalPath)
		case events.FileDownloadFailed:
			fmt.Printf("* download failed: %s\n", e.Error)
		case events.ListeningOn:
			fmt.Printf("* listening on %s\n", e.Address)
		case events.ErrorEvent:
			fmt.Printf("! %s\n", e.Message)
		}
	}
}

func runREPL(ctx context.Context, eng *engine.Engine, logger *log.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 3)
		cmd := fields[0]

		reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		switch cmd {
		case "quit", "exit":
			cancel()
			return

		case "share":
			if len(fields) < 2 {
				fmt.Println("usage: share <path>")
				break
			}
			code, err := eng.ShareFile(reqCtx, fields[1])
			if err != nil {
				logger.Printf("share: %v", err)
				break
			}
			fmt.Printf("share code: %s\n", code)

		case "get":
			if len(fields) < 3 {
				fmt.Println("usage: get <nick> <code>")
				break
			}
			if _, err := eng.DownloadFile(reqCtx, fields[1], fields[2]); err != nil {
				logger.Printf("get: %v", err)
			}

		case "join":
			if len(fields) < 2 {
				fmt.Println("usage: join <group>")
				break
			}
			if err := eng.JoinGroup(reqCtx, fields[1]); err != nil {
				logger.Printf("join: %v", err)
			}

		case "leave":
			if len(fields) < 2 {
				fmt.Println("usage: leave <group>")
				break
			}
			if err := eng.LeaveGroup(fields[1]); err != nil {
				logger.Printf("leave: %v", err)
			}

		case "msg":
			if len(fields) < 3 {
				fmt.Println("usage: msg <nick> <text>")
				break
			}
			if err := eng.SendDirectMessage(reqCtx, fields[1], fields[2]); err != nil {
				logger.Printf("msg: %v", err)
			}

		case "gmsg":
			if len(fields) < 3 {
				fmt.Println("usage: gmsg <group> <text>")
				break
			}
			if err := eng.SendGroupMessage(reqCtx, fields[1], fields[2]); err != nil {
				logger.Printf("gmsg: %v", err)
			}

		case "peers":
			for _, p := range eng.ListPeers() {
				fmt.Printf("%s\t%s\n", p.Nickname, p.PeerID)
			}

		case "files":
			files, err := eng.ListSharedFiles()
			if err != nil {
				logger.Printf("files: %v", err)
				break
			}
			for _, f := range files {
				fmt.Printf("%s\t%s\t%d bytes\n", f.ShareCode, f.FileName, f.SizeBytes)
			}

		default:
			fmt.Printf("unknown command %q\n", cmd)
		}
		cancel()
	}
}
