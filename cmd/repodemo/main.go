// Command repodemo is an interactive driver over the repo package: create
// or find a document, connect to another instance over a WebSocket, edit
// fields, and watch the two converge. Grounded on the teacher's
// cmd/demo/main.go (flag-parsed app struct, bufio.Scanner REPL,
// printBanner/printHelp/handleCommand split), with the teacher's flag
// parsing replaced by urfave/cli/v2 per the ambient CLI-framework stack.
package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/shinyes/docsync/docid"
	"github.com/shinyes/docsync/network"
	"github.com/shinyes/docsync/repo"
	"github.com/shinyes/docsync/storage"
)

func main() {
	app := &cli.App{
		Name:  "repodemo",
		Usage: "manual two-terminal demo of document creation, sync, and persistence",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "peer-id", Usage: "this instance's PeerId (default: a fresh xid)"},
			&cli.StringFlag{Name: "listen", Value: ":9001", Usage: "address to accept inbound WebSocket connections on, empty to disable"},
			&cli.StringFlag{Name: "connect", Usage: "ws:// URL of a peer to dial on startup, e.g. ws://127.0.0.1:9001/ws"},
			&cli.StringFlag{Name: "data", Usage: "badger data directory; empty means memory-only storage"},
			&cli.BoolFlag{Name: "reset", Usage: "remove the data directory before starting"},
			&cli.BoolFlag{Name: "debug", Usage: "enable debug-level logging to stderr"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	log := newLogger(c.Bool("debug"))

	peerID := docid.PeerId(c.String("peer-id"))

	dataDir := c.String("data")
	if c.Bool("reset") && dataDir != "" {
		if err := os.RemoveAll(dataDir); err != nil {
			return err
		}
	}

	coord, err := openStorage(dataDir, log)
	if err != nil {
		return err
	}

	if peerID == "" {
		peerID = docid.PeerId(xid.New().String())
	}

	adapter := network.NewWSAdapter(peerID, log)
	go adapter.Run()

	listen := c.String("listen")
	var server *http.Server
	if listen != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", adapter.ServeHTTP)
		server = &http.Server{Addr: listen, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("websocket listener exited")
			}
		}()
		defer server.Close()
	}

	if connect := c.String("connect"); connect != "" {
		if err := adapter.Dial(connect); err != nil {
			return fmt.Errorf("dial %s: %w", connect, err)
		}
	}

	r := repo.New(repo.Options{
		PeerId:  peerID,
		Network: adapter,
		Storage: coord,
		Log:     log,
	})
	defer r.Close()

	application := newApp(r, log)
	printBanner(application, listen, dataDir)
	printHelp()

	return runREPL(application)
}

func openStorage(dataDir string, log zerolog.Logger) (*storage.Coordinator, error) {
	if dataDir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	kv, err := storage.OpenBadgerAdapter(filepath.Join(dataDir, "kv"))
	if err != nil {
		return nil, err
	}
	blobs, err := storage.NewDiskBlobStore(filepath.Join(dataDir, "blobs"), log)
	if err != nil {
		return nil, err
	}
	return storage.NewCoordinator(kv, blobs, log), nil
}

func newLogger(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
}
