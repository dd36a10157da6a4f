package main

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/shinyes/docsync/dochandle"
	"github.com/shinyes/docsync/repo"
)

// app bundles the repo with the REPL's alias bookkeeping: short names
// ("doc1", "doc2", ...) standing in for the document URLs a real client
// would copy-paste between terminals.
type app struct {
	repo *repo.Repo
	log  zerolog.Logger

	mu      sync.Mutex
	aliases map[string]*dochandle.Handle
	order   []string
	next    int
}

func newApp(r *repo.Repo, log zerolog.Logger) *app {
	return &app{
		repo:    r,
		log:     log,
		aliases: make(map[string]*dochandle.Handle),
	}
}

// register assigns h the next alias and returns it.
func (a *app) register(h *dochandle.Handle) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	alias := fmt.Sprintf("doc%d", a.next)
	a.aliases[alias] = h
	a.order = append(a.order, alias)
	return alias
}

func (a *app) lookup(alias string) (*dochandle.Handle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.aliases[alias]
	return h, ok
}

func printBanner(a *app, listen, dataDir string) {
	fmt.Println("docsync repo demo")
	fmt.Printf("peer id:     %s\n", a.repo.PeerId())
	if listen != "" {
		fmt.Printf("listening:   %s/ws\n", listen)
	} else {
		fmt.Println("listening:   (disabled)")
	}
	if dataDir != "" {
		fmt.Printf("data dir:    %s\n", dataDir)
	} else {
		fmt.Println("data dir:    (memory only)")
	}
}

func printHelp() {
	fmt.Println("\nCommands:")
	fmt.Println("  help")
	fmt.Println("  create")
	fmt.Println("  find <url>")
	fmt.Println("  set <alias> <key> <value>")
	fmt.Println("  show <alias>")
	fmt.Println("  list")
	fmt.Println("  stats")
	fmt.Println("  quit")
	fmt.Println("\nQuick start with 2 terminals:")
	fmt.Println("  1) go run ./cmd/repodemo --listen :9001")
	fmt.Println("  2) go run ./cmd/repodemo --listen :9002 --connect ws://127.0.0.1:9001/ws")
	fmt.Println("  on terminal 1: create, then set doc1 title hello")
	fmt.Println("  on terminal 2: find <url printed by create>, then show doc1")
}
