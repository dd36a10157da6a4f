package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shinyes/docsync/crdt"
	"github.com/shinyes/docsync/dochandle"
)

func runREPL(a *app) error {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		quit, err := handleCommand(a, line)
		if err != nil {
			fmt.Printf("error: %v\n", err)
		}
		if quit {
			break
		}
	}
	return scanner.Err()
}

func handleCommand(a *app, line string) (bool, error) {
	parts := strings.Fields(line)
	cmd := strings.ToLower(parts[0])

	switch cmd {
	case "help":
		printHelp()
		return false, nil

	case "create":
		h := a.repo.Create()
		alias := a.register(h)
		fmt.Printf("%s created: %s\n", alias, h.DocumentId.URL())
		return false, nil

	case "find":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: find <url>")
		}
		h, err := a.repo.Find(parts[1])
		if err != nil {
			return false, err
		}
		alias := a.register(h)
		fmt.Printf("%s -> %s (state: %s)\n", alias, parts[1], h.State())
		return false, nil

	case "set":
		if len(parts) < 4 {
			return false, fmt.Errorf("usage: set <alias> <key> <value>")
		}
		h, ok := a.lookup(parts[1])
		if !ok {
			return false, fmt.Errorf("unknown alias: %s", parts[1])
		}
		key := parts[2]
		value := strings.Join(parts[3:], " ")
		setField(a, h, key, value)
		fmt.Println("ok")
		return false, nil

	case "show":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: show <alias>")
		}
		h, ok := a.lookup(parts[1])
		if !ok {
			return false, fmt.Errorf("unknown alias: %s", parts[1])
		}
		printDoc(parts[1], h)
		return false, nil

	case "list":
		listAliases(a)
		return false, nil

	case "stats":
		printStats(a)
		return false, nil

	case "quit", "exit":
		return true, nil

	default:
		return false, fmt.Errorf("unknown command: %s", cmd)
	}
}

// setField installs key as an LWW register if it doesn't already exist,
// then writes value to it. Every field the demo sets is a plain register;
// the CRDT layer underneath also supports counters and sets, but the demo
// only needs to show convergence on a single scalar.
func setField(a *app, h *dochandle.Handle, key, value string) {
	h.Update(func(d *crdt.CrdtDoc) *crdt.CrdtDoc {
		if d.Get(key) == nil {
			d.InitField(key, crdt.TypeRegister)
		}
		d.SetField(key, crdt.LWWOp{
			OriginID: string(a.repo.PeerId()),
			Value:    value,
			Ts:       time.Now().UnixNano(),
		})
		return d
	})
}

func printDoc(alias string, h *dochandle.Handle) {
	doc, ok := h.DocNow()
	if !ok || doc == nil {
		fmt.Printf("%s: %s (no document yet)\n", alias, h.State())
		return
	}
	fmt.Printf("%s (%s):\n", alias, h.State())
	for _, k := range doc.Keys() {
		fmt.Printf("  %s: %v\n", k, doc.Value()[k])
	}
}

func listAliases(a *app) {
	a.mu.Lock()
	order := append([]string(nil), a.order...)
	a.mu.Unlock()

	if len(order) == 0 {
		fmt.Println("(no documents yet)")
		return
	}
	for _, alias := range order {
		h, ok := a.lookup(alias)
		if !ok {
			continue
		}
		fmt.Printf("  %s  %s  %s\n", alias, h.State(), h.DocumentId.URL())
	}
}

func printStats(a *app) {
	stats := a.repo.Stats()
	fmt.Printf("documents: created=%d found=%d deleted=%d cached=%d\n",
		stats.DocumentsCreated, stats.DocumentsFound, stats.DocumentsDeleted, stats.CachedDocuments)
	fmt.Printf("peers:     connected=%d disconnected=%d\n",
		stats.PeersConnected, stats.PeersDisconnected)
	fmt.Printf("messages:  received=%d  storage errors=%d  work queue depth=%d\n",
		stats.MessagesReceived, stats.StorageErrors, stats.WorkQueueDepth)
}
