package repo

import (
	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/shinyes/docsync/docid"
	"github.com/shinyes/docsync/network"
	"github.com/shinyes/docsync/storage"
	"github.com/shinyes/docsync/synchronizer"
)

// Options configures a Repo. Network is the only required field; everything
// else has a workable default, mirroring the teacher's NewEngine(database,
// config) constructor shape but collapsed into a single struct since a Repo
// has no analogue to the teacher's separately-opened *db.DB.
type Options struct {
	// PeerId identifies this repo to the rest of the network. Defaults to a
	// freshly generated xid if empty.
	PeerId docid.PeerId

	// Network is the transport every DocSynchronizer sends over. Required.
	Network network.Adapter

	// Storage persists documents across restarts. Nil means memory-only:
	// a created document starts ready, and every document found by id
	// starts and stays in requesting state until a peer supplies it, per
	// spec §4.1's hasStorage branch.
	Storage *storage.Coordinator

	// SharePolicy gates which peers learn about which documents. Defaults
	// to synchronizer.AlwaysShare.
	SharePolicy synchronizer.SharePolicy

	// Log is used as-is, same as every other constructor in this module;
	// pass zerolog.Nop() for silence.
	Log zerolog.Logger
}

func (o *Options) setDefaults() {
	if o.PeerId == "" {
		o.PeerId = docid.PeerId(xid.New().String())
	}
	if o.SharePolicy == nil {
		o.SharePolicy = synchronizer.AlwaysShare
	}
}
