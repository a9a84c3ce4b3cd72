// Package history implements the ordered history model: Timeline (an
// ordered sequence of snapshots with cleanup policies), Snapshot (a
// named set of Versions with a cumulative materialized view across
// earlier snapshots), and Version (one file-content record with
// metadata and an ordered block list). The three types live in one
// package because their lifecycles are too tightly coupled to separate
// without import cycles: a Snapshot's cumulative view walks earlier
// Snapshots of its own Timeline, and a Version's checkout/isChanged
// logic is meaningless outside a Snapshot.
package history

import (
	"log/slog"

	"versionstore/internal/blob"
	"versionstore/internal/blobstore"
	"versionstore/internal/logging"
	"versionstore/internal/store"
)

// Deps bundles the collaborators every history type needs to reach the
// relational store and the blob store. Callers construct exactly one
// per open repository (see internal/repository) and pass it to
// OpenTimeline/NewTimeline.
type Deps struct {
	db      *store.Store
	blobs   *blobstore.Store
	chunker blob.Chunker
	logger  *slog.Logger
}

// NewDeps builds the shared collaborator bundle used by Timeline,
// Snapshot, and Version.
func NewDeps(db *store.Store, blobs *blobstore.Store, chunker blob.Chunker, logger *slog.Logger) *Deps {
	return &Deps{db: db, blobs: blobs, chunker: chunker, logger: logging.Default(logger).With("component", "history")}
}
