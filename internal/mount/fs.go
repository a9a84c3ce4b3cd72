// Package mount exposes a Snapshot's cumulativeVersions as a read-only
// FUSE filesystem rooted at a mount point: a directory tree built once
// at mount time, with per-open byte streaming cached through
// SeekableCache so re-reads don't re-chunk the underlying version data.
package mount

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"versionstore/internal/history"
	"versionstore/internal/logging"
	"versionstore/internal/reverr"
)

const defaultFileMode = 0o644

// dirNode is a synthetic directory: its children are populated once, at
// mount time, from the snapshot's cumulative version paths.
type dirNode struct {
	fs.Inode
}

var (
	_ fs.InodeEmbedder = (*dirNode)(nil)
	_ fs.NodeGetattrer = (*dirNode)(nil)
	_ fs.NodeReaddirer = (*dirNode)(nil)
)

func (d *dirNode) Getattr(_ context.Context, _ fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFDIR | 0o755
	return 0
}

func (d *dirNode) Readdir(_ context.Context) (fs.DirStream, syscall.Errno) {
	children := d.Inode.Children()
	entries := make([]fuse.DirEntry, 0, len(children))
	for name, child := range children {
		entries = append(entries, fuse.DirEntry{Name: name, Mode: child.Mode()})
	}
	return fs.NewListDirStream(entries), 0
}

// fileNode is a leaf backed by a single Version.
type fileNode struct {
	fs.Inode
	version *history.Version
}

var (
	_ fs.InodeEmbedder = (*fileNode)(nil)
	_ fs.NodeGetattrer = (*fileNode)(nil)
	_ fs.NodeOpener    = (*fileNode)(nil)
)

func (f *fileNode) Getattr(_ context.Context, _ fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFREG | uint32(modeFor(f.version))
	out.Size = uint64(f.version.Size())
	mtime := f.version.LastModifiedTime()
	out.SetTimes(&mtime, &mtime, &mtime)
	return 0
}

func modeFor(v *history.Version) uint32 {
	if perms := v.Permissions(); perms != nil {
		return uint32(perms.Mode().Perm())
	}
	return defaultFileMode
}

// Open allocates a per-open SeekableCache over the version's byte
// stream; each open gets its own cache, released on Release.
func (f *fileNode) Open(ctx context.Context, _ uint32) (fs.FileHandle, uint32, syscall.Errno) {
	version := f.version
	cache, err := NewSeekableCache(func() (io.ReadCloser, error) {
		data, err := version.Data(ctx)
		if err != nil {
			return nil, err
		}
		return data.Open()
	})
	if err != nil {
		return nil, 0, syscall.EIO
	}
	return &fileHandle{cache: cache}, fuse.FOPEN_DIRECT_IO, 0
}

type fileHandle struct {
	cache *SeekableCache
}

var (
	_ fs.FileReader   = (*fileHandle)(nil)
	_ fs.FileReleaser = (*fileHandle)(nil)
)

func (h *fileHandle) Read(_ context.Context, dest []byte, offset int64) (fuse.ReadResult, syscall.Errno) {
	n, err := h.cache.ReadAt(dest, offset)
	if err != nil {
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *fileHandle) Release(context.Context) syscall.Errno {
	if err := h.cache.Close(); err != nil {
		return syscall.EIO
	}
	return 0
}

// rootNode builds the static directory tree, once, from the snapshot's
// cumulative versions.
type rootNode struct {
	dirNode
	versions map[string]*history.Version
}

var _ fs.NodeOnAdder = (*rootNode)(nil)

func (r *rootNode) OnAdd(ctx context.Context) {
	for path, v := range r.versions {
		r.addPath(ctx, path, v)
	}
}

func (r *rootNode) addPath(ctx context.Context, path string, v *history.Version) {
	parts := strings.Split(filepath.ToSlash(path), "/")
	cur := &r.Inode
	for _, part := range parts[:len(parts)-1] {
		if part == "" {
			continue
		}
		child := cur.GetChild(part)
		if child == nil {
			child = cur.NewPersistentInode(ctx, &dirNode{}, fs.StableAttr{Mode: syscall.S_IFDIR})
			cur.AddChild(part, child, true)
		}
		cur = child
	}

	name := parts[len(parts)-1]
	if name == "" {
		return
	}
	leaf := cur.NewPersistentInode(ctx, &fileNode{version: v}, fs.StableAttr{Mode: syscall.S_IFREG})
	cur.AddChild(name, leaf, true)
}

// mountedSnapshot tracks one active mount's server so Unmount can tear
// it down.
type mountedSnapshot struct {
	path   string
	server *fuse.Server
}

// SnapshotMounter is a process-wide registry of active snapshot mounts,
// keyed by mount path.
type SnapshotMounter struct {
	logger *slog.Logger

	mu     sync.Mutex
	mounts map[string]*mountedSnapshot
}

// NewSnapshotMounter creates an empty mounter.
func NewSnapshotMounter(logger *slog.Logger) *SnapshotMounter {
	return &SnapshotMounter{
		logger: logging.Default(logger).With("component", "mount"),
		mounts: map[string]*mountedSnapshot{},
	}
}

// Mount exposes snap's cumulative versions as a read-only filesystem at
// path, creating path if needed. Mounting an already-mounted path is a
// no-op.
func (m *SnapshotMounter) Mount(ctx context.Context, snap *history.Snapshot, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.mounts[path]; ok {
		return nil
	}

	if err := os.MkdirAll(path, 0o750); err != nil {
		return reverr.Wrap(reverr.KindIO, "create mount point", err)
	}

	versions, err := snap.CumulativeVersions(ctx)
	if err != nil {
		return err
	}

	root := &rootNode{versions: versions}
	server, err := fs.Mount(path, root, &fs.Options{
		MountOptions: fuse.MountOptions{
			FsName:   "reversion",
			Name:     "reversion",
			ReadOnly: true,
		},
	})
	if err != nil {
		return reverr.Wrap(reverr.KindIO, "mount snapshot filesystem", err)
	}

	m.mounts[path] = &mountedSnapshot{path: path, server: server}
	return nil
}

// Unmount tears down the filesystem at path, if mounted. It is
// best-effort: an OS-level unmount failure is logged, not returned, so
// callers can always forget about a mount point they no longer want to
// track.
func (m *SnapshotMounter) Unmount(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms, ok := m.mounts[path]
	if !ok {
		return
	}
	delete(m.mounts, path)

	if err := ms.server.Unmount(); err != nil {
		m.logger.Warn("unmount failed", "path", path, "error", err)
	}
}

// IsMounted reports whether path currently has an active mount.
func (m *SnapshotMounter) IsMounted(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.mounts[path]
	return ok
}
