// Package fnode implements the reference-counted file descriptor carried
// through a transfer (§3 "File node (fnode)").
//
// The original client trusted a raw integer refcount to line up with
// acquire/free call sites scattered across driver code; §9's open question
// flags the resulting double-free-by-design at extract EOF as fragile. This
// package keeps the same shape (one fnode, many holders) but makes every
// holder's Ref/Release an explicit, individually accounted-for call so a
// leak or double-release is a programming error in the driver, not a count
// that happens to work out.
package fnode

import (
	"os"
	"sync"
	"time"
)

// Type is the fnode's file type.
type Type int

// File types the engine synthesizes or carries.
const (
	TypeRegular Type = iota
	TypeDirectory
)

// Node is a reference-counted descriptor of a file being transferred.
type Node struct {
	Name     string
	FullPath string
	Mode     os.FileMode
	UID, GID int
	ATime    time.Time
	MTime    time.Time
	Type     Type

	mu    sync.Mutex
	count int
}

// New allocates a Node with one implicit reference held by the caller.
func New(name, fullPath string, mode os.FileMode, uid, gid int, typ Type) *Node {
	now := time.Now()
	return &Node{
		Name:     name,
		FullPath: fullPath,
		Mode:     mode,
		UID:      uid,
		GID:      gid,
		ATime:    now,
		MTime:    now,
		Type:     typ,
		count:    1,
	}
}

// Ref adds one more holder of n, returning n for chaining at the call site
// (e.g. t.FileNode = shared.Ref()).
func (n *Node) Ref() *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count++
	return n
}

// Release drops one reference. It reports whether this call freed the node
// (count reached zero), so callers that need to know (tests, cleanup
// bookkeeping) can assert on it without inspecting internal state.
func (n *Node) Release() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.count <= 0 {
		panic("fnode: Release called on already-freed node")
	}
	n.count--
	return n.count == 0
}

// RefCount reports the current reference count, for tests and invariant
// checks (§8 property 2: ref calls equal free calls over a full operation).
func (n *Node) RefCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.count
}
