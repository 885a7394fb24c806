package models

import (
	"context"
	"time"
)

// Snapshot is the fully resolved view of a local entity handed to the
// preparer: base fields plus associated terms, media references and raw
// metadata. It is read-only from the preparer's point of view.
type Snapshot struct {
	ID       int64
	Kind     Kind
	Status   string
	Title    string
	Content  string
	Slug     string
	Date     time.Time
	Author   int64
	Parent   int64 // for attachments: the post the media is uploaded to
	Template string
	MimeType string
	Taxonomy string
	EditLink string

	Featured int64 // featured media local id, zero when unset

	Meta map[string][]string

	Terms []TermNode

	// MediaFields maps meta field name to the local media ids it holds:
	// galleries carry several, single-image fields carry one.
	MediaFields map[string][]int64

	// Relations maps relation field name to referenced local object ids.
	// A key present with an empty list records a removed relation that the
	// remote still needs to hear about.
	Relations map[string][]int64
}

// TermNode is one node of the snapshot's term tree.
type TermNode struct {
	ID       int64
	Taxonomy string
	Name     string
	Slug     string
	Meta     map[string][]string
	Children []TermNode
}

// SnapshotProvider produces a canonical snapshot for an entity. The engine
// depends on this contract but does not own the object model behind it.
type SnapshotProvider interface {
	Snapshot(ctx context.Context, entity LocalEntity) (*Snapshot, error)
}
