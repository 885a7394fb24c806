package metastore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/replicast/replicast/internal/models"
)

// SnapshotBuilder resolves a local entity into the canonical snapshot the
// preparer serializes. Which meta keys hold media galleries or object
// relations is registered by the field-system extensions at startup.
type SnapshotBuilder struct {
	db             Store
	siteURL        string
	mediaFields    map[string]struct{}
	relationFields map[string]struct{}
}

// SnapshotOption configures a SnapshotBuilder.
type SnapshotOption func(*SnapshotBuilder)

// WithMediaField registers a meta key whose values are local media ids
// (single-image fields and galleries alike).
func WithMediaField(key string) SnapshotOption {
	return func(b *SnapshotBuilder) {
		b.mediaFields[key] = struct{}{}
	}
}

// WithRelationField registers a meta key whose values reference other
// local objects.
func WithRelationField(key string) SnapshotOption {
	return func(b *SnapshotBuilder) {
		b.relationFields[key] = struct{}{}
	}
}

// NewSnapshotBuilder creates a snapshot provider over the metastore.
// siteURL is this installation's base URL, used to build edit links.
func NewSnapshotBuilder(db Store, siteURL string, opts ...SnapshotOption) *SnapshotBuilder {
	b := &SnapshotBuilder{
		db:             db,
		siteURL:        siteURL,
		mediaFields:    make(map[string]struct{}),
		relationFields: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Snapshot resolves the entity's base fields, metadata, term tree and media
// references.
func (b *SnapshotBuilder) Snapshot(_ context.Context, entity models.LocalEntity) (*models.Snapshot, error) {
	if entity.Type() == models.KindTerm {
		return b.termSnapshot(entity.ID())
	}
	return b.objectSnapshot(entity.ID())
}

func (b *SnapshotBuilder) objectSnapshot(id int64) (*models.Snapshot, error) {
	row, err := b.db.GetObject(id)
	if err != nil {
		return nil, fmt.Errorf("snapshot object %d: %w", id, err)
	}
	meta, err := b.db.GetMeta(id, "post")
	if err != nil {
		return nil, err
	}
	terms, err := b.termTree(id)
	if err != nil {
		return nil, err
	}

	snap := &models.Snapshot{
		ID:          row.ID,
		Kind:        row.Kind,
		Status:      row.Status,
		Title:       row.Title,
		Content:     row.Content,
		Slug:        row.Slug,
		Date:        row.Date,
		Author:      row.Author,
		Parent:      row.Parent,
		Template:    row.Template,
		MimeType:    row.MimeType,
		EditLink:    fmt.Sprintf("%s/edit?id=%d", b.siteURL, row.ID),
		Featured:    row.Featured,
		Meta:        meta,
		Terms:       terms,
		MediaFields: map[string][]int64{},
		Relations:   map[string][]int64{},
	}

	for key, values := range meta {
		if _, ok := b.mediaFields[key]; ok {
			snap.MediaFields[key] = parseIDs(values)
		}
		if _, ok := b.relationFields[key]; ok {
			// Empty stays present: a removed relation must still travel.
			snap.Relations[key] = parseIDs(values)
		}
	}
	return snap, nil
}

func (b *SnapshotBuilder) termSnapshot(id int64) (*models.Snapshot, error) {
	row, err := b.db.GetTerm(id)
	if err != nil {
		return nil, fmt.Errorf("snapshot term %d: %w", id, err)
	}
	meta, err := b.db.GetMeta(id, "term")
	if err != nil {
		return nil, err
	}
	children, err := b.childTree(id)
	if err != nil {
		return nil, err
	}
	return &models.Snapshot{
		ID:       row.ID,
		Kind:     models.KindTerm,
		Title:    row.Name,
		Slug:     row.Slug,
		Taxonomy: row.Taxonomy,
		Parent:   row.Parent,
		EditLink: fmt.Sprintf("%s/edit?taxonomy=%s&id=%d", b.siteURL, row.Taxonomy, row.ID),
		Meta:     meta,
		Terms:    children,
	}, nil
}

// termTree builds the tree of terms assigned to an object, each assigned
// term carrying its descendant subtree.
func (b *SnapshotBuilder) termTree(objectID int64) ([]models.TermNode, error) {
	assigned, err := b.db.ObjectTerms(objectID)
	if err != nil {
		return nil, err
	}
	// Keep only roots of the assigned set: a term whose parent is also
	// assigned is reached through the parent's subtree instead.
	ids := make(map[int64]struct{}, len(assigned))
	for _, t := range assigned {
		ids[t.ID] = struct{}{}
	}
	var out []models.TermNode
	for _, t := range assigned {
		if _, parentAssigned := ids[t.Parent]; parentAssigned {
			continue
		}
		node, err := b.termNode(t)
		if err != nil {
			return nil, err
		}
		out = append(out, node)
	}
	return out, nil
}

func (b *SnapshotBuilder) termNode(row TermRow) (models.TermNode, error) {
	meta, err := b.db.GetMeta(row.ID, "term")
	if err != nil {
		return models.TermNode{}, err
	}
	node := models.TermNode{
		ID:       row.ID,
		Taxonomy: row.Taxonomy,
		Name:     row.Name,
		Slug:     row.Slug,
		Meta:     meta,
	}
	children, err := b.db.ChildTerms(row.ID)
	if err != nil {
		return models.TermNode{}, err
	}
	for _, c := range children {
		child, err := b.termNode(c)
		if err != nil {
			return models.TermNode{}, err
		}
		node.Children = append(node.Children, child)
	}
	return node, nil
}

func (b *SnapshotBuilder) childTree(termID int64) ([]models.TermNode, error) {
	children, err := b.db.ChildTerms(termID)
	if err != nil {
		return nil, err
	}
	var out []models.TermNode
	for _, c := range children {
		node, err := b.termNode(c)
		if err != nil {
			return nil, err
		}
		out = append(out, node)
	}
	return out, nil
}

func parseIDs(values []string) []int64 {
	out := make([]int64, 0, len(values))
	for _, v := range values {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		out = append(out, id)
	}
	return out
}
