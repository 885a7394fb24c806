// Package models defines the domain types for Replicast.
package models

// Kind identifies the content type of a local entity.
type Kind string

const (
	KindPost       Kind = "post"
	KindPage       Kind = "page"
	KindAttachment Kind = "attachment"
	KindTerm       Kind = "term"
)

// Resource returns the wire resource name for the kind.
func (k Kind) Resource() string {
	switch k {
	case KindPage:
		return "pages"
	case KindAttachment:
		return "media"
	case KindTerm:
		return "terms"
	default:
		return "posts"
	}
}

// LocalEntity is the capability interface shared by every replicable
// content object in the source installation.
type LocalEntity interface {
	ID() int64
	Type() Kind
	// MetaType names the metadata table family the entity's annotations
	// live in ("post" for posts, pages and attachments, "term" for terms).
	MetaType() string
}

// Post is a post or page.
type Post struct {
	ObjectID int64
	Kind     Kind // KindPost or KindPage
}

func (p Post) ID() int64        { return p.ObjectID }
func (p Post) Type() Kind       { return p.Kind }
func (p Post) MetaType() string { return "post" }

// Media is an attachment.
type Media struct {
	ObjectID int64
}

func (m Media) ID() int64        { return m.ObjectID }
func (m Media) Type() Kind       { return KindAttachment }
func (m Media) MetaType() string { return "post" }

// Term is a taxonomy term.
type Term struct {
	ObjectID int64
	Taxonomy string
}

func (t Term) ID() int64        { return t.ObjectID }
func (t Term) Type() Kind       { return KindTerm }
func (t Term) MetaType() string { return "term" }
