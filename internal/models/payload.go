package models

// DateLayout is the wire format for object dates.
const DateLayout = "2006-01-02T15:04:05"

// Payload is the per-request wire representation of a local object for one
// target site. After preparation every cross-referenced id it carries is a
// destination-site remote id, never a local one.
type Payload struct {
	ID            int64    `json:"id,omitempty"`
	Type          string   `json:"type,omitempty"`
	Status        string   `json:"status,omitempty"`
	Title         string   `json:"title,omitempty"`
	Content       string   `json:"content,omitempty"`
	Slug          string   `json:"slug,omitempty"`
	Date          string   `json:"date,omitempty"`
	DateGMT       string   `json:"date_gmt,omitempty"`
	Author        int64    `json:"author,omitempty"`
	Parent        int64    `json:"parent,omitempty"`
	Template      string   `json:"template,omitempty"`
	MimeType      string   `json:"mime_type,omitempty"`
	FeaturedMedia int64    `json:"featured_media,omitempty"`
	SourceURL     string   `json:"source_url,omitempty"`
	Taxonomy      string   `json:"taxonomy,omitempty"`
	Name          string   `json:"name,omitempty"`
	Replicast     Envelope `json:"replicast"`
}

// Envelope is the replicast namespace of a payload: metadata, the resolved
// term tree and the resolved media references.
type Envelope struct {
	Meta  map[string][]string    `json:"meta,omitempty"`
	Terms map[int64]TermPayload  `json:"terms,omitempty"`
	Media map[int64]MediaPayload `json:"media,omitempty"`
}

// TermPayload is one term in the envelope, keyed in the enclosing map by its
// source-installation id. TermID and Parent are destination-site ids; zero
// means "no remote counterpart recorded".
type TermPayload struct {
	TermID   int64                 `json:"term_id"`
	Parent   int64                 `json:"parent"`
	Taxonomy string                `json:"taxonomy,omitempty"`
	Name     string                `json:"name,omitempty"`
	Slug     string                `json:"slug,omitempty"`
	Meta     map[string][]string   `json:"meta,omitempty"`
	Children map[int64]TermPayload `json:"children,omitempty"`
}

// MediaPayload is one media item in the envelope, keyed by its source id.
// Relations maps meta field name to the destination-site ids the field
// references; an empty (non-nil) list communicates a removed relation.
type MediaPayload struct {
	ID        int64              `json:"id"`
	Relations map[string][]int64 `json:"_relations,omitempty"`
}

// RemoteResponse is the parsed body of a successful remote call.
// The Replicast echo carries remote-assigned ids for terms and media,
// keyed by the source-installation ids the request used.
type RemoteResponse struct {
	ID        int64     `json:"id"`
	Link      string    `json:"link"`
	Status    string    `json:"status"`
	Replicast *Envelope `json:"replicast,omitempty"`
}

// RemoteError is the conventional REST error envelope of a rejected call.
type RemoteError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Status int `json:"status"`
	} `json:"data"`
}
