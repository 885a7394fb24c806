package models

import "time"

// Notice types.
const (
	NoticeSuccess = "success"
	NoticeError   = "error"
	NoticeWarning = "warning"
)

// Notice is the per-(site, object) outcome of one dispatch, kept briefly
// for the acting user and cleared on flush or TTL expiry.
type Notice struct {
	ID        string    `json:"id"`
	SiteID    int64     `json:"site_id"`
	ObjectID  int64     `json:"object_id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
