// Package apperr defines the replication error taxonomy.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrSiteNotFound      = errors.New("site not found")
	ErrInvalidSiteConfig = errors.New("invalid site configuration")
)

// MissingRemoteMapping is returned when an update or delete targets a site
// with no previously recorded remote counterpart.
type MissingRemoteMapping struct {
	ObjectID int64
	SiteID   int64
}

func (e *MissingRemoteMapping) Error() string {
	return fmt.Sprintf("object %d has no remote mapping for site %d", e.ObjectID, e.SiteID)
}

// TransportError wraps a network-level failure (dial, timeout, TLS, open
// circuit) for one site's dispatch.
type TransportError struct {
	SiteID int64
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport to site %d: %v", e.SiteID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RemoteRejected is a structured non-2xx response from a remote site,
// parsed from the {code, message, data:{status}} error envelope.
type RemoteRejected struct {
	Code    string
	Message string
	Status  int
}

func (e *RemoteRejected) Error() string {
	return fmt.Sprintf("remote rejected (%d %s): %s", e.Status, e.Code, e.Message)
}
