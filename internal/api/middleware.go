// Package api implements the inbound replica API: the signed REST surface
// peers dispatch replication requests to.
package api

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/replicast/replicast/internal/signer"
)

// AuthOptions configures inbound signature verification.
type AuthOptions struct {
	Enabled   bool
	APIKey    string
	APISecret string
	Algorithm string
	Freshness time.Duration

	// IncludeIP additionally binds the caller's observed address into the
	// verified signature. Peers must sign with the address this node sees
	// for them.
	IncludeIP bool
}

// SignatureMiddleware verifies the X-API-KEY / X-API-TIMESTAMP /
// X-API-SIGNATURE headers against the node's inbound credentials. The
// signature is recomputed over the request method and URI exactly as the
// sender built them; the timestamp must fall within the freshness window.
// When disabled (source-only node) every write is rejected.
func SignatureMiddleware(opts AuthOptions) func(http.Handler) http.Handler {
	sgn := signer.New(opts.Algorithm)
	freshness := opts.Freshness
	if freshness <= 0 {
		freshness = 300 * time.Second
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !opts.Enabled {
				writeError(w, http.StatusUnauthorized, "replicast_disabled",
					"this installation does not accept replication requests")
				return
			}

			key := r.Header.Get("X-API-KEY")
			if subtle.ConstantTimeCompare([]byte(key), []byte(opts.APIKey)) != 1 {
				writeError(w, http.StatusUnauthorized, "replicast_bad_key", "unknown api key")
				return
			}

			timestamp, err := strconv.ParseInt(r.Header.Get("X-API-TIMESTAMP"), 10, 64)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "replicast_bad_timestamp", "missing or malformed timestamp")
				return
			}
			drift := time.Since(time.Unix(timestamp, 0))
			if drift < 0 {
				drift = -drift
			}
			if drift > freshness {
				writeError(w, http.StatusUnauthorized, "replicast_stale_request", "request timestamp outside freshness window")
				return
			}

			var want string
			if opts.IncludeIP {
				want = sgn.SignWithIP(r.Method, r.URL.RequestURI(), timestamp, callerIP(r), opts.APIKey, opts.APISecret)
			} else {
				want = sgn.Sign(r.Method, r.URL.RequestURI(), timestamp, opts.APIKey, opts.APISecret)
			}
			got := r.Header.Get("X-API-SIGNATURE")
			if subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
				writeError(w, http.StatusUnauthorized, "replicast_bad_signature", "signature mismatch")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// callerIP is the peer address as this node sees it. The RealIP middleware
// has already folded X-Real-IP / X-Forwarded-For into RemoteAddr.
func callerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
