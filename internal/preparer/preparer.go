// Package preparer serializes a local object snapshot into the wire payload
// for one target site, rewriting every cross-referenced local id into the
// site's recorded remote id.
package preparer

import (
	"context"
	"log/slog"
	"strings"

	"github.com/goccy/go-json"

	"github.com/replicast/replicast/internal/apperr"
	"github.com/replicast/replicast/internal/hooks"
	"github.com/replicast/replicast/internal/identity"
	"github.com/replicast/replicast/internal/models"
)

// Method selects the shape of the prepared payload.
type Method string

const (
	MethodCreate Method = "create"
	MethodUpdate Method = "update"
	MethodDelete Method = "delete"
)

// Preparer builds remote-API-compliant payloads. It depends on the identity
// map to resolve related entities and on the hook pipeline for extension
// transforms.
type Preparer struct {
	identity *identity.Map
	pipeline *hooks.Pipeline
	logger   *slog.Logger
}

// New creates a preparer.
func New(idmap *identity.Map, pipeline *hooks.Pipeline, logger *slog.Logger) *Preparer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Preparer{identity: idmap, pipeline: pipeline, logger: logger}
}

// Prepare transforms a snapshot into the payload for one site and method.
// Updates and deletes require a previously recorded remote id and fail with
// apperr.MissingRemoteMapping otherwise. A nil or ill-formed snapshot
// short-circuits to an empty payload so garbage never reaches the wire.
func (p *Preparer) Prepare(_ context.Context, snap *models.Snapshot, site *models.RemoteSite, method Method) (*models.Payload, error) {
	if snap == nil || snap.ID == 0 {
		p.logger.Warn("preparer: refusing ill-formed snapshot, sending empty payload")
		return &models.Payload{}, nil
	}

	payload := &models.Payload{
		Type:     string(snap.Kind),
		Status:   snap.Status,
		Title:    snap.Title,
		Content:  snap.Content,
		Slug:     snap.Slug,
		Taxonomy: snap.Taxonomy,
	}

	switch method {
	case MethodCreate:
		// A create must not carry the source id or author.
	case MethodUpdate, MethodDelete:
		remoteID, ok := p.remoteID(entityFor(snap), site.ID)
		if !ok {
			return nil, &apperr.MissingRemoteMapping{ObjectID: snap.ID, SiteID: site.ID}
		}
		payload.ID = remoteID
	}

	// The remote API requires date_gmt alongside date on updates; relying
	// on a blank default zeroes it on delete-then-create races.
	if !snap.Date.IsZero() {
		payload.Date = snap.Date.Format(models.DateLayout)
		payload.DateGMT = snap.Date.UTC().Format(models.DateLayout)
	}

	p.applyKindRules(payload, snap, site)

	payload.Replicast.Meta = p.prepareMeta(snap, site)
	payload.Replicast.Terms = resolveTerms(snap.Terms, site.ID, p.lookupFor(site.ID))
	payload = p.pipeline.Apply(hooks.StageGetTerms, snap.Kind, payload, site)
	payload.Replicast.Media = p.prepareMedia(payload, snap, site)

	if snap.Kind == models.KindTerm {
		payload.Name = snap.Title
		remoteParent, _ := p.remoteID(models.Term{ObjectID: snap.Parent, Taxonomy: snap.Taxonomy}, site.ID)
		payload.Parent = remoteParent
	}

	stage := hooks.StagePrepareCreate
	if method != MethodCreate {
		stage = hooks.StagePrepareUpdate
	}
	payload = p.pipeline.Apply(stage, snap.Kind, payload, site)
	return payload, nil
}

// applyKindRules applies the per-type payload adjustments.
func (p *Preparer) applyKindRules(payload *models.Payload, snap *models.Snapshot, site *models.RemoteSite) {
	switch snap.Kind {
	case models.KindPage:
		// The remote API rejects empty template strings.
		if snap.Template != "" {
			payload.Template = snap.Template
		}
	case models.KindAttachment:
		payload.MimeType = snap.MimeType
		// Replicas are never left pending post-processing.
		if snap.Status == "inherit" || snap.Status == "" {
			payload.Status = "publish"
		}
		// "Uploaded to" points at the remote parent post or is cleared.
		remoteParent, _ := p.remoteID(models.Post{ObjectID: snap.Parent, Kind: models.KindPost}, site.ID)
		payload.Parent = remoteParent
	default:
		if snap.Parent != 0 {
			remoteParent, _ := p.remoteID(models.Post{ObjectID: snap.Parent, Kind: snap.Kind}, site.ID)
			payload.Parent = remoteParent
		}
	}

	if snap.Featured != 0 {
		// Resolved through the media object's own identity map; cleared
		// when no mapping exists rather than sent as a local id.
		remoteMedia, _ := p.remoteID(models.Media{ObjectID: snap.Featured}, site.ID)
		payload.FeaturedMedia = remoteMedia
	}
}

// prepareMeta copies the snapshot metadata into the envelope, stripping
// private bookkeeping, rewriting media and relation fields to remote ids
// and attaching the source info the replica redirects edits through.
func (p *Preparer) prepareMeta(snap *models.Snapshot, site *models.RemoteSite) map[string][]string {
	meta := make(map[string][]string, len(snap.Meta)+1)
	for key, values := range snap.Meta {
		if isPrivateKey(key) {
			continue
		}
		meta[key] = append([]string(nil), values...)
	}

	for key, localIDs := range snap.MediaFields {
		meta[key] = p.resolveIDList(localIDs, site.ID, func(id int64) models.LocalEntity {
			return models.Media{ObjectID: id}
		})
	}
	for key, localIDs := range snap.Relations {
		// Present-but-empty survives: the remote must hear about removed
		// relations a diffed update would otherwise leave stale.
		meta[key] = p.resolveIDList(localIDs, site.ID, func(id int64) models.LocalEntity {
			return models.Post{ObjectID: id, Kind: models.KindPost}
		})
	}

	source := models.SourceInfo{ObjectID: snap.ID, EditLink: snap.EditLink}
	raw, err := json.Marshal(source)
	if err == nil {
		meta[models.MetaKeySourceInfo] = []string{string(raw)}
	}

	withMeta := &models.Payload{Replicast: models.Envelope{Meta: meta}}
	withMeta = p.pipeline.Apply(hooks.StageGetMeta, snap.Kind, withMeta, site)
	return withMeta.Replicast.Meta
}

// resolveIDList rewrites a list of local ids into remote ids, preserving
// order and cardinality. An unresolved reference becomes the explicit empty
// value, never a leaked local id.
func (p *Preparer) resolveIDList(localIDs []int64, siteID int64, entity func(int64) models.LocalEntity) []string {
	out := make([]string, len(localIDs))
	for i, localID := range localIDs {
		if remoteID, ok := p.remoteID(entity(localID), siteID); ok {
			out[i] = formatID(remoteID)
		} else {
			out[i] = ""
		}
	}
	return out
}

func (p *Preparer) lookupFor(siteID int64) termLookup {
	return func(term models.Term) (int64, bool) {
		return p.remoteID(term, siteID)
	}
}

func (p *Preparer) remoteID(entity models.LocalEntity, siteID int64) (int64, bool) {
	if entity.ID() == 0 {
		return 0, false
	}
	infos, err := p.identity.Get(entity)
	if err != nil {
		p.logger.Warn("preparer: identity lookup failed",
			slog.Int64("object_id", entity.ID()), slog.String("error", err.Error()))
		return 0, false
	}
	info, ok := infos[siteID]
	if !ok || info.RemoteID == 0 {
		return 0, false
	}
	return info.RemoteID, true
}

func entityFor(snap *models.Snapshot) models.LocalEntity {
	switch snap.Kind {
	case models.KindAttachment:
		return models.Media{ObjectID: snap.ID}
	case models.KindTerm:
		return models.Term{ObjectID: snap.ID, Taxonomy: snap.Taxonomy}
	default:
		return models.Post{ObjectID: snap.ID, Kind: snap.Kind}
	}
}

func isPrivateKey(key string) bool {
	return key == models.MetaKeyRemoteInfo ||
		key == models.MetaKeySites ||
		key == models.MetaKeySourceInfo ||
		strings.HasPrefix(key, "_replicast_")
}
