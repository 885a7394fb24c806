package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/replicast/replicast/internal/metastore"
	"github.com/replicast/replicast/internal/models"
	"github.com/replicast/replicast/internal/storage"
)

// Service persists inbound replication payloads into the local metastore.
// From this node's perspective the objects it creates here are replicas:
// their source info points back at the originating installation.
type Service struct {
	db      metastore.Store
	files   storage.Provider
	siteURL string

	// metaWhitelist names protected (underscore-prefixed) keys that the
	// replicast field may still expose.
	metaWhitelist map[string]struct{}
}

// NewService creates the replica-side persistence service.
func NewService(db metastore.Store, files storage.Provider, siteURL string, whitelist ...string) *Service {
	wl := map[string]struct{}{
		models.MetaKeySourceInfo: {},
	}
	for _, key := range whitelist {
		wl[key] = struct{}{}
	}
	return &Service{db: db, files: files, siteURL: siteURL, metaWhitelist: wl}
}

func kindForResource(resource string) (models.Kind, bool) {
	switch resource {
	case "posts":
		return models.KindPost, true
	case "pages":
		return models.KindPage, true
	case "media":
		return models.KindAttachment, true
	case "terms":
		return models.KindTerm, true
	default:
		return "", false
	}
}

// ApplyCreate persists a new replica object and returns the response the
// source folds back into its identity map.
func (s *Service) ApplyCreate(resource string, payload *models.Payload) (*models.RemoteResponse, error) {
	return s.apply(resource, 0, payload)
}

// ApplyUpdate replaces an existing replica object wholesale: the source
// always wins, there is no merge.
func (s *Service) ApplyUpdate(resource string, id int64, payload *models.Payload) (*models.RemoteResponse, error) {
	if _, err := s.lookup(resource, id); err != nil {
		return nil, err
	}
	return s.apply(resource, id, payload)
}

// ApplyDelete trashes (soft) or purges (force) a replica object.
func (s *Service) ApplyDelete(resource string, id int64, force bool) (*models.RemoteResponse, error) {
	kind, ok := kindForResource(resource)
	if !ok {
		return nil, fmt.Errorf("unknown resource %q", resource)
	}

	if kind == models.KindTerm {
		if _, err := s.db.GetTerm(id); err != nil {
			return nil, err
		}
		if err := s.db.DeleteTerm(id); err != nil {
			return nil, err
		}
		return &models.RemoteResponse{ID: id, Status: "deleted"}, nil
	}

	if _, err := s.db.GetObject(id); err != nil {
		return nil, err
	}
	if !force {
		if err := s.db.SetObjectStatus(id, "trash"); err != nil {
			return nil, err
		}
		return &models.RemoteResponse{ID: id, Status: "trash", Link: s.link(id)}, nil
	}
	if err := s.db.DeleteObject(id); err != nil {
		return nil, err
	}
	return &models.RemoteResponse{ID: id, Status: "deleted"}, nil
}

// Get returns the wire view of a replica object.
func (s *Service) Get(resource string, id int64) (*models.RemoteResponse, error) {
	kind, ok := kindForResource(resource)
	if !ok {
		return nil, fmt.Errorf("unknown resource %q", resource)
	}
	if kind == models.KindTerm {
		row, err := s.db.GetTerm(id)
		if err != nil {
			return nil, err
		}
		return &models.RemoteResponse{ID: row.ID, Status: "publish"}, nil
	}
	row, err := s.db.GetObject(id)
	if err != nil {
		return nil, err
	}
	return &models.RemoteResponse{ID: row.ID, Status: row.Status, Link: s.link(row.ID)}, nil
}

func (s *Service) lookup(resource string, id int64) (any, error) {
	kind, _ := kindForResource(resource)
	if kind == models.KindTerm {
		return s.db.GetTerm(id)
	}
	return s.db.GetObject(id)
}

func (s *Service) apply(resource string, id int64, payload *models.Payload) (*models.RemoteResponse, error) {
	kind, ok := kindForResource(resource)
	if !ok {
		return nil, fmt.Errorf("unknown resource %q", resource)
	}

	if kind == models.KindTerm {
		return s.applyTerm(id, payload)
	}

	row := metastore.ObjectRow{
		ID:       id,
		Kind:     kind,
		Status:   defaultStatus(payload.Status),
		Title:    payload.Title,
		Content:  payload.Content,
		Slug:     payload.Slug,
		Template: payload.Template,
		MimeType: payload.MimeType,
		Parent:   payload.Parent,
		Featured: payload.FeaturedMedia,
	}
	if payload.Date != "" {
		if date, err := time.Parse(models.DateLayout, payload.Date); err == nil {
			row.Date = date
		}
	}

	objectID, err := s.db.UpsertObject(row)
	if err != nil {
		return nil, err
	}

	if err := s.replaceMeta(objectID, "post", payload.Replicast.Meta); err != nil {
		return nil, err
	}

	termEcho, assigned, err := s.applyTermTree(payload.Replicast.Terms, 0)
	if err != nil {
		return nil, err
	}
	if payload.Replicast.Terms != nil {
		if err := s.db.SetObjectTerms(objectID, assigned); err != nil {
			return nil, err
		}
	}

	mediaEcho := s.echoMedia(payload.Replicast.Media)

	resp := &models.RemoteResponse{
		ID:     objectID,
		Link:   s.link(objectID),
		Status: row.Status,
	}
	if len(termEcho) > 0 || len(mediaEcho) > 0 {
		resp.Replicast = &models.Envelope{Terms: termEcho, Media: mediaEcho}
	}
	return resp, nil
}

func (s *Service) applyTerm(id int64, payload *models.Payload) (*models.RemoteResponse, error) {
	termID, err := s.db.UpsertTerm(metastore.TermRow{
		ID:       id,
		Taxonomy: payload.Taxonomy,
		Name:     payload.Name,
		Slug:     payload.Slug,
		Parent:   payload.Parent,
	})
	if err != nil {
		return nil, err
	}
	if err := s.replaceMeta(termID, "term", payload.Replicast.Meta); err != nil {
		return nil, err
	}
	return &models.RemoteResponse{ID: termID, Status: "publish"}, nil
}

// applyTermTree upserts a payload term tree parent-before-child, assigning
// local ids to terms the source has no mapping for yet. It returns the echo
// map (keyed by the source ids the request used) and the flat list of
// assigned term ids.
func (s *Service) applyTermTree(terms map[int64]models.TermPayload, parentID int64) (map[int64]models.TermPayload, []int64, error) {
	if len(terms) == 0 {
		return nil, nil, nil
	}
	echo := make(map[int64]models.TermPayload, len(terms))
	var flat []int64

	for sourceID, tp := range terms {
		parent := tp.Parent
		if parentID != 0 {
			parent = parentID
		}
		localID, err := s.db.UpsertTerm(metastore.TermRow{
			ID:       tp.TermID,
			Taxonomy: tp.Taxonomy,
			Name:     tp.Name,
			Slug:     tp.Slug,
			Parent:   parent,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := s.replaceMeta(localID, "term", tp.Meta); err != nil {
			return nil, nil, err
		}
		flat = append(flat, localID)

		childEcho, childFlat, err := s.applyTermTree(tp.Children, localID)
		if err != nil {
			return nil, nil, err
		}
		flat = append(flat, childFlat...)

		echo[sourceID] = models.TermPayload{
			TermID:   localID,
			Parent:   parent,
			Taxonomy: tp.Taxonomy,
			Children: childEcho,
		}
	}
	return echo, flat, nil
}

// echoMedia reflects the media map back. Media ids this replica already
// knows are confirmed; unknown ones echo zero so the source knows the
// reference stayed unresolved.
func (s *Service) echoMedia(media map[int64]models.MediaPayload) map[int64]models.MediaPayload {
	if len(media) == 0 {
		return nil
	}
	out := make(map[int64]models.MediaPayload, len(media))
	for sourceID, mp := range media {
		id := mp.ID
		if id != 0 {
			if _, err := s.db.GetObject(id); err != nil {
				id = 0
			}
		}
		out[sourceID] = models.MediaPayload{ID: id}
	}
	return out
}

// replaceMeta performs the full-replace metadata contract: every key in the
// incoming map is deleted and re-added; keys not mentioned are untouched.
func (s *Service) replaceMeta(objectID int64, metaType string, meta map[string][]string) error {
	for key, values := range meta {
		if err := s.db.DeleteMeta(objectID, metaType, key); err != nil {
			return err
		}
		if err := s.db.SetMeta(objectID, metaType, key, values); err != nil {
			return err
		}
	}
	return nil
}

// FieldGet returns the replicast field view of an object's metadata,
// omitting protected keys unless whitelisted.
func (s *Service) FieldGet(objectID int64, metaType string) (map[string][]string, error) {
	meta, err := s.db.GetMeta(objectID, metaType)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(meta))
	for key, values := range meta {
		if strings.HasPrefix(key, "_") {
			if _, ok := s.metaWhitelist[key]; !ok {
				continue
			}
		}
		out[key] = values
	}
	return out, nil
}

// FieldUpdate persists the replicast field payload as local metadata,
// full-replace per key.
func (s *Service) FieldUpdate(objectID int64, metaType string, meta map[string][]string) error {
	if _, err := s.db.GetObject(objectID); err != nil && metaType == "post" {
		return err
	}
	return s.replaceMeta(objectID, metaType, meta)
}

// StoreBinary ingests a raw attachment body and creates the replica media
// object for it.
func (s *Service) StoreBinary(filename, contentType string, data []byte) (*models.RemoteResponse, error) {
	if err := s.files.Write(filename, data); err != nil {
		return nil, err
	}
	objectID, err := s.db.UpsertObject(metastore.ObjectRow{
		Kind:     models.KindAttachment,
		Status:   "publish",
		Title:    filename,
		Slug:     filename,
		MimeType: contentType,
		Date:     time.Now(),
	})
	if err != nil {
		return nil, err
	}
	return &models.RemoteResponse{ID: objectID, Link: s.link(objectID), Status: "publish"}, nil
}

func (s *Service) link(id int64) string {
	return fmt.Sprintf("%s/?p=%d", s.siteURL, id)
}

func defaultStatus(status string) string {
	if status == "" {
		return "publish"
	}
	return status
}
