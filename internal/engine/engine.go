// Package engine is the replication handler: given a local mutation and the
// object's selected target sites, it decides create, update or delete per
// site, dispatches the prepared payload and folds the response back into
// the identity map.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/replicast/replicast/internal/apperr"
	"github.com/replicast/replicast/internal/hooks"
	"github.com/replicast/replicast/internal/identity"
	"github.com/replicast/replicast/internal/metrics"
	"github.com/replicast/replicast/internal/models"
	"github.com/replicast/replicast/internal/notices"
	"github.com/replicast/replicast/internal/preparer"
	"github.com/replicast/replicast/internal/registry"
	"github.com/replicast/replicast/internal/signer"
	"github.com/replicast/replicast/internal/transport"
)

// Binary is the raw content of an attachment.
type Binary struct {
	Filename    string
	ContentType string
	Data        []byte
}

// BinarySource supplies attachment bytes for binary uploads. May be nil,
// in which case attachments replicate as metadata-only objects.
type BinarySource interface {
	Binary(ctx context.Context, mediaID int64) (*Binary, error)
}

// Deps are the engine's collaborators.
type Deps struct {
	Registry  *registry.Registry
	Identity  *identity.Map
	Preparer  *preparer.Preparer
	Transport *transport.Client
	Notices   *notices.Sink
	Snapshots models.SnapshotProvider
	Pipeline  *hooks.Pipeline
	Binaries  BinarySource
	Logger    *slog.Logger

	// Parallel dispatches target sites concurrently. Identity map writes
	// stay correct either way: the map serializes its read-merge-write per
	// object.
	Parallel bool
	// Debug surfaces remote rejection messages verbatim in notices.
	Debug bool
}

// Engine orchestrates replication.
type Engine struct {
	deps Deps
}

// New creates an engine.
func New(deps Deps) *Engine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Engine{deps: deps}
}

// HandleSave replicates a saved object. Sites present in the selection get
// a create or update; sites present only in the recorded remote info were
// deselected and get a forced delete first. Each site is processed
// independently: one site's failure never prevents the others.
func (e *Engine) HandleSave(ctx context.Context, entity models.LocalEntity, user string) error {
	selected, err := e.deps.Identity.SelectedSites(entity)
	if err != nil {
		return fmt.Errorf("engine: read site selection: %w", err)
	}
	infos, err := e.deps.Identity.Get(entity)
	if err != nil {
		return fmt.Errorf("engine: read remote info: %w", err)
	}

	selectedSet := make(map[int64]struct{}, len(selected))
	for _, id := range selected {
		selectedSet[id] = struct{}{}
	}

	// Deselected sites first: their remote copies are purged before the
	// save's own per-site loop touches the surviving entries.
	for siteID := range infos {
		if _, still := selectedSet[siteID]; still {
			continue
		}
		e.deleteOnSite(ctx, entity, siteID, true, user)
	}

	if len(selected) == 0 {
		return nil
	}

	snap, err := e.deps.Snapshots.Snapshot(ctx, entity)
	if err != nil {
		return fmt.Errorf("engine: snapshot: %w", err)
	}

	if e.deps.Parallel {
		g, gctx := errgroup.WithContext(ctx)
		for _, siteID := range selected {
			g.Go(func() error {
				e.saveOnSite(gctx, entity, snap, siteID, user)
				return nil
			})
		}
		_ = g.Wait()
		return nil
	}

	for _, siteID := range selected {
		e.saveOnSite(ctx, entity, snap, siteID, user)
	}
	return nil
}

// HandleTrash soft-deletes the object's remote copies: the replicas move to
// trash and stay recoverable, and the mapping is kept with trash status.
func (e *Engine) HandleTrash(ctx context.Context, entity models.LocalEntity, user string) error {
	infos, err := e.deps.Identity.Get(entity)
	if err != nil {
		return fmt.Errorf("engine: read remote info: %w", err)
	}
	for siteID := range infos {
		e.deleteOnSite(ctx, entity, siteID, false, user)
	}
	return nil
}

// HandleDelete purges the object's remote copies and clears the mapping.
func (e *Engine) HandleDelete(ctx context.Context, entity models.LocalEntity, user string) error {
	infos, err := e.deps.Identity.Get(entity)
	if err != nil {
		return fmt.Errorf("engine: read remote info: %w", err)
	}
	for siteID := range infos {
		e.deleteOnSite(ctx, entity, siteID, true, user)
	}
	return nil
}

// saveOnSite runs one site's create-or-update, folding the response into
// the identity map. Failures become notices; the caller's loop continues.
func (e *Engine) saveOnSite(ctx context.Context, entity models.LocalEntity, snap *models.Snapshot, siteID int64, user string) {
	site, err := e.siteFor(entity, siteID, user)
	if err != nil {
		return
	}

	infos, err := e.deps.Identity.Get(entity)
	if err != nil {
		e.record(entity, siteID, user, err)
		return
	}
	_, exists := infos[siteID]

	method := preparer.MethodCreate
	if exists {
		method = preparer.MethodUpdate
	}

	payload, err := e.deps.Preparer.Prepare(ctx, snap, site, method)
	if err != nil {
		e.record(entity, siteID, user, err)
		return
	}

	resp, err := e.dispatchSave(ctx, entity, snap, site, method, payload)
	if err != nil {
		e.record(entity, siteID, user, err)
		return
	}

	// The primary mapping is written before dependent folds so a failed
	// fold only costs a redo of that step on the next save, not a second
	// remote object.
	if err := e.UpdateObject(ctx, entity, site, resp); err != nil {
		e.record(entity, siteID, user, err)
		return
	}
	if err := e.UpdateTerms(ctx, entity, site, resp); err != nil {
		e.record(entity, siteID, user, err)
		return
	}
	if err := e.UpdateMedia(ctx, entity, site, resp); err != nil {
		e.record(entity, siteID, user, err)
		return
	}

	metrics.DispatchTotal.WithLabelValues(strconv.FormatInt(siteID, 10), "success").Inc()
	e.deps.Notices.Add(user, siteID, entity.ID(), models.NoticeSuccess,
		fmt.Sprintf("replicated object %d to %s (remote id %d)", entity.ID(), site.Name, resp.ID))
}

// dispatchSave issues the remote call for one save. A brand-new attachment
// with available bytes goes out as a binary upload followed by a metadata
// update; everything else is a JSON create or update.
func (e *Engine) dispatchSave(ctx context.Context, entity models.LocalEntity, snap *models.Snapshot, site *models.RemoteSite, method preparer.Method, payload *models.Payload) (*models.RemoteResponse, error) {
	resource := snap.Kind.Resource()

	if method == preparer.MethodCreate {
		if snap.Kind == models.KindAttachment && e.deps.Binaries != nil {
			if resp, ok, err := e.uploadAttachment(ctx, entity, site, resource, payload); ok || err != nil {
				return resp, err
			}
		}
		return e.deps.Transport.Do(ctx, site, http.MethodPost, resource, nil, payload)
	}
	path := fmt.Sprintf("%s/%d", resource, payload.ID)
	return e.deps.Transport.Do(ctx, site, http.MethodPut, path, nil, payload)
}

// uploadAttachment sends the raw bytes first, then attaches the prepared
// metadata to the remote id the upload assigned. Returns ok=false when no
// binary is available and the caller should fall back to a JSON create.
func (e *Engine) uploadAttachment(ctx context.Context, entity models.LocalEntity, site *models.RemoteSite, resource string, payload *models.Payload) (*models.RemoteResponse, bool, error) {
	bin, err := e.deps.Binaries.Binary(ctx, entity.ID())
	if err != nil || bin == nil {
		return nil, false, nil
	}
	created, err := e.deps.Transport.Upload(ctx, site, resource, bin.Filename, bin.ContentType, bin.Data)
	if err != nil {
		return nil, true, err
	}
	payload.ID = created.ID
	resp, err := e.deps.Transport.Do(ctx, site, http.MethodPut, fmt.Sprintf("%s/%d", resource, created.ID), nil, payload)
	if err != nil {
		// The binary landed; record the mapping so the next save updates
		// instead of re-uploading.
		_ = e.deps.Identity.Put(entity, site.ID, models.RemoteInfo{RemoteID: created.ID, Status: created.Status})
		return nil, true, err
	}
	return resp, true, nil
}

// deleteOnSite runs one site's delete. force purges the remote object and
// clears the mapping; a soft delete trashes it and keeps the mapping with
// trash status.
func (e *Engine) deleteOnSite(ctx context.Context, entity models.LocalEntity, siteID int64, force bool, user string) {
	site, err := e.siteFor(entity, siteID, user)
	if err != nil {
		return
	}

	infos, err := e.deps.Identity.Get(entity)
	if err != nil {
		e.record(entity, siteID, user, err)
		return
	}
	info, ok := infos[siteID]
	if !ok {
		e.record(entity, siteID, user, &apperr.MissingRemoteMapping{ObjectID: entity.ID(), SiteID: siteID})
		return
	}

	resource := resourceFor(entity)
	path := fmt.Sprintf("%s/%d", resource, info.RemoteID)
	params := []signer.Param{{Key: "force", Value: strconv.FormatBool(force)}}

	resp, err := e.deps.Transport.Do(ctx, site, http.MethodDelete, path, params, nil)
	if err != nil {
		e.record(entity, siteID, user, err)
		return
	}

	if force || resp.Status == "deleted" {
		if err := e.deps.Identity.Remove(entity, siteID); err != nil {
			e.record(entity, siteID, user, err)
			return
		}
	} else {
		status := resp.Status
		if status == "" {
			status = "trash"
		}
		if err := e.deps.Identity.Put(entity, siteID, models.RemoteInfo{RemoteID: info.RemoteID, Status: status}); err != nil {
			e.record(entity, siteID, user, err)
			return
		}
	}

	metrics.DispatchTotal.WithLabelValues(strconv.FormatInt(siteID, 10), "success").Inc()
	e.deps.Notices.Add(user, siteID, entity.ID(), models.NoticeSuccess,
		fmt.Sprintf("deleted object %d on %s (force=%t)", entity.ID(), site.Name, force))
}

// siteFor resolves and validates one target site. Configuration problems
// surface as warning notices; an invalid site is never dispatched to.
func (e *Engine) siteFor(entity models.LocalEntity, siteID int64, user string) (*models.RemoteSite, error) {
	site, err := e.deps.Registry.Get(siteID)
	if err != nil {
		if errors.Is(err, apperr.ErrSiteNotFound) {
			e.deps.Notices.Add(user, siteID, entity.ID(), models.NoticeWarning,
				fmt.Sprintf("site %d is not configured", siteID))
			metrics.DispatchTotal.WithLabelValues(strconv.FormatInt(siteID, 10), "skipped").Inc()
			return nil, err
		}
		e.record(entity, siteID, user, err)
		return nil, err
	}
	if err := site.Validate(); err != nil {
		e.deps.Notices.Add(user, siteID, entity.ID(), models.NoticeWarning,
			fmt.Sprintf("site %q has incomplete connection settings", site.Name))
		metrics.DispatchTotal.WithLabelValues(strconv.FormatInt(siteID, 10), "skipped").Inc()
		return nil, apperr.ErrInvalidSiteConfig
	}
	return site, nil
}

// record converts a per-site failure into an error notice. Remote rejection
// details stay generic unless debug mode is on.
func (e *Engine) record(entity models.LocalEntity, siteID int64, user string, err error) {
	metrics.DispatchTotal.WithLabelValues(strconv.FormatInt(siteID, 10), "error").Inc()

	message := fmt.Sprintf("replication of object %d to site %d failed", entity.ID(), siteID)
	var rejected *apperr.RemoteRejected
	switch {
	case errors.As(err, &rejected):
		if e.deps.Debug {
			message = fmt.Sprintf("site %d rejected object %d: %s", siteID, entity.ID(), rejected.Message)
		}
	default:
		if e.deps.Debug {
			message = fmt.Sprintf("replication of object %d to site %d failed: %v", entity.ID(), siteID, err)
		}
	}

	e.deps.Logger.Error("engine: dispatch failed",
		slog.Int64("object_id", entity.ID()),
		slog.Int64("site_id", siteID),
		slog.String("error", err.Error()))
	e.deps.Notices.Add(user, siteID, entity.ID(), models.NoticeError, message)
}

func resourceFor(entity models.LocalEntity) string {
	return entity.Type().Resource()
}
