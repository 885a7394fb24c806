package engine

import (
	"context"
	"fmt"

	"github.com/replicast/replicast/internal/hooks"
	"github.com/replicast/replicast/internal/models"
)

// UpdateObject folds the remote-assigned id of the object itself back into
// the identity map. Idempotent: re-folding the same response rewrites the
// same entry.
func (e *Engine) UpdateObject(_ context.Context, entity models.LocalEntity, site *models.RemoteSite, resp *models.RemoteResponse) error {
	if resp == nil || resp.ID == 0 {
		return fmt.Errorf("engine: response carries no remote id for object %d", entity.ID())
	}
	status := resp.Status
	if status == "" {
		status = "publish"
	}
	if err := e.deps.Identity.Put(entity, site.ID, models.RemoteInfo{RemoteID: resp.ID, Status: status}); err != nil {
		return err
	}
	e.applyFoldStage(hooks.StageUpdateObject, entity, site, resp)
	return nil
}

// UpdateTerms folds remote term ids from the response envelope back into
// each term's own identity map, walking nested children.
func (e *Engine) UpdateTerms(_ context.Context, entity models.LocalEntity, site *models.RemoteSite, resp *models.RemoteResponse) error {
	if resp == nil || resp.Replicast == nil || len(resp.Replicast.Terms) == 0 {
		return nil
	}
	if err := e.foldTermMap(site.ID, resp.Replicast.Terms); err != nil {
		return err
	}
	e.applyFoldStage(hooks.StageUpdateTerms, entity, site, resp)
	return nil
}

func (e *Engine) foldTermMap(siteID int64, terms map[int64]models.TermPayload) error {
	for localID, tp := range terms {
		if tp.TermID != 0 {
			term := models.Term{ObjectID: localID, Taxonomy: tp.Taxonomy}
			if err := e.deps.Identity.Put(term, siteID, models.RemoteInfo{RemoteID: tp.TermID, Status: "publish"}); err != nil {
				return err
			}
		}
		if len(tp.Children) > 0 {
			if err := e.foldTermMap(siteID, tp.Children); err != nil {
				return err
			}
		}
	}
	return nil
}

// UpdateMedia folds remote media ids from the response envelope back into
// each media object's identity map.
func (e *Engine) UpdateMedia(_ context.Context, entity models.LocalEntity, site *models.RemoteSite, resp *models.RemoteResponse) error {
	if resp == nil || resp.Replicast == nil || len(resp.Replicast.Media) == 0 {
		return nil
	}
	for localID, mp := range resp.Replicast.Media {
		if mp.ID == 0 {
			continue
		}
		media := models.Media{ObjectID: localID}
		if err := e.deps.Identity.Put(media, site.ID, models.RemoteInfo{RemoteID: mp.ID, Status: "publish"}); err != nil {
			return err
		}
	}
	e.applyFoldStage(hooks.StageUpdateMedia, entity, site, resp)
	return nil
}

func (e *Engine) applyFoldStage(stage hooks.Stage, entity models.LocalEntity, site *models.RemoteSite, resp *models.RemoteResponse) {
	payload := &models.Payload{ID: resp.ID, Status: resp.Status}
	if resp.Replicast != nil {
		payload.Replicast = *resp.Replicast
	}
	e.deps.Pipeline.Apply(stage, entity.Type(), payload, site)
}
