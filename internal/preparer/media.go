package preparer

import (
	"github.com/replicast/replicast/internal/hooks"
	"github.com/replicast/replicast/internal/models"
)

// prepareMedia builds the envelope's media map: one entry per referenced
// local media id (featured image, gallery entries, single-image fields),
// each carrying the destination-site id and the payload fields that
// reference it so the remote can relink after assigning its own ids.
func (p *Preparer) prepareMedia(payload *models.Payload, snap *models.Snapshot, site *models.RemoteSite) map[int64]models.MediaPayload {
	media := make(map[int64]models.MediaPayload)

	touch := func(localID int64, field string) {
		if localID == 0 {
			return
		}
		entry, ok := media[localID]
		if !ok {
			remoteID, _ := p.remoteID(models.Media{ObjectID: localID}, site.ID)
			entry = models.MediaPayload{ID: remoteID, Relations: map[string][]int64{}}
		}
		entry.Relations[field] = append(entry.Relations[field], entry.ID)
		media[localID] = entry
	}

	if snap.Featured != 0 {
		touch(snap.Featured, "featured_media")
	}
	for field, localIDs := range snap.MediaFields {
		for _, localID := range localIDs {
			touch(localID, field)
		}
	}

	if len(media) == 0 {
		return nil
	}

	payload.Replicast.Media = media
	payload = p.pipeline.Apply(hooks.StageGetMedia, snap.Kind, payload, site)
	return payload.Replicast.Media
}
