package preparer

import (
	"strconv"

	"github.com/replicast/replicast/internal/models"
)

// termLookup resolves a term's remote id on the target site.
type termLookup func(term models.Term) (int64, bool)

// resolveTerms rewrites a term tree into the envelope form, as a pure
// recursive function returning a new tree. A parent's remote id is resolved
// before its children are visited, so a child's parent field only ever
// carries a resolved remote id or the explicit zero.
func resolveTerms(tree []models.TermNode, siteID int64, lookup termLookup) map[int64]models.TermPayload {
	if len(tree) == 0 {
		return nil
	}
	out := make(map[int64]models.TermPayload, len(tree))
	for _, node := range tree {
		out[node.ID] = resolveTermNode(node, 0, siteID, lookup)
	}
	return out
}

func resolveTermNode(node models.TermNode, remoteParent int64, siteID int64, lookup termLookup) models.TermPayload {
	remoteID, _ := lookup(models.Term{ObjectID: node.ID, Taxonomy: node.Taxonomy})

	payload := models.TermPayload{
		TermID:   remoteID,
		Parent:   remoteParent,
		Taxonomy: node.Taxonomy,
		Name:     node.Name,
		Slug:     node.Slug,
		Meta:     stripPrivateMeta(node.Meta),
	}
	if len(node.Children) > 0 {
		payload.Children = make(map[int64]models.TermPayload, len(node.Children))
		for _, child := range node.Children {
			payload.Children[child.ID] = resolveTermNode(child, remoteID, siteID, lookup)
		}
	}
	return payload
}

func stripPrivateMeta(meta map[string][]string) map[string][]string {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string][]string, len(meta))
	for key, values := range meta {
		if isPrivateKey(key) {
			continue
		}
		out[key] = append([]string(nil), values...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
