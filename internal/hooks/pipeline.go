// Package hooks is the extension surface: optional modules (custom-field
// systems, multilingual systems) register ordered payload transforms that
// run at fixed stages of serialization and response folding.
package hooks

import (
	"sync"

	"github.com/replicast/replicast/internal/models"
)

// Stage identifies a fixed extension point.
type Stage string

const (
	StagePrepareCreate Stage = "prepare_create"
	StagePrepareUpdate Stage = "prepare_update"
	StageGetMeta       Stage = "get_meta"
	StageGetTerms      Stage = "get_terms"
	StageGetMedia      Stage = "get_media"
	StageUpdateObject  Stage = "update_object"
	StageUpdateTerms   Stage = "update_terms"
	StageUpdateMedia   Stage = "update_media"
)

// Transform rewrites a payload for one target site. Implementations must
// return the payload they were given (possibly mutated) or a replacement.
type Transform func(payload *models.Payload, site *models.RemoteSite) *models.Payload

// Pipeline holds registered transforms. For each stage, transforms bound to
// the payload's content type run first, then the generic ones, each group
// in registration order.
type Pipeline struct {
	mu      sync.RWMutex
	typed   map[Stage]map[models.Kind][]Transform
	generic map[Stage][]Transform
}

// NewPipeline creates an empty pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{
		typed:   make(map[Stage]map[models.Kind][]Transform),
		generic: make(map[Stage][]Transform),
	}
}

// Register appends a transform that runs for every content type.
func (p *Pipeline) Register(stage Stage, fn Transform) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generic[stage] = append(p.generic[stage], fn)
}

// RegisterFor appends a transform bound to one content type.
func (p *Pipeline) RegisterFor(stage Stage, kind models.Kind, fn Transform) {
	p.mu.Lock()
	defer p.mu.Unlock()
	byKind, ok := p.typed[stage]
	if !ok {
		byKind = make(map[models.Kind][]Transform)
		p.typed[stage] = byKind
	}
	byKind[kind] = append(byKind[kind], fn)
}

// Apply runs the stage's transforms over the payload.
func (p *Pipeline) Apply(stage Stage, kind models.Kind, payload *models.Payload, site *models.RemoteSite) *models.Payload {
	p.mu.RLock()
	var chain []Transform
	if byKind, ok := p.typed[stage]; ok {
		chain = append(chain, byKind[kind]...)
	}
	chain = append(chain, p.generic[stage]...)
	p.mu.RUnlock()

	for _, fn := range chain {
		if next := fn(payload, site); next != nil {
			payload = next
		}
	}
	return payload
}
