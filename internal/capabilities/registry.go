// Package capabilities holds the closed set of supported models and the
// dispatch settings of each.
package capabilities

import (
	"fmt"
	"sort"
	"time"
)

// SubjectPrefix is the NATS subject prefix under which workers consume
// chunk requests for a model.
const SubjectPrefix = "helix.infer."

// UnsupportedModelError is returned when a selector is not in the supported
// set for the requested capability.
type UnsupportedModelError struct {
	Name       string
	Capability Capability
	Supported  []Model
}

func (e *UnsupportedModelError) Error() string {
	return fmt.Sprintf("model %q is not supported for %s; supported models are: %v",
		e.Name, e.Capability, e.Supported)
}

func builtinSpecs() []Spec {
	return []Spec{
		{
			Model:      ModelESM2,
			Capability: CapabilityEmbeddings,
			Checkpoint: "facebook/esm2_t36_3B_UR50D",
			Timeout:    2000 * time.Second,
			ChunkSize:  8,
			Params: map[string]interface{}{
				"output_hidden_states": false,
				"output_attentions":    false,
			},
		},
		{
			Model:      ModelESM2MLM,
			Capability: CapabilityPerplexity,
			Checkpoint: "facebook/esm2_t36_3B_UR50D",
			Timeout:    2000 * time.Second,
			ChunkSize:  1,
			Params:     map[string]interface{}{"batch_size": 32},
		},
		{
			Model:      ModelESMFold,
			Capability: CapabilityStructurePrediction,
			Checkpoint: "facebook/esmfold_v1",
			Timeout:    2000 * time.Second,
			ChunkSize:  1,
			Params:     map[string]interface{}{"trunk_chunk_size": 64},
		},
		{
			Model:      ModelChai1,
			Capability: CapabilityStructurePrediction,
			Checkpoint: "chai-1",
			Timeout:    6000 * time.Second,
			ChunkSize:  1,
			FailFast:   true,
		},
		{
			Model:      ModelEvoProtGrad,
			Capability: CapabilityDirectedEvolution,
			Checkpoint: "evo_prot_grad",
			Timeout:    2000 * time.Second,
			ChunkSize:  30,
			Params: map[string]interface{}{
				"temperature": 1.0,
			},
		},
		{
			Model:      ModelUniMol,
			Capability: CapabilityMolecularRepr,
			Checkpoint: "unimol_tools",
			Timeout:    3600 * time.Second,
			ChunkSize:  30,
			Params: map[string]interface{}{
				"data_type":           "molecule",
				"remove_hs":           false,
				"return_atomic_reprs": true,
			},
		},
	}
}

// Registry is the set of supported models, built once at startup and
// passed to the services that dispatch to them.
type Registry struct {
	specs map[Model]Spec
}

// NewRegistry returns a registry holding the built-in model table.
func NewRegistry() *Registry {
	r := &Registry{specs: make(map[Model]Spec)}
	for _, s := range builtinSpecs() {
		s.Subject = SubjectPrefix + string(s.Model)
		r.specs[s.Model] = s
	}
	return r
}

// Lookup returns the spec of a known model.
func (r *Registry) Lookup(m Model) (Spec, bool) {
	s, ok := r.specs[m]
	return s, ok
}

// Models returns every model, sorted by name.
func (r *Registry) Models() []Model {
	models := make([]Model, 0, len(r.specs))
	for m := range r.specs {
		models = append(models, m)
	}
	sort.Slice(models, func(i, j int) bool { return models[i] < models[j] })
	return models
}

// Supported returns the models providing capability, sorted by name.
func (r *Registry) Supported(capability Capability) []Model {
	var models []Model
	for _, m := range r.Models() {
		if r.specs[m].Capability == capability {
			models = append(models, m)
		}
	}
	return models
}

// Resolve maps a selector to its spec, failing with *UnsupportedModelError
// when name is unknown or does not provide capability.
func (r *Registry) Resolve(name string, capability Capability) (Spec, error) {
	s, ok := r.specs[Model(name)]
	if !ok || s.Capability != capability {
		return Spec{}, &UnsupportedModelError{
			Name:       name,
			Capability: capability,
			Supported:  r.Supported(capability),
		}
	}
	return s, nil
}
