package capabilities

import "time"

// Capability is the kind of work a model performs.
type Capability string

const (
	CapabilityEmbeddings          Capability = "embeddings"
	CapabilityPerplexity          Capability = "perplexity"
	CapabilityStructurePrediction Capability = "structure-prediction"
	CapabilityDirectedEvolution   Capability = "directed-evolution"
	CapabilityMolecularRepr       Capability = "molecular-representation"
)

// Model is a supported model selector. The set is closed: only the
// constants below are valid.
type Model string

const (
	ModelESM2        Model = "esm2"
	ModelESM2MLM     Model = "esm2-mlm"
	ModelESMFold     Model = "esmfold"
	ModelChai1       Model = "chai1"
	ModelEvoProtGrad Model = "evoprotgrad"
	ModelUniMol      Model = "unimol"
)

// Spec is the dispatch configuration of one model.
type Spec struct {
	Model      Model                  `json:"model"`
	Capability Capability             `json:"capability"`
	Checkpoint string                 `json:"checkpoint"`
	Subject    string                 `json:"subject"`
	Timeout    time.Duration          `json:"timeout"`
	ChunkSize  int                    `json:"chunk_size"`
	FailFast   bool                   `json:"fail_fast"`
	Params     map[string]interface{} `json:"params,omitempty"`
}

// MergeParams returns the spec defaults overlaid with params.
func (s Spec) MergeParams(params map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(s.Params)+len(params))
	for k, v := range s.Params {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}
	return merged
}
