package capabilities

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CatalogEntry overrides the dispatch settings of one model. Zero values
// leave the built-in setting untouched; params are merged key by key.
type CatalogEntry struct {
	Checkpoint string                 `yaml:"checkpoint"`
	Subject    string                 `yaml:"subject"`
	Timeout    string                 `yaml:"timeout"`
	ChunkSize  int                    `yaml:"chunk_size"`
	FailFast   *bool                  `yaml:"fail_fast"`
	Params     map[string]interface{} `yaml:"params"`
}

// Catalog is the YAML document read by LoadCatalog:
//
//	models:
//	  esmfold:
//	    timeout: 45m
//	    params:
//	      trunk_chunk_size: 32
type Catalog struct {
	Models map[string]CatalogEntry `yaml:"models"`
}

// ParseCatalog decodes a catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse model catalog: %w", err)
	}
	return &c, nil
}

// LoadCatalog builds a registry from the built-in table and the catalog file
// at path. An empty path yields the built-in table.
func LoadCatalog(path string) (*Registry, error) {
	r := NewRegistry()
	if path == "" {
		return r, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model catalog: %w", err)
	}
	c, err := ParseCatalog(data)
	if err != nil {
		return nil, err
	}
	if err := r.Apply(c); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Apply overlays catalog entries onto the registry. Entries naming a model
// outside the supported set are rejected; nothing is applied in that case.
func (r *Registry) Apply(c *Catalog) error {
	updated := make(map[Model]Spec, len(c.Models))
	for name, entry := range c.Models {
		s, ok := r.specs[Model(name)]
		if !ok {
			return fmt.Errorf("unknown model %q in catalog; supported models are: %v", name, r.Models())
		}
		if entry.Checkpoint != "" {
			s.Checkpoint = entry.Checkpoint
		}
		if entry.Subject != "" {
			s.Subject = entry.Subject
		}
		if entry.Timeout != "" {
			d, err := time.ParseDuration(entry.Timeout)
			if err != nil {
				return fmt.Errorf("model %q: invalid timeout: %w", name, err)
			}
			s.Timeout = d
		}
		if entry.ChunkSize < 0 {
			return fmt.Errorf("model %q: chunk_size must be positive", name)
		}
		if entry.ChunkSize > 0 {
			s.ChunkSize = entry.ChunkSize
		}
		if entry.FailFast != nil {
			s.FailFast = *entry.FailFast
		}
		if len(entry.Params) > 0 {
			s.Params = s.MergeParams(entry.Params)
		}
		updated[s.Model] = s
	}
	for m, s := range updated {
		r.specs[m] = s
	}
	return nil
}
