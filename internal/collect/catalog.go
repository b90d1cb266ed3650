package collect

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// SourceSpec is the catalog entry for one data source: its contribution weight
// in the overall quality score, the payload kind its data is validated as, and
// the base timeout that timeout strategies scale.
type SourceSpec struct {
	Name        string        `yaml:"name"`
	Kind        string        `yaml:"kind"`
	Weight      float64       `yaml:"weight"`
	BaseTimeout time.Duration `yaml:"base_timeout"`
}

// Catalog holds the full source table keyed by source name. Weights are
// expected to sum to 1.0 across the catalog; scoring normalizes over attempted
// sources so drift only skews relative contributions.
type Catalog map[string]SourceSpec

// LoadCatalog reads a YAML source table.
func LoadCatalog(path string) (Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "collect: read catalog %s", path)
	}

	var entries []SourceSpec
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, eris.Wrapf(err, "collect: parse catalog %s", path)
	}
	return NewCatalog(entries), nil
}

// NewCatalog builds a catalog from entries, applying defaults.
func NewCatalog(entries []SourceSpec) Catalog {
	cat := make(Catalog, len(entries))
	for _, e := range entries {
		if e.BaseTimeout <= 0 {
			e.BaseTimeout = 10 * time.Second
		}
		cat[e.Name] = e
	}
	return cat
}
