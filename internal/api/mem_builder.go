package api

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/vitaliisemenov/mhconfig/internal/core"
)

// MemBuilder is an in-memory Builder test double: Merge treats each
// document's Element as a map[string]any and applies later overrides on
// top of earlier ones by shallow key overwrite, mirroring the override
// semantics described for the real YAML merger without needing a parser.
type MemBuilder struct{}

// Merge folds rawConfigs left-to-right, later entries overwriting keys
// from earlier ones. Tombstoned entries are skipped.
func (MemBuilder) Merge(document string, rawConfigs []*core.RawConfig) (core.Element, error) {
	result := make(map[string]any)
	hasLive := false
	for _, rc := range rawConfigs {
		if rc.IsTombstone() {
			continue
		}
		m, ok := rc.Value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("api: mem builder expects map[string]any raw configs, got %T", rc.Value)
		}
		for k, v := range m {
			result[k] = v
		}
		hasLive = true
	}
	if !hasLive {
		return nil, fmt.Errorf("api: no live raw config to merge for %q", document)
	}
	return result, nil
}

// Optimize returns value unchanged: the in-memory double has no separate
// preprocessed representation.
func (MemBuilder) Optimize(value core.Element) (core.Element, error) {
	return value, nil
}

// LoadRawConfig decodes data as a YAML document into the map[string]any
// shape Merge expects. It does not resolve "reference_to"-style tags: the
// returned reference set is always empty (nil).
func (MemBuilder) LoadRawConfig(path string, data []byte) (core.Element, map[string]struct{}, error) {
	var value map[string]any
	if err := yaml.Unmarshal(data, &value); err != nil {
		return nil, nil, fmt.Errorf("api: mem builder failed to parse %q: %w", path, err)
	}
	return value, nil, nil
}
