package config

import "gopkg.in/yaml.v3"

// deepMerge returns base overlaid with over: nested maps merge recursively,
// any other value in over replaces the base value. Neither input is mutated.
func deepMerge(base, over map[string]any) map[string]any {
	if base == nil && over == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		if bm, ok := out[k].(map[string]any); ok {
			if om, ok := v.(map[string]any); ok {
				out[k] = deepMerge(bm, om)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// decode round-trips a merged raw document into a typed struct.
func decode(raw map[string]any, out any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}
