package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

// configFormat picks the decoder for a config file. The extension decides;
// files without a known one are JSON when they start with '{'.
func configFormat(path string, data []byte) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML
	case ".json":
		return formatJSON
	}
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		return formatJSON
	}
	return formatYAML
}

// yamlToJSON re-encodes a YAML document as JSON so that both formats go
// through the same strict decoder.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	doc, err := jsonCompatible(doc, "")
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

// jsonCompatible rejects mapping keys that are not strings; the config has
// none and a number key is almost always an indentation mistake.
func jsonCompatible(v any, at string) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		for k, item := range x {
			conv, err := jsonCompatible(item, joinPath(at, k))
			if err != nil {
				return nil, err
			}
			x[k] = conv
		}
		return x, nil
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("yaml: %s: key %v is not a string", orRoot(at), k)
			}
			conv, err := jsonCompatible(item, joinPath(at, ks))
			if err != nil {
				return nil, err
			}
			out[ks] = conv
		}
		return out, nil
	case []any:
		for i, item := range x {
			conv, err := jsonCompatible(item, fmt.Sprintf("%s[%d]", orRoot(at), i))
			if err != nil {
				return nil, err
			}
			x[i] = conv
		}
		return x, nil
	default:
		return v, nil
	}
}

func joinPath(at, key string) string {
	if at == "" {
		return key
	}
	return at + "." + key
}

func orRoot(at string) string {
	if at == "" {
		return "<root>"
	}
	return at
}
