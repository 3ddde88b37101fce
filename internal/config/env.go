package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandEnv replaces ${NAME} and ${NAME:-default} inside string values of a
// JSON document. Keys and non-string values are left alone, so a secret
// containing quotes cannot break the document.
func expandEnv(jb []byte, lookup func(string) (string, bool)) ([]byte, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	// UseNumber keeps int64 ids (chat_id) exact through the round trip.
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("config json: %w", err)
	}
	return json.Marshal(expandValue(v, lookup))
}

func expandValue(in any, lookup func(string) (string, bool)) any {
	switch x := in.(type) {
	case string:
		return expandString(x, lookup)
	case map[string]any:
		for k, v := range x {
			x[k] = expandValue(v, lookup)
		}
		return x
	case []any:
		for i := range x {
			x[i] = expandValue(x[i], lookup)
		}
		return x
	default:
		return in
	}
}

func expandString(s string, lookup func(string) (string, bool)) string {
	return envRef.ReplaceAllStringFunc(s, func(m string) string {
		sub := envRef.FindStringSubmatch(m)
		if v, ok := lookup(sub[1]); ok && v != "" {
			return v
		}
		if sub[2] != "" {
			return sub[3]
		}
		return ""
	})
}
