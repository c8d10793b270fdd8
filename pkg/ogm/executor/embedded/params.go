package embedded

import (
	"github.com/conduit-lang/ogm/pkg/ogm/executor"
)

// params reads the structured inputs of a statement. Missing or mistyped
// entries read as zero values; the statement constructors always set them.
type params map[string]any

func (p params) int(key string) int64 {
	return toInt(p[key])
}

func (p params) list(key string) []any {
	switch v := p[key].(type) {
	case []any:
		return v
	case []int64:
		out := make([]any, len(v))
		for i, n := range v {
			out[i] = n
		}
		return out
	case []map[string]any:
		out := make([]any, len(v))
		for i, m := range v {
			out[i] = m
		}
		return out
	}
	return nil
}

func (p params) props(key string) map[string]any {
	return asMap(p[key])
}

func asMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok && m != nil {
		return m
	}
	return map[string]any{}
}

func toInt(v any) int64 {
	n, _ := executor.AsInt64(v)
	return n
}
