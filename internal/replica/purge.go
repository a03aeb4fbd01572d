package replica

import (
	"strings"
	"unicode/utf8"

	"canvas/internal/domain"
)

const (
	MaxContextItems    = 50
	MaxMetadataStrings = 2048
)

// transientKeys are interaction flags the host sets while a gesture is in
// progress. They never leave the client.
var transientKeys = map[string]struct{}{
	"dragging": {},
	"resizing": {},
}

// contextItemFields are the fields of a context item that are replicated.
var contextItemFields = []string{"type", "entityId", "title", "isPreview", "isCurrentContext"}

// Purge returns the replicated form of n: metadata keys starting with "_"
// and transient gesture flags are dropped, contextItems is capped at
// MaxContextItems entries of known fields, and metadata strings are cut to
// MaxMetadataStrings bytes at any depth. n is not modified.
func Purge(n domain.Node) domain.Node {
	out := n.Clone()
	if len(n.Data.Metadata) == 0 {
		return out
	}
	meta := make(map[string]any, len(n.Data.Metadata))
	for k, v := range out.Data.Metadata {
		if strings.HasPrefix(k, "_") {
			continue
		}
		if _, ok := transientKeys[k]; ok {
			continue
		}
		if k == domain.MetaContextItems {
			meta[k] = PurgeContextItems(v)
			continue
		}
		meta[k] = boundStrings(v)
	}
	out.Data.Metadata = meta
	return out
}

// PurgeContextItems caps items at MaxContextItems entries and keeps only
// the replicated fields of each. Entries that are not objects are dropped.
func PurgeContextItems(items any) []any {
	var list []map[string]any
	switch v := items.(type) {
	case []any:
		for _, it := range v {
			if m, ok := it.(map[string]any); ok {
				list = append(list, m)
			}
		}
	case []map[string]any:
		list = v
	}

	out := make([]any, 0, min(len(list), MaxContextItems))
	for _, it := range list {
		if len(out) == MaxContextItems {
			break
		}
		kept := make(map[string]any, len(contextItemFields))
		for _, f := range contextItemFields {
			v, ok := it[f]
			if !ok {
				continue
			}
			kept[f] = boundStrings(v)
		}
		out = append(out, kept)
	}
	return out
}

// StripEdge returns e without presentational state.
func StripEdge(e domain.Edge) domain.Edge {
	e.Style = nil
	e.Animated = false
	return e
}

// boundStrings truncates every string reachable from v through maps and
// slices. Containers are copied; other values are returned as-is.
func boundStrings(v any) any {
	switch vv := v.(type) {
	case string:
		return truncate(vv, MaxMetadataStrings)
	case map[string]any:
		out := make(map[string]any, len(vv))
		for k, x := range vv {
			out[k] = boundStrings(x)
		}
		return out
	case []any:
		out := make([]any, len(vv))
		for i, x := range vv {
			out[i] = boundStrings(x)
		}
		return out
	case []string:
		out := make([]string, len(vv))
		for i, x := range vv {
			out[i] = truncate(x, MaxMetadataStrings)
		}
		return out
	default:
		return v
	}
}

// truncate cuts s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
