package projection

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/erp/crmsync/internal/domain/integration"
	jsonpatch "github.com/evanphx/json-patch/v5"
)

// applyFieldPatch applies the RFC 6902 patch of an Updated event to a field
// snapshot and returns the new snapshot
func applyFieldPatch(fields map[string]any, raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return fields, nil
	}
	patch, err := jsonpatch.DecodePatch(raw)
	if err != nil {
		return nil, fmt.Errorf("decode patch: %w", err)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	doc, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	patched, err := patch.Apply(doc)
	if err != nil {
		return nil, fmt.Errorf("apply patch: %w", err)
	}
	var out map[string]any
	if err := decodeJSON(patched, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// fieldChange is the effect of a patch on one top-level field
type fieldChange struct {
	Touched bool
	Value   any
}

// watchFields reports how a patch changes the named top-level fields without
// needing the previous document. Operations on nested paths are ignored.
func watchFields(raw json.RawMessage, names ...string) (map[string]fieldChange, error) {
	out := make(map[string]fieldChange, len(names))
	if len(raw) == 0 {
		return out, nil
	}
	patch, err := jsonpatch.DecodePatch(raw)
	if err != nil {
		return nil, fmt.Errorf("decode patch: %w", err)
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	for _, op := range patch {
		path, err := op.Path()
		if err != nil {
			return nil, err
		}
		kind := op.Kind()

		// A root replace carries the whole new document.
		if path == "" {
			if kind != "replace" && kind != "add" {
				continue
			}
			v, err := op.ValueInterface()
			if err != nil {
				return nil, err
			}
			doc, _ := v.(map[string]any)
			for n := range wanted {
				out[n] = fieldChange{Touched: true, Value: doc[n]}
			}
			continue
		}

		name, nested := topLevel(path)
		if nested || !wanted[name] {
			continue
		}
		switch kind {
		case "add", "replace":
			v, err := op.ValueInterface()
			if err != nil {
				return nil, err
			}
			out[name] = fieldChange{Touched: true, Value: v}
		case "remove":
			out[name] = fieldChange{Touched: true}
		}
	}
	return out, nil
}

// topLevel splits a JSON pointer into its first segment
func topLevel(pointer string) (string, bool) {
	p := strings.TrimPrefix(pointer, "/")
	seg, rest, found := strings.Cut(p, "/")
	seg = strings.ReplaceAll(strings.ReplaceAll(seg, "~1", "/"), "~0", "~")
	return seg, found && rest != ""
}

// stringField renders a field value as a string id or text
func stringField(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

// snapshotFields returns the full field set carried by a Created or
// Restored event
func snapshotFields(ev integration.DomainEvent) map[string]any {
	if ev.PayloadDelta.Fields == nil {
		return map[string]any{}
	}
	return ev.PayloadDelta.Fields
}
