package integration

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/erp/crmsync/internal/domain/integration"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// dateLayouts are tried in order when coercing date fields
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"2006/01/02",
}

// Normalizer turns raw source records into canonical entity shapes.
// Output depends only on the record and the mapping declaration, so re-running
// it over historical raw records reproduces identical entities.
type Normalizer struct {
	mappings *integration.MappingSet
}

// NewNormalizer creates a normalizer over a mapping declaration
func NewNormalizer(mappings *integration.MappingSet) *Normalizer {
	return &Normalizer{mappings: mappings}
}

// Normalize maps one raw record. Field-level problems are returned as issues
// alongside the entity, which is then flagged invalid when a required field is
// missing. A record that cannot be identified or has no mapping fails with a
// fatal *integration.NormalizationError.
func (n *Normalizer) Normalize(rec integration.RawRecord) (*integration.CanonicalEntity, []integration.FieldIssue, error) {
	sourceID := strings.TrimSpace(rec.SourceID)
	if sourceID == "" {
		return nil, nil, &integration.NormalizationError{
			EntityType: rec.EntityType,
			Issues:     []integration.FieldIssue{{Field: "source_id", Reason: "missing"}},
			Fatal:      true,
		}
	}
	mapping, ok := n.mappings.For(rec.EntityType)
	if !ok {
		return nil, nil, &integration.NormalizationError{
			EntityType: rec.EntityType,
			SourceID:   sourceID,
			Issues:     []integration.FieldIssue{{Field: "*", Reason: "no mapping declared for entity type"}},
			Fatal:      true,
		}
	}

	fields := make(map[string]any, len(mapping.Fields)+1)
	consumed := make(map[string]bool, len(mapping.Fields))
	var issues []integration.FieldIssue
	required, present := 0, 0

	for _, spec := range mapping.Fields {
		consumed[topKey(spec.Source)] = true
		if spec.Required {
			required++
		}
		raw, found := lookup(rec.Payload, spec.Source)
		if !found || raw == nil {
			if spec.Required {
				issues = append(issues, integration.FieldIssue{Field: spec.Target, Reason: "required field missing"})
			}
			continue
		}
		v, err := n.coerce(rec.Source, spec, raw)
		if err != nil {
			issues = append(issues, integration.FieldIssue{Field: spec.Target, Reason: err.Error()})
			continue
		}
		if v == nil {
			if spec.Required {
				issues = append(issues, integration.FieldIssue{Field: spec.Target, Reason: "required field empty"})
			}
			continue
		}
		fields[spec.Target] = v
		if spec.Required {
			present++
		}
	}

	overflow := make(map[string]any)
	for k, v := range rec.Payload {
		if !consumed[k] {
			overflow[k] = v
		}
	}
	if len(overflow) > 0 {
		fields[integration.OverflowField] = overflow
	}

	score := 1.0
	status := integration.ValidationStatusValid
	if required > 0 {
		score = float64(present) / float64(required)
		if present < required {
			status = integration.ValidationStatusInvalid
		}
	}

	hash, err := integration.ContentHash(fields, status)
	if err != nil {
		return nil, nil, &integration.NormalizationError{
			EntityType: rec.EntityType,
			SourceID:   sourceID,
			Issues:     []integration.FieldIssue{{Field: "*", Reason: "unhashable content: " + err.Error()}},
			Fatal:      true,
		}
	}

	return &integration.CanonicalEntity{
		CanonicalID:      integration.DeriveCanonicalID(rec.Source, rec.EntityType, sourceID),
		EntityType:       rec.EntityType,
		NormalizedFields: fields,
		SourceRefs:       []integration.SourceRef{{Source: rec.Source, SourceID: sourceID}},
		ValidationStatus: status,
		QualityScore:     score,
		ContentHash:      hash,
		IsActive:         true,
	}, issues, nil
}

// coerce converts a raw value to the declared type. A nil result means the
// value was present but empty.
func (n *Normalizer) coerce(source string, spec integration.FieldSpec, raw any) (any, error) {
	switch spec.Type {
	case integration.FieldTypeString:
		s, ok := scalarString(raw)
		if !ok {
			return nil, fmt.Errorf("cannot convert %T to string", raw)
		}
		s = norm.NFC.String(strings.TrimSpace(s))
		if s == "" {
			return nil, nil
		}
		return s, nil

	case integration.FieldTypeInt:
		switch v := raw.(type) {
		case float64:
			if v != math.Trunc(v) {
				return nil, fmt.Errorf("%v is not an integer", v)
			}
			return int64(v), nil
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		case json.Number:
			return v.Int64()
		case string:
			s := strings.TrimSpace(v)
			if s == "" {
				return nil, nil
			}
			i, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid integer %q", v)
			}
			return i, nil
		}
		return nil, fmt.Errorf("cannot convert %T to int", raw)

	case integration.FieldTypeFloat:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case json.Number:
			return v.Float64()
		case string:
			s := strings.TrimSpace(v)
			if s == "" {
				return nil, nil
			}
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q", v)
			}
			return f, nil
		}
		return nil, fmt.Errorf("cannot convert %T to float", raw)

	case integration.FieldTypeDecimal:
		var d decimal.Decimal
		switch v := raw.(type) {
		case float64:
			d = decimal.NewFromFloat(v)
		case int:
			d = decimal.NewFromInt(int64(v))
		case int64:
			d = decimal.NewFromInt(v)
		case json.Number:
			parsed, err := decimal.NewFromString(v.String())
			if err != nil {
				return nil, fmt.Errorf("invalid decimal %q", v)
			}
			d = parsed
		case string:
			s := strings.ReplaceAll(strings.TrimSpace(v), ",", "")
			if s == "" {
				return nil, nil
			}
			parsed, err := decimal.NewFromString(s)
			if err != nil {
				return nil, fmt.Errorf("invalid decimal %q", v)
			}
			d = parsed
		default:
			return nil, fmt.Errorf("cannot convert %T to decimal", raw)
		}
		return d.String(), nil

	case integration.FieldTypeBool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case float64:
			return v != 0, nil
		case json.Number:
			f, err := v.Float64()
			if err != nil {
				return nil, fmt.Errorf("invalid boolean %q", v)
			}
			return f != 0, nil
		case string:
			s := strings.ToLower(strings.TrimSpace(v))
			switch s {
			case "":
				return nil, nil
			case "y", "yes":
				return true, nil
			case "n", "no":
				return false, nil
			}
			b, err := strconv.ParseBool(s)
			if err != nil {
				return nil, fmt.Errorf("invalid boolean %q", v)
			}
			return b, nil
		}
		return nil, fmt.Errorf("cannot convert %T to bool", raw)

	case integration.FieldTypeDate:
		switch v := raw.(type) {
		case string:
			s := strings.TrimSpace(v)
			if s == "" {
				return nil, nil
			}
			for _, layout := range dateLayouts {
				if t, err := time.Parse(layout, s); err == nil {
					return t.UTC().Format(time.RFC3339), nil
				}
			}
			return nil, fmt.Errorf("unrecognized date %q", v)
		case float64:
			return time.Unix(int64(v), 0).UTC().Format(time.RFC3339), nil
		case json.Number:
			secs, err := v.Int64()
			if err != nil {
				return nil, fmt.Errorf("invalid epoch %q", v)
			}
			return time.Unix(secs, 0).UTC().Format(time.RFC3339), nil
		case time.Time:
			return v.UTC().Format(time.RFC3339), nil
		}
		return nil, fmt.Errorf("cannot convert %T to date", raw)

	case integration.FieldTypeRef:
		id, err := extractRef(raw)
		if err != nil || id == "" {
			return nil, err
		}
		if spec.RefEntity != "" {
			return integration.DeriveCanonicalID(source, spec.RefEntity, id).String(), nil
		}
		return id, nil
	}
	return nil, fmt.Errorf("unknown field type %q", spec.Type)
}

// extractRef pulls an identifier out of a scalar or an {"id": ...} object
func extractRef(raw any) (string, error) {
	if obj, ok := raw.(map[string]any); ok {
		for _, k := range []string{"id", "Id", "ID"} {
			if inner, ok := obj[k]; ok && inner != nil {
				return extractRef(inner)
			}
		}
		return "", fmt.Errorf("reference object has no id")
	}
	s, ok := scalarString(raw)
	if !ok {
		return "", fmt.Errorf("cannot convert %T to reference", raw)
	}
	return strings.TrimSpace(s), nil
}

func scalarString(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case json.Number:
		return v.String(), true
	case bool:
		return strconv.FormatBool(v), true
	}
	return "", false
}

// lookup resolves a dotted path inside a payload
func lookup(payload integration.Payload, path string) (any, bool) {
	var cur any = map[string]any(payload)
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func topKey(path string) string {
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return path[:i]
	}
	return path
}
