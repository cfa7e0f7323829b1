package telemetry

import (
	"context"
	"sort"
	"strings"

	"github.com/grafana/pyroscope-go"
)

// Profiling label keys
const (
	ProfilingLabelOperation  = "operation"
	ProfilingLabelEntityType = "entity_type"
	ProfilingLabelSyncMode   = "sync_mode"
	ProfilingLabelProjection = "projection"
	ProfilingLabelRoute      = "route"
	ProfilingLabelMethod     = "method"
)

// MaxLabelValueLength truncates label values to keep profiles small
const MaxLabelValueLength = 128

// highCardinalityLabels are never attached to profiles
var highCardinalityLabels = map[string]bool{
	"user_id":      true,
	"canonical_id": true,
	"request_id":   true,
	"trace_id":     true,
	"span_id":      true,
}

// WithProfilingLabels runs fn with Pyroscope labels attached to its samples
func WithProfilingLabels(ctx context.Context, labels map[string]string, fn func(context.Context)) {
	pairs := sanitizeLabels(labels)
	if len(pairs) == 0 {
		fn(ctx)
		return
	}
	pyroscope.TagWrapper(ctx, pyroscope.Labels(pairs...), fn)
}

// SyncLabels labels a reconciliation pass
func SyncLabels(entityType, mode string) map[string]string {
	return map[string]string{
		ProfilingLabelOperation:  "reconcile",
		ProfilingLabelEntityType: entityType,
		ProfilingLabelSyncMode:   mode,
	}
}

// ProjectionLabels labels a projection run
func ProjectionLabels(projection, entityType string) map[string]string {
	return map[string]string{
		ProfilingLabelOperation:  "project",
		ProfilingLabelProjection: projection,
		ProfilingLabelEntityType: entityType,
	}
}

// HTTPRequestLabels labels an HTTP handler
func HTTPRequestLabels(route, method string) map[string]string {
	return map[string]string{
		ProfilingLabelRoute:  route,
		ProfilingLabelMethod: method,
	}
}

// sanitizeLabels flattens labels into sorted key/value pairs, dropping
// empty and high-cardinality entries.
func sanitizeLabels(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k, v := range labels {
		if strings.TrimSpace(k) == "" || v == "" || highCardinalityLabels[strings.ToLower(k)] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		v := labels[k]
		if len(v) > MaxLabelValueLength {
			v = v[:MaxLabelValueLength]
		}
		pairs = append(pairs, k, v)
	}
	return pairs
}
