package core

import (
	"context"
	"maps"
)

// Metric names emitted by the engine. Every operation also reports
// cloudauth.<operation>.total and cloudauth.<operation>.duration_ms tagged
// with status, provider_id and, for refreshes, trigger.
const (
	// MetricRefreshProviderCalls counts refresh requests that reached a
	// provider token endpoint. Callers that joined a running flight are not
	// counted.
	MetricRefreshProviderCalls = "cloudauth.refresh.provider_calls.total"
	// MetricCredentialsDeactivated counts credentials moved to needs_reauth,
	// tagged with provider_id and reason.
	MetricCredentialsDeactivated = "cloudauth.credential.deactivated.total"
)

func operationCounterName(operation string) string {
	return "cloudauth." + operation + ".total"
}

func operationDurationName(operation string) string {
	return "cloudauth." + operation + ".duration_ms"
}

// NopMetricsRecorder drops every sample. It is the default recorder.
type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

// cloneTags hands recorders their own tag map.
func cloneTags(tags map[string]string) map[string]string {
	copied := make(map[string]string, len(tags))
	maps.Copy(copied, tags)
	return copied
}

var _ MetricsRecorder = NopMetricsRecorder{}
