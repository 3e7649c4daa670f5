package metrics

import (
	"fmt"
	"sort"
	"strings"
)

// FormatPrometheus formats metrics in Prometheus text format.
// See: https://prometheus.io/docs/instrumenting/exposition_formats/
func FormatPrometheus(snap Snapshot) string {
	var sb strings.Builder

	writeScalar(&sb, "betty_uptime_seconds", "gauge", "Time since the service started", snap.Uptime)

	writeLabeled(&sb, "betty_requests_total", "counter", "Total number of requests by route", "route", snap.TotalRequests, false)
	writeLabeled(&sb, "betty_request_errors_total", "counter", "Total number of failed requests by route", "route", snap.RequestErrors, false)
	writeLabeled(&sb, "betty_requests_in_progress", "gauge", "Current number of requests being processed", "route", snap.RequestsInProgress, true)
	writeLabeled(&sb, "betty_request_duration_ms_total", "counter", "Total request duration in milliseconds", "route", snap.TotalRequestsDur, false)

	writeScalar(&sb, "betty_rate_limit_hits_total", "counter", "Total number of rate limit rejections", snap.RateLimitHits)
	masked := make(map[string]int64, len(snap.RateLimitByKey))
	for k, v := range snap.RateLimitByKey {
		masked[maskUserID(k)] += v
	}
	writeLabeled(&sb, "betty_rate_limit_by_user_total", "counter", "Rate limit hits by user", "user", masked, false)

	writeLabeled(&sb, "betty_streams_started_total", "counter", "Chat streams opened by model", "model", snap.StreamsStarted, false)
	writeLabeled(&sb, "betty_streams_ended_total", "counter", "Chat streams ended by status", "status", snap.StreamsEnded, false)
	writeScalar(&sb, "betty_stream_chunks_total", "counter", "Content frames sent to clients", snap.StreamChunks)
	writeScalar(&sb, "betty_stream_first_chunk_ms_total", "counter", "Sum of time to first chunk in milliseconds", snap.FirstChunkMs)
	writeScalar(&sb, "betty_stream_first_chunk_count", "counter", "Streams that produced a first chunk", snap.FirstChunkCount)
	writeLabeled(&sb, "betty_completion_tokens_total", "counter", "Estimated completion tokens by model", "model", snap.CompletionTokens, false)

	writeLabeled(&sb, "betty_adapter_requests_total", "counter", "Total requests to adapters", "adapter", snap.AdapterRequests, false)
	writeLabeled(&sb, "betty_adapter_errors_total", "counter", "Total adapter errors", "adapter", snap.AdapterErrors, false)
	writeLabeled(&sb, "betty_adapter_latency_ms_total", "counter", "Total adapter latency in milliseconds", "adapter", snap.AdapterLatency, false)

	return sb.String()
}

func writeScalar(sb *strings.Builder, name, kind, help string, value int64) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n%s %d\n\n", name, help, name, kind, name, value)
}

func writeLabeled(sb *strings.Builder, name, kind, help, label string, values map[string]int64, positiveOnly bool) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
	for _, key := range sortedKeys(values) {
		v := values[key]
		if positiveOnly && v <= 0 {
			continue
		}
		fmt.Fprintf(sb, "%s{%s=%q} %d\n", name, label, key, v)
	}
	sb.WriteString("\n")
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func maskUserID(userID string) string {
	if len(userID) <= 4 {
		return "user_***"
	}
	// Show last 4 characters only
	return "user_***" + userID[len(userID)-4:]
}
