package metrics

import (
	"sync"
	"time"
)

// StreamStatus is how a chat stream ended.
type StreamStatus string

const (
	StreamCompleted StreamStatus = "completed"
	StreamErrored   StreamStatus = "errored"
	StreamCanceled  StreamStatus = "canceled"
)

// Collector tracks service counters in memory and renders them in the
// Prometheus text format.
type Collector struct {
	mu sync.RWMutex

	// Request metrics
	totalRequests      map[string]int64 // by route
	totalRequestsDur   map[string]int64 // total duration in ms
	requestErrors      map[string]int64 // by route
	requestsInProgress map[string]int64

	// Rate limit metrics
	rateLimitHits  int64
	rateLimitByKey map[string]int64 // by user

	// Stream metrics
	streamsStarted   map[string]int64 // by model
	streamsEnded     map[StreamStatus]int64
	streamChunks     int64
	firstChunkMs     int64 // sum of time-to-first-chunk
	firstChunkCount  int64
	completionTokens map[string]int64 // estimated, by model

	// Adapter metrics
	adapterRequests map[string]int64
	adapterErrors   map[string]int64
	adapterLatency  map[string]int64 // total latency in ms

	startTime time.Time
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		totalRequests:      make(map[string]int64),
		totalRequestsDur:   make(map[string]int64),
		requestErrors:      make(map[string]int64),
		requestsInProgress: make(map[string]int64),
		rateLimitByKey:     make(map[string]int64),
		streamsStarted:     make(map[string]int64),
		streamsEnded:       make(map[StreamStatus]int64),
		completionTokens:   make(map[string]int64),
		adapterRequests:    make(map[string]int64),
		adapterErrors:      make(map[string]int64),
		adapterLatency:     make(map[string]int64),
		startTime:          time.Now(),
	}
}

// RecordRequest records a finished request to a route.
func (c *Collector) RecordRequest(route string, duration time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests[route]++
	c.totalRequestsDur[route] += duration.Milliseconds()
}

// RecordError records a failed request to a route.
func (c *Collector) RecordError(route string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestErrors[route]++
}

// RecordRequestStart increments in-progress requests.
func (c *Collector) RecordRequestStart(route string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestsInProgress[route]++
}

// RecordRequestEnd decrements in-progress requests.
func (c *Collector) RecordRequestEnd(route string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestsInProgress[route]--
}

// RecordRateLimitHit records a rate limit rejection.
func (c *Collector) RecordRateLimitHit(key string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rateLimitHits++
	c.rateLimitByKey[key]++
}

// RecordStreamStart records a provider stream that opened for model.
func (c *Collector) RecordStreamStart(model string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.streamsStarted[model]++
}

// RecordStreamEnd records how a stream ended, the number of frames it sent
// and its time to first chunk. firstChunk is zero when no chunk arrived.
func (c *Collector) RecordStreamEnd(model string, status StreamStatus, chunks int, firstChunk time.Duration, tokens int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.streamsEnded[status]++
	c.streamChunks += int64(chunks)
	if firstChunk > 0 {
		c.firstChunkMs += firstChunk.Milliseconds()
		c.firstChunkCount++
	}
	if model != "" && tokens > 0 {
		c.completionTokens[model] += int64(tokens)
	}
}

// RecordAdapterRequest records a call to an upstream adapter.
func (c *Collector) RecordAdapterRequest(adapter string, duration time.Duration, err error) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.adapterRequests[adapter]++
	c.adapterLatency[adapter] += duration.Milliseconds()
	if err != nil {
		c.adapterErrors[adapter]++
	}
}

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	Uptime             int64
	TotalRequests      map[string]int64
	TotalRequestsDur   map[string]int64
	RequestErrors      map[string]int64
	RequestsInProgress map[string]int64
	RateLimitHits      int64
	RateLimitByKey     map[string]int64
	StreamsStarted     map[string]int64
	StreamsEnded       map[string]int64
	StreamChunks       int64
	FirstChunkMs       int64
	FirstChunkCount    int64
	CompletionTokens   map[string]int64
	AdapterRequests    map[string]int64
	AdapterErrors      map[string]int64
	AdapterLatency     map[string]int64
}

// GetSnapshot returns a snapshot of current metrics.
func (c *Collector) GetSnapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	ended := make(map[string]int64, len(c.streamsEnded))
	for k, v := range c.streamsEnded {
		ended[string(k)] = v
	}
	return Snapshot{
		Uptime:             int64(time.Since(c.startTime).Seconds()),
		TotalRequests:      copyMap(c.totalRequests),
		TotalRequestsDur:   copyMap(c.totalRequestsDur),
		RequestErrors:      copyMap(c.requestErrors),
		RequestsInProgress: copyMap(c.requestsInProgress),
		RateLimitHits:      c.rateLimitHits,
		RateLimitByKey:     copyMap(c.rateLimitByKey),
		StreamsStarted:     copyMap(c.streamsStarted),
		StreamsEnded:       ended,
		StreamChunks:       c.streamChunks,
		FirstChunkMs:       c.firstChunkMs,
		FirstChunkCount:    c.firstChunkCount,
		CompletionTokens:   copyMap(c.completionTokens),
		AdapterRequests:    copyMap(c.adapterRequests),
		AdapterErrors:      copyMap(c.adapterErrors),
		AdapterLatency:     copyMap(c.adapterLatency),
	}
}

func copyMap(m map[string]int64) map[string]int64 {
	result := make(map[string]int64, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}
