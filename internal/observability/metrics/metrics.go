package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// JobLabel identifies a transcode job event by pipeline kind ("remote" or
// "local") and outcome status.
type JobLabel struct {
	Kind   string
	Status string
}

// Recorder aggregates in-memory counters and gauges for HTTP requests,
// upload lifecycle events, transcode jobs, playback fallback activity, and
// watch notifications. All methods are safe for concurrent use.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	uploadEvents    map[string]uint64
	jobEvents       map[JobLabel]uint64
	tierAdvances    map[string]uint64
	playbackErrors  map[string]uint64
	watchEvents     map[string]uint64
	activePolls     atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		uploadEvents:    make(map[string]uint64),
		jobEvents:       make(map[JobLabel]uint64),
		tierAdvances:    make(map[string]uint64),
		playbackErrors:  make(map[string]uint64),
		watchEvents:     make(map[string]uint64),
	}
}

// Default returns the shared Recorder used when callers do not inject one.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest accumulates request count and cumulative duration by
// method, normalized path, and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// UploadEvent records an upload lifecycle event: "started", "stored",
// "submitted", "completed", or "failed".
func (r *Recorder) UploadEvent(event string) {
	r.increment(r.uploadEvents, event)
}

// JobEvent records a transcode job event for the given pipeline kind and
// status.
func (r *Recorder) JobEvent(kind, status string) {
	label := JobLabel{Kind: normalizeName(kind), Status: normalizeName(status)}
	r.mu.Lock()
	r.jobEvents[label]++
	r.mu.Unlock()
}

// TierAdvance records a playback session advancing to the named tier.
func (r *Recorder) TierAdvance(tier string) {
	r.increment(r.tierAdvances, tier)
}

// PlaybackError records a classified playback error.
func (r *Recorder) PlaybackError(class string) {
	r.increment(r.playbackErrors, class)
}

// WatchEvent records a watch notification: "start", "complete", or
// "dropped".
func (r *Recorder) WatchEvent(event string) {
	r.increment(r.watchEvents, event)
}

// PollStarted increments the active background poll gauge.
func (r *Recorder) PollStarted() {
	r.activePolls.Add(1)
}

// PollFinished decrements the active background poll gauge, guarding
// against racing below zero.
func (r *Recorder) PollFinished() {
	for {
		current := r.activePolls.Load()
		if current <= 0 {
			return
		}
		if r.activePolls.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func (r *Recorder) increment(target map[string]uint64, key string) {
	normalized := normalizeName(key)
	r.mu.Lock()
	target[normalized]++
	r.mu.Unlock()
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

func normalizePath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "/"
	}
	// Collapse per-resource path segments so label cardinality stays bounded.
	segments := strings.Split(trimmed, "/")
	for i, segment := range segments {
		if len(segment) > 24 {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}

// Handler exposes the recorder in text exposition format.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.write(w)
	})
}

func (r *Recorder) write(w http.ResponseWriter) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	fmt.Fprintln(w, "# HELP reelstream_http_requests_total Total HTTP requests by method, path, and status")
	fmt.Fprintln(w, "# TYPE reelstream_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "reelstream_http_requests_total{method=%q,path=%q,status=%q} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP reelstream_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE reelstream_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "reelstream_http_request_duration_seconds_sum{method=%q,path=%q,status=%q} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP reelstream_upload_events_total Upload lifecycle events by type")
	fmt.Fprintln(w, "# TYPE reelstream_upload_events_total counter")
	for _, event := range sortedKeys(r.uploadEvents) {
		fmt.Fprintf(w, "reelstream_upload_events_total{event=%q} %d\n", event, r.uploadEvents[event])
	}

	fmt.Fprintln(w, "# HELP reelstream_transcode_jobs_total Transcode job events by kind and status")
	fmt.Fprintln(w, "# TYPE reelstream_transcode_jobs_total counter")
	for _, label := range r.sortedJobLabels() {
		fmt.Fprintf(w, "reelstream_transcode_jobs_total{kind=%q,status=%q} %d\n", label.Kind, label.Status, r.jobEvents[label])
	}

	fmt.Fprintln(w, "# HELP reelstream_playback_tier_advances_total Playback fallback advances by destination tier")
	fmt.Fprintln(w, "# TYPE reelstream_playback_tier_advances_total counter")
	for _, tier := range sortedKeys(r.tierAdvances) {
		fmt.Fprintf(w, "reelstream_playback_tier_advances_total{tier=%q} %d\n", tier, r.tierAdvances[tier])
	}

	fmt.Fprintln(w, "# HELP reelstream_playback_errors_total Classified playback errors")
	fmt.Fprintln(w, "# TYPE reelstream_playback_errors_total counter")
	for _, class := range sortedKeys(r.playbackErrors) {
		fmt.Fprintf(w, "reelstream_playback_errors_total{class=%q} %d\n", class, r.playbackErrors[class])
	}

	fmt.Fprintln(w, "# HELP reelstream_watch_events_total Watch notifications by type")
	fmt.Fprintln(w, "# TYPE reelstream_watch_events_total counter")
	for _, event := range sortedKeys(r.watchEvents) {
		fmt.Fprintf(w, "reelstream_watch_events_total{event=%q} %d\n", event, r.watchEvents[event])
	}

	fmt.Fprintln(w, "# HELP reelstream_active_polls Current number of detached transcode polls in flight")
	fmt.Fprintln(w, "# TYPE reelstream_active_polls gauge")
	fmt.Fprintf(w, "reelstream_active_polls %d\n", r.activePolls.Load())
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedJobLabels() []JobLabel {
	labels := make([]JobLabel, 0, len(r.jobEvents))
	for label := range r.jobEvents {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Kind != labels[j].Kind {
			return labels[i].Kind < labels[j].Kind
		}
		return labels[i].Status < labels[j].Status
	})
	return labels
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
