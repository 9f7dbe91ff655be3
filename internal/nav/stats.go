package nav

import "sync"

// PipelineStats tracks pipeline activity counters. Incremented from the apply
// context, the poller and the debounce timers, read by the status endpoint.
type PipelineStats struct {
	mu              sync.Mutex
	fetchesIssued   int64
	applied         int64
	staleDrops      int64
	fetchErrors     int64
	cancellations   int64
	pollSweeps      int64
	eventsEmitted   int64
	dedupSuppressed int64
	placeholders    int64
	debounceFires   int64
}

func (ps *PipelineStats) IncrFetchesIssued() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.fetchesIssued++
}

func (ps *PipelineStats) IncrApplied() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.applied++
}

func (ps *PipelineStats) IncrStaleDrops() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.staleDrops++
}

func (ps *PipelineStats) IncrFetchErrors() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.fetchErrors++
}

func (ps *PipelineStats) IncrCancellations() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.cancellations++
}

func (ps *PipelineStats) IncrPollSweeps() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.pollSweeps++
}

func (ps *PipelineStats) IncrEventsEmitted() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.eventsEmitted++
}

func (ps *PipelineStats) IncrDedupSuppressed() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.dedupSuppressed++
}

func (ps *PipelineStats) IncrPlaceholders() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.placeholders++
}

func (ps *PipelineStats) IncrDebounceFires() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.debounceFires++
}

// StatsSnapshot is the JSON form served by the status endpoint.
type StatsSnapshot struct {
	FetchesIssued   int64 `json:"fetches_issued"`
	Applied         int64 `json:"applied"`
	StaleDrops      int64 `json:"stale_drops"`
	FetchErrors     int64 `json:"fetch_errors"`
	Cancellations   int64 `json:"cancellations"`
	PollSweeps      int64 `json:"poll_sweeps"`
	EventsEmitted   int64 `json:"events_emitted"`
	DedupSuppressed int64 `json:"dedup_suppressed"`
	Placeholders    int64 `json:"placeholders"`
	DebounceFires   int64 `json:"debounce_fires"`
}

// Snapshot returns a point-in-time copy of all counters.
func (ps *PipelineStats) Snapshot() StatsSnapshot {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return StatsSnapshot{
		FetchesIssued:   ps.fetchesIssued,
		Applied:         ps.applied,
		StaleDrops:      ps.staleDrops,
		FetchErrors:     ps.fetchErrors,
		Cancellations:   ps.cancellations,
		PollSweeps:      ps.pollSweeps,
		EventsEmitted:   ps.eventsEmitted,
		DedupSuppressed: ps.dedupSuppressed,
		Placeholders:    ps.placeholders,
		DebounceFires:   ps.debounceFires,
	}
}
