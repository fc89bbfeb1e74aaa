package member

// Status describes how fresh the data in a Result is.
type Status int

const (
	// StatusFresh: the snapshot is inside the TTL or was just fetched.
	StatusFresh Status = iota
	// StatusStale: a refresh failed and an older snapshot is served instead.
	StatusStale
	// StatusFailed: the refresh failed and there is no snapshot to serve.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusFresh:
		return "fresh"
	case StatusStale:
		return "stale"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of a full roster request. Err is the failure behind a
// stale or failed result and nil for a fresh one.
type Result struct {
	Snapshot *Snapshot
	Status   Status
	Err      error
}

func (r Result) IsFresh() bool {
	return r.Status == StatusFresh
}

func (r Result) IsStale() bool {
	return r.Status == StatusStale
}

func (r Result) IsFailed() bool {
	return r.Status == StatusFailed
}

// Unwrap returns the snapshot, or the error when the result failed. Stale
// results unwrap without error.
func (r Result) Unwrap() (*Snapshot, error) {
	if r.IsFailed() {
		return nil, r.Err
	}
	return r.Snapshot, nil
}

func fresh(s *Snapshot) Result {
	return Result{Snapshot: s, Status: StatusFresh}
}

func stale(s *Snapshot, reason error) Result {
	return Result{Snapshot: s, Status: StatusStale, Err: reason}
}

func failed(err error) Result {
	return Result{Status: StatusFailed, Err: err}
}
