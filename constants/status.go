package constants

// JobState is the canonical lifecycle state for rows in jobs.
type JobState string

// Stable values (store these exact strings in DB).
const (
	JobStateCreated   JobState = "CREATED"   // record written, not yet visible to workers
	JobStateQueued    JobState = "QUEUED"    // waiting for a worker or a backend submit
	JobStateRunning   JobState = "RUNNING"   // claimed, in progress
	JobStateSucceeded JobState = "SUCCEEDED" // terminal, output populated
	JobStateFailed    JobState = "FAILED"    // terminal, error code populated
	JobStateRetrying  JobState = "RETRYING"  // failed, waiting out backoff
)

// validTransitions is the complete lifecycle graph. The store rejects any
// edge not listed here.
var validTransitions = map[JobState][]JobState{
	JobStateCreated:   {JobStateQueued},
	JobStateQueued:    {JobStateRunning, JobStateFailed},
	JobStateRunning:   {JobStateSucceeded, JobStateFailed, JobStateRetrying},
	JobStateRetrying:  {JobStateQueued},
	JobStateSucceeded: {},
	JobStateFailed:    {},
}

// CanTransitionTo reports whether the edge s -> to exists in the graph.
func (s JobState) CanTransitionTo(to JobState) bool {
	for _, next := range validTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the state has no outgoing edges.
func (s JobState) Terminal() bool {
	return len(validTransitions[s]) == 0 && s.Valid()
}

// Valid reports whether s is one of the known states.
func (s JobState) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

func (s JobState) String() string {
	return string(s)
}
