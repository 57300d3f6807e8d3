package snapshot

// ExecutionStatus is the engine-level state tracked per snapshot.
type ExecutionStatus string

const (
	ExecutionStatusRunCreated              ExecutionStatus = "RUN_CREATED"
	ExecutionStatusQueued                  ExecutionStatus = "QUEUED"
	ExecutionStatusDequeued                ExecutionStatus = "DEQUEUED"
	ExecutionStatusExecuting               ExecutionStatus = "EXECUTING"
	ExecutionStatusExecutingWithWaitpoints ExecutionStatus = "EXECUTING_WITH_WAITPOINTS"
	ExecutionStatusFinished                ExecutionStatus = "FINISHED"
)

// legalTransitions is the run state machine. A transition not listed here
// fails with a StateError. EXECUTING and EXECUTING_WITH_WAITPOINTS permit
// self-transitions: retries re-enter EXECUTING and additional waitpoints can
// attach while already blocked. Both executing states can re-queue, since an
// attempt may fail with a delayed retry while the run is blocked.
var legalTransitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionStatusRunCreated: {
		ExecutionStatusQueued,
	},
	ExecutionStatusQueued: {
		ExecutionStatusDequeued,
		ExecutionStatusFinished,
	},
	ExecutionStatusDequeued: {
		ExecutionStatusExecuting,
		ExecutionStatusQueued,
		ExecutionStatusFinished,
	},
	ExecutionStatusExecuting: {
		ExecutionStatusExecuting,
		ExecutionStatusExecutingWithWaitpoints,
		ExecutionStatusQueued,
		ExecutionStatusFinished,
	},
	ExecutionStatusExecutingWithWaitpoints: {
		ExecutionStatusExecutingWithWaitpoints,
		ExecutionStatusExecuting,
		ExecutionStatusQueued,
		ExecutionStatusFinished,
	},
	ExecutionStatusFinished: {},
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	for _, allowed := range legalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Finished reports whether the status is terminal.
func (s ExecutionStatus) Finished() bool {
	return s == ExecutionStatusFinished
}
