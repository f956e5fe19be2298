package models

import "time"

// WorkerStatus reflects whether the worker process is running.
type WorkerStatus string

const (
	// WorkerStatusActive indicates the process is alive.
	WorkerStatusActive WorkerStatus = "active"
	// WorkerStatusStopped indicates the process has exited.
	WorkerStatusStopped WorkerStatus = "stopped"
)

// WorkerHealth is the supervisor's judgement of a worker, derived from
// its heartbeat rather than OS process-alive checks. A hung-but-alive
// worker shows up as WorkerHealthTimeout.
type WorkerHealth string

const (
	// WorkerHealthHealthy indicates a recent heartbeat.
	WorkerHealthHealthy WorkerHealth = "healthy"
	// WorkerHealthTimeout indicates the heartbeat is older than the
	// configured worker timeout, even if the process is still alive.
	WorkerHealthTimeout WorkerHealth = "timeout"
	// WorkerHealthStopped indicates the process has exited.
	WorkerHealthStopped WorkerHealth = "stopped"
)

// WorkerRecord is the supervisor-side view of one worker process.
// Records are owned exclusively by the pool supervisor; workers never
// mutate their own record. Heartbeats are observed externally.
type WorkerRecord struct {
	// ID is the unique identifier assigned at spawn time.
	ID string `json:"id"`
	// PID is the OS process ID.
	PID int `json:"pid"`
	// StartTime is when the process was spawned.
	StartTime time.Time `json:"start_time"`
	// LastHeartbeat is the most recent liveness signal observed.
	LastHeartbeat time.Time `json:"last_heartbeat"`
	// Status reflects process-alive state.
	Status WorkerStatus `json:"status"`
	// Health is derived from heartbeat age and process state.
	Health WorkerHealth `json:"health"`
}
