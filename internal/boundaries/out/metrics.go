package out

import "time"

// MetricsRecorder defines the contract for publish run metrics.
type MetricsRecorder interface {
	// RecordRun records the outcome of one publish run.
	RecordRun(operation string, success bool, duration time.Duration)

	// RecordRollback records a rollback and whether it completed without errors.
	RecordRollback(success bool)

	// RecordSignatures records signatures created or removed.
	RecordSignatures(action string, count int)
}
