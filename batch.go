package bulkbatch

import (
	"time"

	"github.com/chararch/bulkbatch/status"
)

// UnknownTotalJobs is the TotalJobs value of a batch whose seed job has not finished yet.
const UnknownTotalJobs = -1

// Batch durable record of one bulk operation
type Batch struct {
	ID       string
	Type     string
	TenantID string

	TotalJobs     int
	JobsCreated   int
	JobsCompleted int
	JobsFailed    int

	InvocationsPerBatchJob int
	BatchJobsPerSeed       int
	SeedCursor             int
	SeedFinished           bool

	SeedJobDefinitionID    string
	MonitorJobDefinitionID string
	BatchJobDefinitionID   string
	ConfigurationRef       string

	Suspended    bool
	CreateUserID string
	StartTime    time.Time
	Version      int64
}

// PendingJobs number of created execution jobs that neither completed nor failed yet
func (b *Batch) PendingJobs() int {
	return b.JobsCreated - b.JobsCompleted - b.JobsFailed
}

// Finalizable reports whether the monitor job may delete the batch. Until seeding has finished the
// number of execution jobs is not final, so the counters alone never make a batch finalizable.
func (b *Batch) Finalizable() bool {
	return b.SeedFinished && b.JobsCompleted+b.JobsFailed == b.JobsCreated
}

// Status derives the batch status from flags and counters
func (b *Batch) Status() status.BatchStatus {
	switch {
	case b.Suspended:
		return status.SUSPENDED
	case !b.SeedFinished:
		return status.SEEDING
	case b.Finalizable():
		return status.FINALIZABLE
	default:
		return status.EXECUTING
	}
}

// BatchHistory record kept after a batch was finalized or deleted
type BatchHistory struct {
	ID            string
	Type          string
	TenantID      string
	TotalJobs     int
	JobsCreated   int
	JobsCompleted int
	JobsFailed    int
	CreateUserID  string
	StartTime     time.Time
	EndTime       time.Time
	Status        status.BatchStatus
}

func newBatchHistory(b *Batch, st status.BatchStatus, end time.Time) *BatchHistory {
	return &BatchHistory{
		ID:            b.ID,
		Type:          b.Type,
		TenantID:      b.TenantID,
		TotalJobs:     b.TotalJobs,
		JobsCreated:   b.JobsCreated,
		JobsCompleted: b.JobsCompleted,
		JobsFailed:    b.JobsFailed,
		CreateUserID:  b.CreateUserID,
		StartTime:     b.StartTime,
		EndTime:       end,
		Status:        st,
	}
}

// BatchStatistics job counts of a running batch
type BatchStatistics struct {
	BatchID       string
	Status        status.BatchStatus
	TotalJobs     int
	JobsCreated   int
	RemainingJobs int
	CompletedJobs int
	FailedJobs    int
	// JobStates job rows of the batch, seed and monitor jobs included, by their executor status
	JobStates map[status.JobStatus]int
}
