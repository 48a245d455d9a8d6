package bulkbatch

import (
	"time"

	"github.com/chararch/bulkbatch/status"
	"github.com/google/uuid"
)

// Phase which step of a batch a job drives
type Phase string

const (
	PhaseSeed    Phase = "seed"
	PhaseExecute Phase = "execute"
	PhaseMonitor Phase = "monitor"
)

const (
	SeedJobType    = "batch-seed-job"
	MonitorJobType = "batch-monitor-job"
)

// JobDeclaration binds a job type to the phase it represents; the executor routes acquired jobs with it.
type JobDeclaration struct {
	Phase   Phase
	JobType string
}

var (
	SeedJobDeclaration    = JobDeclaration{Phase: PhaseSeed, JobType: SeedJobType}
	MonitorJobDeclaration = JobDeclaration{Phase: PhaseMonitor, JobType: MonitorJobType}
)

// ExecutionJobDeclaration execution jobs use the handler type as job type
func ExecutionJobDeclaration(handlerType string) JobDeclaration {
	return JobDeclaration{Phase: PhaseExecute, JobType: handlerType}
}

// NewDefinition creates the job definition row of this declaration for batch
func (d JobDeclaration) NewDefinition(batch *Batch) *JobDefinition {
	return &JobDefinition{
		ID:               uuid.NewString(),
		BatchID:          batch.ID,
		JobType:          d.JobType,
		Phase:            d.Phase,
		JobConfiguration: batch.Type,
		TenantID:         batch.TenantID,
		Suspended:        batch.Suspended,
	}
}

// NewJob creates a due job row of this declaration for batch
func (d JobDeclaration) NewJob(batch *Batch, definitionID, configuration string, retries int, now time.Time) *Job {
	return &Job{
		ID:              uuid.NewString(),
		Type:            d.JobType,
		BatchID:         batch.ID,
		JobDefinitionID: definitionID,
		Configuration:   configuration,
		TenantID:        batch.TenantID,
		Retries:         retries,
		DueDate:         now,
		Suspended:       batch.Suspended,
		CreateTime:      now,
	}
}

// JobDefinition one per batch and phase; carries the suspension state new jobs inherit
type JobDefinition struct {
	ID               string
	BatchID          string
	JobType          string
	Phase            Phase
	JobConfiguration string
	TenantID         string
	Suspended        bool
}

// Job persisted job row acquired and executed by the JobExecutor
type Job struct {
	ID              string
	Type            string
	BatchID         string
	JobDefinitionID string
	// Configuration reference to the chunk configuration for execution jobs, empty otherwise
	Configuration    string
	TenantID         string
	Retries          int
	DueDate          time.Time
	LockOwner        string
	LockExpiration   time.Time
	Suspended        bool
	Failed           bool
	ExceptionMessage string
	CreateTime       time.Time
	Version          int64
}

// Status job status as seen by the executor at now
func (j *Job) Status(now time.Time) status.JobStatus {
	switch {
	case j.Failed:
		return status.FAILED
	case j.Suspended:
		return status.SUSPENDED_JOB
	case j.LockOwner != "" && j.LockExpiration.After(now):
		return status.LOCKED
	default:
		return status.PENDING
	}
}

func (j *Job) unlock() {
	j.LockOwner = ""
	j.LockExpiration = time.Time{}
}

// now returns the current time in UTC truncated to whole seconds, the precision every supported
// dialect stores job timestamps with.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
