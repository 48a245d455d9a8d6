package bulkbatch

import (
	"fmt"
	"time"

	"github.com/chararch/bulkbatch/status"
)

type outcomeKind int

const (
	outcomeDone outcomeKind = iota
	outcomeReschedule
	outcomeRelease
)

// JobOutcome tells the executor what to do with the job row once its step returned without error.
// It is applied in the step's transaction.
type JobOutcome struct {
	kind  outcomeKind
	delay time.Duration
}

var (
	// Done deletes the job
	Done = JobOutcome{kind: outcomeDone}
	// Release unlocks the job unchanged, e.g. because its batch got suspended
	Release = JobOutcome{kind: outcomeRelease}
)

// Reschedule unlocks the job and makes it due again after delay
func Reschedule(delay time.Duration) JobOutcome {
	return JobOutcome{kind: outcomeReschedule, delay: delay}
}

func (o JobOutcome) String() string {
	switch o.kind {
	case outcomeDone:
		return "done"
	case outcomeRelease:
		return "release"
	}
	return fmt.Sprintf("reschedule(%v)", o.delay)
}

// jobStep behaviour behind one job phase
type jobStep interface {
	// Execute runs one invocation of job inside cmd's transaction
	Execute(cmd *CommandContext, job *Job) (JobOutcome, error)
	// OnFailure runs in the transaction that marks job failed after its retries ran out
	OnFailure(cmd *CommandContext, job *Job, cause error) error
}

// loadBatch loads the batch of job. A nil batch means it was deleted and the job is an orphan.
func loadBatch(cmd *CommandContext, job *Job) (*Batch, error) {
	batch, err := cmd.Tx().FindBatch(cmd.Context(), job.BatchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		logger.Warn(cmd.Context(), "batch of job not found, job will be removed, jobId:%v, batchId:%v", job.ID, job.BatchID)
	}
	return batch, nil
}

// removeBatch deletes the batch with every job except keepJobID, their configurations and the job definitions,
// leaving a history record with st.
func removeBatch(cmd *CommandContext, batch *Batch, st status.BatchStatus, keepJobID string) error {
	if !st.Terminal() {
		return NewBatchError(ErrCodeGeneral, "batch can not be removed with non terminal status:%v", st)
	}
	ctx := cmd.Context()
	tx := cmd.Tx()
	jobs, err := tx.FindJobsByBatch(ctx, batch.ID)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if j.ID == keepJobID {
			continue
		}
		if j.Configuration != "" {
			if err := cmd.ConfigStore().Delete(cmd, j.Configuration); err != nil {
				return err
			}
		}
		if err := tx.DeleteJob(ctx, j); err != nil {
			return err
		}
	}
	if batch.ConfigurationRef != "" {
		if err := cmd.ConfigStore().Delete(cmd, batch.ConfigurationRef); err != nil {
			return err
		}
	}
	if err := tx.DeleteJobDefinitions(ctx, batch.ID); err != nil {
		return err
	}
	if err := tx.InsertBatchHistory(ctx, newBatchHistory(batch, st, now())); err != nil {
		return err
	}
	if err := tx.DeleteBatch(ctx, batch.ID); err != nil {
		return err
	}
	logger.Info(ctx, "batch removed, batchId:%v, status:%v, jobsCreated:%v, jobsCompleted:%v, jobsFailed:%v", batch.ID, st, batch.JobsCreated, batch.JobsCompleted, batch.JobsFailed)
	return nil
}
