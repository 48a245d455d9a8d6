package bulkbatch

import (
	"time"

	"github.com/chararch/bulkbatch/status"
)

// MonitorStep polls the batch counters and removes the batch once every execution job completed or failed
type MonitorStep struct {
	pollInterval time.Duration
	listeners    listeners
}

func (s *MonitorStep) Execute(cmd *CommandContext, job *Job) (JobOutcome, error) {
	batch, err := loadBatch(cmd, job)
	if err != nil || batch == nil {
		return Done, err
	}
	if batch.Suspended {
		return Release, nil
	}
	if !batch.Finalizable() {
		logger.Debug(cmd.Context(), "batch not finished yet, batchId:%v, seedFinished:%v, created:%v, completed:%v, failed:%v",
			batch.ID, batch.SeedFinished, batch.JobsCreated, batch.JobsCompleted, batch.JobsFailed)
		return Reschedule(s.pollInterval), nil
	}
	if err = removeBatch(cmd, batch, status.COMPLETED, job.ID); err != nil {
		return Done, err
	}
	s.listeners.batchFinalized(cmd, batch)
	return Done, nil
}

// OnFailure the batch stays in place and can still be deleted explicitly
func (s *MonitorStep) OnFailure(cmd *CommandContext, job *Job, cause error) error {
	logger.Error(cmd.Context(), "monitor job failed, batch will not be finalized, jobId:%v, batchId:%v, err:%v", job.ID, job.BatchID, cause)
	return nil
}
