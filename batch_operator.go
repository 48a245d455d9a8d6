package bulkbatch

import (
	"context"
	"encoding/json"

	"github.com/chararch/bulkbatch/internal/logs"
	"github.com/chararch/bulkbatch/status"
	"github.com/google/uuid"
)

// CreateBatchRequest describes a new bulk operation
type CreateBatchRequest struct {
	// Type handler type the batch is executed with
	Type     string
	TenantID string
	UserID   string
	IDs      []string
	// Payload operation arguments shared by every id, marshalled as JSON
	Payload interface{}
	// InvocationsPerBatchJob and BatchJobsPerSeed override the configured defaults when positive
	InvocationsPerBatchJob int
	BatchJobsPerSeed       int
}

// CreateBatch persists the batch, its configuration, the job definitions and the seed job in one transaction
func (e *Engine) CreateBatch(ctx context.Context, req CreateBatchRequest) (*Batch, error) {
	handler, be := e.handlers.mustHandler(req.Type)
	if be != nil {
		logger.Error(ctx, "create batch failed, type:%v, err:%v", req.Type, be)
		return nil, be
	}
	var cfg *BatchConfiguration
	if raw, ok := req.Payload.(json.RawMessage); ok {
		cfg = &BatchConfiguration{IDs: req.IDs, Payload: raw}
	} else {
		var err error
		if cfg, err = NewBatchConfiguration(req.IDs, req.Payload); err != nil {
			return nil, err
		}
	}

	batch := &Batch{
		ID:                     uuid.NewString(),
		Type:                   req.Type,
		TenantID:               req.TenantID,
		TotalJobs:              UnknownTotalJobs,
		InvocationsPerBatchJob: e.config.Batch.InvocationsPerBatchJob,
		BatchJobsPerSeed:       e.config.Batch.BatchJobsPerSeed,
		CreateUserID:           req.UserID,
		StartTime:              now(),
	}
	if req.InvocationsPerBatchJob > 0 {
		batch.InvocationsPerBatchJob = req.InvocationsPerBatchJob
	}
	if req.BatchJobsPerSeed > 0 {
		batch.BatchJobsPerSeed = req.BatchJobsPerSeed
	}
	cfg.BatchID = batch.ID
	ctx = logs.WithFields(ctx, "batchId", batch.ID)

	err := runCommand(ctx, e.txManager, e.newCommand(req.TenantID), func(cmd *CommandContext) error {
		data, err := handler.WriteConfiguration(cfg)
		if err != nil {
			return err
		}
		if batch.ConfigurationRef, err = cmd.ConfigStore().Put(cmd, batch.ID, data); err != nil {
			return err
		}
		seedDef := SeedJobDeclaration.NewDefinition(batch)
		monitorDef := MonitorJobDeclaration.NewDefinition(batch)
		execDef := ExecutionJobDeclaration(batch.Type).NewDefinition(batch)
		batch.SeedJobDefinitionID = seedDef.ID
		batch.MonitorJobDefinitionID = monitorDef.ID
		batch.BatchJobDefinitionID = execDef.ID

		tx := cmd.Tx()
		if err := tx.InsertBatch(cmd.Context(), batch); err != nil {
			return err
		}
		for _, def := range []*JobDefinition{seedDef, execDef, monitorDef} {
			if err := tx.InsertJobDefinition(cmd.Context(), def); err != nil {
				return err
			}
		}
		seed := SeedJobDeclaration.NewJob(batch, seedDef.ID, "", e.config.Executor.DefaultRetries, batch.StartTime)
		return tx.InsertJob(cmd.Context(), seed)
	})
	if err != nil {
		logger.Error(ctx, "create batch failed, type:%v, ids:%v, err:%v", req.Type, len(req.IDs), err)
		return nil, err
	}
	logger.Info(ctx, "batch created, type:%v, tenantId:%v, ids:%v, chunkSize:%v", batch.Type, batch.TenantID, len(req.IDs), batch.InvocationsPerBatchJob)
	return batch, nil
}

// FindBatch loads a running batch, nil when it does not exist (any more)
func (e *Engine) FindBatch(ctx context.Context, id string) (*Batch, error) {
	var batch *Batch
	err := runCommand(ctx, e.txManager, e.newCommand(""), func(cmd *CommandContext) error {
		var be BatchError
		batch, be = cmd.Tx().FindBatch(cmd.Context(), id)
		if be != nil {
			return be
		}
		return nil
	})
	return batch, err
}

// FindBatches running batches of tenantID
func (e *Engine) FindBatches(ctx context.Context, tenantID string) ([]*Batch, error) {
	var batches []*Batch
	err := runCommand(ctx, e.txManager, e.newCommand(tenantID), func(cmd *CommandContext) error {
		var be BatchError
		batches, be = cmd.Tx().FindBatches(cmd.Context(), tenantID)
		if be != nil {
			return be
		}
		return nil
	})
	return batches, err
}

// FindBatchHistory history record of a finalized or deleted batch, nil when there is none
func (e *Engine) FindBatchHistory(ctx context.Context, id string) (*BatchHistory, error) {
	var h *BatchHistory
	err := runCommand(ctx, e.txManager, e.newCommand(""), func(cmd *CommandContext) error {
		var be BatchError
		h, be = cmd.Tx().FindBatchHistory(cmd.Context(), id)
		if be != nil {
			return be
		}
		return nil
	})
	return h, err
}

// BatchStatistics job counts of a running batch
func (e *Engine) BatchStatistics(ctx context.Context, id string) (*BatchStatistics, error) {
	var stats *BatchStatistics
	err := runCommand(ctx, e.txManager, e.newCommand(""), func(cmd *CommandContext) error {
		batch, be := cmd.Tx().FindBatch(cmd.Context(), id)
		if be != nil {
			return be
		}
		if batch == nil {
			return NewBatchError(ErrCodeNotFound, "batch not found, batchId:%v", id)
		}
		jobs, be := cmd.Tx().FindJobsByBatch(cmd.Context(), id)
		if be != nil {
			return be
		}
		ts := now()
		states := make(map[status.JobStatus]int)
		for _, j := range jobs {
			states[j.Status(ts)]++
		}
		stats = &BatchStatistics{
			BatchID:       batch.ID,
			Status:        batch.Status(),
			TotalJobs:     batch.TotalJobs,
			JobsCreated:   batch.JobsCreated,
			RemainingJobs: batch.PendingJobs(),
			CompletedJobs: batch.JobsCompleted,
			FailedJobs:    batch.JobsFailed,
			JobStates:     states,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// SuspendBatch stops the batch's jobs from being acquired. Suspending a suspended batch does nothing.
func (e *Engine) SuspendBatch(ctx context.Context, id string) error {
	return e.setSuspended(ctx, id, true)
}

// ResumeBatch makes the jobs of a suspended batch acquirable again
func (e *Engine) ResumeBatch(ctx context.Context, id string) error {
	return e.setSuspended(ctx, id, false)
}

func (e *Engine) setSuspended(ctx context.Context, id string, suspended bool) error {
	ctx = logs.WithFields(ctx, "batchId", id)
	err := runCommand(ctx, e.txManager, e.newCommand(""), func(cmd *CommandContext) error {
		tx := cmd.Tx()
		batch, err := tx.FindBatch(cmd.Context(), id)
		if err != nil {
			return err
		}
		if batch == nil {
			return NewBatchError(ErrCodeNotFound, "batch not found, batchId:%v", id)
		}
		if batch.Suspended == suspended {
			return nil
		}
		batch.Suspended = suspended
		if err = tx.UpdateBatch(cmd.Context(), batch); err != nil {
			return err
		}
		if err = tx.SetJobDefinitionsSuspended(cmd.Context(), id, suspended); err != nil {
			return err
		}
		return tx.SetJobsSuspended(cmd.Context(), id, suspended)
	})
	if err != nil {
		logger.Error(ctx, "change batch suspension failed, suspended:%v, err:%v", suspended, err)
		return err
	}
	logger.Info(ctx, "batch suspension changed, suspended:%v", suspended)
	return nil
}

// DeleteBatch removes a batch with all its jobs and configurations, recording it as deleted
func (e *Engine) DeleteBatch(ctx context.Context, id string) error {
	ctx = logs.WithFields(ctx, "batchId", id)
	return runCommand(ctx, e.txManager, e.newCommand(""), func(cmd *CommandContext) error {
		batch, err := cmd.Tx().FindBatch(cmd.Context(), id)
		if err != nil {
			return err
		}
		if batch == nil {
			return NewBatchError(ErrCodeNotFound, "batch not found, batchId:%v", id)
		}
		return removeBatch(cmd, batch, status.DELETED, "")
	})
}
