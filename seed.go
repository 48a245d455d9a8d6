package bulkbatch

import (
	"fmt"

	"github.com/chararch/bulkbatch/util"
)

// SeedStep turns the batch configuration into execution jobs, one page of chunks per invocation
type SeedStep struct {
	handlers  *HandlerRegistry
	retries   int
	listeners listeners
}

func (s *SeedStep) Execute(cmd *CommandContext, job *Job) (JobOutcome, error) {
	ctx := cmd.Context()
	tx := cmd.Tx()
	batch, err := loadBatch(cmd, job)
	if err != nil || batch == nil {
		return Done, err
	}
	if batch.Suspended {
		return Release, nil
	}
	if batch.SeedFinished {
		return Done, s.ensureMonitorJob(cmd, batch)
	}

	handler, be := s.handlers.mustHandler(batch.Type)
	if be != nil {
		return Done, be
	}
	data, err := cmd.ConfigStore().Get(cmd, batch.ConfigurationRef)
	if err != nil {
		return Done, err
	}
	cfg, err := handler.ReadConfiguration(data)
	if err != nil {
		return Done, NewBatchError(ErrCodeSerialization, "read batch configuration failed, batchId:%v", batch.ID, err)
	}
	cfg.BatchID = batch.ID

	page := util.Window(cfg.IDs, batch.SeedCursor, batch.InvocationsPerBatchJob*batch.BatchJobsPerSeed)
	chunks := util.Chunk(page, batch.InvocationsPerBatchJob)
	decl := ExecutionJobDeclaration(batch.Type)
	ts := now()
	for i, ids := range chunks {
		chunkCfg := handler.CreateChunkConfiguration(cfg, ids)
		chunkData, err := handler.WriteConfiguration(chunkCfg)
		if err != nil {
			return Done, NewBatchError(ErrCodeSerialization, "write chunk configuration failed, batchId:%v", batch.ID, err)
		}
		name := fmt.Sprintf("%s:%08d", batch.ID, batch.SeedCursor/batch.InvocationsPerBatchJob+i)
		ref, err := cmd.ConfigStore().Put(cmd, name, chunkData)
		if err != nil {
			return Done, err
		}
		if err = tx.InsertJob(ctx, decl.NewJob(batch, batch.BatchJobDefinitionID, ref, s.retries, ts)); err != nil {
			return Done, err
		}
	}
	if err = tx.IncrementBatchCounters(ctx, batch.ID, len(chunks), 0, 0); err != nil {
		return Done, err
	}
	batch.JobsCreated += len(chunks)
	batch.SeedCursor += len(page)
	s.listeners.chunksCreated(cmd, batch, len(chunks))

	if batch.SeedCursor < len(cfg.IDs) {
		logger.Debug(ctx, "seed page created, batchId:%v, chunks:%v, cursor:%v, total:%v", batch.ID, len(chunks), batch.SeedCursor, len(cfg.IDs))
		if err = tx.UpdateBatch(ctx, batch); err != nil {
			return Done, err
		}
		return Reschedule(0), nil
	}

	batch.SeedFinished = true
	batch.TotalJobs = batch.JobsCreated
	if err = cmd.ConfigStore().Delete(cmd, batch.ConfigurationRef); err != nil {
		return Done, err
	}
	batch.ConfigurationRef = ""
	if err = tx.UpdateBatch(ctx, batch); err != nil {
		return Done, err
	}
	logger.Info(ctx, "batch seeding finished, batchId:%v, ids:%v, jobs:%v", batch.ID, len(cfg.IDs), batch.TotalJobs)
	return Done, s.ensureMonitorJob(cmd, batch)
}

func (s *SeedStep) ensureMonitorJob(cmd *CommandContext, batch *Batch) error {
	jobs, err := cmd.Tx().FindJobsByBatch(cmd.Context(), batch.ID)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if j.Type == MonitorJobType {
			return nil
		}
	}
	monitor := MonitorJobDeclaration.NewJob(batch, batch.MonitorJobDefinitionID, "", s.retries, now())
	return cmd.Tx().InsertJob(cmd.Context(), monitor)
}

// OnFailure a seed job that ran out of retries leaves the batch unfinished; it stays visible until deleted
func (s *SeedStep) OnFailure(cmd *CommandContext, job *Job, cause error) error {
	logger.Error(cmd.Context(), "seed job failed, batch will not finish, jobId:%v, batchId:%v, err:%v", job.ID, job.BatchID, cause)
	return nil
}
