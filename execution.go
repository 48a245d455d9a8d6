package bulkbatch

// ExecutionStep runs the batch's handler over one chunk
type ExecutionStep struct {
	handlers  *HandlerRegistry
	listeners listeners
}

func (s *ExecutionStep) Execute(cmd *CommandContext, job *Job) (JobOutcome, error) {
	ctx := cmd.Context()
	batch, err := loadBatch(cmd, job)
	if err != nil {
		return Done, err
	}
	if batch == nil {
		if job.Configuration != "" {
			return Done, cmd.ConfigStore().Delete(cmd, job.Configuration)
		}
		return Done, nil
	}
	if batch.Suspended {
		return Release, nil
	}

	handler, be := s.handlers.mustHandler(batch.Type)
	if be != nil {
		return Done, be
	}
	data, err := cmd.ConfigStore().Get(cmd, job.Configuration)
	if err != nil {
		return Done, err
	}
	cfg, err := handler.ReadConfiguration(data)
	if err != nil {
		return Done, NewBatchError(ErrCodeSerialization, "read chunk configuration failed, jobId:%v", job.ID, err)
	}
	chunk := &ChunkContext{
		Batch:            batch,
		Job:              job,
		ConfigurationRef: job.Configuration,
		Configuration:    cfg,
		TenantID:         job.TenantID,
	}
	if err = handler.Execute(cmd, chunk); err != nil {
		return Done, err
	}
	// handlers delete their chunk configuration themselves; this only catches the ones that do not
	if err = chunk.DeleteConfiguration(cmd); err != nil {
		return Done, err
	}
	if err = cmd.Tx().IncrementBatchCounters(ctx, batch.ID, 0, 1, 0); err != nil {
		return Done, err
	}
	batch.JobsCompleted++
	s.listeners.chunkCompleted(cmd, batch, job)
	logger.Debug(ctx, "chunk executed, batchId:%v, jobId:%v, ids:%v", batch.ID, job.ID, len(cfg.IDs))
	return Done, nil
}

// OnFailure counts the chunk as failed; its configuration stays until the batch is removed
func (s *ExecutionStep) OnFailure(cmd *CommandContext, job *Job, cause error) error {
	batch, err := cmd.Tx().FindBatch(cmd.Context(), job.BatchID)
	if err != nil || batch == nil {
		return err
	}
	if err = cmd.Tx().IncrementBatchCounters(cmd.Context(), batch.ID, 0, 0, 1); err != nil {
		return err
	}
	batch.JobsFailed++
	s.listeners.chunkFailed(cmd, batch, job, cause)
	return nil
}
