package bulkbatch

import (
	"context"
	"testing"
	"time"

	"github.com/bmizerany/assert"
	"github.com/chararch/bulkbatch/status"
	"github.com/google/uuid"
)

func insertBatch(t *testing.T, engine *Engine, batch *Batch) {
	err := runCommand(context.Background(), engine.txManager, engine.newCommand(""), func(cmd *CommandContext) error {
		return cmd.Tx().InsertBatch(cmd.Context(), batch)
	})
	assert.Equal(t, nil, err)
}

func runMonitor(t *testing.T, engine *Engine, batch *Batch) JobOutcome {
	var outcome JobOutcome
	job := MonitorJobDeclaration.NewJob(batch, batch.MonitorJobDefinitionID, "", 3, now())
	err := runCommand(context.Background(), engine.txManager, engine.newCommand(""), func(cmd *CommandContext) error {
		var err error
		outcome, err = engine.monitor.Execute(cmd, job)
		return err
	})
	assert.Equal(t, nil, err)
	return outcome
}

func TestMonitor_WaitsForSeed(t *testing.T) {
	db := openTestDB(t)
	cfg := testConfig()
	cfg.Batch.MonitorPollInterval = cfg.Executor.LockTime
	engine := newTestEngine(t, db, cfg)
	ctx := context.Background()

	// every chunk created so far is done, but the seed job has not finished
	batch := &Batch{
		ID: uuid.NewString(), Type: testType, TotalJobs: UnknownTotalJobs,
		JobsCreated: 4, JobsCompleted: 3, JobsFailed: 1,
		InvocationsPerBatchJob: 5, BatchJobsPerSeed: 2, SeedCursor: 20, StartTime: now(),
	}
	insertBatch(t, engine, batch)
	outcome := runMonitor(t, engine, batch)
	assert.Equal(t, Reschedule(cfg.Executor.LockTime), outcome)
	found, _ := engine.FindBatch(ctx, batch.ID)
	assert.T(t, found != nil)

	found.SeedFinished = true
	found.TotalJobs = 4
	err := runCommand(ctx, engine.txManager, engine.newCommand(""), func(cmd *CommandContext) error {
		return cmd.Tx().UpdateBatch(cmd.Context(), found)
	})
	assert.Equal(t, nil, err)
	assert.Equal(t, Done, runMonitor(t, engine, batch))
	found, _ = engine.FindBatch(ctx, batch.ID)
	assert.T(t, found == nil)
}

func TestMonitor_PendingChunks(t *testing.T) {
	db := openTestDB(t)
	engine := newTestEngine(t, db, nil)
	batch := &Batch{
		ID: uuid.NewString(), Type: testType, TotalJobs: 3, SeedFinished: true,
		JobsCreated: 3, JobsCompleted: 1, JobsFailed: 1,
		InvocationsPerBatchJob: 5, BatchJobsPerSeed: 2, StartTime: now(),
	}
	insertBatch(t, engine, batch)
	assert.Equal(t, Reschedule(0), runMonitor(t, engine, batch))

	batch.Suspended = true
	suspended := *batch
	suspended.ID = uuid.NewString()
	insertBatch(t, engine, &suspended)
	assert.Equal(t, Release, runMonitor(t, engine, &suspended))
}

func TestBatch_Status(t *testing.T) {
	b := &Batch{TotalJobs: UnknownTotalJobs, JobsCreated: 2, JobsCompleted: 2}
	assert.Equal(t, false, b.Finalizable())
	b.SeedFinished = true
	assert.Equal(t, true, b.Finalizable())
	b.JobsCreated = 3
	assert.Equal(t, false, b.Finalizable())
	assert.Equal(t, 1, b.PendingJobs())
	b.Suspended = true
	assert.Equal(t, "SUSPENDED", string(b.Status()))
	assert.Equal(t, false, b.Status().Terminal())
	assert.Equal(t, true, status.COMPLETED.Terminal())
	assert.Equal(t, true, status.DELETED.Terminal())
}

func TestRemoveBatch_RequiresTerminalStatus(t *testing.T) {
	db := openTestDB(t)
	engine := newTestEngine(t, db, nil)
	batch := &Batch{ID: uuid.NewString(), Type: testType, InvocationsPerBatchJob: 5, BatchJobsPerSeed: 2, StartTime: now()}
	insertBatch(t, engine, batch)

	err := runCommand(context.Background(), engine.txManager, engine.newCommand(""), func(cmd *CommandContext) error {
		return removeBatch(cmd, batch, status.EXECUTING, "")
	})
	assert.Equal(t, ErrCodeGeneral, ErrorCode(err))
	assert.Equal(t, 1, countRows(t, db, "batch"))
	assert.Equal(t, 0, countRows(t, db, "batch_history"))
}

func TestJob_Status(t *testing.T) {
	ts := now()
	j := &Job{}
	assert.Equal(t, status.PENDING, j.Status(ts))
	j.LockOwner = "x"
	j.LockExpiration = ts.Add(time.Minute)
	assert.Equal(t, status.LOCKED, j.Status(ts))
	// an expired lock can be taken over
	assert.Equal(t, status.PENDING, j.Status(ts.Add(2*time.Minute)))
	j.Suspended = true
	assert.Equal(t, status.SUSPENDED_JOB, j.Status(ts))
	j.Failed = true
	assert.Equal(t, status.FAILED, j.Status(ts))
}
