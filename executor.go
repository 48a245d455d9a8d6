package bulkbatch

import (
	"context"
	"sync"
	"time"

	"github.com/chararch/bulkbatch/internal/logs"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// JobExecutor acquires due jobs, locks them under its own owner id and runs them through their step
type JobExecutor struct {
	engine    *Engine
	cfg       ExecutorConfig
	lockOwner string
}

// NewExecutor creates an executor with a unique lock owner
func (e *Engine) NewExecutor() *JobExecutor {
	return &JobExecutor{
		engine:    e,
		cfg:       e.config.Executor,
		lockOwner: "executor-" + uuid.NewString(),
	}
}

// LockOwner id written into the lock_owner column of jobs this executor holds
func (x *JobExecutor) LockOwner() string {
	return x.lockOwner
}

// AcquireJobs locks up to limit due jobs. A job another executor locked first is skipped.
func (x *JobExecutor) AcquireJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	var candidates []*Job
	err := runCommand(ctx, x.engine.txManager, x.engine.newCommand(""), func(cmd *CommandContext) error {
		var be BatchError
		candidates, be = cmd.Tx().AcquirableJobs(cmd.Context(), now(), limit)
		if be != nil {
			return be
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	acquired := make([]*Job, 0, len(candidates))
	for _, job := range candidates {
		err = runCommand(ctx, x.engine.txManager, x.engine.newCommand(job.TenantID), func(cmd *CommandContext) error {
			ts := now()
			job.LockOwner = x.lockOwner
			job.LockExpiration = ts.Add(x.cfg.LockTime)
			return cmd.Tx().UpdateJob(cmd.Context(), job)
		})
		if err != nil {
			if ErrorCode(err) == ErrCodeConcurrency {
				logger.Debug(ctx, "job locked by another executor, jobId:%v", job.ID)
				continue
			}
			return acquired, err
		}
		acquired = append(acquired, job)
	}
	return acquired, nil
}

// ExecuteJob runs a job this executor acquired. When the step fails the job is retried, released or failed
// and the step error is returned.
func (x *JobExecutor) ExecuteJob(ctx context.Context, job *Job) error {
	ctx = logs.WithFields(ctx, "jobId", job.ID, "batchId", job.BatchID, "jobType", job.Type)
	decl, ok := x.engine.handlers.Declaration(job.Type)
	if !ok {
		// unregistered handler type: the execution step fails it and counts the chunk as failed
		decl = ExecutionJobDeclaration(job.Type)
	}
	step := x.engine.step(decl)

	var outcome JobOutcome
	err := runCommand(ctx, x.engine.txManager, x.engine.newCommand(job.TenantID), func(cmd *CommandContext) error {
		current, err := x.ownedJob(cmd, job)
		if err != nil {
			return err
		}
		var stepErr error
		if outcome, stepErr = step.Execute(cmd, current); stepErr != nil {
			return stepErr
		}
		return x.apply(cmd, current, outcome)
	})
	if err == nil {
		logger.Debug(ctx, "job executed, outcome:%v", outcome)
		return nil
	}
	logger.Warn(ctx, "job execution failed, err:%v", err)
	if herr := x.handleFailure(ctx, job, step, err); herr != nil {
		logger.Error(ctx, "handle job failure failed, err:%v", herr)
		return multierror.Append(err, herr)
	}
	return err
}

// ownedJob reloads job and checks this executor still holds its lock
func (x *JobExecutor) ownedJob(cmd *CommandContext, job *Job) (*Job, error) {
	current, err := cmd.Tx().FindJob(cmd.Context(), job.ID)
	if err != nil {
		return nil, err
	}
	if current == nil || current.LockOwner != x.lockOwner {
		return nil, NewBatchError(ErrCodeConcurrency, "job:%v is no longer locked by:%v", job.ID, x.lockOwner)
	}
	return current, nil
}

func (x *JobExecutor) apply(cmd *CommandContext, job *Job, outcome JobOutcome) error {
	switch outcome.kind {
	case outcomeDone:
		return cmd.Tx().DeleteJob(cmd.Context(), job)
	case outcomeReschedule:
		job.unlock()
		job.DueDate = now().Add(outcome.delay)
		return cmd.Tx().UpdateJob(cmd.Context(), job)
	default:
		job.unlock()
		return cmd.Tx().UpdateJob(cmd.Context(), job)
	}
}

// handleFailure runs in a fresh transaction after the job's own transaction rolled back
func (x *JobExecutor) handleFailure(ctx context.Context, job *Job, step jobStep, cause error) error {
	return runCommand(ctx, x.engine.txManager, x.engine.newCommand(job.TenantID), func(cmd *CommandContext) error {
		tx := cmd.Tx()
		current, err := tx.FindJob(cmd.Context(), job.ID)
		if err != nil {
			return err
		}
		if current == nil || current.LockOwner != x.lockOwner {
			// deleted with its batch or taken over after the lock expired
			return nil
		}
		current.unlock()
		switch code := ErrorCode(cause); {
		case code == ErrCodeConcurrency:
			return tx.UpdateJob(cmd.Context(), current)
		case IsRetryable(cause) && current.Retries > 1:
			current.Retries--
			current.ExceptionMessage = cause.Error()
			current.DueDate = now().Add(x.cfg.RetryBackoff)
			if err = tx.UpdateJob(cmd.Context(), current); err != nil {
				return err
			}
			x.engine.listeners.jobRetry(cmd, current, cause)
			logger.Info(cmd.Context(), "job rescheduled for retry, retriesLeft:%v, dueDate:%v", current.Retries, current.DueDate)
			return nil
		}
		current.Retries = 0
		current.Failed = true
		current.ExceptionMessage = cause.Error()
		if err = tx.UpdateJob(cmd.Context(), current); err != nil {
			return err
		}
		logger.Error(cmd.Context(), "job failed, no retries left, err:%v", cause)
		return step.OnFailure(cmd, current, cause)
	})
}

// RunUntilIdle acquires and executes jobs until no job is due, returning the number of invocations.
// Job failures are handled per job and do not stop the run.
func (x *JobExecutor) RunUntilIdle(ctx context.Context) (int, error) {
	executed := 0
	for {
		if err := ctx.Err(); err != nil {
			return executed, err
		}
		jobs, err := x.AcquireJobs(ctx, x.cfg.MaxJobsPerAcquisition)
		if err != nil {
			return executed, err
		}
		if len(jobs) == 0 {
			return executed, nil
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(x.cfg.PoolSize)
		for _, job := range jobs {
			job := job
			g.Go(func() error {
				if err := x.ExecuteJob(gctx, job); err != nil {
					logger.Debug(gctx, "job invocation failed, jobId:%v, err:%v", job.ID, err)
				}
				return nil
			})
		}
		if err = g.Wait(); err != nil {
			return executed, err
		}
		executed += len(jobs)
	}
}

// Start polls for due jobs and runs them on a worker pool until ctx is cancelled, then waits for the
// running jobs to finish.
func (x *JobExecutor) Start(ctx context.Context) error {
	pool, err := newTaskPool(x.cfg.PoolSize)
	if err != nil {
		return NewBatchError(ErrCodeGeneral, "create worker pool failed", err)
	}
	defer pool.Release()

	var running sync.WaitGroup
	defer running.Wait()

	logger.Info(ctx, "job executor started, lockOwner:%v, poolSize:%v", x.lockOwner, x.cfg.PoolSize)
	ticker := time.NewTicker(x.cfg.PollInterval)
	defer ticker.Stop()
	for {
		limit := x.cfg.MaxJobsPerAcquisition
		if free := pool.Free(); free < limit {
			limit = free
		}
		jobs, err := x.AcquireJobs(ctx, limit)
		if err != nil && ctx.Err() == nil {
			logger.Error(ctx, "acquire jobs failed, err:%v", err)
		}
		for _, job := range jobs {
			job := job
			running.Add(1)
			// jobs are not tied to ctx so a shutdown lets them finish and commit
			f := pool.Submit(context.WithoutCancel(ctx), func(ctx context.Context) error {
				return x.ExecuteJob(ctx, job)
			})
			go func() {
				defer running.Done()
				f.Get()
			}()
		}
		select {
		case <-ctx.Done():
			logger.Info(ctx, "job executor stopping, lockOwner:%v", x.lockOwner)
			return nil
		case <-ticker.C:
		}
	}
}
