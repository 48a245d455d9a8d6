package bulkbatch

import "context"

// BatchListener batch lifecycle callbacks. They run after the transaction that caused the event committed,
// so a listener never observes work that was rolled back.
type BatchListener interface {
	//OnChunksCreated seed job created n execution jobs
	OnChunksCreated(ctx context.Context, batch *Batch, n int)
	//OnChunkCompleted execution job finished successfully
	OnChunkCompleted(ctx context.Context, batch *Batch, job *Job)
	//OnChunkFailed execution job ran out of retries
	OnChunkFailed(ctx context.Context, batch *Batch, job *Job, err error)
	//OnJobRetry a job failed and was rescheduled with one retry less
	OnJobRetry(ctx context.Context, job *Job, err error)
	//OnBatchFinalized monitor job removed the batch
	OnBatchFinalized(ctx context.Context, batch *Batch)
}

type listeners []BatchListener

func (ls listeners) chunksCreated(cmd *CommandContext, batch *Batch, n int) {
	if len(ls) == 0 || n == 0 {
		return
	}
	cmd.OnCommit(func(ctx context.Context) {
		for _, l := range ls {
			l.OnChunksCreated(ctx, batch, n)
		}
	})
}

func (ls listeners) chunkCompleted(cmd *CommandContext, batch *Batch, job *Job) {
	if len(ls) == 0 {
		return
	}
	cmd.OnCommit(func(ctx context.Context) {
		for _, l := range ls {
			l.OnChunkCompleted(ctx, batch, job)
		}
	})
}

func (ls listeners) chunkFailed(cmd *CommandContext, batch *Batch, job *Job, err error) {
	if len(ls) == 0 {
		return
	}
	cmd.OnCommit(func(ctx context.Context) {
		for _, l := range ls {
			l.OnChunkFailed(ctx, batch, job, err)
		}
	})
}

func (ls listeners) jobRetry(cmd *CommandContext, job *Job, err error) {
	if len(ls) == 0 {
		return
	}
	cmd.OnCommit(func(ctx context.Context) {
		for _, l := range ls {
			l.OnJobRetry(ctx, job, err)
		}
	})
}

func (ls listeners) batchFinalized(cmd *CommandContext, batch *Batch) {
	if len(ls) == 0 {
		return
	}
	cmd.OnCommit(func(ctx context.Context) {
		for _, l := range ls {
			l.OnBatchFinalized(ctx, batch)
		}
	})
}
