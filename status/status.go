package status

//BatchStatus status of a batch, derived from its counters and flags
type BatchStatus string

const (
	//SEEDING the seed job is still partitioning target ids into execution jobs
	SEEDING BatchStatus = "SEEDING"
	//EXECUTING every execution job has been created, some are still pending
	EXECUTING BatchStatus = "EXECUTING"
	//SUSPENDED batch jobs are not acquired until the batch is resumed
	SUSPENDED BatchStatus = "SUSPENDED"
	//FINALIZABLE seeding finished and every execution job completed or failed
	FINALIZABLE BatchStatus = "FINALIZABLE"
	//COMPLETED batch was finalized by its monitor job
	COMPLETED BatchStatus = "COMPLETED"
	//DELETED batch was deleted before it was finalized
	DELETED BatchStatus = "DELETED"
)

// Terminal reports whether no further job of the batch will run.
func (s BatchStatus) Terminal() bool {
	return s == COMPLETED || s == DELETED
}

//JobStatus status of a job row as seen by the job executor
type JobStatus string

const (
	//PENDING job is waiting to be acquired
	PENDING JobStatus = "PENDING"
	//LOCKED job is held by an executor until its lock expires
	LOCKED JobStatus = "LOCKED"
	//SUSPENDED_JOB job belongs to a suspended batch
	SUSPENDED_JOB JobStatus = "SUSPENDED"
	//FAILED job exhausted its retries
	FAILED JobStatus = "FAILED"
)
