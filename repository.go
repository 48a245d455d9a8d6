package bulkbatch

import (
	"context"
	"database/sql"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/chararch/bulkbatch/status"
	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
)

// Tx data access of one transaction. Finders return nil without error when the row does not exist.
// Updates check the row version and fail with ErrCodeConcurrency when another transaction changed it.
type Tx interface {
	InsertBatch(ctx context.Context, batch *Batch) BatchError
	FindBatch(ctx context.Context, id string) (*Batch, BatchError)
	FindBatches(ctx context.Context, tenantID string) ([]*Batch, BatchError)
	// UpdateBatch writes cursor, seed state, total, configuration ref and suspension; counters are left alone
	UpdateBatch(ctx context.Context, batch *Batch) BatchError
	// IncrementBatchCounters adds the deltas in the database without touching the row version
	IncrementBatchCounters(ctx context.Context, batchID string, created, completed, failed int) BatchError
	DeleteBatch(ctx context.Context, id string) BatchError

	InsertJobDefinition(ctx context.Context, def *JobDefinition) BatchError
	FindJobDefinitions(ctx context.Context, batchID string) ([]*JobDefinition, BatchError)
	SetJobDefinitionsSuspended(ctx context.Context, batchID string, suspended bool) BatchError
	DeleteJobDefinitions(ctx context.Context, batchID string) BatchError

	InsertJob(ctx context.Context, job *Job) BatchError
	FindJob(ctx context.Context, id string) (*Job, BatchError)
	FindJobsByBatch(ctx context.Context, batchID string) ([]*Job, BatchError)
	// AcquirableJobs due, unsuspended, unfailed jobs with retries left whose lock is free or expired
	AcquirableJobs(ctx context.Context, now time.Time, limit int) ([]*Job, BatchError)
	UpdateJob(ctx context.Context, job *Job) BatchError
	DeleteJob(ctx context.Context, job *Job) BatchError
	// SetJobsSuspended flips every job of the batch and bumps their versions
	SetJobsSuspended(ctx context.Context, batchID string, suspended bool) BatchError

	InsertByteArray(ctx context.Context, ba *ByteArray) BatchError
	FindByteArray(ctx context.Context, id string) (*ByteArray, BatchError)
	DeleteByteArray(ctx context.Context, id string) BatchError

	InsertBatchHistory(ctx context.Context, h *BatchHistory) BatchError
	FindBatchHistory(ctx context.Context, id string) (*BatchHistory, BatchError)
}

type sqlTx struct {
	tx *sql.Tx
}

// rowScanner *sql.Row or *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const maxExceptionMessageLength = 4000

const (
	mysqlDeadlock        = 1213
	mysqlLockWaitTimeout = 1205
)

// classify maps lock conflicts reported by the database to ErrCodeConcurrency, anything else to ErrCodeDbFail
func classify(msg string, err error) BatchError {
	var me *mysql.MySQLError
	if errors.As(err, &me) && (me.Number == mysqlDeadlock || me.Number == mysqlLockWaitTimeout) {
		return NewBatchError(ErrCodeConcurrency, msg, err)
	}
	return NewBatchError(ErrCodeDbFail, msg, err)
}

// truncateMessage cuts msg to at most max characters on a rune boundary, replacing invalid UTF-8 first.
// exception_message is a varchar counted in characters.
func truncateMessage(msg string, max int) string {
	msg = strings.ToValidUTF8(msg, "\uFFFD")
	if utf8.RuneCountInString(msg) <= max {
		return msg
	}
	n := 0
	for i := range msg {
		if n == max {
			return msg[:i]
		}
		n++
	}
	return msg
}

func checkAffected(res sql.Result, format string, args ...interface{}) BatchError {
	n, err := res.RowsAffected()
	if err != nil {
		return NewBatchError(ErrCodeDbFail, "read affected rows failed", err)
	}
	if n <= 0 {
		return NewBatchError(ErrCodeConcurrency, format, args...)
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// batch

const batchColumns = "id, type, tenant_id, total_jobs, jobs_created, jobs_completed, jobs_failed, invocations_per_batch_job, batch_jobs_per_seed, seed_cursor, seed_finished, seed_job_definition_id, monitor_job_definition_id, batch_job_definition_id, configuration_ref, suspended, create_user_id, start_time, version"

func scanBatch(row rowScanner) (*Batch, error) {
	b := &Batch{}
	err := row.Scan(&b.ID, &b.Type, &b.TenantID, &b.TotalJobs, &b.JobsCreated, &b.JobsCompleted, &b.JobsFailed,
		&b.InvocationsPerBatchJob, &b.BatchJobsPerSeed, &b.SeedCursor, &b.SeedFinished, &b.SeedJobDefinitionID,
		&b.MonitorJobDefinitionID, &b.BatchJobDefinitionID, &b.ConfigurationRef, &b.Suspended, &b.CreateUserID,
		&b.StartTime, &b.Version)
	return b, err
}

func (t *sqlTx) InsertBatch(ctx context.Context, b *Batch) BatchError {
	b.Version = 1
	_, err := t.tx.ExecContext(ctx, "insert into batch("+batchColumns+") values(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		b.ID, b.Type, b.TenantID, b.TotalJobs, b.JobsCreated, b.JobsCompleted, b.JobsFailed, b.InvocationsPerBatchJob,
		b.BatchJobsPerSeed, b.SeedCursor, b.SeedFinished, b.SeedJobDefinitionID, b.MonitorJobDefinitionID,
		b.BatchJobDefinitionID, b.ConfigurationRef, b.Suspended, b.CreateUserID, b.StartTime, b.Version)
	if err != nil {
		return classify("insert batch failed", err)
	}
	return nil
}

func (t *sqlTx) FindBatch(ctx context.Context, id string) (*Batch, BatchError) {
	b, err := scanBatch(t.tx.QueryRowContext(ctx, "select "+batchColumns+" from batch where id=?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify("find batch failed", err)
	}
	return b, nil
}

func (t *sqlTx) FindBatches(ctx context.Context, tenantID string) ([]*Batch, BatchError) {
	rows, err := t.tx.QueryContext(ctx, "select "+batchColumns+" from batch where tenant_id=? order by start_time", tenantID)
	if err != nil {
		return nil, classify("find batches failed", err)
	}
	defer rows.Close()

	batches := make([]*Batch, 0)
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, NewBatchError(ErrCodeDbFail, "scan batch failed", err)
		}
		batches = append(batches, b)
	}
	if err = rows.Err(); err != nil {
		return nil, classify("find batches failed", err)
	}
	return batches, nil
}

func (t *sqlTx) UpdateBatch(ctx context.Context, b *Batch) BatchError {
	res, err := t.tx.ExecContext(ctx, "update batch set total_jobs=?, seed_cursor=?, seed_finished=?, monitor_job_definition_id=?, configuration_ref=?, suspended=?, version=? where id=? and version=?",
		b.TotalJobs, b.SeedCursor, b.SeedFinished, b.MonitorJobDefinitionID, b.ConfigurationRef, b.Suspended, b.Version+1, b.ID, b.Version)
	if err != nil {
		return classify("update batch failed", err)
	}
	if be := checkAffected(res, "batch:%v was changed concurrently, version:%v", b.ID, b.Version); be != nil {
		return be
	}
	b.Version++
	return nil
}

func (t *sqlTx) IncrementBatchCounters(ctx context.Context, batchID string, created, completed, failed int) BatchError {
	if created == 0 && completed == 0 && failed == 0 {
		return nil
	}
	res, err := t.tx.ExecContext(ctx, "update batch set jobs_created=jobs_created+?, jobs_completed=jobs_completed+?, jobs_failed=jobs_failed+? where id=?",
		created, completed, failed, batchID)
	if err != nil {
		return classify("increment batch counters failed", err)
	}
	return checkAffected(res, "batch:%v not found while incrementing counters", batchID)
}

func (t *sqlTx) DeleteBatch(ctx context.Context, id string) BatchError {
	if _, err := t.tx.ExecContext(ctx, "delete from batch where id=?", id); err != nil {
		return classify("delete batch failed", err)
	}
	return nil
}

// job definition

func (t *sqlTx) InsertJobDefinition(ctx context.Context, d *JobDefinition) BatchError {
	_, err := t.tx.ExecContext(ctx, "insert into batch_job_definition(id, batch_id, job_type, phase, job_configuration, tenant_id, suspended) values(?, ?, ?, ?, ?, ?, ?)",
		d.ID, d.BatchID, d.JobType, string(d.Phase), d.JobConfiguration, d.TenantID, d.Suspended)
	if err != nil {
		return classify("insert job definition failed", err)
	}
	return nil
}

func (t *sqlTx) FindJobDefinitions(ctx context.Context, batchID string) ([]*JobDefinition, BatchError) {
	rows, err := t.tx.QueryContext(ctx, "select id, batch_id, job_type, phase, job_configuration, tenant_id, suspended from batch_job_definition where batch_id=?", batchID)
	if err != nil {
		return nil, classify("find job definitions failed", err)
	}
	defer rows.Close()

	defs := make([]*JobDefinition, 0)
	for rows.Next() {
		d := &JobDefinition{}
		var phase string
		if err = rows.Scan(&d.ID, &d.BatchID, &d.JobType, &phase, &d.JobConfiguration, &d.TenantID, &d.Suspended); err != nil {
			return nil, NewBatchError(ErrCodeDbFail, "scan job definition failed", err)
		}
		d.Phase = Phase(phase)
		defs = append(defs, d)
	}
	if err = rows.Err(); err != nil {
		return nil, classify("find job definitions failed", err)
	}
	return defs, nil
}

func (t *sqlTx) SetJobDefinitionsSuspended(ctx context.Context, batchID string, suspended bool) BatchError {
	if _, err := t.tx.ExecContext(ctx, "update batch_job_definition set suspended=? where batch_id=?", suspended, batchID); err != nil {
		return classify("suspend job definitions failed", err)
	}
	return nil
}

func (t *sqlTx) DeleteJobDefinitions(ctx context.Context, batchID string) BatchError {
	if _, err := t.tx.ExecContext(ctx, "delete from batch_job_definition where batch_id=?", batchID); err != nil {
		return classify("delete job definitions failed", err)
	}
	return nil
}

// job

const jobColumns = "id, type, batch_id, job_definition_id, configuration, tenant_id, retries, due_date, lock_owner, lock_expiration, suspended, failed, exception_message, create_time, version"

func scanJob(row rowScanner) (*Job, error) {
	j := &Job{}
	var lockExpiration sql.NullTime
	err := row.Scan(&j.ID, &j.Type, &j.BatchID, &j.JobDefinitionID, &j.Configuration, &j.TenantID, &j.Retries,
		&j.DueDate, &j.LockOwner, &lockExpiration, &j.Suspended, &j.Failed, &j.ExceptionMessage, &j.CreateTime, &j.Version)
	if lockExpiration.Valid {
		j.LockExpiration = lockExpiration.Time
	}
	return j, err
}

func (t *sqlTx) queryJobs(ctx context.Context, query string, args ...interface{}) ([]*Job, BatchError) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("find jobs failed", err)
	}
	defer rows.Close()

	jobs := make([]*Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, NewBatchError(ErrCodeDbFail, "scan job failed", err)
		}
		jobs = append(jobs, j)
	}
	if err = rows.Err(); err != nil {
		return nil, classify("find jobs failed", err)
	}
	return jobs, nil
}

func (t *sqlTx) InsertJob(ctx context.Context, j *Job) BatchError {
	j.Version = 1
	_, err := t.tx.ExecContext(ctx, "insert into batch_job("+jobColumns+") values(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		j.ID, j.Type, j.BatchID, j.JobDefinitionID, j.Configuration, j.TenantID, j.Retries, j.DueDate, j.LockOwner,
		nullTime(j.LockExpiration), j.Suspended, j.Failed, j.ExceptionMessage, j.CreateTime, j.Version)
	if err != nil {
		return classify("insert job failed", err)
	}
	return nil
}

func (t *sqlTx) FindJob(ctx context.Context, id string) (*Job, BatchError) {
	j, err := scanJob(t.tx.QueryRowContext(ctx, "select "+jobColumns+" from batch_job where id=?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify("find job failed", err)
	}
	return j, nil
}

func (t *sqlTx) FindJobsByBatch(ctx context.Context, batchID string) ([]*Job, BatchError) {
	return t.queryJobs(ctx, "select "+jobColumns+" from batch_job where batch_id=? order by create_time, id", batchID)
}

func (t *sqlTx) AcquirableJobs(ctx context.Context, now time.Time, limit int) ([]*Job, BatchError) {
	return t.queryJobs(ctx, "select "+jobColumns+" from batch_job where suspended=? and failed=? and retries>0 and due_date<=? and (lock_owner='' or lock_expiration<?) order by due_date, create_time limit ?",
		false, false, now, now, limit)
}

func (t *sqlTx) UpdateJob(ctx context.Context, j *Job) BatchError {
	msg := truncateMessage(j.ExceptionMessage, maxExceptionMessageLength)
	res, err := t.tx.ExecContext(ctx, "update batch_job set retries=?, due_date=?, lock_owner=?, lock_expiration=?, suspended=?, failed=?, exception_message=?, version=? where id=? and version=?",
		j.Retries, j.DueDate, j.LockOwner, nullTime(j.LockExpiration), j.Suspended, j.Failed, msg, j.Version+1, j.ID, j.Version)
	if err != nil {
		return classify("update job failed", err)
	}
	if be := checkAffected(res, "job:%v was changed concurrently, version:%v", j.ID, j.Version); be != nil {
		return be
	}
	j.ExceptionMessage = msg
	j.Version++
	return nil
}

func (t *sqlTx) DeleteJob(ctx context.Context, j *Job) BatchError {
	res, err := t.tx.ExecContext(ctx, "delete from batch_job where id=? and version=?", j.ID, j.Version)
	if err != nil {
		return classify("delete job failed", err)
	}
	return checkAffected(res, "job:%v was changed concurrently, version:%v", j.ID, j.Version)
}

func (t *sqlTx) SetJobsSuspended(ctx context.Context, batchID string, suspended bool) BatchError {
	if _, err := t.tx.ExecContext(ctx, "update batch_job set suspended=?, version=version+1 where batch_id=?", suspended, batchID); err != nil {
		return classify("suspend jobs failed", err)
	}
	return nil
}

// byte array

func (t *sqlTx) InsertByteArray(ctx context.Context, ba *ByteArray) BatchError {
	_, err := t.tx.ExecContext(ctx, "insert into batch_byte_array(id, name, bytes, checksum, tenant_id, create_time) values(?, ?, ?, ?, ?, ?)",
		ba.ID, ba.Name, ba.Bytes, ba.Checksum, ba.TenantID, now())
	if err != nil {
		return classify("insert byte array failed", err)
	}
	return nil
}

func (t *sqlTx) FindByteArray(ctx context.Context, id string) (*ByteArray, BatchError) {
	ba := &ByteArray{}
	err := t.tx.QueryRowContext(ctx, "select id, name, bytes, checksum, tenant_id from batch_byte_array where id=?", id).
		Scan(&ba.ID, &ba.Name, &ba.Bytes, &ba.Checksum, &ba.TenantID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify("find byte array failed", err)
	}
	return ba, nil
}

func (t *sqlTx) DeleteByteArray(ctx context.Context, id string) BatchError {
	if _, err := t.tx.ExecContext(ctx, "delete from batch_byte_array where id=?", id); err != nil {
		return classify("delete byte array failed", err)
	}
	return nil
}

// history

func (t *sqlTx) InsertBatchHistory(ctx context.Context, h *BatchHistory) BatchError {
	_, err := t.tx.ExecContext(ctx, "insert into batch_history(id, type, tenant_id, total_jobs, jobs_created, jobs_completed, jobs_failed, create_user_id, start_time, end_time, status) values(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		h.ID, h.Type, h.TenantID, h.TotalJobs, h.JobsCreated, h.JobsCompleted, h.JobsFailed, h.CreateUserID, h.StartTime, h.EndTime, string(h.Status))
	if err != nil {
		return classify("insert batch history failed", err)
	}
	return nil
}

func (t *sqlTx) FindBatchHistory(ctx context.Context, id string) (*BatchHistory, BatchError) {
	h := &BatchHistory{}
	var st string
	err := t.tx.QueryRowContext(ctx, "select id, type, tenant_id, total_jobs, jobs_created, jobs_completed, jobs_failed, create_user_id, start_time, end_time, status from batch_history where id=?", id).
		Scan(&h.ID, &h.Type, &h.TenantID, &h.TotalJobs, &h.JobsCreated, &h.JobsCompleted, &h.JobsFailed, &h.CreateUserID, &h.StartTime, &h.EndTime, &st)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify("find batch history failed", err)
	}
	h.Status = status.BatchStatus(st)
	return h, nil
}
