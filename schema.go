package bulkbatch

import (
	"context"
	"database/sql"
)

// schema DDL accepted by both MySQL and SQLite. Time columns hold UTC; MySQL connections need parseTime=true.
var schema = []string{
	`create table if not exists batch (
		id varchar(64) not null primary key,
		type varchar(255) not null,
		tenant_id varchar(64) not null default '',
		total_jobs int not null,
		jobs_created int not null default 0,
		jobs_completed int not null default 0,
		jobs_failed int not null default 0,
		invocations_per_batch_job int not null,
		batch_jobs_per_seed int not null,
		seed_cursor int not null default 0,
		seed_finished boolean not null default false,
		seed_job_definition_id varchar(64) not null default '',
		monitor_job_definition_id varchar(64) not null default '',
		batch_job_definition_id varchar(64) not null default '',
		configuration_ref varchar(64) not null default '',
		suspended boolean not null default false,
		create_user_id varchar(255) not null default '',
		start_time datetime not null,
		version bigint not null
	)`,
	`create table if not exists batch_job_definition (
		id varchar(64) not null primary key,
		batch_id varchar(64) not null,
		job_type varchar(255) not null,
		phase varchar(16) not null,
		job_configuration varchar(255) not null default '',
		tenant_id varchar(64) not null default '',
		suspended boolean not null default false
	)`,
	`create table if not exists batch_job (
		id varchar(64) not null primary key,
		type varchar(255) not null,
		batch_id varchar(64) not null,
		job_definition_id varchar(64) not null,
		configuration varchar(64) not null default '',
		tenant_id varchar(64) not null default '',
		retries int not null,
		due_date datetime not null,
		lock_owner varchar(64) not null default '',
		lock_expiration datetime null,
		suspended boolean not null default false,
		failed boolean not null default false,
		exception_message varchar(4000) not null default '',
		create_time datetime not null,
		version bigint not null
	)`,
	`create table if not exists batch_byte_array (
		id varchar(64) not null primary key,
		name varchar(255) not null,
		bytes longblob not null,
		checksum varchar(32) not null default '',
		tenant_id varchar(64) not null default '',
		create_time datetime not null
	)`,
	`create table if not exists batch_history (
		id varchar(64) not null primary key,
		type varchar(255) not null,
		tenant_id varchar(64) not null default '',
		total_jobs int not null,
		jobs_created int not null,
		jobs_completed int not null,
		jobs_failed int not null,
		create_user_id varchar(255) not null default '',
		start_time datetime not null,
		end_time datetime not null,
		status varchar(32) not null
	)`,
}

// CreateSchema creates the batch tables when they do not exist yet
func CreateSchema(ctx context.Context, db *sql.DB) error {
	for _, ddl := range schema {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return NewBatchError(ErrCodeDbFail, "create schema failed", err)
		}
	}
	return nil
}
