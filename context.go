package bulkbatch

import (
	"context"
	"fmt"
	"runtime/debug"
)

// CommandContext everything a step or handler needs for one job invocation: the transaction, the
// configuration store, the tenant and the audit-log toggle. It is passed explicitly, never looked up.
type CommandContext struct {
	ctx         context.Context
	tx          Tx
	tenantID    string
	auditLog    AuditLog
	configStore ConfigStore

	onCommit   []func(ctx context.Context)
	onRollback []func(ctx context.Context)
}

// NewCommandContext creates a command context over tx. A nil auditLog gets default settings.
func NewCommandContext(ctx context.Context, tx Tx, tenantID string, auditLog AuditLog, configStore ConfigStore) *CommandContext {
	if auditLog == nil {
		auditLog = NewAuditLogSettings(true, false)
	}
	return &CommandContext{
		ctx:         WithAuditLog(ctx, auditLog),
		tx:          tx,
		tenantID:    tenantID,
		auditLog:    auditLog,
		configStore: configStore,
	}
}

// Context carries cancellation, log fields and the audit-log toggle of this command
func (c *CommandContext) Context() context.Context {
	return c.ctx
}

func (c *CommandContext) Tx() Tx {
	return c.tx
}

func (c *CommandContext) TenantID() string {
	return c.tenantID
}

func (c *CommandContext) AuditLog() AuditLog {
	return c.auditLog
}

func (c *CommandContext) ConfigStore() ConfigStore {
	return c.configStore
}

// SuppressAuditLog disables the audit log and restricts it to authenticated users until the returned
// scope is released.
func (c *CommandContext) SuppressAuditLog() *AuditLogScope {
	return SuppressAuditLog(c.auditLog)
}

// OnCommit registers fn to run after the transaction committed
func (c *CommandContext) OnCommit(fn func(ctx context.Context)) {
	c.onCommit = append(c.onCommit, fn)
}

// OnRollback registers fn to run after the transaction was rolled back or failed to commit
func (c *CommandContext) OnRollback(fn func(ctx context.Context)) {
	c.onRollback = append(c.onRollback, fn)
}

func (c *CommandContext) fire(hooks []func(ctx context.Context)) {
	for _, fn := range hooks {
		func() {
			defer func() {
				if er := recover(); er != nil {
					logger.Error(c.ctx, "panic in transaction hook, err:%v, stack:%v", er, string(debug.Stack()))
				}
			}()
			fn(c.ctx)
		}()
	}
}

// runCommand runs fn in a new transaction: commit when fn returns nil, roll back on error or panic.
func runCommand(ctx context.Context, txManager TransactionManager, newCmd func(ctx context.Context, tx Tx) *CommandContext, fn func(cmd *CommandContext) error) (err error) {
	tx, be := txManager.BeginTx(ctx)
	if be != nil {
		return be
	}
	cmd := newCmd(ctx, tx)
	committed := false
	defer func() {
		if er := recover(); er != nil {
			logger.Error(ctx, "panic in command, err:%v, stack:%v", er, string(debug.Stack()))
			err = NewBatchError(ErrCodeGeneral, "panic in command", fmt.Errorf("%v", er))
		}
		if !committed {
			if rbErr := txManager.Rollback(tx); rbErr != nil {
				logger.Error(ctx, "rollback transaction err, err:%v", rbErr)
			}
			cmd.fire(cmd.onRollback)
			return
		}
		cmd.fire(cmd.onCommit)
	}()
	if err = fn(cmd); err != nil {
		return err
	}
	if be := txManager.Commit(tx); be != nil {
		return be
	}
	committed = true
	return nil
}

// ChunkContext the chunk an execution job owns
type ChunkContext struct {
	Batch            *Batch
	Job              *Job
	ConfigurationRef string
	Configuration    *BatchConfiguration
	TenantID         string

	configurationDeleted bool
}

// DeleteConfiguration deletes the chunk configuration once; later calls are no-ops.
func (c *ChunkContext) DeleteConfiguration(cmd *CommandContext) error {
	if c.configurationDeleted || c.ConfigurationRef == "" {
		return nil
	}
	if err := cmd.ConfigStore().Delete(cmd, c.ConfigurationRef); err != nil {
		return err
	}
	c.configurationDeleted = true
	return nil
}

// ConfigurationDeleted reports whether DeleteConfiguration succeeded
func (c *ChunkContext) ConfigurationDeleted() bool {
	return c.configurationDeleted
}
