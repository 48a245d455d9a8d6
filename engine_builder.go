package bulkbatch

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/chararch/bulkbatch/internal/logs"
)

// Engine creates and administers batches and hands out job executors
type Engine struct {
	txManager   TransactionManager
	handlers    *HandlerRegistry
	configStore ConfigStore
	newAuditLog func() AuditLog
	listeners   listeners
	config      *Config

	seed      *SeedStep
	execution *ExecutionStep
	monitor   *MonitorStep
}

type engineBuilder struct {
	db          *sql.DB
	txManager   TransactionManager
	handlers    []BatchJobHandler
	configStore ConfigStore
	newAuditLog func() AuditLog
	listeners   []BatchListener
	config      *Config
	setLogger   bool
}

//NewEngine new instance of engine builder over db
func NewEngine(db *sql.DB) *engineBuilder {
	return &engineBuilder{db: db}
}

//TransactionManager replaces the transaction manager created over db
func (builder *engineBuilder) TransactionManager(txManager TransactionManager) *engineBuilder {
	builder.txManager = txManager
	return builder
}

func (builder *engineBuilder) Handler(handler ...BatchJobHandler) *engineBuilder {
	builder.handlers = append(builder.handlers, handler...)
	return builder
}

//ConfigStore where configurations are kept, the batch_byte_array table by default
func (builder *engineBuilder) ConfigStore(store ConfigStore) *engineBuilder {
	builder.configStore = store
	return builder
}

//AuditLog factory of the audit log toggle handed to each command
func (builder *engineBuilder) AuditLog(factory func() AuditLog) *engineBuilder {
	builder.newAuditLog = factory
	return builder
}

func (builder *engineBuilder) Listener(listener ...BatchListener) *engineBuilder {
	builder.listeners = append(builder.listeners, listener...)
	return builder
}

//Config engine configuration; its logging level also configures the package logger
func (builder *engineBuilder) Config(cfg *Config) *engineBuilder {
	builder.config = cfg
	builder.setLogger = true
	return builder
}

func (builder *engineBuilder) Build() (*Engine, error) {
	cfg := builder.config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if builder.setLogger {
		SetLogger(logs.NewLogger(os.Stdout, logs.ParseLevel(cfg.Logging.Level)))
	}
	txManager := builder.txManager
	if txManager == nil {
		if builder.db == nil {
			return nil, fmt.Errorf("either db or transaction manager must be provided")
		}
		txManager = NewTransactionManager(builder.db)
	}
	registry, err := NewHandlerRegistry(builder.handlers...)
	if err != nil {
		return nil, err
	}
	store := builder.configStore
	if store == nil {
		store = NewRepositoryConfigStore()
	}
	ls := listeners(builder.listeners)
	return &Engine{
		txManager:   txManager,
		handlers:    registry,
		configStore: store,
		newAuditLog: builder.newAuditLog,
		listeners:   ls,
		config:      cfg,
		seed:        &SeedStep{handlers: registry, retries: cfg.Executor.DefaultRetries, listeners: ls},
		execution:   &ExecutionStep{handlers: registry, listeners: ls},
		monitor:     &MonitorStep{pollInterval: cfg.Batch.MonitorPollInterval, listeners: ls},
	}, nil
}

// Handlers registry of the engine; handlers may be registered after Build
func (e *Engine) Handlers() *HandlerRegistry {
	return e.handlers
}

func (e *Engine) Config() Config {
	return *e.config
}

func (e *Engine) newCommand(tenantID string) func(ctx context.Context, tx Tx) *CommandContext {
	return func(ctx context.Context, tx Tx) *CommandContext {
		var auditLog AuditLog
		if e.newAuditLog != nil {
			auditLog = e.newAuditLog()
		}
		return NewCommandContext(ctx, tx, tenantID, auditLog, e.configStore)
	}
}

func (e *Engine) step(decl JobDeclaration) jobStep {
	switch decl.Phase {
	case PhaseSeed:
		return e.seed
	case PhaseMonitor:
		return e.monitor
	case PhaseExecute:
		return e.execution
	}
	return nil
}
