package bulkbatch

import (
	"fmt"
	"sort"
	"sync"
)

// BatchJobHandler strategy for one operation type. Execute must be idempotent per target id: a chunk that
// failed half way is executed again from its first id.
type BatchJobHandler interface {
	// Type registry key, unique across handlers
	Type() string
	WriteConfiguration(cfg *BatchConfiguration) ([]byte, error)
	ReadConfiguration(data []byte) (*BatchConfiguration, error)
	// CreateChunkConfiguration builds a configuration that Execute can run without the parent
	CreateChunkConfiguration(parent *BatchConfiguration, ids []string) *BatchConfiguration
	// Execute applies the operation to every id of the chunk in order and, on success, deletes the chunk
	// configuration through chunk.DeleteConfiguration.
	Execute(cmd *CommandContext, chunk *ChunkContext) error
}

// HandlerRegistry maps operation types to handlers
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]BatchJobHandler
}

// NewHandlerRegistry registry holding handlers
func NewHandlerRegistry(handlers ...BatchJobHandler) (*HandlerRegistry, error) {
	r := &HandlerRegistry{handlers: make(map[string]BatchJobHandler)}
	for _, h := range handlers {
		if err := r.Register(h); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register register handler by its type
func (r *HandlerRegistry) Register(handler BatchJobHandler) error {
	if handler == nil {
		return fmt.Errorf("handler must not be nil")
	}
	t := handler.Type()
	if t == "" {
		return fmt.Errorf("handler type must not be empty")
	}
	if t == SeedJobType || t == MonitorJobType {
		return fmt.Errorf("handler type:%v is reserved", t)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[t]; ok {
		return fmt.Errorf("handler with type:%v has already been registered", t)
	}
	r.handlers[t] = handler
	return nil
}

// Unregister remove the handler of type
func (r *HandlerRegistry) Unregister(handlerType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, handlerType)
}

// Handler looks up the handler of type
func (r *HandlerRegistry) Handler(handlerType string) (BatchJobHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[handlerType]
	return h, ok
}

func (r *HandlerRegistry) mustHandler(handlerType string) (BatchJobHandler, BatchError) {
	h, ok := r.Handler(handlerType)
	if !ok {
		return nil, NewBatchError(ErrCodeHandlerNotFound, "can not find batch job handler with type:%v", handlerType)
	}
	return h, nil
}

// Types registered handler types, sorted
func (r *HandlerRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Declaration resolves the declaration of an acquired job's type
func (r *HandlerRegistry) Declaration(jobType string) (JobDeclaration, bool) {
	switch jobType {
	case SeedJobType:
		return SeedJobDeclaration, true
	case MonitorJobType:
		return MonitorJobDeclaration, true
	}
	if _, ok := r.Handler(jobType); ok {
		return ExecutionJobDeclaration(jobType), true
	}
	return JobDeclaration{}, false
}
