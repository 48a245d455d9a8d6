// Package variables implements the bulk "set variables" batch: one set of variables written onto many
// process instances.
package variables

import (
	"context"
	"errors"

	"github.com/chararch/bulkbatch"
)

// Type batch type of the set variables handler
const Type = "set-variables"

// ErrTargetNotFound returned by RuntimeService when the target instance does not exist
var ErrTargetNotFound = errors.New("target not found")

// RuntimeService applies variables to one target. The context carries the command's audit-log toggle,
// see bulkbatch.AuditLogFromContext.
type RuntimeService interface {
	SetVariables(ctx context.Context, targetID string, variables map[string]interface{}) error
}

// Payload operation arguments of a set variables batch
type Payload struct {
	Variables map[string]interface{} `json:"variables"`
}

// SetVariablesHandler BatchJobHandler writing the payload variables onto every id of a chunk
type SetVariablesHandler struct {
	bulkbatch.JSONConfigurationCodec
	runtime RuntimeService
}

func NewSetVariablesHandler(runtime RuntimeService) *SetVariablesHandler {
	return &SetVariablesHandler{
		JSONConfigurationCodec: bulkbatch.JSONConfigurationCodec{ConfigurationType: Type},
		runtime:                runtime,
	}
}

func (h *SetVariablesHandler) Type() string {
	return Type
}

// Execute sets the variables on each id in order. The first failure aborts the chunk and keeps its
// configuration so the retry starts over from the first id.
func (h *SetVariablesHandler) Execute(cmd *bulkbatch.CommandContext, chunk *bulkbatch.ChunkContext) error {
	payload := &Payload{}
	if err := chunk.Configuration.DecodePayload(payload); err != nil {
		return err
	}
	if err := h.apply(cmd, chunk.Configuration.IDs, payload.Variables); err != nil {
		return err
	}
	return chunk.DeleteConfiguration(cmd)
}

func (h *SetVariablesHandler) apply(cmd *bulkbatch.CommandContext, ids []string, vars map[string]interface{}) error {
	scope := cmd.SuppressAuditLog()
	defer scope.Release()

	for _, id := range ids {
		if err := h.runtime.SetVariables(cmd.Context(), id, vars); err != nil {
			code := bulkbatch.ErrCodeGeneral
			if errors.Is(err, ErrTargetNotFound) {
				code = bulkbatch.ErrCodeTargetNotFound
			}
			return bulkbatch.NewBatchError(code, "set variables failed, targetId:%v", id, err)
		}
	}
	return nil
}
