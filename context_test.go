package bulkbatch

import (
	"context"
	"errors"
	"testing"

	"github.com/bmizerany/assert"
)

type fakeTx struct {
	Tx
}

type fakeTxManager struct {
	commits   int
	rollbacks int
	commitErr BatchError
}

func (tm *fakeTxManager) BeginTx(ctx context.Context) (Tx, BatchError) {
	return &fakeTx{}, nil
}

func (tm *fakeTxManager) Commit(tx Tx) BatchError {
	if tm.commitErr != nil {
		return tm.commitErr
	}
	tm.commits++
	return nil
}

func (tm *fakeTxManager) Rollback(tx Tx) BatchError {
	tm.rollbacks++
	return nil
}

func newFakeCommand(ctx context.Context, tx Tx) *CommandContext {
	return NewCommandContext(ctx, tx, "", nil, nil)
}

func TestRunCommand_CommitFiresCommitHooks(t *testing.T) {
	tm := &fakeTxManager{}
	var fired []string
	err := runCommand(context.Background(), tm, newFakeCommand, func(cmd *CommandContext) error {
		cmd.OnCommit(func(ctx context.Context) { fired = append(fired, "commit") })
		cmd.OnRollback(func(ctx context.Context) { fired = append(fired, "rollback") })
		return nil
	})
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, tm.commits)
	assert.Equal(t, 0, tm.rollbacks)
	assert.Equal(t, []string{"commit"}, fired)
}

func TestRunCommand_ErrorRollsBack(t *testing.T) {
	tm := &fakeTxManager{}
	boom := errors.New("boom")
	var fired []string
	err := runCommand(context.Background(), tm, newFakeCommand, func(cmd *CommandContext) error {
		cmd.OnCommit(func(ctx context.Context) { fired = append(fired, "commit") })
		cmd.OnRollback(func(ctx context.Context) { fired = append(fired, "rollback") })
		return boom
	})
	assert.Equal(t, boom, err)
	assert.Equal(t, 0, tm.commits)
	assert.Equal(t, 1, tm.rollbacks)
	assert.Equal(t, []string{"rollback"}, fired)
}

func TestRunCommand_PanicRollsBack(t *testing.T) {
	tm := &fakeTxManager{}
	err := runCommand(context.Background(), tm, newFakeCommand, func(cmd *CommandContext) error {
		var m map[string]int
		m["x"]++
		return nil
	})
	assert.NotEqual(t, nil, err)
	assert.Equal(t, ErrCodeGeneral, ErrorCode(err))
	assert.Equal(t, 1, tm.rollbacks)
}

func TestRunCommand_CommitFailure(t *testing.T) {
	tm := &fakeTxManager{commitErr: NewBatchError(ErrCodeConcurrency, "deadlock")}
	rolledBack := false
	err := runCommand(context.Background(), tm, newFakeCommand, func(cmd *CommandContext) error {
		cmd.OnRollback(func(ctx context.Context) { rolledBack = true })
		return nil
	})
	assert.Equal(t, ErrCodeConcurrency, ErrorCode(err))
	assert.Equal(t, true, rolledBack)
}

func TestRunCommand_HookPanicIsContained(t *testing.T) {
	tm := &fakeTxManager{}
	second := false
	err := runCommand(context.Background(), tm, newFakeCommand, func(cmd *CommandContext) error {
		cmd.OnCommit(func(ctx context.Context) { panic("listener bug") })
		cmd.OnCommit(func(ctx context.Context) { second = true })
		return nil
	})
	assert.Equal(t, nil, err)
	assert.Equal(t, true, second)
}

type deleteCounter struct {
	deletes int
	err     error
}

func (s *deleteCounter) Get(cmd *CommandContext, id string) ([]byte, error) { return nil, nil }
func (s *deleteCounter) Put(cmd *CommandContext, name string, data []byte) (string, error) {
	return name, nil
}
func (s *deleteCounter) Delete(cmd *CommandContext, id string) error {
	if s.err != nil {
		return s.err
	}
	s.deletes++
	return nil
}

func TestChunkContext_DeleteConfigurationOnce(t *testing.T) {
	store := &deleteCounter{err: errors.New("store down")}
	cmd := NewCommandContext(context.Background(), nil, "", nil, store)
	chunk := &ChunkContext{ConfigurationRef: "c1"}

	assert.NotEqual(t, nil, chunk.DeleteConfiguration(cmd))
	assert.Equal(t, false, chunk.ConfigurationDeleted())

	store.err = nil
	assert.Equal(t, nil, chunk.DeleteConfiguration(cmd))
	assert.Equal(t, nil, chunk.DeleteConfiguration(cmd))
	assert.Equal(t, 1, store.deletes)
	assert.Equal(t, true, chunk.ConfigurationDeleted())
}
