package bulkbatch

import (
	"context"
	"sync"

	"github.com/chararch/bulkbatch/blob"
	"github.com/chararch/bulkbatch/util"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// ConfigStore stores serialized batch and chunk configurations by id
type ConfigStore interface {
	Get(cmd *CommandContext, id string) ([]byte, error)
	// Put stores data and returns the id to reference it by
	Put(cmd *CommandContext, name string, data []byte) (string, error)
	// Delete removes the configuration; deleting a missing id is not an error
	Delete(cmd *CommandContext, id string) error
}

// ByteArray row of the batch_byte_array table
type ByteArray struct {
	ID       string
	Name     string
	Bytes    []byte
	Checksum string
	TenantID string
}

// RepositoryConfigStore keeps configurations in the batch_byte_array table of the command's
// transaction, so they are written and deleted atomically with the job rows.
type RepositoryConfigStore struct{}

func NewRepositoryConfigStore() *RepositoryConfigStore {
	return &RepositoryConfigStore{}
}

func (s *RepositoryConfigStore) Get(cmd *CommandContext, id string) ([]byte, error) {
	ba, err := cmd.Tx().FindByteArray(cmd.Context(), id)
	if err != nil {
		return nil, err
	}
	if ba == nil {
		return nil, NewBatchError(ErrCodeConfigNotFound, "configuration not found, id:%v", id)
	}
	if ba.Checksum != "" && ba.Checksum != util.MD5Bytes(ba.Bytes) {
		return nil, NewBatchError(ErrCodeSerialization, "configuration checksum mismatch, id:%v", id)
	}
	return ba.Bytes, nil
}

func (s *RepositoryConfigStore) Put(cmd *CommandContext, name string, data []byte) (string, error) {
	ba := &ByteArray{
		ID:       uuid.NewString(),
		Name:     name,
		Bytes:    data,
		Checksum: util.MD5Bytes(data),
		TenantID: cmd.TenantID(),
	}
	if err := cmd.Tx().InsertByteArray(cmd.Context(), ba); err != nil {
		return "", err
	}
	return ba.ID, nil
}

func (s *RepositoryConfigStore) Delete(cmd *CommandContext, id string) error {
	if err := cmd.Tx().DeleteByteArray(cmd.Context(), id); err != nil {
		return err
	}
	return nil
}

// ExternalConfigStore keeps configurations in a blob.Store outside the database. Blobs written by a
// command that rolls back are removed again; deletes only reach the store once the command committed.
type ExternalConfigStore struct {
	store blob.Store

	mu      sync.Mutex
	pending map[*CommandContext][]string
}

func NewExternalConfigStore(store blob.Store) *ExternalConfigStore {
	return &ExternalConfigStore{store: store, pending: make(map[*CommandContext][]string)}
}

func (s *ExternalConfigStore) Get(cmd *CommandContext, id string) ([]byte, error) {
	data, err := s.store.Get(cmd.Context(), id)
	if err == blob.ErrNotFound {
		return nil, NewBatchError(ErrCodeConfigNotFound, "configuration not found, id:%v", id)
	}
	if err != nil {
		return nil, NewBatchError(ErrCodeGeneral, "read configuration blob failed, id:%v", id, err)
	}
	return data, nil
}

func (s *ExternalConfigStore) Put(cmd *CommandContext, name string, data []byte) (string, error) {
	id := uuid.NewString()
	if err := s.store.Put(cmd.Context(), id, data); err != nil {
		return "", NewBatchError(ErrCodeGeneral, "write configuration blob failed, name:%v", name, err)
	}
	cmd.OnRollback(func(ctx context.Context) {
		if err := s.store.Delete(ctx, id); err != nil {
			logger.Error(ctx, "remove configuration blob of rolled back command failed, id:%v, err:%v", id, err)
		}
	})
	return id, nil
}

func (s *ExternalConfigStore) Delete(cmd *CommandContext, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys, registered := s.pending[cmd]
	s.pending[cmd] = append(keys, id)
	if registered {
		return nil
	}
	cmd.OnCommit(func(ctx context.Context) {
		if err := s.Purge(ctx, s.take(cmd)...); err != nil {
			logger.Error(ctx, "delete configuration blobs failed, err:%v", err)
		}
	})
	cmd.OnRollback(func(ctx context.Context) {
		s.take(cmd)
	})
	return nil
}

func (s *ExternalConfigStore) take(cmd *CommandContext) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := s.pending[cmd]
	delete(s.pending, cmd)
	return keys
}

// Purge deletes every key, collecting all failures instead of stopping at the first one
func (s *ExternalConfigStore) Purge(ctx context.Context, keys ...string) error {
	var result *multierror.Error
	for _, key := range keys {
		if err := s.store.Delete(ctx, key); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "delete blob %v", key))
		}
	}
	return result.ErrorOrNil()
}
