package bulkbatch

import (
	"encoding/json"
)

// CurrentConfigurationVersion version written into every serialized configuration
const CurrentConfigurationVersion = 1

// BatchConfiguration target ids plus the operation payload. The same shape is used for the full batch
// configuration and for the chunk configuration owned by one execution job.
type BatchConfiguration struct {
	Type    string          `json:"type"`
	Version int             `json:"version"`
	BatchID string          `json:"batchId,omitempty"`
	IDs     []string        `json:"ids"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewBatchConfiguration builds a configuration from ids and a payload value marshalled as JSON
func NewBatchConfiguration(ids []string, payload interface{}) (*BatchConfiguration, error) {
	cfg := &BatchConfiguration{IDs: ids}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, NewBatchError(ErrCodeSerialization, "marshal batch payload failed", err)
		}
		cfg.Payload = b
	}
	return cfg, nil
}

// DecodePayload unmarshals the payload into v; an absent payload leaves v untouched
func (c *BatchConfiguration) DecodePayload(v interface{}) error {
	if len(c.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(c.Payload, v); err != nil {
		return NewBatchError(ErrCodeSerialization, "unmarshal batch payload failed", err)
	}
	return nil
}

// Chunk copy of c restricted to ids; the payload bytes are copied so the chunk is self-contained
func (c *BatchConfiguration) Chunk(ids []string) *BatchConfiguration {
	chunk := &BatchConfiguration{
		Type:    c.Type,
		Version: c.Version,
		BatchID: c.BatchID,
		IDs:     append([]string(nil), ids...),
	}
	if c.Payload != nil {
		chunk.Payload = append(json.RawMessage(nil), c.Payload...)
	}
	return chunk
}

// JSONConfigurationCodec tagged JSON codec handlers embed to implement WriteConfiguration and ReadConfiguration
type JSONConfigurationCodec struct {
	ConfigurationType string
}

// WriteConfiguration serializes cfg tagged with the codec type and the current version
func (c JSONConfigurationCodec) WriteConfiguration(cfg *BatchConfiguration) ([]byte, error) {
	if cfg == nil {
		return nil, NewBatchError(ErrCodeSerialization, "nil configuration for type:%v", c.ConfigurationType)
	}
	tagged := *cfg
	tagged.Type = c.ConfigurationType
	tagged.Version = CurrentConfigurationVersion
	if tagged.IDs == nil {
		tagged.IDs = []string{}
	}
	b, err := json.Marshal(&tagged)
	if err != nil {
		return nil, NewBatchError(ErrCodeSerialization, "write configuration failed, type:%v", c.ConfigurationType, err)
	}
	return b, nil
}

// ReadConfiguration deserializes data. Unknown fields are ignored; a type tag of another handler is rejected.
func (c JSONConfigurationCodec) ReadConfiguration(data []byte) (*BatchConfiguration, error) {
	cfg := &BatchConfiguration{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, NewBatchError(ErrCodeSerialization, "read configuration failed, type:%v", c.ConfigurationType, err)
	}
	if cfg.Type != "" && cfg.Type != c.ConfigurationType {
		return nil, NewBatchError(ErrCodeSerialization, "configuration type mismatch, expected:%v, actual:%v", c.ConfigurationType, cfg.Type)
	}
	if cfg.Version == 0 {
		cfg.Version = CurrentConfigurationVersion
	}
	return cfg, nil
}

// CreateChunkConfiguration default chunking: same payload, chunk ids
func (c JSONConfigurationCodec) CreateChunkConfiguration(parent *BatchConfiguration, ids []string) *BatchConfiguration {
	return parent.Chunk(ids)
}
