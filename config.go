package bulkbatch

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/chararch/bulkbatch/internal/logs"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefix of environment variables overriding configuration keys, e.g.
// BULKBATCH_EXECUTOR_POOL_SIZE overrides executor.pool_size.
const EnvPrefix = "BULKBATCH"

// Config engine configuration
type Config struct {
	Batch    BatchConfig    `mapstructure:"batch"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// BatchConfig defaults applied to batches created by the engine
type BatchConfig struct {
	// InvocationsPerBatchJob ids per execution job
	InvocationsPerBatchJob int `mapstructure:"invocations_per_batch_job"`
	// BatchJobsPerSeed execution jobs created per seed job invocation
	BatchJobsPerSeed    int           `mapstructure:"batch_jobs_per_seed"`
	MonitorPollInterval time.Duration `mapstructure:"monitor_poll_interval"`
}

type ExecutorConfig struct {
	PoolSize              int           `mapstructure:"pool_size"`
	PollInterval          time.Duration `mapstructure:"poll_interval"`
	MaxJobsPerAcquisition int           `mapstructure:"max_jobs_per_acquisition"`
	LockTime              time.Duration `mapstructure:"lock_time"`
	DefaultRetries        int           `mapstructure:"default_retries"`
	RetryBackoff          time.Duration `mapstructure:"retry_backoff"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// DefaultConfig configuration used when nothing is overridden
func DefaultConfig() *Config {
	return &Config{
		Batch: BatchConfig{
			InvocationsPerBatchJob: 100,
			BatchJobsPerSeed:       10,
			MonitorPollInterval:    30 * time.Second,
		},
		Executor: ExecutorConfig{
			PoolSize:              DefaultJobPoolSize,
			PollInterval:          time.Second,
			MaxJobsPerAcquisition: 3,
			LockTime:              5 * time.Minute,
			DefaultRetries:        3,
			RetryBackoff:          10 * time.Second,
		},
		Logging: LoggingConfig{Level: logs.Info.String()},
	}
}

// Validate rejects values the engine can not run with
func (c *Config) Validate() error {
	switch {
	case c.Batch.InvocationsPerBatchJob <= 0:
		return fmt.Errorf("batch.invocations_per_batch_job must be positive, got:%v", c.Batch.InvocationsPerBatchJob)
	case c.Batch.BatchJobsPerSeed <= 0:
		return fmt.Errorf("batch.batch_jobs_per_seed must be positive, got:%v", c.Batch.BatchJobsPerSeed)
	case c.Batch.MonitorPollInterval < 0:
		return fmt.Errorf("batch.monitor_poll_interval must not be negative, got:%v", c.Batch.MonitorPollInterval)
	case c.Executor.PoolSize <= 0:
		return fmt.Errorf("executor.pool_size must be positive, got:%v", c.Executor.PoolSize)
	case c.Executor.PollInterval <= 0:
		return fmt.Errorf("executor.poll_interval must be positive, got:%v", c.Executor.PollInterval)
	case c.Executor.MaxJobsPerAcquisition <= 0:
		return fmt.Errorf("executor.max_jobs_per_acquisition must be positive, got:%v", c.Executor.MaxJobsPerAcquisition)
	case c.Executor.LockTime <= 0:
		return fmt.Errorf("executor.lock_time must be positive, got:%v", c.Executor.LockTime)
	case c.Executor.DefaultRetries <= 0:
		return fmt.Errorf("executor.default_retries must be positive, got:%v", c.Executor.DefaultRetries)
	case c.Executor.RetryBackoff < 0:
		return fmt.Errorf("executor.retry_backoff must not be negative, got:%v", c.Executor.RetryBackoff)
	}
	return nil
}

// LoadConfig builds a Config from the defaults, the YAML file at path, the dotenv file at envFile and the
// process environment, later sources winning. Empty path or envFile skips that source.
func LoadConfig(path, envFile string) (*Config, error) {
	raw := make(map[string]interface{})
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %v: %w", path, err)
		}
		if err = yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse config file %v: %w", path, err)
		}
		if raw == nil {
			raw = make(map[string]interface{})
		}
	}

	env := make(map[string]string)
	if envFile != "" {
		fileEnv, err := godotenv.Read(envFile)
		if err != nil {
			return nil, fmt.Errorf("read env file %v: %w", envFile, err)
		}
		for k, v := range fileEnv {
			env[k] = v
		}
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(k, EnvPrefix+"_") {
			env[k] = v
		}
	}
	overlayEnv(raw, reflect.TypeOf(Config{}), EnvPrefix, env)

	cfg := DefaultConfig()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, err
	}
	if err = decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overlayEnv copies PREFIX_SECTION_KEY variables into raw[section][key] following the mapstructure tags of t
func overlayEnv(raw map[string]interface{}, t reflect.Type, prefix string, env map[string]string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		key := f.Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		name := prefix + "_" + strings.ToUpper(key)
		if f.Type.Kind() == reflect.Struct {
			sub, ok := raw[key].(map[string]interface{})
			if !ok {
				sub = make(map[string]interface{})
			}
			overlayEnv(sub, f.Type, name, env)
			if len(sub) > 0 {
				raw[key] = sub
			}
			continue
		}
		if v, ok := env[name]; ok {
			raw[key] = v
		}
	}
}
