package bulkbatch

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bmizerany/assert"
	"github.com/chararch/bulkbatch/blob"
	"github.com/chararch/bulkbatch/status"
	_ "github.com/mattn/go-sqlite3"
)

const testType = "test-op"

// recordingHandler applies nothing; it records every id it was invoked with
type recordingHandler struct {
	JSONConfigurationCodec

	mu      sync.Mutex
	chunks  [][]string
	applied map[string]int
	// failures per id still to be returned before the id succeeds; -1 fails forever
	failures map[string]int
	panics   map[string]int
	failErr  func(id string) error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		JSONConfigurationCodec: JSONConfigurationCodec{ConfigurationType: testType},
		applied:                map[string]int{},
		failures:               map[string]int{},
		panics:                 map[string]int{},
	}
}

func (h *recordingHandler) Type() string {
	return testType
}

func (h *recordingHandler) Execute(cmd *CommandContext, chunk *ChunkContext) error {
	h.mu.Lock()
	for _, id := range chunk.Configuration.IDs {
		if h.panics[id] > 0 {
			h.panics[id]--
			h.mu.Unlock()
			panic("crash while applying " + id)
		}
		if n := h.failures[id]; n != 0 {
			if n > 0 {
				h.failures[id]--
			}
			h.mu.Unlock()
			if h.failErr != nil {
				return h.failErr(id)
			}
			return fmt.Errorf("apply %v failed", id)
		}
		h.applied[id]++
	}
	h.chunks = append(h.chunks, chunk.Configuration.IDs)
	h.mu.Unlock()
	return chunk.DeleteConfiguration(cmd)
}

func testIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("pi-%04d", i)
	}
	return ids
}

func openTestDB(t *testing.T) *sql.DB {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	assert.Equal(t, nil, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	assert.Equal(t, nil, CreateSchema(context.Background(), db))
	return db
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Batch.MonitorPollInterval = 0
	cfg.Executor.RetryBackoff = 0
	cfg.Executor.MaxJobsPerAcquisition = 4
	cfg.Executor.PollInterval = 10 * time.Millisecond
	return cfg
}

func newTestEngine(t *testing.T, db *sql.DB, cfg *Config, handlers ...BatchJobHandler) *Engine {
	if cfg == nil {
		cfg = testConfig()
	}
	engine, err := NewEngine(db).Handler(handlers...).Config(cfg).Build()
	assert.Equal(t, nil, err)
	return engine
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	var n int
	assert.Equal(t, nil, db.QueryRow("select count(*) from "+table).Scan(&n))
	return n
}

func runIdle(t *testing.T, x *JobExecutor) int {
	n, err := x.RunUntilIdle(context.Background())
	assert.Equal(t, nil, err)
	return n
}

func TestEngine_ChunkPartition(t *testing.T) {
	cases := []struct{ n, chunkSize, perSeed int }{
		{0, 5, 2}, {1, 5, 2}, {5, 5, 2}, {6, 5, 2}, {23, 4, 1}, {100, 7, 3},
	}
	for _, c := range cases {
		t.Run(fmt.Sprintf("n%d_c%d_s%d", c.n, c.chunkSize, c.perSeed), func(t *testing.T) {
			db := openTestDB(t)
			h := newRecordingHandler()
			engine := newTestEngine(t, db, nil, h)
			ids := testIDs(c.n)
			batch, err := engine.CreateBatch(context.Background(), CreateBatchRequest{
				Type: testType, IDs: ids, InvocationsPerBatchJob: c.chunkSize, BatchJobsPerSeed: c.perSeed,
			})
			assert.Equal(t, nil, err)
			runIdle(t, engine.NewExecutor())

			expected := (c.n + c.chunkSize - 1) / c.chunkSize
			assert.Equal(t, expected, len(h.chunks))
			for _, chunk := range h.chunks {
				assert.T(t, len(chunk) > 0 && len(chunk) <= c.chunkSize)
			}
			assert.Equal(t, c.n, len(h.applied))
			for _, id := range ids {
				assert.Equal(t, 1, h.applied[id])
			}

			hist, err := engine.FindBatchHistory(context.Background(), batch.ID)
			assert.Equal(t, nil, err)
			assert.Equal(t, status.COMPLETED, hist.Status)
			assert.Equal(t, expected, hist.TotalJobs)
			assert.Equal(t, expected, hist.JobsCreated)
			assert.Equal(t, expected, hist.JobsCompleted)
		})
	}
}

func TestEngine_CompletesAndCleansUp(t *testing.T) {
	db := openTestDB(t)
	h := newRecordingHandler()
	engine := newTestEngine(t, db, nil, h)
	ctx := context.Background()

	batch, err := engine.CreateBatch(ctx, CreateBatchRequest{Type: testType, TenantID: "t1", UserID: "demo", IDs: testIDs(237), InvocationsPerBatchJob: 50})
	assert.Equal(t, nil, err)
	assert.Equal(t, UnknownTotalJobs, batch.TotalJobs)
	assert.Equal(t, 1, countRows(t, db, "batch_byte_array"))
	assert.Equal(t, 3, countRows(t, db, "batch_job_definition"))

	runIdle(t, engine.NewExecutor())

	assert.Equal(t, 5, len(h.chunks))
	found, err := engine.FindBatch(ctx, batch.ID)
	assert.Equal(t, nil, err)
	assert.T(t, found == nil)
	assert.Equal(t, 0, countRows(t, db, "batch"))
	assert.Equal(t, 0, countRows(t, db, "batch_job"))
	assert.Equal(t, 0, countRows(t, db, "batch_job_definition"))
	assert.Equal(t, 0, countRows(t, db, "batch_byte_array"))

	hist, err := engine.FindBatchHistory(ctx, batch.ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, status.COMPLETED, hist.Status)
	assert.Equal(t, 5, hist.JobsCompleted)
	assert.Equal(t, 0, hist.JobsFailed)
	assert.Equal(t, "t1", hist.TenantID)
	assert.Equal(t, "demo", hist.CreateUserID)
}

func TestEngine_SeedPagesAndStatistics(t *testing.T) {
	db := openTestDB(t)
	h := newRecordingHandler()
	engine := newTestEngine(t, db, nil, h)
	ctx := context.Background()
	x := engine.NewExecutor()

	batch, err := engine.CreateBatch(ctx, CreateBatchRequest{Type: testType, IDs: testIDs(25), InvocationsPerBatchJob: 5, BatchJobsPerSeed: 2})
	assert.Equal(t, nil, err)

	// only the seed job is due: one page of two chunks
	jobs, err := x.AcquireJobs(ctx, 10)
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(jobs))
	assert.Equal(t, SeedJobType, jobs[0].Type)
	assert.Equal(t, nil, x.ExecuteJob(ctx, jobs[0]))

	stats, err := engine.BatchStatistics(ctx, batch.ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, status.SEEDING, stats.Status)
	assert.Equal(t, 2, stats.JobsCreated)
	assert.Equal(t, 2, stats.RemainingJobs)
	assert.Equal(t, UnknownTotalJobs, stats.TotalJobs)
	// the rescheduled seed job and two execution jobs
	assert.Equal(t, map[status.JobStatus]int{status.PENDING: 3}, stats.JobStates)

	jobs, err = x.AcquireJobs(ctx, 1)
	assert.Equal(t, nil, err)
	stats, err = engine.BatchStatistics(ctx, batch.ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, map[status.JobStatus]int{status.PENDING: 2, status.LOCKED: 1}, stats.JobStates)
	assert.Equal(t, nil, x.ExecuteJob(ctx, jobs[0]))

	runIdle(t, x)
	assert.Equal(t, 5, len(h.chunks))
	_, err = engine.BatchStatistics(ctx, batch.ID)
	assert.Equal(t, ErrCodeNotFound, ErrorCode(err))
}

func TestEngine_FailedChunkIsCountedAndCleanedUp(t *testing.T) {
	db := openTestDB(t)
	h := newRecordingHandler()
	h.failures["pi-0007"] = -1
	cfg := testConfig()
	cfg.Executor.DefaultRetries = 3
	engine := newTestEngine(t, db, cfg, h)
	ctx := context.Background()

	batch, err := engine.CreateBatch(ctx, CreateBatchRequest{Type: testType, IDs: testIDs(20), InvocationsPerBatchJob: 5})
	assert.Equal(t, nil, err)
	runIdle(t, engine.NewExecutor())

	assert.Equal(t, 3, len(h.chunks))
	hist, err := engine.FindBatchHistory(ctx, batch.ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, 3, hist.JobsCompleted)
	assert.Equal(t, 1, hist.JobsFailed)
	assert.Equal(t, 0, countRows(t, db, "batch_job"))
	assert.Equal(t, 0, countRows(t, db, "batch_byte_array"))
}

func TestEngine_RetryThenSucceed(t *testing.T) {
	db := openTestDB(t)
	h := newRecordingHandler()
	h.failures["pi-0003"] = 2
	engine := newTestEngine(t, db, nil, h)
	ctx := context.Background()

	batch, err := engine.CreateBatch(ctx, CreateBatchRequest{Type: testType, IDs: testIDs(4), InvocationsPerBatchJob: 2})
	assert.Equal(t, nil, err)
	runIdle(t, engine.NewExecutor())

	hist, _ := engine.FindBatchHistory(ctx, batch.ID)
	assert.Equal(t, 2, hist.JobsCompleted)
	assert.Equal(t, 0, hist.JobsFailed)
	// pi-0002 precedes the failing id in its chunk and is applied again on each retry
	assert.Equal(t, 3, h.applied["pi-0002"])
	assert.Equal(t, 1, h.applied["pi-0003"])
	assert.Equal(t, 1, h.applied["pi-0001"])
}

func TestEngine_NonRetryableFailsImmediately(t *testing.T) {
	db := openTestDB(t)
	h := newRecordingHandler()
	h.failures["pi-0000"] = -1
	attempts := 0
	h.failErr = func(id string) error {
		attempts++
		return NewBatchError(ErrCodeSerialization, "corrupt target:%v", id)
	}
	engine := newTestEngine(t, db, nil, h)
	ctx := context.Background()

	batch, err := engine.CreateBatch(ctx, CreateBatchRequest{Type: testType, IDs: testIDs(1)})
	assert.Equal(t, nil, err)
	runIdle(t, engine.NewExecutor())

	assert.Equal(t, 1, attempts)
	hist, _ := engine.FindBatchHistory(ctx, batch.ID)
	assert.Equal(t, 1, hist.JobsFailed)
}

func TestEngine_SuspendAndResume(t *testing.T) {
	db := openTestDB(t)
	h := newRecordingHandler()
	engine := newTestEngine(t, db, nil, h)
	ctx := context.Background()
	x := engine.NewExecutor()

	batch, err := engine.CreateBatch(ctx, CreateBatchRequest{Type: testType, IDs: testIDs(30), InvocationsPerBatchJob: 5, BatchJobsPerSeed: 2})
	assert.Equal(t, nil, err)
	jobs, _ := x.AcquireJobs(ctx, 1)
	assert.Equal(t, nil, x.ExecuteJob(ctx, jobs[0]))

	assert.Equal(t, nil, engine.SuspendBatch(ctx, batch.ID))
	assert.Equal(t, nil, engine.SuspendBatch(ctx, batch.ID))
	before, _ := engine.FindBatch(ctx, batch.ID)
	assert.Equal(t, status.SUSPENDED, before.Status())
	stats, err := engine.BatchStatistics(ctx, batch.ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, map[status.JobStatus]int{status.SUSPENDED_JOB: 3}, stats.JobStates)
	for _, d := range findDefinitions(t, engine, batch.ID) {
		assert.Equal(t, true, d.Suspended)
	}

	assert.Equal(t, 0, runIdle(t, x))
	after, _ := engine.FindBatch(ctx, batch.ID)
	assert.Equal(t, before.JobsCreated, after.JobsCreated)
	assert.Equal(t, before.JobsCompleted, after.JobsCompleted)
	assert.Equal(t, before.SeedCursor, after.SeedCursor)
	assert.Equal(t, 0, len(h.chunks))

	assert.Equal(t, nil, engine.ResumeBatch(ctx, batch.ID))
	for _, d := range findDefinitions(t, engine, batch.ID) {
		assert.Equal(t, false, d.Suspended)
	}
	runIdle(t, x)
	assert.Equal(t, 6, len(h.chunks))
	hist, _ := engine.FindBatchHistory(ctx, batch.ID)
	assert.Equal(t, status.COMPLETED, hist.Status)
	assert.Equal(t, 6, hist.JobsCompleted)

	assert.Equal(t, ErrCodeNotFound, ErrorCode(engine.SuspendBatch(ctx, batch.ID)))
}

func TestEngine_DeleteBatch(t *testing.T) {
	db := openTestDB(t)
	h := newRecordingHandler()
	engine := newTestEngine(t, db, nil, h)
	ctx := context.Background()
	x := engine.NewExecutor()

	batch, err := engine.CreateBatch(ctx, CreateBatchRequest{Type: testType, IDs: testIDs(12), InvocationsPerBatchJob: 3, BatchJobsPerSeed: 2})
	assert.Equal(t, nil, err)
	jobs, _ := x.AcquireJobs(ctx, 1)
	assert.Equal(t, nil, x.ExecuteJob(ctx, jobs[0]))
	defs := findDefinitions(t, engine, batch.ID)
	assert.Equal(t, 3, len(defs))
	phases := map[Phase]bool{}
	for _, d := range defs {
		phases[d.Phase] = true
	}
	assert.Equal(t, map[Phase]bool{PhaseSeed: true, PhaseExecute: true, PhaseMonitor: true}, phases)

	assert.Equal(t, nil, engine.DeleteBatch(ctx, batch.ID))
	assert.Equal(t, 0, len(findDefinitions(t, engine, batch.ID)))
	assert.Equal(t, 0, countRows(t, db, "batch"))
	assert.Equal(t, 0, countRows(t, db, "batch_job"))
	assert.Equal(t, 0, countRows(t, db, "batch_job_definition"))
	assert.Equal(t, 0, countRows(t, db, "batch_byte_array"))
	hist, _ := engine.FindBatchHistory(ctx, batch.ID)
	assert.Equal(t, status.DELETED, hist.Status)
	assert.Equal(t, 2, hist.JobsCreated)

	assert.Equal(t, 0, runIdle(t, x))
	assert.Equal(t, ErrCodeNotFound, ErrorCode(engine.DeleteBatch(ctx, batch.ID)))
}

func TestEngine_UnknownHandler(t *testing.T) {
	db := openTestDB(t)
	engine := newTestEngine(t, db, nil)
	_, err := engine.CreateBatch(context.Background(), CreateBatchRequest{Type: "nope", IDs: testIDs(3)})
	assert.Equal(t, ErrCodeHandlerNotFound, ErrorCode(err))
	assert.Equal(t, 0, countRows(t, db, "batch"))
}

func TestEngine_StartLoop(t *testing.T) {
	db := openTestDB(t)
	h := newRecordingHandler()
	engine := newTestEngine(t, db, nil, h)

	batch, err := engine.CreateBatch(context.Background(), CreateBatchRequest{Type: testType, IDs: testIDs(40), InvocationsPerBatchJob: 10})
	assert.Equal(t, nil, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.NewExecutor().Start(ctx) }()

	deadline := time.Now().Add(10 * time.Second)
	var hist *BatchHistory
	for hist == nil && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
		hist, err = engine.FindBatchHistory(context.Background(), batch.ID)
		assert.Equal(t, nil, err)
	}
	cancel()
	assert.Equal(t, nil, <-done)
	assert.T(t, hist != nil)
	assert.Equal(t, 4, hist.JobsCompleted)
}

// failingPuts fails the failAt-th Put once; counting starts at zero
type failingPuts struct {
	ConfigStore
	mu     sync.Mutex
	puts   int
	failAt int
}

func (s *failingPuts) Put(cmd *CommandContext, name string, data []byte) (string, error) {
	s.mu.Lock()
	s.puts++
	fail := s.puts == s.failAt
	s.mu.Unlock()
	if fail {
		return "", fmt.Errorf("store unavailable while writing %v", name)
	}
	return s.ConfigStore.Put(cmd, name, data)
}

func (s *failingPuts) arm(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts = 0
	s.failAt = n
}

func TestSeed_FailureMidPageRollsBackWholePage(t *testing.T) {
	db := openTestDB(t)
	h := newRecordingHandler()
	store := &failingPuts{ConfigStore: NewRepositoryConfigStore()}
	engine, err := NewEngine(db).Handler(h).ConfigStore(store).Config(testConfig()).Build()
	assert.Equal(t, nil, err)
	ctx := context.Background()
	x := engine.NewExecutor()

	batch, err := engine.CreateBatch(ctx, CreateBatchRequest{Type: testType, IDs: testIDs(20), InvocationsPerBatchJob: 5})
	assert.Equal(t, nil, err)
	store.arm(3)

	seed, _ := x.AcquireJobs(ctx, 1)
	assert.Equal(t, SeedJobType, seed[0].Type)
	assert.NotEqual(t, nil, x.ExecuteJob(ctx, seed[0]))

	// neither the two chunks written before the failure nor the cursor advance were kept
	assert.Equal(t, 1, countRows(t, db, "batch_job"))
	assert.Equal(t, 1, countRows(t, db, "batch_byte_array"))
	mid, _ := engine.FindBatch(ctx, batch.ID)
	assert.Equal(t, 0, mid.JobsCreated)
	assert.Equal(t, 0, mid.SeedCursor)
	assert.Equal(t, false, mid.SeedFinished)

	var retries int
	var msg string
	assert.Equal(t, nil, db.QueryRow("select retries, exception_message from batch_job where id=?", seed[0].ID).Scan(&retries, &msg))
	assert.Equal(t, engine.Config().Executor.DefaultRetries-1, retries)
	assert.T(t, strings.Contains(msg, "store unavailable"))

	runIdle(t, x)
	assert.Equal(t, 4, len(h.chunks))
	for _, id := range testIDs(20) {
		assert.Equal(t, 1, h.applied[id])
	}
	hist, _ := engine.FindBatchHistory(ctx, batch.ID)
	assert.Equal(t, 4, hist.JobsCreated)
	assert.Equal(t, 4, hist.JobsCompleted)
	assert.Equal(t, 0, countRows(t, db, "batch_byte_array"))
}

func TestEngine_DeleteBatchWithExternalStore(t *testing.T) {
	db := openTestDB(t)
	h := newRecordingHandler()
	mem := blob.NewMemoryStore()
	engine, err := NewEngine(db).Handler(h).ConfigStore(NewExternalConfigStore(mem)).Config(testConfig()).Build()
	assert.Equal(t, nil, err)
	ctx := context.Background()
	x := engine.NewExecutor()

	batch, err := engine.CreateBatch(ctx, CreateBatchRequest{Type: testType, IDs: testIDs(12), InvocationsPerBatchJob: 3, BatchJobsPerSeed: 2})
	assert.Equal(t, nil, err)
	jobs, _ := x.AcquireJobs(ctx, 1)
	assert.Equal(t, nil, x.ExecuteJob(ctx, jobs[0]))
	// batch configuration plus two chunk configurations
	assert.Equal(t, 3, len(mem.Keys()))

	assert.Equal(t, nil, engine.DeleteBatch(ctx, batch.ID))
	assert.Equal(t, 0, len(mem.Keys()))
	assert.Equal(t, 0, countRows(t, db, "batch_job"))
	assert.Equal(t, 0, runIdle(t, x))
	assert.Equal(t, 0, len(h.chunks))
}

func findDefinitions(t *testing.T, engine *Engine, batchID string) []*JobDefinition {
	var defs []*JobDefinition
	err := runCommand(context.Background(), engine.txManager, engine.newCommand(""), func(cmd *CommandContext) error {
		var be BatchError
		defs, be = cmd.Tx().FindJobDefinitions(cmd.Context(), batchID)
		if be != nil {
			return be
		}
		return nil
	})
	assert.Equal(t, nil, err)
	return defs
}
