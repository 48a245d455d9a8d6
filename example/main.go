// Command example runs a set-variables batch against MySQL, keeping chunk configurations in the database,
// a local directory or on an FTP server, and serves the engine metrics on /metrics.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/chararch/bulkbatch"
	"github.com/chararch/bulkbatch/blob"
	"github.com/chararch/bulkbatch/variables"
	_ "github.com/go-sql-driver/mysql"
)

// memoryRuntime stands in for a process engine: it keeps the variables of every instance in memory
type memoryRuntime struct {
	mu        sync.Mutex
	instances map[string]map[string]interface{}
}

func (r *memoryRuntime) SetVariables(ctx context.Context, targetID string, vars map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.instances[targetID]
	if !ok {
		return variables.ErrTargetNotFound
	}
	for k, v := range vars {
		current[k] = v
	}
	audited := true
	if audit := bulkbatch.AuditLogFromContext(ctx); audit != nil {
		audited = audit.IsEnabled()
	}
	fmt.Printf("set %d variables on %v, audited:%v\n", len(vars), targetID, audited)
	return nil
}

func configStore(kind string) bulkbatch.ConfigStore {
	switch kind {
	case "local":
		dir := os.Getenv("BULKBATCH_BLOB_DIR")
		if dir == "" {
			dir = os.TempDir()
		}
		return bulkbatch.NewExternalConfigStore(&blob.LocalStore{Dir: dir})
	case "ftp":
		return bulkbatch.NewExternalConfigStore(&blob.FTPStore{
			Host:        os.Getenv("BULKBATCH_FTP_HOST"),
			Port:        21,
			User:        os.Getenv("BULKBATCH_FTP_USER"),
			Password:    os.Getenv("BULKBATCH_FTP_PASSWORD"),
			Dir:         "/bulkbatch",
			ConnTimeout: 10 * time.Second,
		})
	default:
		return bulkbatch.NewRepositoryConfigStore()
	}
}

func main() {
	configFile := flag.String("config", "", "YAML configuration file")
	envFile := flag.String("env", "", "dotenv file with BULKBATCH_* overrides")
	dsn := flag.String("dsn", "root:root123@tcp(127.0.0.1:3306)/bulkbatch?charset=utf8mb4&parseTime=true&loc=UTC", "MySQL DSN")
	store := flag.String("store", "db", "chunk configuration store: db, local or ftp")
	addr := flag.String("metrics", ":9090", "metrics listen address")
	instances := flag.Int("instances", 1000, "number of process instances to update")
	flag.Parse()

	cfg, err := bulkbatch.LoadConfig(*configFile, *envFile)
	if err != nil {
		log.Fatal(err)
	}
	db, err := sql.Open("mysql", *dsn)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err = bulkbatch.CreateSchema(ctx, db); err != nil {
		log.Fatal(err)
	}

	runtime := &memoryRuntime{instances: make(map[string]map[string]interface{})}
	ids := make([]string, *instances)
	for i := range ids {
		ids[i] = fmt.Sprintf("instance-%06d", i)
		runtime.instances[ids[i]] = make(map[string]interface{})
	}

	metrics := bulkbatch.NewPrometheusListener()
	engine, err := bulkbatch.NewEngine(db).
		Handler(variables.NewSetVariablesHandler(runtime)).
		ConfigStore(configStore(*store)).
		Listener(metrics).
		Config(cfg).
		Build()
	if err != nil {
		log.Fatal(err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server stopped: %v", err)
		}
	}()
	defer server.Close()

	batch, err := engine.CreateBatch(ctx, bulkbatch.CreateBatchRequest{
		Type:     variables.Type,
		TenantID: "demo",
		UserID:   "admin",
		IDs:      ids,
		Payload:  variables.Payload{Variables: map[string]interface{}{"approved": true, "reviewer": "admin"}},
	})
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("batch %v created for %d instances", batch.ID, len(ids))

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if stats, err := engine.BatchStatistics(ctx, batch.ID); err == nil {
				log.Printf("batch %v: %+v", batch.ID, *stats)
				continue
			}
			if h, err := engine.FindBatchHistory(ctx, batch.ID); err == nil && h != nil {
				log.Printf("batch %v finished: status:%v completed:%d failed:%d", h.ID, h.Status, h.JobsCompleted, h.JobsFailed)
				stop()
				return
			}
		}
	}()

	if err = engine.NewExecutor().Start(ctx); err != nil {
		log.Fatal(err)
	}
}
