// dagrunner replays a recorded multi-agent conversation trace as an
// executable workflow against a remote chat-completion backend. This is
// intentionally a thin composition root: flag parsing, `.env`/YAML config
// loading, and output file path conventions are the explicitly out-of-scope
// "CLI wrapper" (spec.md §1) — main.go exists only far enough to prove
// C1 through C7 compose end to end, mirroring the shallow
// flag-parse-then-delegate shape of the teacher's cmd/tarsy/main.go.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tarsy-labs/dagrunner/pkg/config"
	"github.com/tarsy-labs/dagrunner/pkg/dag"
	"github.com/tarsy-labs/dagrunner/pkg/llmclient"
	"github.com/tarsy-labs/dagrunner/pkg/metrics"
	"github.com/tarsy-labs/dagrunner/pkg/scheduler"
	"github.com/tarsy-labs/dagrunner/pkg/store"
	"github.com/tarsy-labs/dagrunner/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config", getEnv("DAGRUNNER_CONFIG", "./dagrunner.yaml"), "Path to run configuration YAML")
	envPath := flag.String("env", getEnv("DAGRUNNER_ENV", ".env"), "Path to .env file")
	dagPath := flag.String("dag", "", "Path to DAG trace JSON (overrides config's dag_path)")
	compare := flag.Bool("compare", false, "Run sequential and dependency_aware and print a comparison report")
	flag.Parse()

	ctx := context.Background()

	slog.Info("dagrunner: starting", "version", version.Full())

	cfg, err := config.Initialize(ctx, *configPath, *envPath)
	if err != nil {
		log.Fatalf("dagrunner: configuration error: %v", err)
	}

	resolvedDAGPath := *dagPath
	if resolvedDAGPath == "" {
		resolvedDAGPath = cfg.DAGPath
	}
	if resolvedDAGPath == "" {
		log.Fatal("dagrunner: no DAG path given (pass -dag or set dag_path in config)")
	}

	d, err := dag.LoadFile(resolvedDAGPath)
	if err != nil {
		log.Fatalf("dagrunner: failed to load DAG: %v", err)
	}

	client := llmclient.NewHTTPClient(llmclient.Config{
		BaseURL:    cfg.Inference.BaseURL,
		APIKey:     cfg.APIKey(),
		Model:      cfg.Inference.Model,
		Timeout:    time.Duration(cfg.Inference.Timeout),
		MaxRetries: cfg.Inference.MaxRetries,
	})

	if !client.CheckHealth(ctx) {
		log.Fatal("dagrunner: inference backend health check failed, aborting before scheduling")
	}

	var resultStore *store.Store
	if cfg.Store.Enabled {
		resultStore, err = store.NewStore(ctx, store.Config{
			Host: cfg.Store.Host, Port: cfg.Store.Port, User: cfg.Store.User,
			Password: cfg.StorePassword(), Database: cfg.Store.Database, SSLMode: cfg.Store.SSLMode,
		})
		if err != nil {
			log.Fatalf("dagrunner: failed to connect to result store: %v", err)
		}
		defer func() {
			if err := resultStore.Close(); err != nil {
				slog.Warn("dagrunner: error closing result store", "error", err)
			}
		}()
	}

	schedCfg := schedulerConfigFrom(cfg)

	if *compare {
		runComparison(ctx, d, client, schedCfg, cfg, resultStore)
		return
	}

	runSingle(ctx, d, client, schedCfg, cfg, resultStore)
}

func schedulerConfigFrom(cfg *config.RunConfig) scheduler.Config {
	enableTools := cfg.Scheduler.EnableTools == nil || *cfg.Scheduler.EnableTools
	return scheduler.Config{
		Policy:      scheduler.Policy(cfg.Scheduler.Policy),
		MaxParallel: cfg.Scheduler.MaxParallel,
		EnableTools: enableTools,
		MaxTokens:   cfg.Scheduler.MaxTokens,
		Temperature: cfg.Scheduler.Temperature,
		RetryFailed: cfg.Scheduler.RetryFailed,
		MaxRetries:  cfg.Scheduler.MaxRetries,
	}
}

func runSingle(ctx context.Context, d *dag.DAG, client llmclient.Client, cfg scheduler.Config, rc *config.RunConfig, st *store.Store) {
	sched, err := scheduler.New(d, client, cfg, d.Metadata.TaskDescription)
	if err != nil {
		log.Fatalf("dagrunner: scheduler construction failed: %v", err)
	}

	result := sched.Run(ctx)
	persistAndReport(ctx, result, d.Len(), rc, st)
}

func runComparison(ctx context.Context, d *dag.DAG, client llmclient.Client, base scheduler.Config, rc *config.RunConfig, st *store.Store) {
	results := make(map[scheduler.Policy]scheduler.WorkflowExecutionResult, 2)

	for _, policy := range []scheduler.Policy{scheduler.PolicySequential, scheduler.PolicyDependencyAware} {
		cfg := base
		cfg.Policy = policy
		sched, err := scheduler.New(d, client, cfg, d.Metadata.TaskDescription)
		if err != nil {
			log.Fatalf("dagrunner: scheduler construction failed for policy %s: %v", policy, err)
		}
		result := sched.Run(ctx)
		results[policy] = result
		if st != nil {
			if err := st.SaveRun(ctx, result); err != nil {
				slog.Warn("dagrunner: failed to persist run", "policy", policy, "error", err)
			}
		}
	}

	report := metrics.BuildReport(results, d.Len())
	os.Stdout.WriteString(report.Render())
}

// resultFile wraps a Workflow Execution Result with the ISO-8601 execution
// timestamp spec.md §6 requires of the result file format.
type resultFile struct {
	scheduler.WorkflowExecutionResult
	ExecutionTimestamp string `json:"execution_timestamp"`
}

func persistAndReport(ctx context.Context, result scheduler.WorkflowExecutionResult, totalNodes int, rc *config.RunConfig, st *store.Store) {
	if st != nil {
		if err := st.SaveRun(ctx, result); err != nil {
			slog.Warn("dagrunner: failed to persist run", "error", err)
		}
	}

	out := resultFile{WorkflowExecutionResult: result, ExecutionTimestamp: result.FinishedAt.UTC().Format(time.RFC3339)}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		log.Fatalf("dagrunner: failed to marshal result: %v", err)
	}

	resultPath := rc.ResultPath
	if resultPath == "" {
		resultPath = "./result.json"
	}
	if err := os.MkdirAll(filepath.Dir(resultPath), 0o755); err != nil {
		log.Fatalf("dagrunner: failed to create result directory: %v", err)
	}
	if err := os.WriteFile(resultPath, data, 0o644); err != nil {
		log.Fatalf("dagrunner: failed to write result file: %v", err)
	}

	m := metrics.FromResult(result, totalNodes)
	slog.Info("dagrunner: run complete",
		"success", result.Success, "nodes_executed", m.NodesExecuted, "total_tokens", m.TotalTokens,
		"parallelism_factor", m.ParallelismFactor, "result_path", resultPath)
}
