package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"ecocalc/internal/catalogs"
	persistlog "ecocalc/internal/persistence/log"
	"ecocalc/internal/session"
	"ecocalc/internal/transport/httpapi"
	"ecocalc/internal/transport/ws"
	"ecocalc/internal/tuning"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/calc.yaml", "path to calc.yaml")
		addr       = flag.String("addr", "", "http listen address (overrides config)")
		catalog    = flag.String("catalog", "", "catalog export path (overrides config)")
		dataDir    = flag.String("data", "", "runtime data directory (overrides config)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite price index")
		envFile    = flag.String("env", ".env", "optional dotenv file with ECOCALC_* overrides")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		logger.Printf("load %s: %v", *envFile, err)
	}

	tune, err := tuning.Load(*configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load config: %v", err)
		}
		logger.Printf("config not found (%s); using defaults", *configPath)
		tune = tuning.Defaults()
	}
	tune.ApplyEnv()
	if v := strings.TrimSpace(*addr); v != "" {
		tune.Listen = v
	}
	if v := strings.TrimSpace(*catalog); v != "" {
		tune.CatalogPath = v
	}
	if v := strings.TrimSpace(*dataDir); v != "" {
		tune.DataDir = v
	}
	if *disableDB {
		tune.DisableDB = true
	}

	raw, err := os.ReadFile(tune.CatalogPath)
	if err != nil {
		logger.Fatalf("read catalog: %v", err)
	}
	cat, err := catalogs.Parse(raw)
	if err != nil {
		logger.Fatalf("load catalog: %v", err)
	}
	logger.Printf("catalog %s (%d recipes, digest %.12s)", cat.Version, len(cat.RecipeIDs()), cat.Digest)

	if err := os.MkdirAll(tune.DataDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}

	edits := persistlog.NewEditLogger(tune.DataDir)
	defer edits.Close()
	recorders := session.Recorders{edits}

	idx, err := openRuntimeIndex(tune.DataDir, tune.DisableDB)
	if err != nil {
		logger.Fatalf("open index: %v", err)
	}
	var apiOpts []httpapi.Option
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertCatalog(cat, raw); err != nil {
			logger.Printf("index catalog: %v", err)
		}
		recorders = append(recorders, idx)
		apiOpts = append(apiOpts, httpapi.WithHistory(idx))
	}

	ctx, cancel := signalContext()
	defer cancel()

	wsSrv := ws.NewServer(cat, tune, recorders, log.New(os.Stdout, "[ws] ", log.LstdFlags|log.Lmicroseconds))
	apiOpts = append(apiOpts, httpapi.WithActiveSessions(wsSrv.Active))
	api := httpapi.NewServer(cat, tune, log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmicroseconds), apiOpts...)

	mux := http.NewServeMux()
	api.Register(mux)
	mux.HandleFunc("/v1/ws", wsSrv.Handler())
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP ecocalc_sessions Current number of connected sessions.\n")
		fmt.Fprintf(rw, "# TYPE ecocalc_sessions gauge\n")
		fmt.Fprintf(rw, "ecocalc_sessions %d\n", wsSrv.Active())
		if idx != nil {
			st := idx.Stats()
			fmt.Fprintf(rw, "# HELP ecocalc_index_queue_depth Passes waiting to be indexed.\n")
			fmt.Fprintf(rw, "# TYPE ecocalc_index_queue_depth gauge\n")
			fmt.Fprintf(rw, "ecocalc_index_queue_depth %d\n", st.QueueDepth)
			fmt.Fprintf(rw, "# HELP ecocalc_index_passes_total Passes written to the index.\n")
			fmt.Fprintf(rw, "# TYPE ecocalc_index_passes_total counter\n")
			fmt.Fprintf(rw, "ecocalc_index_passes_total %d\n", st.RecordedTotal)
			fmt.Fprintf(rw, "# HELP ecocalc_index_dropped_total Passes dropped because the index fell behind.\n")
			fmt.Fprintf(rw, "# TYPE ecocalc_index_dropped_total counter\n")
			fmt.Fprintf(rw, "ecocalc_index_dropped_total %d\n", st.DropPassTotal)
		}
	})

	srv := &http.Server{
		Addr:              tune.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", tune.Listen)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	if err := edits.Err(); err != nil {
		logger.Printf("edit log: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
