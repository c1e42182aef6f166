// Command walker-worker hosts the Job Runtime: a worker pool that claims
// queued tasks and drives each one through the Pipeline to a terminal
// state, plus the periodic invitation-acceptor companion job and a small
// HTTP server exposing only /healthz (spec §4.12, §6).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BryanOwens012/dogwalker/internal/agentfacade"
	"github.com/BryanOwens012/dogwalker/internal/browser"
	"github.com/BryanOwens012/dogwalker/internal/chatadapter"
	"github.com/BryanOwens012/dogwalker/internal/config"
	"github.com/BryanOwens012/dogwalker/internal/dog"
	"github.com/BryanOwens012/dogwalker/internal/forge"
	"github.com/BryanOwens012/dogwalker/internal/invitations"
	"github.com/BryanOwens012/dogwalker/internal/jobruntime"
	"github.com/BryanOwens012/dogwalker/internal/logging"
	"github.com/BryanOwens012/dogwalker/internal/pipeline"
	"github.com/BryanOwens012/dogwalker/internal/selector"
	"github.com/BryanOwens012/dogwalker/internal/store"
	"github.com/BryanOwens012/dogwalker/internal/websearch"
	"github.com/BryanOwens012/dogwalker/internal/workspace"
)

func main() {
	root := &cobra.Command{
		Use:           "walker-worker",
		Short:         "Runs the Walker job runtime: worker pool, pipeline, invitation acceptor",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "walker-worker:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	log, err := logging.New(cfg.DebugLogging)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	kv, err := store.NewSQLiteKV(cfg.StoreURL)
	if err != nil {
		return fmt.Errorf("opening coordination store: %w", err)
	}
	defer kv.Close()
	coord := store.NewCoordination(kv, log)

	roster, err := dog.NewRoster(cfg.Dogs)
	if err != nil {
		return fmt.Errorf("invalid dog roster: %w", err)
	}
	sel := selector.New(roster, coord, log)

	forgeClient := forge.NewClient(cfg.ForgeToken)
	editor := agentfacade.NewEditorClient(cfg.EditorBaseURL, cfg.EditorAPIKey)

	var facadeOpts []agentfacade.FacadeOption
	if cfg.WebSearchBaseURL != "" {
		facadeOpts = append(facadeOpts, agentfacade.WithSearchProvider(websearch.NewHTTPProvider(cfg.WebSearchBaseURL, cfg.WebSearchAPIKey)))
	}
	facadeOpts = append(facadeOpts, agentfacade.WithFetcher(websearch.NewHTTPFetcher()))
	if driver, err := browser.NewRodDriver(); err != nil {
		log.Warn("headless browser unavailable, visual diff disabled", zap.Error(err))
	} else {
		facadeOpts = append(facadeOpts, agentfacade.WithBrowser(driver))
	}

	chatAdapterCtx, cancelDial := context.WithTimeout(context.Background(), 30*time.Second)
	chatAdapter, err := chatadapter.DialWebsocketAdapter(chatAdapterCtx, cfg.ChatSocketURL, log)
	cancelDial()
	if err != nil {
		return fmt.Errorf("connecting to chat platform: %w", err)
	}
	defer chatAdapter.Close()

	pl := pipeline.New(pipeline.Dependencies{
		Config:        cfg,
		Forge:         forgeClient,
		Editor:        editor,
		FacadeOptions: facadeOpts,
		Coordination:  coord,
		Selector:      sel,
		ChatAdapter:   chatAdapter,
		WorkspaceRoot: cfg.WorkspaceRoot,
		GitRunner:     workspace.DefaultRunner,
		Log:           log,
	})

	queue, err := jobruntime.NewSQLiteQueue(cfg.QueueURL)
	if err != nil {
		return fmt.Errorf("opening job queue: %w", err)
	}
	defer queue.Close()

	rt := jobruntime.New(queue, pl, jobruntime.Config{
		Workers:      roster.Len(),
		PollInterval: cfg.PollInterval,
	}, log)

	c := cron.New()
	acceptor := invitations.New(roster, nil, log)
	if _, err := acceptor.Schedule(c, cfg.InvitationCronSpec); err != nil {
		return fmt.Errorf("scheduling invitation acceptor: %w", err)
	}
	c.Start()
	defer c.Stop()

	health := newHealthServer(cfg.HealthAddr, log)
	go func() {
		if err := health.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("health server stopped", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("walker-worker starting", zap.Int("workers", roster.Len()))
	runErr := rt.Run(ctx)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := health.Shutdown(shutdownCtx); err != nil {
		log.Warn("health server shutdown failed", zap.Error(err))
	}

	return runErr
}

func newHealthServer(addr string, log *zap.Logger) *http.Server {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
