// Package app wires configuration, the dashboard engine and its surfaces
// into the vadash command.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vadash/internal/causegroups"
	"vadash/internal/config"
	"vadash/internal/dashboard"
	"vadash/internal/feed"
	"vadash/internal/fetch"
	"vadash/internal/geo"
	"vadash/internal/httpx"
	"vadash/internal/logging"
	"vadash/internal/metrics"
	"vadash/internal/storage/sqlite"
)

func Main() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func NewRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:   "vadash",
		Short: "Verbal autopsy dashboard engine",
		Long: `vadash loads a verbal autopsy (VA) feed, filters and aggregates it, and
serves the resulting dashboard over HTTP, Slack and XLSX export.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				return os.Setenv("CONFIG_PATH", configPath)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (overrides CONFIG_PATH)")
	root.AddCommand(newServeCmd(), newSummaryCmd(), newExportCmd())
	return root
}

// runtime is the engine shared by every subcommand.
type runtime struct {
	cfg        config.Config
	logger     *zap.SugaredLogger
	db         *sql.DB
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	controller *dashboard.Controller
	refresher  *fetch.Refresher
}

func setup() (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	appliedHTTPTimeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	logger.Infof("config loaded source=%s combine_mode=%s geo_label_mode=%s level=%s refresh=%q timezone=%s slack=%t llm=%t external_http_timeout=%s",
		feedSource(cfg), cfg.CombineMode, cfg.GeoLabelMode, cfg.DefaultLevel, cfg.RefreshSchedule, cfg.Timezone,
		cfg.SlackConfigured(), cfg.LLMConfigured(), appliedHTTPTimeout)

	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init database %s: %w", cfg.DBPath, err)
	}
	logger.Infof("database initialized path=%s", cfg.DBPath)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	opts := cfg.DashboardOptions()
	if cfg.CODGroupingsPath != "" {
		groups, err := causegroups.Load(cfg.CODGroupingsPath)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("loading cod groupings: %w", err)
		}
		opts.CauseGroups = groups
		logger.Infof("cod groupings loaded path=%s groups=%d", cfg.CODGroupingsPath, len(groups.Names()))
	}

	c := dashboard.New(opts, logger, m)
	return &runtime{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		registry:   reg,
		metrics:    m,
		controller: c,
		refresher: &fetch.Refresher{
			Fetcher:    newFetcher(cfg),
			Controller: c,
			DB:         db,
			Metrics:    m,
			Logger:     logger,
		},
	}, nil
}

func (rt *runtime) Close() {
	_ = rt.db.Close()
	_ = rt.logger.Sync()
}

func newFetcher(cfg config.Config) feed.Fetcher {
	if cfg.FeedURL != "" {
		return feed.HTTPFetcher{URL: cfg.FeedURL, Token: cfg.FeedToken}
	}
	return feed.FileFetcher{Path: cfg.FeedPath}
}

func feedSource(cfg config.Config) string {
	return newFetcher(cfg).Source()
}

// warmUp restores the stored dataset, then fetches the feed and loads the
// geography reference concurrently. A failed fetch is fatal only when
// requireData is set and nothing was restored.
func (rt *runtime) warmUp(ctx context.Context, requireData bool) error {
	restored, err := fetch.Restore(rt.db, rt.controller)
	if err != nil {
		rt.logger.Errorf("restore failed err=%v", err)
	} else if restored {
		rt.logger.Infof("restored stored dataset records=%d", rt.controller.Snapshot().TotalVAs)
	}

	var (
		features   []geo.Feature
		refreshErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if rt.cfg.GeoJSONPath == "" {
			return nil
		}
		f, err := geo.LoadFeatures(rt.cfg.GeoJSONPath)
		if err != nil {
			return fmt.Errorf("loading geojson: %w", err)
		}
		features = f
		return nil
	})
	g.Go(func() error {
		result, err := rt.refresher.Refresh(gctx)
		refreshErr = err
		rt.logger.Infof("initial refresh: %s", fetch.FormatRefreshSummary(result))
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if features != nil {
		rt.controller.SetFeatures(features)
		rt.logger.Infof("geography loaded path=%s features=%d", rt.cfg.GeoJSONPath, len(features))
	}
	if refreshErr != nil && requireData && !restored {
		return errors.Join(errors.New("no VA data available"), refreshErr)
	}
	return nil
}
