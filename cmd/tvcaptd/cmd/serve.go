package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tvcaptd/tvcaptd/internal/calendar"
	"github.com/tvcaptd/tvcaptd/internal/capture"
	"github.com/tvcaptd/tvcaptd/internal/config"
	"github.com/tvcaptd/tvcaptd/internal/database"
	"github.com/tvcaptd/tvcaptd/internal/database/migrations"
	"github.com/tvcaptd/tvcaptd/internal/devicepool"
	"github.com/tvcaptd/tvcaptd/internal/history"
	internalhttp "github.com/tvcaptd/tvcaptd/internal/http"
	"github.com/tvcaptd/tvcaptd/internal/http/handlers"
	"github.com/tvcaptd/tvcaptd/internal/httpadmin"
	"github.com/tvcaptd/tvcaptd/internal/journal"
	"github.com/tvcaptd/tvcaptd/internal/lifecycle"
	"github.com/tvcaptd/tvcaptd/internal/metrics"
	"github.com/tvcaptd/tvcaptd/internal/observability"
	"github.com/tvcaptd/tvcaptd/internal/power"
	"github.com/tvcaptd/tvcaptd/internal/profile"
	"github.com/tvcaptd/tvcaptd/internal/scheduler"
	"github.com/tvcaptd/tvcaptd/internal/scripts"
	"github.com/tvcaptd/tvcaptd/internal/startup"
	"github.com/tvcaptd/tvcaptd/internal/storage"
	"github.com/tvcaptd/tvcaptd/internal/transcode"
	"github.com/tvcaptd/tvcaptd/internal/version"
	"github.com/tvcaptd/tvcaptd/pkg/chanid"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the recording scheduler and capture daemon",
	Long: `serve loads the journal and profile registry, opens the capture
device pool, and runs the dispatcher, transcode pool, power controller,
and admin HTTP server until a termination signal arrives.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	var cfg config.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := observability.NewLogger(cfg.Logging)
	observability.SetDefault(logger)
	logger.Info("starting tvcaptd", "version", version.Short())

	sandbox, err := storage.NewSandbox(cfg.Storage.BaseDir)
	if err != nil {
		return fmt.Errorf("creating storage sandbox: %w", err)
	}

	workDir, err := sandbox.ResolvePath(cfg.Storage.WorkDir)
	if err != nil {
		return fmt.Errorf("resolving work directory: %w", err)
	}
	if n, err := startup.CleanupOrphanedTempDirs(logger, workDir, 24*time.Hour); err != nil {
		logger.Warn("cleaning up orphaned temp dirs", "error", err)
	} else if n > 0 {
		logger.Info("removed orphaned temp dirs", "count", n)
	}

	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("closing database", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	migrator := migrations.NewMigrator(db.DB, logger)
	migrator.RegisterAll(migrations.AllMigrations())
	if err := migrator.Up(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	cache := history.NewGormCache(db.DB)
	ledger := history.New(sandbox, "history.xml", cfg.Scheduler.HistoryLength, cache)
	if err := ledger.Load(); err != nil {
		logger.Warn("loading history ledger", "error", err)
	}

	profileRegistry := profile.NewRegistry(cfg.Profiles.DefaultName)
	loader := profile.NewLoader(cfg.Profiles.Dir, profileRegistry, logger)
	if err := loader.Load(); err != nil {
		logger.Warn("loading profiles", "dir", cfg.Profiles.Dir, "error", err)
	}
	if cfg.Profiles.WatchForChange {
		go func() {
			if err := loader.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("profile watch stopped", "error", err)
			}
		}()
	}

	resolver := chanid.NewStaticResolver(cfg.Channels)
	clock := calendar.SystemClock{}
	j := journal.New(sandbox, "schedule.xml")

	schedCfg := scheduler.Config{
		NumDevices:           cfg.Devices.MaxVideo,
		MaxEntriesPerDevice:  cfg.Scheduler.MaxEntries,
		MaxPerJobProfiles:    cfg.Profiles.MaxPerJob,
		MaxRecordingDuration: cfg.Scheduler.MaxRecordingDuration,
		MissedThreshold:      cfg.Scheduler.MissedThreshold,
	}
	sched := scheduler.New(schedCfg, clock, resolver, profileRegistry, j, logger)
	sched.SetProfileReloader(loader)
	if err := sched.LoadFromJournal(); err != nil {
		logger.Warn("loading journal", "error", err)
	}

	devices, err := buildDevicePool(cfg.Devices)
	if err != nil {
		return fmt.Errorf("building device pool: %w", err)
	}
	if devices.Len() != schedCfg.NumDevices {
		logger.Warn("configured device count does not match devices.nodes",
			"max_video", schedCfg.NumDevices, "nodes", devices.Len())
	}

	scr := scripts.NewRunner(cfg.Scripts.ChannelSwitch, cfg.Scripts.PostRecording, cfg.Scripts.Shutdown, cfg.Scripts.Startup)
	startupCtx, startupCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := scr.RunStartup(startupCtx, cfg.Storage.BaseDir, cfg.Profiles.Dir, cfg.Power.AutoShutdown); err != nil {
		logger.Warn("startup script failed", "error", err)
	}
	startupCancel()

	transcodePool := transcode.New(transcode.Config{
		MaxThreads:          cfg.Transcode.MaxThreads,
		MaxLoadForTranscode: cfg.Transcode.MaxLoadForTranscode,
		Backoff:             cfg.Transcode.Backoff,
		MaxWaitingTime:      cfg.Transcode.MaxWaitingTime,
		Watchdog:            cfg.Transcode.Watchdog,
		BinaryPath:          cfg.Transcode.BinaryPath,
		ProfileDirectories:  cfg.Storage.ProfileDirectories,
	}, sandbox, ledger, logger)
	sched.SetTranscodeKiller(transcodePool.KillAll)

	worker := capture.NewWorker(devices.Get, profileRegistry, scr, sandbox, sched, transcodePool, logger)

	powerCfg := power.Config{
		AutoShutdown:      cfg.Power.AutoShutdown,
		RequireNoLogin:    cfg.Power.RequireNoLogin,
		ShutdownMaxLoad:   cfg.Power.ShutdownMaxLoad,
		ShutdownMinTime:   cfg.Power.ShutdownMinTime,
		WakeupMargin:      cfg.Power.WakeupMargin,
		SignalWaitTimeout: cfg.Power.SignalWaitTimeout,
	}
	powerController := power.New(powerCfg, sched, transcodePool, nil, scr, logger)

	dispatcher := scheduler.NewDispatcher(sched, cfg.Scheduler.TickInterval, cfg.Scheduler.MissedThreshold, powerController, worker.Launch, logger)
	go dispatcher.Run(ctx)

	mgr := lifecycle.New(sched, cfg.Power.SignalWaitTimeout, logger)

	collector := metrics.NewCollector(sched, transcodePool)
	prometheus.MustRegister(collector)

	srv := buildHTTPServer(cfg.Server, db, logger)
	httpadmin.New(sched, transcodePool, logger).Register(srv.API())

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe(ctx)
	}()

	logger.Info("tvcaptd ready", "devices", devices.Len(), "address", cfg.Server.Address())

	mgr.Run(ctx)
	cancel()

	// ListenAndServe shuts the HTTP server down itself once ctx is
	// canceled; wait for it to finish so logging happens in order.
	if err := <-serverErrCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server error", "error", err)
	}

	logger.Info("tvcaptd stopped")
	return nil
}

// buildDevicePool constructs one devicepool.Device per configured node.
// Source selects the file-backed development/test device. A node without a
// Source configured produces an error in every build, including one with
// the v4l2 tag, since V4L2Device is not constructed here.
func buildDevicePool(cfg config.DevicesConfig) (*devicepool.Pool, error) {
	devices := make([]devicepool.Device, 0, len(cfg.Nodes))
	for i, node := range cfg.Nodes {
		if node.Source == "" {
			return nil, fmt.Errorf("devices.nodes[%d]: no source configured and this build has no v4l2 support", i)
		}
		devices = append(devices, devicepool.NewFileDevice(node.Source))
	}
	return devicepool.NewPool(devices), nil
}

func buildHTTPServer(cfg config.ServerConfig, db *database.DB, logger *slog.Logger) *internalhttp.Server {
	srvCfg := internalhttp.ServerConfig{
		Host:            cfg.Host,
		Port:            cfg.Port,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}
	srv := internalhttp.NewServer(srvCfg, logger, version.Short())

	health := handlers.NewHealthHandler(version.Short()).WithDB(db.DB)
	health.Register(srv.API())

	srv.Router().Handle("/metrics", promhttp.Handler())

	return srv
}
