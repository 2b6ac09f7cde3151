package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	pkg "git.solsynth.dev/hypernet/stickerbox/pkg/internal"
	"git.solsynth.dev/hypernet/stickerbox/pkg/internal/cache"
	"git.solsynth.dev/hypernet/stickerbox/pkg/internal/catalog"
	"git.solsynth.dev/hypernet/stickerbox/pkg/internal/database"
	"git.solsynth.dev/hypernet/stickerbox/pkg/internal/fs"
	"git.solsynth.dev/hypernet/stickerbox/pkg/internal/grpc"
	"git.solsynth.dev/hypernet/stickerbox/pkg/internal/metrics"
	"git.solsynth.dev/hypernet/stickerbox/pkg/internal/server"
	"git.solsynth.dev/hypernet/stickerbox/pkg/internal/server/api"
	"git.solsynth.dev/hypernet/stickerbox/pkg/internal/services"
	"git.solsynth.dev/hypernet/stickerbox/pkg/internal/thumbnail"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/spf13/viper"
)

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
}

func setDefaults() {
	viper.SetDefault("bind", "0.0.0.0:8443")
	viper.SetDefault("grpc_bind", "0.0.0.0:7443")
	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("packs.root", "packs")
	viper.SetDefault("catalog.locales", []string{"en", "ja"})
	viper.SetDefault("catalog.timeout", "30s")
	viper.SetDefault("thumbnails.size", 256)
	viper.SetDefault("thumbnails.tab_size", 96)
	viper.SetDefault("importer.fetch_concurrency", 1)
	viper.SetDefault("importer.cleanup_delay", "30s")
	viper.SetDefault("importer.scratch_max_age", "1h")
	viper.SetDefault("importer.job_retention", "168h")
	viper.SetDefault("workers.imports", 1)
}

func main() {
	// Configure settings
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.SetConfigName("settings")
	viper.SetConfigType("toml")
	setDefaults()

	// Load settings
	if err := viper.ReadInConfig(); err != nil {
		log.Panic().Err(err).Msg("An error occurred when loading settings.")
	}

	// Connect to database
	db, err := database.NewSource(database.Config{
		Driver: viper.GetString("database.driver"),
		Dsn:    viper.GetString("database.dsn"),
		Prefix: viper.GetString("database.prefix"),
		Debug:  viper.GetBool("debug.database"),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("An error occurred when connect to database.")
	} else if err := database.RunMigration(db); err != nil {
		log.Fatal().Err(err).Msg("An error occurred when running database auto migration.")
	}

	// Set up the cache
	cacheStore, err := cache.NewStore()
	if err != nil {
		log.Fatal().Err(err).Msg("An error occurred when initializing cache.")
	}

	// Set up the storage
	workspace := fs.NewLocalWorkspace(viper.GetString("packs.root"))
	if err := workspace.Ensure(workspace.Root()); err != nil {
		log.Fatal().Err(err).Str("root", workspace.Root()).Msg("An error occurred when preparing pack storage.")
	}
	mirror, err := fs.NewMirror(workspace.Fs(), viper.GetStringMap("destinations.permanent"))
	if err != nil {
		log.Fatal().Err(err).Msg("An error occurred when configuring permanent destination.")
	}

	// Set up metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Set up the importer
	packs := services.NewPackRepository(db)
	jobs := services.NewJobTracker(db, cacheStore)
	if count, err := jobs.MarkInterrupted(); err != nil {
		log.Error().Err(err).Msg("An error occurred when marking interrupted imports...")
	} else if count > 0 {
		log.Warn().Int("count", count).Msg("Some imports were interrupted by the last shutdown.")
	}

	importer := services.NewImporter(services.ImporterConfig{
		FetchConcurrency: viper.GetInt("importer.fetch_concurrency"),
		CleanupDelay:     viper.GetDuration("importer.cleanup_delay"),
		Workers:          viper.GetInt("workers.imports"),
	}, services.ImporterDeps{
		Packs:     packs,
		Jobs:      jobs,
		Workspace: workspace,
		Catalog: catalog.NewClient(catalog.Config{
			MetadataURL: viper.GetString("catalog.metadata_url"),
			StaticURL:   viper.GetString("catalog.static_url"),
			AnimatedURL: viper.GetString("catalog.animated_url"),
			Locales:     viper.GetStringSlice("catalog.locales"),
			Timeout:     viper.GetDuration("catalog.timeout"),
			MaxBodySize: viper.GetInt64("catalog.max_body_size"),
			UserAgent:   pkg.AppName + "/" + pkg.AppVersion,
		}),
		Deriver: thumbnail.NewImageDeriver(workspace.Fs(), thumbnail.Config{
			Size:    viper.GetInt("thumbnails.size"),
			TabSize: viper.GetInt("thumbnails.tab_size"),
		}),
		Mirror:  mirror,
		Metrics: metrics.NewProm("stickerbox", registry),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	importer.Start(ctx)

	// Configure timed tasks
	cleaner := services.NewCleaner(
		importer,
		jobs,
		viper.GetDuration("importer.scratch_max_age"),
		viper.GetDuration("importer.job_retention"),
	)
	quartz := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(&log.Logger)))
	quartz.AddFunc("@every 10m", cleaner.DoScratchCleanup)
	quartz.AddFunc("@every 60m", cleaner.DoImportJobCleanup)
	quartz.Start()

	// Server
	app := server.NewServer(server.Config{
		Bind:        viper.GetString("bind"),
		PrintRoutes: viper.GetBool("debug.print_routes"),
	}, api.Deps{
		Importer:      importer,
		Packs:         packs,
		Name:          pkg.AppName,
		Version:       pkg.AppVersion,
		Destination:   lo.Ternary(mirror.Enabled(), "s3", "local"),
		AccessBaseURL: mirror.BaseURL(),
	}, registry)
	go app.Listen()

	// Grpc Server
	grpcServer := grpc.NewGrpc(viper.GetString("grpc_bind"))
	go func() {
		if err := grpcServer.Listen(); err != nil {
			log.Error().Err(err).Msg("An error occurred when starting grpc server...")
		}
	}()

	// Messages
	log.Info().Msgf("Stickerbox v%s is started...", pkg.AppVersion)

	cleaner.DoScratchCleanup()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msgf("Stickerbox v%s is quitting...", pkg.AppVersion)

	quartz.Stop()
	cancel()
	grpcServer.Stop()
	if err := app.Shutdown(); err != nil {
		log.Error().Err(err).Msg("An error occurred when shutting down server...")
	}
	// Give running continuations a moment to record their outcome.
	time.Sleep(time.Second)
	if err := database.Close(db); err != nil {
		log.Error().Err(err).Msg("An error occurred when closing database...")
	}
}
