package main

import (
	"context"
	"database/sql"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "headset_monitor/docs"
	"headset_monitor/internal/handlers"
	"headset_monitor/internal/logger"
	"headset_monitor/internal/models"
	"headset_monitor/internal/repository"
	"headset_monitor/internal/repository/db"
	"headset_monitor/internal/server"
	"headset_monitor/internal/service"
	"headset_monitor/internal/telemetry"

	"github.com/spf13/viper"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	feedBuffer      = 256
	shutdownTimeout = 10 * time.Second
)

// @title        Headset Monitor API
// @version      1.0
// @description  Device registry, live battery state and session history for call-center headsets.
// @BasePath     /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
func main() {
	// load config.yml
	cfgErr := loadConfig()

	// init logger
	log := logger.Get(viper.GetString("log.level"), viper.GetString("log.format"))
	if cfgErr != nil {
		log.Fatalw("error reading config", "err", cfgErr)
	}

	// open DB
	sqlDB, err := openDB(log)
	if err != nil {
		log.Fatalw("failed to init sqlite", "err", err)
	}

	// wire dependencies
	repos := repository.NewRepository(sqlDB)
	hub := handlers.NewHub(log.Named("ws"))
	services := service.NewService(engineConfig(), authConfig(), repos, log.Named("engine"), hub)
	apiHandler := handlers.NewHandler(services, hub, log.Named("http"))

	// context for background goroutines
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := services.Engine.Start(ctx); err != nil {
		log.Fatalw("failed to start engine", "err", err)
	}

	// telemetry feed; the simulator stands in for the SDK bridge when enabled
	feed := make(chan models.TelemetryEvent, feedBuffer)
	consumed := make(chan struct{})
	go func() {
		services.Engine.Consume(ctx, feed)
		close(consumed)
	}()
	runSimulator(ctx, feed, log)

	// start HTTP server
	srv := &server.Server{}
	runHTTPServer(srv, viper.GetString("port"), apiHandler, log)

	// graceful shutdown
	waitForShutdown(cancel, consumed, srv, services.Engine, log)
}

func loadConfig() error {
	viper.AddConfigPath("configs") // configs/config.yml
	viper.SetConfigName("config")

	viper.SetEnvPrefix("HSM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// defaults and env are enough to run without a file
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}
	return nil
}

func setDefaults() {
	def := service.DefaultConfig()
	specs := service.DefaultSpecs()
	factors := service.DefaultFactors()

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = def.Hostname
	}

	viper.SetDefault("port", "8080")
	viper.SetDefault("hostname", hostname)
	viper.SetDefault("log.level", logger.InfoLevel)
	viper.SetDefault("log.format", logger.ConsoleFormat)
	viper.SetDefault("db.path", "headsets.db")
	viper.SetDefault("db.write_timeout", def.WriteTimeout)

	viper.SetDefault("engine.auto_register_unknown_devices", def.AutoRegisterUnknownDevices)
	viper.SetDefault("engine.flush_interval", def.FlushInterval)
	viper.SetDefault("engine.rolling_window", def.RollingWindow)
	viper.SetDefault("engine.default_model", def.DefaultModel)
	viper.SetDefault("history.buffer_size", def.HistoryBufferSize)

	viper.SetDefault("specs.talk_time_minutes", specs.TalkTimeMinutes)
	viper.SetDefault("specs.standby_time_minutes", specs.StandbyTimeMinutes)
	viper.SetDefault("specs.charging_time_minutes", specs.ChargingTimeMinutes)
	viper.SetDefault("factors.idle", factors.Idle)
	viper.SetDefault("factors.in_call", factors.InCall)
	viper.SetDefault("factors.muted", factors.Muted)

	viper.SetDefault("simulator.enabled", false)
	viper.SetDefault("simulator.tick", time.Second)
	viper.SetDefault("simulator.devices", 2)

	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("auth.username", "admin")
	viper.SetDefault("auth.password_hash", "")
	viper.SetDefault("auth.signing_key", "")
	viper.SetDefault("auth.token_ttl", time.Hour)
}

func engineConfig() service.Config {
	cfg := service.DefaultConfig()
	cfg.Hostname = viper.GetString("hostname")
	cfg.Version = version
	cfg.AutoRegisterUnknownDevices = viper.GetBool("engine.auto_register_unknown_devices")
	cfg.FlushInterval = viper.GetDuration("engine.flush_interval")
	cfg.RollingWindow = viper.GetInt("engine.rolling_window")
	cfg.DefaultModel = viper.GetString("engine.default_model")
	cfg.HistoryBufferSize = viper.GetInt("history.buffer_size")
	cfg.WriteTimeout = viper.GetDuration("db.write_timeout")
	cfg.Specs = service.Specs{
		TalkTimeMinutes:     viper.GetFloat64("specs.talk_time_minutes"),
		StandbyTimeMinutes:  viper.GetFloat64("specs.standby_time_minutes"),
		ChargingTimeMinutes: viper.GetFloat64("specs.charging_time_minutes"),
	}
	cfg.Factors = service.ConsumptionFactors{
		Idle:   viper.GetFloat64("factors.idle"),
		InCall: viper.GetFloat64("factors.in_call"),
		Muted:  viper.GetFloat64("factors.muted"),
	}
	return cfg
}

func authConfig() service.AuthConfig {
	return service.AuthConfig{
		Enabled:      viper.GetBool("auth.enabled"),
		Username:     viper.GetString("auth.username"),
		PasswordHash: viper.GetString("auth.password_hash"),
		SigningKey:   viper.GetString("auth.signing_key"),
		TokenTTL:     viper.GetDuration("auth.token_ttl"),
	}
}

// openDB initializes the SQLite database using configuration.
func openDB(log *logger.Logger) (*sql.DB, error) {
	dbPath := viper.GetString("db.path")
	if dbPath == "" {
		log.Infow("db.path not set in config; using default file", "default", "headsets.db")
		dbPath = "headsets.db"
	}
	return db.InitDB(dbPath)
}

// runSimulator starts the simulated telemetry source when simulator.enabled is set.
func runSimulator(ctx context.Context, feed chan<- models.TelemetryEvent, log *logger.Logger) {
	var cfg telemetry.Config
	if err := viper.UnmarshalKey("simulator", &cfg); err != nil {
		log.Errorw("invalid simulator config", "err", err)
		return
	}
	if !cfg.Enabled {
		return
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	log.Infow("simulator_started", "devices", cfg.Devices, "tick", cfg.Tick)
	sim := telemetry.NewSimulator(cfg.Devices, rand.Int63())
	go sim.Run(ctx, cfg.Tick, feed)
}

// runHTTPServer runs the HTTP server in a separate goroutine.
func runHTTPServer(srv *server.Server, port string, handler *handlers.Handler, log *logger.Logger) {
	go func() {
		log.Infow("http_listening", "port", port)
		if err := srv.Run(port, handler.InitRoutes()); err != nil {
			log.Fatalw("error starting server", "err", err)
		}
	}()
}

// waitForShutdown listens for termination signals and performs graceful shutdown.
func waitForShutdown(cancel context.CancelFunc, consumed <-chan struct{}, srv *server.Server, engine *service.Engine, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server...")

	ctx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// allow in-flight requests to complete
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("server forced to shutdown", "err", err)
	}

	// stop the feed, then close sessions and persist
	cancel()
	select {
	case <-consumed:
	case <-ctx.Done():
	}
	if err := engine.Shutdown(ctx); err != nil {
		log.Errorw("engine shutdown incomplete", "err", err)
	}
	_ = log.Sync()
}
