package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"sjsage522/pricewatch/config"
	"sjsage522/pricewatch/helpers"
	"sjsage522/pricewatch/internal/extractor"
	"sjsage522/pricewatch/internal/product"
	"sjsage522/pricewatch/internal/report"
	"sjsage522/pricewatch/internal/server"
	"sjsage522/pricewatch/logger"
	"sjsage522/pricewatch/services/cache"
	"sjsage522/pricewatch/services/notifier"
	"sjsage522/pricewatch/services/publisher"
	"sjsage522/pricewatch/services/store"
	"sjsage522/pricewatch/services/worker"

	cli "github.com/jawher/mow.cli"
	"github.com/joho/godotenv"
)

var version = "dev"

func main() {
	// Load environment variables
	godotenv.Load()

	// Initialize logger first
	logger.Init()

	app := cli.App("pricewatch", "Scheduled price monitor: fetch product pages, store prices, notify on drops")
	app.Version("v version", version)

	app.Command("run", "Check every product once and notify on price drops", cmdRun)
	app.Command("report", "Render price charts, the index page and the CSV export", cmdReport)
	app.Command("serve", "Serve the read-only dashboard", cmdServe)

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func cmdRun(cmd *cli.Cmd) {
	productsFile := cmd.StringOpt("p products", "", "products file, overrides PRODUCTS_FILE")
	withReport := cmd.BoolOpt("report", true, "render the report after the run")

	cmd.Action = func() {
		exitOn(runCheck(*productsFile, *withReport))
	}
}

func cmdReport(cmd *cli.Cmd) {
	productsFile := cmd.StringOpt("p products", "", "products file, overrides PRODUCTS_FILE")
	outDir := cmd.StringOpt("o output-dir", "", "directory for the report, overrides REPORT_DIR")

	cmd.Action = func() {
		exitOn(runReport(*productsFile, *outDir))
	}
}

func cmdServe(cmd *cli.Cmd) {
	productsFile := cmd.StringOpt("p products", "", "products file, overrides PRODUCTS_FILE")
	addr := cmd.StringOpt("a addr", "", "listen address, overrides SERVER_ADDR")

	cmd.Action = func() {
		exitOn(runServe(*productsFile, *addr))
	}
}

// exitOn leaves with code once the command has released its resources
func exitOn(code int) {
	if code != 0 {
		cli.Exit(code)
	}
}

func runCheck(productsFile string, withReport bool) int {
	log := logger.Default
	cfg, err := loadConfig(productsFile)
	if err == nil {
		err = cfg.ValidateNotifier()
	}
	if err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := initializeServices(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize services")
		return 1
	}
	defer services.Cleanup()

	log.Info().
		Str("environment", cfg.Environment).
		Str("store", cfg.StoreDriver).
		Int("products", len(services.Products)).
		Msg("Starting price check")

	opts := []worker.Option{
		worker.WithRequestDelay(cfg.RequestDelay),
		worker.WithNotifyOnFirstSeen(cfg.NotifyOnFirstSeen),
		worker.WithCooldown(services.Cooldown),
	}
	if services.Publisher != nil {
		opts = append(opts, worker.WithPublisher(services.Publisher))
	}

	w := worker.NewWorker(
		services.Products,
		helpers.NewFetcher(cfg.FetchTimeout),
		services.Extractor,
		services.Store,
		notifier.NewTelegramNotifier(cfg.TelegramAPIBase, cfg.BotToken, cfg.ChatID),
		helpers.NewLogger(cfg.ErrorLogFile, logger.ForWorker()),
		opts...,
	)

	summary, runErr := w.RunOnce(ctx)

	if withReport && ctx.Err() == nil {
		if _, err := report.New(services.Store, cfg.ReportDir).RenderAll(ctx, services.Products); err != nil {
			log.Warn().Err(err).Msg("Failed to render report")
		}
	}

	if runErr != nil {
		log.Error().Err(runErr).Str("run_id", summary.RunID).Msg("Run finished with unrecoverable errors")
		return 1
	}
	return 0
}

func runReport(productsFile, outDir string) int {
	log := logger.Default
	cfg, err := loadConfig(productsFile)
	if err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return 1
	}
	if outDir != "" {
		cfg.ReportDir = outDir
	}

	ctx := context.Background()
	services, err := initializeServices(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize services")
		return 1
	}
	defer services.Cleanup()

	summary, err := report.New(services.Store, cfg.ReportDir).RenderAll(ctx, services.Products)
	if err != nil {
		log.Error().Err(err).Msg("Failed to render report")
		return 1
	}
	log.Info().Str("index", summary.Index).Str("csv", summary.CSV).Msg("Report ready")
	return 0
}

func runServe(productsFile, addr string) int {
	log := logger.Default
	cfg, err := loadConfig(productsFile)
	if err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return 1
	}
	if addr != "" {
		cfg.ServerAddr = addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := initializeServices(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize services")
		return 1
	}
	defer services.Cleanup()

	handler := server.New(services.Store, report.New(services.Store, cfg.ReportDir), services.Products, logger.ForServer())
	if err := server.Serve(ctx, cfg.ServerAddr, handler, logger.ForServer()); err != nil {
		log.Error().Err(err).Msg("Dashboard stopped")
		return 1
	}
	return 0
}

// loadConfig reads and validates the configuration
func loadConfig(productsFile string) (*config.Config, error) {
	cfg := config.LoadConfig()
	if productsFile != "" {
		cfg.ProductsFile = productsFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Services holds all the initialized services
type Services struct {
	Products  []product.Product
	Extractor *extractor.Extractor
	Store     store.PriceStore
	Cooldown  *cache.Cooldown
	Publisher publisher.Publisher
}

// Cleanup cleans up all services
func (s *Services) Cleanup() {
	if s.Publisher != nil {
		s.Publisher.Close()
	}
	if s.Store != nil {
		s.Store.Close()
	}
}

// initializeServices initializes all required services. Memcache and Redis
// are optional; an unreachable server disables the feature for this run.
func initializeServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	services := &Services{Extractor: extractor.NewDefault()}

	products, err := product.LoadFile(cfg.ProductsFile, services.Extractor)
	if err != nil {
		return nil, err
	}
	services.Products = products

	priceStore, err := store.Open(ctx, cfg.StoreDriver, cfg.StoreDSN)
	if err != nil {
		return nil, err
	}
	services.Store = priceStore

	if cfg.MemcacheAddr != "" {
		memcacheService := cache.NewMemcacheService(cfg.MemcacheAddr)
		if err := memcacheService.Ping(); err != nil {
			logger.ForCache().Warn().Err(err).Str("addr", cfg.MemcacheAddr).Msg("Memcache unreachable, site cooldown disabled")
		} else {
			services.Cooldown = cache.NewCooldown(memcacheService, cfg.SiteCooldown)
			logger.Info("Connected to Memcache at %s", cfg.MemcacheAddr)
		}
	}

	if cfg.RedisAddr != "" {
		redisPublisher := publisher.NewRedisPublisher(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.RedisStream, cfg.RedisStreamMaxLen)
		if err := redisPublisher.Ping(); err != nil {
			logger.ForPublisher().Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("Redis unreachable, drop events will not be published")
			redisPublisher.Close()
		} else {
			services.Publisher = redisPublisher
			logger.Info("Connected to Redis at %s (DB: %d, Stream: %s)", cfg.RedisAddr, cfg.RedisDB, cfg.RedisStream)
		}
	}

	return services, nil
}
