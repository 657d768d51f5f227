package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	s3blob "github.com/alanyoungcy/copybot/internal/blob/s3"
	"github.com/alanyoungcy/copybot/internal/cache/redis"
	"github.com/alanyoungcy/copybot/internal/config"
	"github.com/alanyoungcy/copybot/internal/crypto"
	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/engine"
	"github.com/alanyoungcy/copybot/internal/executor"
	"github.com/alanyoungcy/copybot/internal/feed"
	"github.com/alanyoungcy/copybot/internal/notify"
	"github.com/alanyoungcy/copybot/internal/platform/goldsky"
	"github.com/alanyoungcy/copybot/internal/platform/polymarket"
	"github.com/alanyoungcy/copybot/internal/server/handler"
	"github.com/alanyoungcy/copybot/internal/server/ws"
	"github.com/alanyoungcy/copybot/internal/store/postgres"
	"github.com/alanyoungcy/copybot/internal/store/sqlite"
)

// paperAccount keys the single paper ledger document.
const paperAccount = "paper"

// Dependencies bundles everything the modes need. It is constructed by Wire
// and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Ledger     domain.LedgerStore
	CopyTrades domain.CopyTradeStore
	Audit      domain.AuditStore // nil without postgres

	// Caches (nil without redis)
	PriceCache domain.PriceCache
	BookCache  domain.OrderbookCache
	Locks      domain.LockManager
	Bus        domain.SignalBus

	// Blob storage (nil without s3)
	Archiver *s3blob.LedgerArchiver

	// Venue
	Signer   *crypto.Signer // nil outside live mode
	Wallet   string         // funds-holding address in live mode
	Clob     *polymarket.ClobClient
	Data     *polymarket.DataClient
	Gamma    *polymarket.GammaClient
	WS       *polymarket.WSClient
	Stream   *feed.OrderbookStream
	Books    *feed.BookProvider
	Executor *executor.Executor // live mode only
	Trades   engine.TradeSource // Data API or Goldsky, per tracking.source

	// Notifications
	Notifier *notify.Notifier
	Dispatch *notify.Dispatcher // async front of Notifier for the engine loop
	Console  *notify.Console

	// Monitoring (nil hub when the server is disabled)
	Hub    *ws.Hub
	Checks map[string]handler.Check
}

// needsStream reports whether the mode trades and so watches prices.
func needsStream(mode string) bool {
	return mode == "paper" || mode == "live"
}

// useSQLite reports whether any store lives in the local SQLite file.
func useSQLite(cfg *config.Config) bool {
	return cfg.Paper.Store == "sqlite" || !cfg.Database.Enabled
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	mode := strings.ToLower(cfg.Mode)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Console: notify.NewConsole(os.Stdout),
		Checks:  make(map[string]handler.Check),
	}

	// --- PostgreSQL ---
	if cfg.Database.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)
		deps.Checks["postgres"] = func(ctx context.Context) error { return pgClient.Pool().Ping(ctx) }

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.Audit = postgres.NewAuditStore(pool)
		deps.CopyTrades = postgres.NewCopyTradeStore(pool)
		if cfg.Paper.Store == "postgres" {
			deps.Ledger = postgres.NewLedgerStore(pool, paperAccount)
		}
	}

	// --- SQLite ---
	if useSQLite(cfg) {
		db, err := sqlite.Open(ctx, cfg.Paper.SQLitePath)
		if err != nil {
			return fail(fmt.Errorf("wire: sqlite: %w", err))
		}
		closers = append(closers, func() { _ = db.Close() })

		if deps.Ledger == nil {
			deps.Ledger = db.LedgerStore(paperAccount)
		}
		if deps.CopyTrades == nil {
			deps.CopyTrades = db.CopyTradeStore()
		}
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Checks["redis"] = redisClient.Ping

		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.BookTTL.Duration)
		deps.BookCache = redis.NewOrderbookCache(redisClient, cfg.Redis.BookTTL.Duration)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient)
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		if err := s3Client.Health(ctx); err != nil {
			logger.WarnContext(ctx, "s3 bucket not reachable, archiving may fail",
				slog.String("bucket", cfg.S3.Bucket),
				slog.String("error", err.Error()),
			)
		}
		deps.Checks["s3"] = s3Client.Health
		deps.Archiver = s3blob.NewLedgerArchiver(
			deps.Ledger,
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			cfg.S3.Prefix,
			logger,
		)
	}

	// --- Notifications ---
	if cfg.Server.Enabled && needsStream(mode) {
		var opts []ws.Option
		if deps.Bus != nil && cfg.Notify.BusStream != "" {
			opts = append(opts, ws.WithJournal(deps.Bus, cfg.Notify.BusStream, cfg.Server.ReplayWindow.Duration))
		}
		deps.Hub = ws.NewHub(logger, opts...)
	}
	deps.Notifier = notify.NewNotifier(buildSenders(cfg, deps), cfg.Notify.Events, logger)
	deps.Dispatch = notify.NewDispatcher(deps.Notifier, cfg.Notify.QueueSize, logger)

	// --- Venue ---
	limiter := polymarket.NewLimiter(cfg.Polymarket.RequestsPerSecond, cfg.Polymarket.Burst)

	if mode == "live" {
		signer, err := loadSigner(cfg)
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		deps.Signer = signer
		deps.Wallet = fundingWallet(cfg, signer)
	}

	deps.Clob = polymarket.NewClobClient(cfg.Polymarket.ClobHost, deps.Signer, configuredHMAC(cfg), limiter, logger)
	deps.Data = polymarket.NewDataClient(cfg.Polymarket.DataHost, limiter, logger)
	deps.Gamma = polymarket.NewGammaClient(cfg.Polymarket.GammaHost, limiter, logger)
	if cfg.Tracking.Source == "goldsky" {
		deps.Trades = goldsky.NewClient(cfg.Tracking.GoldskyURL, cfg.Tracking.GoldskyAPIKey, limiter, deps.Gamma, logger)
	} else {
		deps.Trades = deps.Data
	}

	if deps.Signer != nil && !deps.Clob.Ready() {
		if _, err := deps.Clob.DeriveAPIKey(ctx); err != nil {
			return fail(fmt.Errorf("wire: derive api key: %w", err))
		}
		logger.InfoContext(ctx, "derived clob api credentials", slog.String("wallet", deps.Wallet))
	}

	if needsStream(mode) {
		deps.WS = polymarket.NewWSClient(cfg.Polymarket.WsHost, polymarket.WSOptions{
			ReconnectDelay:    cfg.Stream.ReconnectDelay.Duration,
			MaxReconnectDelay: cfg.Stream.MaxReconnectDelay.Duration,
			MaxAttempts:       cfg.Stream.MaxReconnectAttempts,
			PingInterval:      cfg.Stream.PingInterval.Duration,
		}, logger)

		var opts []feed.Option
		if deps.BookCache != nil {
			opts = append(opts, feed.WithMirror(deps.BookCache, deps.PriceCache))
		}
		deps.Stream = feed.NewOrderbookStream(deps.WS, cfg.Execution.BookFreshness.Duration, logger, opts...)
	}

	var providerOpts []feed.ProviderOption
	if deps.BookCache != nil {
		providerOpts = append(providerOpts, feed.WithSharedBooks(deps.BookCache, deps.PriceCache, cfg.Execution.BookFreshness.Duration))
	}
	if deps.Stream != nil {
		deps.Books = feed.NewBookProvider(deps.Stream, deps.Clob, providerOpts...)
	} else {
		deps.Books = feed.NewBookProvider(nil, deps.Clob, providerOpts...)
	}

	if mode == "live" {
		gateway := polymarket.NewOrderGateway(deps.Clob, cfg.Wallet.SafeAddress, cfg.Polymarket.SignatureType)
		deps.Executor = executor.New(gateway, deps.Books, executor.Config{
			BufferFactor:     cfg.Execution.BufferFactor,
			MinOrderNotional: cfg.Sizing.MinOrderNotional,
			MaxLevelAttempts: cfg.Execution.MaxLevelAttempts,
			NonceRetries:     cfg.Execution.NonceRetries,
			EdgeRetries:      cfg.Execution.EdgeRetries,
			EdgeBackoff:      cfg.Execution.EdgeBackoff.Duration,
			EdgeMaxBackoff:   cfg.Execution.EdgeMaxBackoff.Duration,
		}, logger)
	}

	return deps, cleanup, nil
}

// buildSenders returns the notification channels that are configured.
func buildSenders(cfg *config.Config, deps *Dependencies) []notify.Sender {
	senders := []notify.Sender{deps.Console}
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if deps.Hub != nil && !hubFollowsBus(cfg, deps) {
		senders = append(senders, deps.Hub)
	}
	if deps.Bus != nil && (cfg.Notify.BusChannel != "" || cfg.Notify.BusStream != "") {
		senders = append(senders, notify.NewBusSender(deps.Bus, cfg.Notify.BusChannel, cfg.Notify.BusStream))
	}
	return senders
}

// hubFollowsBus reports whether the websocket hub is fed from the bus
// channel. The bus sender publishes this process's events there too, so the
// hub then must not also be a direct sender.
func hubFollowsBus(cfg *config.Config, deps *Dependencies) bool {
	return deps.Bus != nil && cfg.Notify.BusChannel != ""
}

// loadSigner resolves the wallet key and builds the order signer.
func loadSigner(cfg *config.Config) (*crypto.Signer, error) {
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, err
	}
	signer, err := crypto.NewSigner(key, cfg.Polymarket.ChainID)
	if err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}
	return signer, nil
}

// configuredHMAC returns the L2 credentials from config, or nil when they
// have to be derived.
func configuredHMAC(cfg *config.Config) *crypto.HMACAuth {
	if cfg.Polymarket.ApiKey == "" {
		return nil
	}
	return &crypto.HMACAuth{
		Key:        cfg.Polymarket.ApiKey,
		Secret:     cfg.Polymarket.ApiSecret,
		Passphrase: cfg.Polymarket.ApiPassphrase,
	}
}

// fundingWallet is the address whose positions are queried: the proxy/safe
// wallet when configured, otherwise the signer itself.
func fundingWallet(cfg *config.Config, signer *crypto.Signer) string {
	if cfg.Wallet.SafeAddress != "" {
		return strings.ToLower(cfg.Wallet.SafeAddress)
	}
	return strings.ToLower(signer.Address().Hex())
}
