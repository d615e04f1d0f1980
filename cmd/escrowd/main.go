package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/telvault/escrow/internal/config"
	"github.com/telvault/escrow/internal/database"
	"github.com/telvault/escrow/internal/escrow"
	"github.com/telvault/escrow/internal/fees"
	"github.com/telvault/escrow/internal/payments"
	"github.com/telvault/escrow/internal/rates"
	"github.com/telvault/escrow/internal/server"
	"github.com/telvault/escrow/internal/wallet"
	"github.com/telvault/escrow/pkg/logger"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	db, err := database.NewPostgresDB(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	if err != nil {
		zapLogger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		zapLogger.Fatal("Failed to migrate schema", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	baseFee, err := cfg.Fees.BaseFeePercentDecimal()
	if err != nil {
		zapLogger.Fatal("Invalid base fee percent", zap.Error(err))
	}
	minFee, err := cfg.Fees.MinFeeAmountDecimal()
	if err != nil {
		zapLogger.Fatal("Invalid minimum fee amount", zap.Error(err))
	}
	threshold, err := cfg.Fees.SmallTradeThresholdDecimal()
	if err != nil {
		zapLogger.Fatal("Invalid small trade threshold", zap.Error(err))
	}

	calc := fees.NewCalculator(zapLogger, baseFee, minFee, threshold, cfg.Fees.FirstTradeFree)
	levels := fees.NewLevelResolver(zapLogger, db)
	eligibility := fees.NewEligibility(zapLogger, db)
	walletSvc := wallet.NewService(zapLogger, db)

	provider, err := payments.New(zapLogger, cfg.Payments)
	if err != nil {
		zapLogger.Fatal("Failed to create payment provider", zap.Error(err))
	}

	escrowSvc := escrow.NewService(zapLogger, db, walletSvc, calc, levels, eligibility, provider, cfg.Escrow, cfg.Payments.CallbackURL)

	markup, err := decimal.NewFromString(cfg.Rates.MarkupPercent)
	if err != nil {
		zapLogger.Fatal("Invalid rate markup percent", zap.Error(err))
	}
	usdNGN := decimal.Zero
	if cfg.Rates.USDNGNFixed != "" {
		if usdNGN, err = decimal.NewFromString(cfg.Rates.USDNGNFixed); err != nil {
			zapLogger.Fatal("Invalid fixed USD/NGN rate", zap.Error(err))
		}
	}
	source := rates.NewHTTPSource(zapLogger, "https://api.coinbase.com")
	oracle := rates.NewCachedOracle(zapLogger, source, rdb, cfg.Rates.CacheTTL)
	converter := rates.NewConverter(zapLogger, oracle, markup, usdNGN)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go escrowSvc.RunExpirySweeper(ctx, cfg.Escrow.SweepInterval)

	srv := server.NewServer(zapLogger, escrowSvc, walletSvc, converter)
	httpServer := &http.Server{Addr: cfg.Server.Addr, Handler: srv.Handler()}

	go func() {
		zapLogger.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Graceful shutdown failed", zap.Error(err))
	}
	if err := rdb.Close(); err != nil {
		zapLogger.Error("Failed to close redis client", zap.Error(err))
	}
}
