package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/x402cheddr/sequencer/internal/chainrpc"
	"github.com/x402cheddr/sequencer/internal/channel"
	"github.com/x402cheddr/sequencer/internal/config"
	"github.com/x402cheddr/sequencer/internal/httpapi"
	"github.com/x402cheddr/sequencer/internal/store/postgres"
)

func main() {
	logCfg := zap.NewProductionConfig()
	log, _ := logCfg.Build()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}
	if err := logCfg.Level.UnmarshalText([]byte(cfg.Server.LogLevel)); err != nil {
		log.Fatal("invalid LOG_LEVEL", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Postgres ──────────────────────────────────────────────────────────────
	pg, err := postgres.New(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal("postgres connect failed", zap.Error(err))
	}
	defer pg.Close()
	if err := pg.RunMigrations(ctx); err != nil {
		log.Fatal("postgres migrations failed", zap.Error(err))
	}
	store := postgres.NewChannelStore(pg.Pool())

	// ── Sequencer key ─────────────────────────────────────────────────────────
	sequencerKey, err := crypto.HexToECDSA(trimHexPrefix(cfg.Sequencer.PrivateKey))
	if err != nil {
		log.Fatal("invalid SEQUENCER_PRIVATE_KEY", zap.Error(err))
	}

	// ── Chain client (sequencer key + hand-packed ABI calls) ────────────────
	chainID := new(big.Int).SetUint64(cfg.Chain.ChainID)
	chain, err := chainrpc.Dial(ctx, cfg.Chain.RPCURL, chainID, common.HexToAddress(cfg.Chain.ChannelManagerAddress), sequencerKey)
	if err != nil {
		log.Fatal("chain client init failed", zap.Error(err))
	}
	defer chain.Close()

	// ── Update engine (registry + store + chain) ────────────────────────────
	registry := channel.NewRegistry()
	engine := channel.NewEngine(registry, store, chain, log, channel.Config{
		ChainID:           chainID,
		VerifyingContract: common.HexToAddress(cfg.Chain.ChannelManagerAddress),
		MaxRecipients:     cfg.Sequencer.MaxRecipients,
		SequencerKey:      sequencerKey,
	})

	states, err := store.LoadAll(ctx)
	if err != nil {
		log.Fatal("loading channel state failed", zap.Error(err))
	}
	registry.Load(states)
	log.Info("channel state loaded", zap.Int("channels", len(states)))

	if err := engine.SelfCheck(ctx); err != nil {
		log.Fatal("sequencer self-check failed", zap.Error(err))
	}
	log.Info("sequencer self-check passed")

	// ── HTTP server ───────────────────────────────────────────────────────────
	r := gin.New()
	r.Use(gin.Recovery(), httpapi.RequestID())
	httpapi.NewHandler(engine, log).Register(r)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return nil
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	select {
	case <-quit:
		log.Info("shutting down...")
	case <-gctx.Done():
	}
	cancel()

	if err := g.Wait(); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
