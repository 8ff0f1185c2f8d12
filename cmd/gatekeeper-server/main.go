package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/colonia-access/gatekeeper/internal/config"
	"github.com/colonia-access/gatekeeper/internal/db"
	"github.com/colonia-access/gatekeeper/internal/gate/auth"
	"github.com/colonia-access/gatekeeper/internal/gate/policy"
	"github.com/colonia-access/gatekeeper/internal/gate/qrtoken"
	"github.com/colonia-access/gatekeeper/internal/gate/remote"
	"github.com/colonia-access/gatekeeper/internal/gate/remote/sheets"
	"github.com/colonia-access/gatekeeper/internal/gate/service"
	"github.com/colonia-access/gatekeeper/internal/gate/store/sqlite"
	gatesync "github.com/colonia-access/gatekeeper/internal/gate/sync"
	"github.com/colonia-access/gatekeeper/internal/httpapi"
)

func main() {
	// Optional .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	cfg := config.FromEnv()
	logger := log.New(os.Stdout, "gatekeeper-server ", log.LstdFlags|log.LUTC)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqlDB, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
	if err != nil {
		logger.Fatalf("open cache db: %v", err)
	}
	defer sqlDB.Close()

	if cfg.Env == "dev" {
		if err := db.SeedDev(ctx, sqlDB, db.SeedDevOptions{}); err != nil {
			logger.Fatalf("seed dev data: %v", err)
		}
	}

	writer := db.NewWorker(sqlDB)
	defer writer.Close()

	cache := sqlite.NewCacheStore(sqlDB, writer)

	window, err := policy.New(cfg.WindowStart, cfg.WindowEnd, cfg.Timezone)
	if err != nil {
		logger.Fatalf("access window: %v", err)
	}
	logger.Printf("access window %s", window)

	codec, err := qrtoken.New([]byte(cfg.TokenKey))
	if err != nil {
		logger.Fatalf("token codec: %v", err)
	}

	signer := auth.Signer{Key: []byte(cfg.JWTSecret), TTL: cfg.SessionTTL}

	access := service.NewAccessService(cache, codec, window, service.IssuePolicy{
		MaxLifetime: cfg.MaxTokenLifetime,
		DefaultTTL:  cfg.DefaultTokenTTL,
	}, logger)
	login := service.NewLoginService(cache, signer)

	// Remote system of record. No spreadsheet configured means a fully
	// offline deployment: the reconciler simply never runs.
	var rem remote.Store
	if cfg.SpreadsheetID != "" {
		sheetStore, err := sheets.New(ctx, sheets.Config{
			SpreadsheetID:   cfg.SpreadsheetID,
			SheetName:       cfg.SheetName,
			CredentialsFile: cfg.CredentialsFile,
			Location:        window.Location(),
			Logger:          logger,
		})
		if err != nil {
			logger.Fatalf("sheets remote: %v", err)
		}
		rem = sheetStore
	}

	reconciler := gatesync.NewReconciler(cache, rem, gatesync.Config{
		Interval:    cfg.SyncInterval,
		PushTimeout: cfg.PushTimeout,
		BackoffBase: cfg.BackoffBase,
		BackoffCap:  cfg.BackoffCap,
	}, logger)
	reconciler.Start(ctx)
	defer reconciler.Stop()

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:  logger,
		Addr:    cfg.HTTPAddr,
		Access:  access,
		Login:   login,
		Signer:  signer,
		GateKey: cfg.GateKey,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Printf("listening on %s", cfg.HTTPAddr)
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Printf("server exit: %v", err)
	}
	logger.Printf("shutdown complete")
}
