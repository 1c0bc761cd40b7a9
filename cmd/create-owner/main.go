package main

import (
	"context"
	"log"
	"time"

	"jewelcraft/config"
	"jewelcraft/internal/service"
	"jewelcraft/internal/store"
	"jewelcraft/internal/util"

	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()
	logger := util.GetLogger()

	if cfg.Owner.Email == "" || cfg.Owner.Password == "" {
		logger.Fatal("OWNER_EMAIL and OWNER_PASSWORD must be set")
	}

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	users := service.NewUserService(db, nil, cfg.Business.StoreTimeout)
	created, err := users.EnsureOwner(ctx, cfg.Owner.Username, cfg.Owner.Email, cfg.Owner.Password)
	if err != nil {
		logger.Fatal("failed to create owner", zap.Error(err))
	}
	if created {
		logger.Info("owner account created", zap.String("email", cfg.Owner.Email))
	}
}
