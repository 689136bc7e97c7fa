package commands

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"omnichat/internal/auth"
	"omnichat/internal/config"
	"omnichat/internal/observability"
	"omnichat/internal/platform"
	"omnichat/internal/redis"
	"omnichat/internal/service/ai"
	"omnichat/internal/storage"
)

type kvBackend interface {
	ForUser(uid string) platform.KeyValueStore
}

// backend owns the shared production resources behind every user's services.
type backend struct {
	cfg       *config.Config
	db        *sql.DB
	rdb       *redis.Client
	auth      *auth.Service
	kv        kvBackend
	files     *storage.LocalFiles
	inference *ai.Inference
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	log := observability.Logger()
	dbType := cfg.BasicConfig.Database
	log.Info("opening database", "type", dbType)

	db, err := storage.Open(dbType, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := storage.Migrate(db, dbType); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	b := &backend{cfg: cfg, db: db}

	if cfg.RedisEnabled() {
		rdb, err := redis.NewRedisClient(cfg)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("create redis client: %w", err)
		}
		b.rdb = rdb
		b.kv = redis.NewKVStore(rdb)
	} else {
		kv, err := storage.NewKVStore(db, dbType)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.kv = kv
	}

	files, err := storage.NewLocalFiles(cfg.BasicConfig.FileBaseDir)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("init file store: %w", err)
	}
	b.files = files
	b.auth = auth.NewService(db, b.rdb, time.Duration(cfg.BasicConfig.TokenTTL)*time.Hour)
	b.inference = ai.NewInference(ctx, cfg)
	return b, nil
}

// services binds the shared resources to one user.
func (b *backend) services(identity platform.Identity, uid string) platform.Services {
	return platform.Services{
		Identity:  identity,
		KV:        b.kv.ForUser(uid),
		Files:     b.files.ForUser(uid),
		Inference: b.inference.ForUser(uid),
	}
}

func (b *backend) Close() {
	if b.rdb != nil {
		if err := b.rdb.Close(); err != nil {
			observability.Logger().Warn("close redis", "error", err)
		}
	}
	if b.db != nil {
		b.db.Close()
	}
}
