// Package backend opens the docstore.Store selected by configuration
package backend

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mcdev12/pointing/go/internal/dbconfig"
	"github.com/mcdev12/pointing/go/internal/docstore"
	"github.com/mcdev12/pointing/go/internal/docstore/memory"
	"github.com/mcdev12/pointing/go/internal/docstore/mongo"
	"github.com/mcdev12/pointing/go/internal/docstore/natskv"
	"github.com/mcdev12/pointing/go/internal/docstore/postgres"
	"github.com/rs/zerolog/log"
)

const (
	Memory   = "memory"
	Postgres = "postgres"
	NATS     = "nats"
	Mongo    = "mongo"
)

// Config selects and configures a store backend
type Config struct {
	Backend       string `yaml:"backend"`
	NATSURL       string `yaml:"nats_url"`
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
	NotifyChannel string `yaml:"notify_channel"`
}

// ApplyEnv overrides config values with STORE_BACKEND, NATS_URL, MONGO_URI
// and MONGO_DB when they are set.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("STORE_BACKEND"); v != "" {
		c.Backend = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATSURL = v
	}
	if v := os.Getenv("MONGO_URI"); v != "" {
		c.MongoURI = v
	}
	if v := os.Getenv("MONGO_DB"); v != "" {
		c.MongoDatabase = v
	}
}

// Open connects to the configured backend. The returned close func releases
// its connections.
func Open(ctx context.Context, cfg Config) (docstore.Store, func() error, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if kind == "" {
		kind = Memory
	}

	switch kind {
	case Memory:
		log.Warn().Msg("using in-memory store, sessions are lost on restart")
		return memory.NewStore(), func() error { return nil }, nil

	case Postgres:
		dbCfg := dbconfig.NewConfigFromEnv()
		pgCfg := postgres.DefaultConfig()
		pgCfg.DatabaseURL = dbCfg.DSN()
		if cfg.NotifyChannel != "" {
			pgCfg.NotifyChannel = cfg.NotifyChannel
		}
		store, err := postgres.Open(pgCfg)
		if err != nil {
			return nil, nil, err
		}
		log.Info().
			Str("host", dbCfg.Host).
			Str("database", dbCfg.Database).
			Msg("connected to postgres store")
		return store, store.Close, nil

	case NATS:
		natsCfg := natskv.DefaultConfig()
		if cfg.NATSURL != "" {
			natsCfg.URL = cfg.NATSURL
		}
		store, err := natskv.Connect(natsCfg)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil

	case Mongo:
		mongoCfg := mongo.DefaultConfig()
		if cfg.MongoURI != "" {
			mongoCfg.URI = cfg.MongoURI
		}
		if cfg.MongoDatabase != "" {
			mongoCfg.Database = cfg.MongoDatabase
		}
		store, err := mongo.Connect(ctx, mongoCfg)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
