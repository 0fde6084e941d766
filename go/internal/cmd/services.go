package main

import (
	"github.com/mcdev12/pointing/go/internal/docstore"
	"github.com/mcdev12/pointing/go/internal/gateway"
	"github.com/mcdev12/pointing/go/internal/session"
)

type Services struct {
	Sessions *session.Service
	Gateway  *gateway.Service
	Sweeper  *session.Sweeper
}

func setupServices(store docstore.Store, config *Config) *Services {
	// Store → Repository → App → Service
	sessionRepo := session.NewRepository(store, config.Session.Collection)
	sessionApp := session.NewApp(sessionRepo, session.WithTTL(config.Session.TTL))
	sessionService := session.NewService(sessionApp)

	gatewayService := gateway.NewService(gateway.DefaultConfig(), sessionApp)

	return &Services{
		Sessions: sessionService,
		Gateway:  gatewayService,
		Sweeper:  session.NewSweeper(sessionApp, config.Session.SweepInterval),
	}
}
