//go:build wireinject
// +build wireinject

package main

import (
	"context"

	"github.com/google/wire"
	"github.com/rs/zerolog"

	"ngpt-server/internal/config"
	"ngpt-server/internal/domain"
	"ngpt-server/internal/infrastructure/auth"
	"ngpt-server/internal/interfaces/httpserver/handlers"
	"ngpt-server/internal/interfaces/httpserver/routes"
)

// ProviderSet is the wire provider set for the application.
var ProviderSet = wire.NewSet(
	auth.ProvideGate,
	ProvideVerifier,
	ProvideUpstream,

	domain.ServiceProvider,

	handlers.HandlerProvider,
	routes.RouteProvider,
	ProvideHTTPServer,

	NewApplication,
)

// CreateApplication creates the application with all dependencies wired.
func CreateApplication(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Application, error) {
	wire.Build(ProviderSet)
	return nil, nil
}
