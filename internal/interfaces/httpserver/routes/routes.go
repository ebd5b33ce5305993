package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/google/wire"

	"ngpt-server/internal/interfaces/httpserver/handlers/relayhandler"
)

// RouteProvider wires route registration.
var RouteProvider = wire.NewSet(NewRelayRoute)

// relayPaths are served identically; /api/gpt is kept for older clients.
var relayPaths = []string{"/relay", "/api/gpt"}

// RelayRoute registers the relay and identity endpoints.
type RelayRoute struct {
	handler *relayhandler.RelayHandler
}

func NewRelayRoute(handler *relayhandler.RelayHandler) *RelayRoute {
	return &RelayRoute{handler: handler}
}

func (r *RelayRoute) RegisterRouter(router gin.IRouter) {
	for _, path := range relayPaths {
		router.POST(path, r.handler.Relay)
		router.GET(path, r.handler.Identity)
	}
}
