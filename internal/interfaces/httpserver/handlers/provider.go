package handlers

import (
	"github.com/google/wire"

	"ngpt-server/internal/interfaces/httpserver/handlers/relayhandler"
)

// HandlerProvider wires the HTTP handlers.
var HandlerProvider = wire.NewSet(
	relayhandler.NewRelayHandler,
)
