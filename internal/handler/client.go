package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"potholecam/internal/dto"
	"potholecam/internal/logger"
	"potholecam/internal/service"
	hub "potholecam/internal/service/websocket"
)

// Upgrader upgrades HTTP connections to WebSocket; CheckOrigin allows all origins.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const controlTimeout = 5 * time.Second

// ViewWebsocketHandler registers viewers with the hub and turns their
// control messages into session commands.
func ViewWebsocketHandler(manager *service.Manager, viewers *hub.HubService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}

		viewers.Register(connection)
		defer viewers.Unregister(connection)

		manager.PublishStatus(r.Context())

		for {
			_, data, err := connection.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Info("Viewer disconnected normally")
				} else {
					logger.Error("Viewer disconnected with error: %v", err)
				}
				break
			}

			var msg dto.ControlMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				logger.Warning("Ignoring malformed viewer message: %v", err)
				continue
			}
			handleControl(r.Context(), manager, logger, msg.Action)
		}
	}
}

func handleControl(parent context.Context, manager *service.Manager, logger *logger.Logger, action string) {
	ctx, cancel := context.WithTimeout(parent, controlTimeout)
	defer cancel()

	var err error
	switch action {
	case dto.ActionStart:
		err = manager.Start(ctx)
	case dto.ActionStop:
		err = manager.Stop(ctx)
	case dto.ActionToggle:
		_, err = manager.Toggle(ctx)
	case dto.ActionStatus:
		err = manager.PublishStatus(ctx)
	default:
		logger.Warning("Unknown viewer action %q", action)
		return
	}
	if err != nil {
		logger.Error("Viewer action %s failed: %v", action, err)
	}
}
