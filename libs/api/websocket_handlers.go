package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kaustubh76/synapse/libs/push"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict origins once the dashboard host is pinned down
		return true
	},
}

// HandleWebSocket upgrades GET /ws and registers the connection with the
// push hub. Query parameters choose the initial rooms so the immediate
// follow-up events are not missed:
//
//	?provider_id=...  joins the providers room and capability rooms
//	?rooms=a&rooms=b  joins arbitrary rooms (e.g. dashboard, intent:<id>)
func (h *Handlers) HandleWebSocket(c *gin.Context) {
	logger := h.logger.With(zap.String("handler", "HandleWebSocket"))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("failed to upgrade to websocket", zap.Error(err))
		return
	}

	connectionID := uuid.New().String()
	providerID := c.Query("provider_id")
	isProvider := providerID != ""

	client := push.NewClient(connectionID, conn, h.hub, logger)
	h.hub.Connect(connectionID, client, isProvider, providerID)

	// Join the requested rooms before the pumps start so no events are lost.
	if isProvider {
		h.hub.Subscribe(connectionID, push.RoomProviders)
		if provider, err := h.registry.Get(providerID); err == nil {
			for _, cap := range provider.Capabilities {
				h.hub.Subscribe(connectionID, push.CapabilityRoom(cap))
			}
		}
	}
	for _, room := range c.QueryArray("rooms") {
		if room != "" {
			h.hub.Subscribe(connectionID, room)
		}
	}

	go client.WritePump()
	go client.ReadPump()
}
