package handler

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/jengzang/sessionmap/internal/models"
	"github.com/jengzang/sessionmap/internal/service"
	"github.com/jengzang/sessionmap/internal/surface"
	"github.com/jengzang/sessionmap/pkg/response"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxInput   = 64 * 1024
)

// MapHandler handles the live map websocket and view inspection endpoints
type MapHandler struct {
	mapService *service.MapService
	upgrader   websocket.Upgrader
}

// NewMapHandler creates a new map handler. checkOrigin decides which browser
// origins may open the websocket; nil falls back to gorilla's same-host check.
func NewMapHandler(mapService *service.MapService, checkOrigin func(*http.Request) bool) *MapHandler {
	return &MapHandler{
		mapService: mapService,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
}

// Connect handles GET /api/v1/map/ws. Each connection mounts one view that
// is unmounted when the connection closes.
func (h *MapHandler) Connect(c *gin.Context) {
	if check := h.upgrader.CheckOrigin; check != nil && !check(c.Request) {
		response.Error(c, http.StatusForbidden, "Origin not allowed")
		return
	}

	var filter models.MapViewFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.BadRequest(c, "Invalid query parameters")
		return
	}

	ms, err := h.mapService.Open(c.Request.Context(), filter)
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}
	defer h.mapService.Close(ms.ID)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[MapHandler] upgrade failed for view %s: %v", ms.ID, err)
		return
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON([]surface.Op{{Type: surface.OpReady, ID: ms.ID}}); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.readInputs(conn, ms)
	}()
	h.writeOps(conn, ms, done)
}

// readInputs applies browser inputs until the connection fails
func (h *MapHandler) readInputs(conn *websocket.Conn, ms *service.MapSession) {
	conn.SetReadLimit(maxInput)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var in surface.Input
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[MapHandler] view %s read error: %v", ms.ID, err)
			}
			return
		}

		if err := ms.Handle(ms.View.Context(), in); err != nil {
			ms.Outbox.Emit(surface.Op{Type: surface.OpError, Message: err.Error()})
		}
	}
}

// writeOps forwards surface ops to the connection until the reader stops
func (h *MapHandler) writeOps(conn *websocket.Conn, ms *service.MapSession, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case <-ms.Outbox.Notify():
			ops := ms.Outbox.Drain()
			if len(ops) == 0 {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ops); err != nil {
				log.Printf("[MapHandler] view %s write error: %v", ms.ID, err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ListViews handles GET /api/v1/map/views
func (h *MapHandler) ListViews(c *gin.Context) {
	ids := h.mapService.IDs()
	response.Success(c, gin.H{
		"count": len(ids),
		"views": ids,
	})
}

// GetViewState handles GET /api/v1/map/views/:id
func (h *MapHandler) GetViewState(c *gin.Context) {
	ms, err := h.mapService.Get(c.Param("id"))
	if err != nil {
		response.NotFound(c, "Map view not found")
		return
	}

	state, err := ms.View.State(c.Request.Context())
	if err != nil {
		response.NotFound(c, "Map view not found")
		return
	}

	response.Success(c, state)
}

// GetViewSource handles GET /api/v1/map/views/:id/source
func (h *MapHandler) GetViewSource(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.mapService.Get(id); err != nil {
		response.NotFound(c, "Map view not found")
		return
	}

	c.Header("Content-Type", "application/zstd")
	c.Header("Content-Disposition", `attachment; filename="`+id+`.geojson.zst"`)
	c.Status(http.StatusOK)
	if err := h.mapService.WriteSource(id, c.Writer); err != nil {
		log.Printf("[MapHandler] snapshot of view %s failed: %v", id, err)
	}
}
