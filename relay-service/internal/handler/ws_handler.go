package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-io-live/pkg/log"
	"github.com/weiawesome/wes-io-live/pkg/response"
	"github.com/weiawesome/wes-io-live/relay-service/internal/config"
	"github.com/weiawesome/wes-io-live/relay-service/internal/hub"
)

// Handler serves the WebSocket endpoint and the status surface.
type Handler struct {
	hub      *hub.Hub
	wsCfg    config.WebSocketConfig
	upgrader websocket.Upgrader
}

// NewHandler creates a new HTTP handler.
func NewHandler(h *hub.Hub, wsCfg config.WebSocketConfig) *Handler {
	return &Handler{
		hub:   h,
		wsCfg: wsCfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(wsCfg.AllowedOrigins),
		},
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/", h.Root)
	r.GET("/ws", h.HandleWebSocket)
	r.GET("/stats", h.Stats)
	r.GET("/health", h.Health)

	r.NoRoute(func(c *gin.Context) {
		response.NotFound(c, "Not Found")
	})
}

// Root upgrades WebSocket requests and answers plain requests with stats.
func (h *Handler) Root(c *gin.Context) {
	if c.IsWebsocket() {
		h.HandleWebSocket(c)
		return
	}
	h.Stats(c)
}

// HandleWebSocket upgrades the request and starts the client pumps.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	if !websocket.IsWebSocketUpgrade(c.Request) {
		response.BadRequest(c, "websocket upgrade required")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(h.hub, conn, h.wsCfg)
	id, err := h.hub.Register(ctx, client)
	if err != nil {
		l.Error().Err(err).Msg("failed to register connection")
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server unavailable"))
		conn.Close()
		return
	}
	client.ID = id

	go client.WritePump()
	go client.ReadPump()
}

// Stats reports the current connection and room counts.
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.hub.Stats(c.Request.Context())
	if err != nil {
		response.ServiceUnavailable(c, "relay is not running")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Health answers OK while the hub loop is running.
func (h *Handler) Health(c *gin.Context) {
	select {
	case <-h.hub.Done():
		c.String(http.StatusServiceUnavailable, "STOPPING")
	default:
		c.String(http.StatusOK, "OK")
	}
}

// originChecker allows any origin when allowed is empty. Requests without an
// Origin header (non-browser clients) are always allowed.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}
