package gateway

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"realtime-service/internal/auth"
	"realtime-service/internal/config"
	"realtime-service/internal/domain"
	"realtime-service/internal/metrics"
	"realtime-service/internal/service"
)

const (
	authTimeout  = 5 * time.Second
	storeTimeout = 5 * time.Second
)

// Backlog hands over the events held for a user while they were offline
// and takes back the ones that could not be delivered.
type Backlog interface {
	Take(userID string) []domain.QueuedEvent
	Requeue(userID string, events []domain.QueuedEvent)
}

// Gateway accepts authenticated sockets, runs their command loop and keeps
// presence in step with connection lifecycle.
type Gateway struct {
	hub      *Hub
	verifier auth.TokenVerifier
	resolver *auth.IdentityResolver
	presence *service.PresenceService
	backlog  Backlog
	validate *validator.Validate
	upgrader websocket.Upgrader
	pump     pumpConfig
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	closing bool
	active  sync.WaitGroup
}

func NewGateway(
	cfg config.WebSocketConfig,
	hub *Hub,
	verifier auth.TokenVerifier,
	resolver *auth.IdentityResolver,
	presence *service.PresenceService,
	backlog Backlog,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Gateway {
	return &Gateway{
		hub:      hub,
		verifier: verifier,
		resolver: resolver,
		presence: presence,
		backlog:  backlog,
		validate: validator.New(),
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		pump: pumpConfig{
			writeWait:      cfg.WriteWait,
			pongWait:       cfg.PongWait,
			pingPeriod:     (cfg.PongWait * 9) / 10,
			maxMessageSize: cfg.MaxMessageSize,
		},
		logger:  logger,
		metrics: m,
	}
}

func originChecker(allowed string) func(*http.Request) bool {
	var origins []string
	for _, o := range strings.Split(allowed, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range origins {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// extractToken looks for the credential in the Authorization header, then
// the token query parameter, then the token or access_token cookie.
func extractToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	for _, name := range []string{"token", "access_token"} {
		if cookie, err := r.Cookie(name); err == nil && cookie.Value != "" {
			return cookie.Value
		}
	}
	return ""
}

func (g *Gateway) authenticate(ctx context.Context, token string) (domain.Identity, error) {
	claims, err := g.verifier.Verify(ctx, token)
	if err != nil {
		return domain.Identity{}, err
	}
	return g.resolver.Resolve(ctx, claims, token)
}

// HandleWebSocket authenticates the handshake and upgrades the connection.
// Rejected handshakes never create presence state.
func (g *Gateway) HandleWebSocket(c *gin.Context) {
	if g.isClosing() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   gin.H{"code": "SHUTTING_DOWN", "message": "server is shutting down"},
		})
		return
	}

	token := extractToken(c.Request)

	ctx, cancel := context.WithTimeout(c.Request.Context(), authTimeout)
	defer cancel()

	identity, err := g.authenticate(ctx, token)
	if err != nil {
		reason := auth.Reason(err)
		g.metrics.RecordHandshakeFailure(reason)
		g.logger.Info("WebSocket handshake rejected",
			zap.String("reason", reason),
			zap.String("client_ip", c.ClientIP()),
			zap.Error(err),
		)
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   gin.H{"code": "UNAUTHORIZED", "message": reason},
		})
		return
	}

	if !g.begin() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   gin.H{"code": "SHUTTING_DOWN", "message": "server is shutting down"},
		})
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.active.Done()
		g.metrics.RecordHandshakeFailure("upgrade failed")
		g.logger.Warn("Failed to upgrade connection", zap.Error(err))
		return
	}

	client := newClient(uuid.NewString(), conn, identity, token)
	g.connect(client)

	go client.writePump(g.pump)
	g.deliverBacklog(client)
	go g.serve(client)
}

func (g *Gateway) begin() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closing {
		return false
	}
	g.active.Add(1)
	return true
}

func (g *Gateway) isClosing() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closing
}

func (g *Gateway) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), storeTimeout)
}

type connectedPayload struct {
	SocketID   string    `json:"socketId"`
	UserID     string    `json:"userId"`
	Name       string    `json:"name"`
	Workspaces []string  `json:"workspaces"`
	Status     string    `json:"status"`
	Degraded   bool      `json:"degraded"`
	ServerTime time.Time `json:"serverTime"`
}

type presenceChange struct {
	UserID      string    `json:"userId"`
	Name        string    `json:"name,omitempty"`
	WorkspaceID string    `json:"workspaceId"`
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
}

func (g *Gateway) connect(c *Client) {
	identity := c.identity
	g.hub.register(c)
	if g.isClosing() {
		c.closeSend()
	}

	g.hub.join(c, roomUserPrefix+identity.UserID)
	for _, workspaceID := range identity.WorkspaceIDs {
		g.hub.join(c, roomWorkspacePrefix+workspaceID)
	}

	ctx, cancel := g.storeContext()
	defer cancel()
	first := g.presence.Connect(ctx, c.id, identity)

	g.metrics.IncrementConnections()
	g.metrics.SetActiveConnections(g.hub.ClientCount())
	g.logger.Info("WebSocket connected",
		zap.String("socket_id", c.id),
		zap.String("user_id", identity.UserID),
		zap.Bool("degraded", identity.Degraded),
	)

	status := g.presence.Status(identity.UserID)
	workspaces := g.hub.workspaceRooms(c)
	if workspaces == nil {
		workspaces = []string{}
	}
	g.hub.sendTo(c, EventConnected, marshalData(connectedPayload{
		SocketID:   c.id,
		UserID:     identity.UserID,
		Name:       identity.DisplayName(),
		Workspaces: workspaces,
		Status:     string(status),
		Degraded:   identity.Degraded,
		ServerTime: time.Now().UTC(),
	}), "")

	if first {
		now := time.Now().UTC()
		for _, workspaceID := range workspaces {
			g.hub.EmitToRoomExcept(roomWorkspacePrefix+workspaceID, c, EventPresenceOnline, marshalData(presenceChange{
				UserID:      identity.UserID,
				Name:        identity.DisplayName(),
				WorkspaceID: workspaceID,
				Status:      string(status),
				Timestamp:   now,
			}))
		}
	}
}

// deliverBacklog replays everything queued for the user to this socket. It
// runs once writePump is draining the buffer. Events the socket could not
// take go back to the queue for the next connection.
func (g *Gateway) deliverBacklog(c *Client) {
	events := g.backlog.Take(c.UserID())
	if len(events) == 0 {
		return
	}

	deliveryID := uuid.NewString()
	delivered, next := 0, len(events)
	for i, e := range events {
		msg, err := encodeFrame(e.Event, tagQueued(e.Data, deliveryID, i, len(events)), "")
		if err != nil {
			g.logger.Error("Failed to encode queued event", zap.String("event", e.Event), zap.Error(err))
			continue
		}
		if !c.sendBacklog(msg, g.pump.writeWait) {
			next = i
			break
		}
		delivered++
	}

	if rest := events[next:]; len(rest) > 0 {
		g.backlog.Requeue(c.UserID(), rest)
		g.logger.Warn("Socket stopped accepting offline events, requeued the rest",
			zap.String("socket_id", c.id),
			zap.String("user_id", c.UserID()),
			zap.Int("requeued", len(rest)),
		)
	}

	g.metrics.RecordOfflineDelivered(delivered)
	g.logger.Info("Delivered offline events",
		zap.String("user_id", c.UserID()),
		zap.String("delivery_id", deliveryID),
		zap.Int("count", delivered),
		zap.Int("queued", len(events)),
	)
}

// serve runs the client's read loop and its disconnect handling.
func (g *Gateway) serve(c *Client) {
	defer g.active.Done()
	defer g.disconnect(c)
	c.readPump(g.pump, g.logger, g.handleFrame)
}

func (g *Gateway) disconnect(c *Client) {
	rooms := g.hub.unregister(c)
	c.closeSend()

	ctx, cancel := g.storeContext()
	defer cancel()
	result := g.presence.Disconnect(ctx, c.id, c.UserID())

	g.metrics.SetActiveConnections(g.hub.ClientCount())
	g.logger.Info("WebSocket disconnected",
		zap.String("socket_id", c.id),
		zap.String("user_id", c.UserID()),
		zap.Bool("last_connection", result.IsLastConnection),
	)

	if !result.IsLastConnection {
		return
	}

	notify := make(map[string]struct{})
	for _, room := range rooms {
		if id, ok := strings.CutPrefix(room, roomWorkspacePrefix); ok {
			notify[id] = struct{}{}
		}
	}
	for _, id := range result.PresenceWorkspaces {
		notify[id] = struct{}{}
	}

	now := time.Now().UTC()
	for workspaceID := range notify {
		g.hub.EmitToRoom(roomWorkspacePrefix+workspaceID, EventPresenceOffline, marshalData(presenceChange{
			UserID:      c.UserID(),
			WorkspaceID: workspaceID,
			Status:      string(domain.PresenceStatusOffline),
			Timestamp:   now,
		}))
	}
}

// Shutdown stops accepting sockets, closes the open ones and waits for their
// disconnect handling to finish.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closing = true
	g.mu.Unlock()

	g.hub.closeAll()

	done := make(chan struct{})
	go func() {
		g.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.logger.Info("All WebSocket connections closed")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConnectionCount is the number of open sockets on this process.
func (g *Gateway) ConnectionCount() int {
	return g.hub.ClientCount()
}
