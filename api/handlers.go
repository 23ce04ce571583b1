package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/jamiemulcahy/yart/domain"
	"github.com/jamiemulcahy/yart/room"
)

const createRoomMaxSize = 4 << 10

// Rooms is the room layer the HTTP boundary drives.
type Rooms interface {
	Create(ctx context.Context, template string) (room.Created, error)
	View(ctx context.Context, roomID string, isAdmin bool, authorID string) (domain.View, error)
	Connect(ctx context.Context, roomID, token, authorID string, conn room.Conn) (*room.Engine, *room.Session, error)
}

// Config tunes per-connection behaviour.
type Config struct {
	Version      string
	SendBuffer   int
	Rate         float64
	Burst        int
	PingInterval time.Duration
}

type handler struct {
	rooms    Rooms
	identity *Identity
	cfg      Config
	log      *log.Logger
	upgrader websocket.Upgrader
}

// Register wires up all API routes on the provided Echo instance. identity may
// be nil, in which case every connection gets a fresh author id.
func Register(e *echo.Echo, rooms Rooms, identity *Identity, cfg Config, logger *log.Logger) {
	if logger == nil {
		panic("Logger is not initialized")
	}
	if cfg.Version == "" {
		cfg.Version = "0.1.0"
	}
	h := &handler{
		rooms:    rooms,
		identity: identity,
		cfg:      cfg,
		log:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	e.POST("/api/rooms", h.createRoom)
	e.GET("/api/rooms/:id", h.getRoom)
	e.GET("/api/rooms/:id/ws", h.connect)
	e.GET("/api/health", health)
	e.GET("/", h.info)
}

type createRoomRequest struct {
	Template string `json:"template"`
}

func health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) info(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"name": "YART API", "version": h.cfg.Version})
}

func (h *handler) createRoom(c echo.Context) (err error) {
	metrics := newCreateRequestMetrics(h.log)
	defer func() {
		metrics.Log(c.Response().Status, err)
	}()

	body, readErr := io.ReadAll(io.LimitReader(c.Request().Body, createRoomMaxSize))
	if readErr != nil {
		metrics.SetErrorStage("read_body")
		return c.String(http.StatusBadRequest, "invalid body")
	}
	var req createRoomRequest
	if len(body) > 0 {
		if err := sonic.Unmarshal(body, &req); err != nil {
			metrics.SetErrorStage("decode")
			return c.String(http.StatusBadRequest, "invalid body")
		}
	}
	if len(req.Template) > domain.MaxIDLength {
		metrics.SetErrorStage("template")
		return c.String(http.StatusBadRequest, "invalid template")
	}
	metrics.SetTemplate(req.Template)

	start := time.Now()
	created, createErr := h.rooms.Create(c.Request().Context(), req.Template)
	metrics.ObserveCreate(time.Since(start))
	if createErr != nil {
		metrics.SetErrorStage("create")
		h.log.WithError(createErr).Error("create room failed")
		err = c.String(http.StatusInternalServerError, "failed to create room")
		return err
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *handler) getRoom(c echo.Context) error {
	view, err := h.rooms.View(c.Request().Context(), c.Param("id"), false, "")
	if err != nil {
		if errors.Is(err, room.ErrInvalidRoomID) {
			return c.String(http.StatusBadRequest, "invalid room id")
		}
		h.log.WithError(err).WithField("room", c.Param("id")).Error("load room failed")
		return c.String(http.StatusInternalServerError, "failed to load room")
	}
	return c.JSON(http.StatusOK, view)
}

// connect upgrades to a WebSocket and pumps client frames into the room engine
// until the connection ends. Malformed, invalid and excess frames are dropped
// without a reply.
func (h *handler) connect(c echo.Context) error {
	roomID := c.Param("id")
	if roomID == "" || len(roomID) > domain.MaxIDLength {
		return c.String(http.StatusBadRequest, "invalid room id")
	}
	metrics := newSessionMetrics(h.log, roomID)
	authorID, reconnecting := h.resolveAuthor(c.QueryParam("identity"), roomID)
	metrics.SetReconnecting(reconnecting)

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.WithError(err).WithField("room", roomID).Debug("websocket upgrade failed")
		return nil
	}
	conn := newWSConn(ws, h.cfg.SendBuffer)
	go conn.writePump(h.cfg.PingInterval)
	defer metrics.Log()

	if h.identity != nil {
		if err := h.sendIdentity(conn, roomID, authorID); err != nil {
			h.log.WithError(err).WithField("room", roomID).Error("issue identity token failed")
		}
	}

	ctx := c.Request().Context()
	engine, session, err := h.rooms.Connect(ctx, roomID, c.QueryParam("token"), authorID, conn)
	if err != nil {
		metrics.SetCloseReason("join_failed")
		h.log.WithError(err).WithField("room", roomID).Error("join room failed")
		_ = conn.Close()
		return nil
	}
	metrics.SetSession(session.ID, session.IsAdmin)
	defer func() {
		engine.Leave(session.ID)
		_ = conn.Close()
	}()

	ws.SetReadLimit(maxFrameBytes)
	pongWait := h.pongWait()
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	limiter := rate.NewLimiter(rate.Limit(h.cfg.Rate), h.cfg.Burst)
	if h.cfg.Rate <= 0 {
		limiter.SetLimit(rate.Inf)
	}
	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				metrics.SetCloseReason("read_error")
			} else {
				metrics.SetCloseReason("closed")
			}
			return nil
		}
		metrics.Frame()
		if !limiter.Allow() {
			metrics.RateLimited()
			continue
		}
		cmd, err := domain.DecodeCommand(payload)
		if err != nil {
			metrics.Malformed()
			continue
		}
		if err := cmd.Validate(); err != nil {
			metrics.Invalid()
			continue
		}
		if err := engine.Submit(ctx, session, cmd); err != nil {
			metrics.SetCloseReason("room_stopped")
			return nil
		}
		metrics.Command()
	}
}

// resolveAuthor reuses the author id from a valid identity token, or mints a
// fresh one.
func (h *handler) resolveAuthor(token, roomID string) (string, bool) {
	if h.identity != nil && token != "" {
		if authorID, err := h.identity.Resolve(token, roomID); err == nil {
			return authorID, true
		}
	}
	return uuid.NewString(), false
}

func (h *handler) sendIdentity(conn *wsConn, roomID, authorID string) error {
	token, err := h.identity.Issue(roomID, authorID)
	if err != nil {
		return err
	}
	frame, err := domain.EncodeIdentity(token)
	if err != nil {
		return err
	}
	return conn.Send(frame)
}

func (h *handler) pongWait() time.Duration {
	ping := h.cfg.PingInterval
	if ping <= 0 {
		ping = defaultPingGap
	}
	return ping * 4
}
