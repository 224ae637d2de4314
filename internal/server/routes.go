package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xpanvictor/tabletalk/internal/chatlog"
	"github.com/xpanvictor/tabletalk/internal/config"
	"github.com/xpanvictor/tabletalk/internal/geo"
	"github.com/xpanvictor/tabletalk/internal/handlers"
	"github.com/xpanvictor/tabletalk/internal/menu"
	"github.com/xpanvictor/tabletalk/internal/orchestrator"
	"github.com/xpanvictor/tabletalk/internal/order"
	"github.com/xpanvictor/tabletalk/internal/search"
	"github.com/xpanvictor/tabletalk/internal/vision"
	"github.com/xpanvictor/tabletalk/pkg/Logger"
)

// Ops the device sends to drive the conversation (as opposed to the rtc
// bridge ops in bridge.go).
const (
	opUserText         = "user.text"
	opUserImage        = "user.image"
	opUserLocation     = "user.location"
	opVoiceConnect     = "voice.connect"
	opVoiceDisconnect  = "voice.disconnect"
	opChatClear        = "chat.clear"
	opChatExport       = "chat.export"
	opChatHistory      = "chat.history"
	opOrderSelect      = "order.select"
	opAttachmentOption = "attachment.option"
)

// Dependencies carries what routes need from startup.
type Dependencies struct {
	Configs *config.Settings
	Logger  *Logger.Logger
}

func NewServerDependencies(cfg *config.Settings, logger *Logger.Logger) Dependencies {
	return Dependencies{Configs: cfg, Logger: logger}
}

// ClientSession is one connected device: its websocket, its bridge, and its
// private orchestrator.
type ClientSession struct {
	ID          uuid.UUID
	Conn        *websocket.Conn
	Bridge      *deviceBridge
	Orch        *orchestrator.Orchestrator
	ConnectedAt time.Time

	mu       sync.Mutex
	isActive bool
}

func (s *ClientSession) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isActive
}

func (s *ClientSession) deactivate() {
	s.mu.Lock()
	s.isActive = false
	s.mu.Unlock()
}

// RoutesManager tracks live device sessions.
type RoutesManager struct {
	deps     Dependencies
	mu       sync.RWMutex
	sessions map[uuid.UUID]*ClientSession
}

func NewRoutesManager(deps Dependencies) *RoutesManager {
	return &RoutesManager{
		deps:     deps,
		sessions: make(map[uuid.UUID]*ClientSession),
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true }, // dev-only
}

func InitializeRoutes(cfg *config.Settings, r *gin.Engine, dep Dependencies) {
	r.Use(handlers.CORSMiddleware())
	r.Use(handlers.ErrorHandlerMiddleware(dep.Logger))

	r.GET("/", func(ctx *gin.Context) { ctx.JSON(200, gin.H{"message": "Server healthy"}) })
	r.GET("/health", func(ctx *gin.Context) { ctx.JSON(200, gin.H{"status": "ok"}) })

	rm := NewRoutesManager(dep)

	ws := r.Group("/ws")
	if cfg.Auth.JWTSecret != "" {
		ws.Use(handlers.AuthMiddleware(cfg.Auth, dep.Logger))
	}
	ws.GET("", rm.handleSession)
}

func (rm *RoutesManager) handleSession(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		rm.deps.Logger.Errorf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sessionID := uuid.New()
	logger := rm.deps.Logger.Named("session")
	logger.Infof("device connected, session %s", sessionID)

	cfg := rm.deps.Configs
	bridge := newDeviceBridge(conn, logger)
	orch := orchestrator.New(cfg, rm.deps.Logger, orchestrator.Deps{
		Signaler:    bridge,
		Permissions: bridge,
		Audio:       bridge,
		Completer:   orchestrator.NewOpenAICompleter(cfg.Chat),
		Searcher:    search.NewAugmenter(cfg.Search, rm.deps.Logger.Named("search")),
		Vision:      vision.NewClient(cfg.Vision, rm.deps.Logger.Named("vision")),
		Geo:         geo.NewClient(cfg.Geo, rm.deps.Logger.Named("geo")),
		Generator:   order.NewOpenAIGenerator(cfg.Chat),
	})

	session := &ClientSession{
		ID:          sessionID,
		Conn:        conn,
		Bridge:      bridge,
		Orch:        orch,
		ConnectedAt: time.Now(),
		isActive:    true,
	}
	rm.register(session)
	defer rm.cleanup(session)

	// Push every appended chat message to the device as it lands.
	orch.ChatLog().Subscribe(func(m chatlog.Message) {
		if !session.active() {
			return
		}
		if err := bridge.send(opChatMessage, m); err != nil {
			logger.Debugf("chat push failed: %v", err)
		}
	})

	rm.readLoop(session)
}

func (rm *RoutesManager) register(s *ClientSession) {
	rm.mu.Lock()
	rm.sessions[s.ID] = s
	rm.mu.Unlock()
}

func (rm *RoutesManager) cleanup(s *ClientSession) {
	s.deactivate()
	s.Orch.DisconnectVoice()
	s.Bridge.shutdown()
	rm.mu.Lock()
	delete(rm.sessions, s.ID)
	rm.mu.Unlock()
	rm.deps.Logger.Infof("session %s closed", s.ID)
}

func (rm *RoutesManager) readLoop(s *ClientSession) {
	for {
		_, raw, err := s.Conn.ReadMessage()
		if err != nil {
			rm.deps.Logger.Debugf("ws read ended for session %s: %v", s.ID, err)
			return
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			rm.deps.Logger.Warnf("bad frame from session %s: %v", s.ID, err)
			continue
		}
		if s.Bridge.dispatch(env) {
			continue
		}
		rm.handleOp(s, env)
	}
}

func (rm *RoutesManager) handleOp(s *ClientSession, env Envelope) {
	ctx := context.Background()
	switch env.Op {
	case opUserText:
		var body struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(env.Body, &body); err != nil {
			rm.sendError(s, "user.text needs a text field")
			return
		}
		s.Orch.HandleUserText(ctx, body.Text)

	case opUserImage:
		image, purpose, ok := decodeImageOp(env.Body)
		if !ok {
			rm.sendError(s, "user.image needs base64 data")
			return
		}
		if purpose == "menu" {
			if data, ok := s.Orch.HandleMenuPhoto(ctx, image); ok {
				if err := s.Bridge.send(opMenuExtracted, data); err != nil {
					rm.deps.Logger.Debugf("menu push failed: %v", err)
				}
			}
			return
		}
		s.Orch.HandleImage(ctx, image)

	case opUserLocation:
		var body struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		}
		if err := json.Unmarshal(env.Body, &body); err != nil {
			rm.sendError(s, "user.location needs lat and lng")
			return
		}
		s.Orch.HandleLocation(ctx, body.Lat, body.Lng)

	case opVoiceConnect:
		// Connect blocks on device round-trips, so it cannot run on the
		// read loop goroutine.
		go func() {
			s.Orch.ConnectVoice(context.Background())
			rm.pushVoiceStatus(s)
		}()

	case opVoiceDisconnect:
		s.Orch.DisconnectVoice()
		rm.pushVoiceStatus(s)

	case opChatClear:
		s.Orch.ClearChat(ctx)
		if err := s.Bridge.send(opChatCleared, struct{}{}); err != nil {
			rm.deps.Logger.Debugf("clear ack failed: %v", err)
		}

	case opChatExport:
		var body struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal(env.Body, &body); err != nil {
			rm.sendError(s, "chat.export needs a message id")
			return
		}
		text, ok := s.Orch.ExportMessage(body.ID)
		if !ok {
			rm.sendError(s, "no such message")
			return
		}
		if err := s.Bridge.send(opChatExported, map[string]any{"id": body.ID, "text": text}); err != nil {
			rm.deps.Logger.Debugf("export push failed: %v", err)
		}

	case opChatHistory:
		for _, m := range s.Orch.ChatLog().Messages() {
			if err := s.Bridge.send(opChatMessage, m); err != nil {
				return
			}
		}

	case opOrderSelect:
		var body struct {
			Items []menu.Item `json:"items"`
		}
		if err := json.Unmarshal(env.Body, &body); err != nil {
			rm.sendError(s, "order.select needs items")
			return
		}
		s.Orch.SelectMenuItems(ctx, body.Items)

	case opAttachmentOption:
		var body struct {
			Option string `json:"option"`
		}
		if err := json.Unmarshal(env.Body, &body); err != nil {
			return
		}
		rm.handleAttachmentOption(s, orchestrator.AttachmentOption(body.Option))

	default:
		rm.deps.Logger.Warnf("unknown op %q from session %s", env.Op, s.ID)
	}
}

// handleAttachmentOption maps a long-press menu choice to the device action
// that fulfils it. The follow-up arrives later as user.image or
// user.location.
func (rm *RoutesManager) handleAttachmentOption(s *ClientSession, option orchestrator.AttachmentOption) {
	var source string
	switch option {
	case orchestrator.OptionCamera:
		source = "camera"
	case orchestrator.OptionGallery, orchestrator.OptionDocument:
		source = "gallery"
	case orchestrator.OptionMenu:
		source = "camera_menu"
	case orchestrator.OptionLocation:
		source = "location"
	default:
		rm.sendError(s, "unknown attachment option")
		return
	}
	if err := s.Bridge.send(opAttachmentPicker, map[string]string{"source": source}); err != nil {
		rm.deps.Logger.Debugf("picker push failed: %v", err)
	}
}

func (rm *RoutesManager) pushVoiceStatus(s *ClientSession) {
	if !s.active() {
		return
	}
	status := s.Orch.VoiceStatus()
	if err := s.Bridge.send(opVoiceStatus, map[string]string{"status": string(status)}); err != nil {
		rm.deps.Logger.Debugf("status push failed: %v", err)
	}
}

func (rm *RoutesManager) sendError(s *ClientSession, msg string) {
	if err := s.Bridge.send(opError, map[string]string{"message": msg}); err != nil {
		rm.deps.Logger.Debugf("error push failed: %v", err)
	}
}

func decodeImageOp(body json.RawMessage) ([]byte, string, bool) {
	var payload struct {
		Data    string `json:"data"`
		Purpose string `json:"purpose"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Data == "" {
		return nil, "", false
	}
	image, err := base64.StdEncoding.DecodeString(payload.Data)
	if err != nil {
		return nil, "", false
	}
	return image, payload.Purpose, true
}
