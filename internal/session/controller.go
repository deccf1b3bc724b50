package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/deskloop/deskloop/internal/chat"
	"github.com/deskloop/deskloop/internal/config"
	"github.com/deskloop/deskloop/internal/credits"
	"github.com/deskloop/deskloop/internal/engine"
	"github.com/deskloop/deskloop/internal/provider"
	"github.com/deskloop/deskloop/internal/sandbox"
	"github.com/deskloop/deskloop/internal/store"
	"github.com/deskloop/deskloop/internal/tools"
	"github.com/deskloop/deskloop/internal/transcript"
	"github.com/deskloop/deskloop/internal/wire"
)

const (
	handshakeTimeout = 30 * time.Second
	teardownTimeout  = 30 * time.Second

	// Messages submitted while a turn is running queue here; turns are
	// strictly sequential per session.
	messageQueueSize = 16
)

// ProviderFactory builds one session's inference provider. Tests swap
// it for a scripted fake.
type ProviderFactory func(opts provider.AnthropicOptions) provider.Provider

// Handler upgrades /ws/chat connections and runs one Controller per
// connection.
type Handler struct {
	repo        store.Repository
	mgr         sandbox.Manager
	registry    *Registry
	transcript  transcript.Logger
	cfg         *config.Config
	newProvider ProviderFactory
}

func NewHandler(repo store.Repository, mgr sandbox.Manager, registry *Registry, log transcript.Logger, cfg *config.Config) *Handler {
	if log == nil {
		log = transcript.Noop()
	}
	return &Handler{
		repo:       repo,
		mgr:        mgr,
		registry:   registry,
		transcript: log,
		cfg:        cfg,
		newProvider: func(opts provider.AnthropicOptions) provider.Provider {
			return provider.NewAnthropicProvider(opts)
		},
	}
}

// SetProviderFactory overrides how session providers are constructed.
func (h *Handler) SetProviderFactory(f ProviderFactory) {
	h.newProvider = f
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	slog.Info("Session connection request", "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "ip", r.RemoteAddr)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	hs, err := h.readHandshake(r.Context(), ws)
	if err != nil {
		slog.Warn("Handshake rejected", "error", err, "ip", r.RemoteAddr)
		_ = ws.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}

	userID, err := h.repo.GetUserID(r.Context(), hs.APIKey)
	if err != nil {
		slog.Error("API key lookup failed", "error", err)
		_ = ws.Close(websocket.StatusInternalError, "auth lookup failed")
		return
	}
	if userID == "" {
		slog.Warn("Unknown api key", "ip", r.RemoteAddr)
		_ = ws.Close(websocket.StatusPolicyViolation, "invalid api_key")
		return
	}

	model := hs.ModelName
	if model == "" {
		model = h.cfg.Inference.DefaultModel
	}
	if !provider.SupportedModel(model) {
		slog.Warn("Unsupported model requested", "model", model, "user_id", userID)
		_ = ws.Close(websocket.StatusPolicyViolation, fmt.Sprintf("unsupported model %q", model))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := newController(h, ws, cancel, controllerParams{
		sessionID: uuid.NewString(),
		userID:    userID,
		apiKey:    hs.APIKey,
		model:     model,
		authState: hs.AuthState(),
	})

	h.registry.Register(c)
	defer h.registry.Unregister(c)

	c.run(ctx)
	slog.Info("Session ended", "session_id", c.sessionID, "user_id", userID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.cfg.IsDevelopment() {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.cfg.FrontendURL == "*" {
		return true
	}
	if origin == h.cfg.FrontendURL {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.cfg.FrontendURL)
	return false
}

// readHandshake reads and validates the required first frame.
func (h *Handler) readHandshake(ctx context.Context, ws *websocket.Conn) (*wire.Handshake, error) {
	readCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	_, data, err := ws.Read(readCtx)
	if err != nil {
		return nil, fmt.Errorf("handshake not received: %w", err)
	}

	var hs wire.Handshake
	if err := json.Unmarshal(data, &hs); err != nil {
		return nil, errors.New("handshake must be a JSON object")
	}
	if hs.APIKey == "" {
		return nil, errors.New("api_key is required")
	}
	return &hs, nil
}

type controllerParams struct {
	sessionID string
	userID    string
	apiKey    string
	model     string
	authState string
}

// Controller owns one connected session: its instance, its history, its
// command stream, and the at-most-one turn in flight.
type Controller struct {
	sessionID string
	userID    string
	apiKey    string
	model     string
	authState string
	startedAt time.Time

	handler *Handler
	ws      *websocket.Conn
	sender  *Sender
	cancel  context.CancelFunc
	logger  *slog.Logger

	msgCh chan string

	mu         sync.Mutex
	turn       *engine.Turn
	instanceID string
}

func newController(h *Handler, ws *websocket.Conn, cancel context.CancelFunc, p controllerParams) *Controller {
	return &Controller{
		sessionID: p.sessionID,
		userID:    p.userID,
		apiKey:    p.apiKey,
		model:     p.model,
		authState: p.authState,
		startedAt: time.Now().UTC(),
		handler:   h,
		ws:        ws,
		sender:    NewSender(ws, h.transcript, p.userID, p.sessionID),
		cancel:    cancel,
		logger:    slog.With("session_id", p.sessionID, "user_id", p.userID),
		msgCh:     make(chan string, messageQueueSize),
	}
}

// Shutdown cancels the session from outside the connection goroutine.
func (c *Controller) Shutdown(reason string) {
	c.logger.Info("Session shutdown requested", "reason", reason)
	c.cancel()
}

func (c *Controller) info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Info{
		SessionID:  c.sessionID,
		UserID:     c.userID,
		Model:      c.model,
		InstanceID: c.instanceID,
		StartedAt:  c.startedAt,
	}
}

func (c *Controller) setInstanceID(id string) {
	c.mu.Lock()
	c.instanceID = id
	c.mu.Unlock()
}

func (c *Controller) setTurn(t *engine.Turn) {
	c.mu.Lock()
	c.turn = t
	c.mu.Unlock()
}

func (c *Controller) activeTurn() *engine.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turn
}

// run provisions the instance, starts the command loop, and serializes
// turns until the session context ends. On return the instance is gone.
func (c *Controller) run(ctx context.Context) {
	deployMsg := "Deploying instance"
	if c.authState != "" {
		deployMsg += " with auth state"
	}
	c.sender.Send(wire.Status(deployMsg))

	inst, err := c.handler.mgr.StartInstance(ctx, sandbox.StartOptions{
		SessionID: c.sessionID,
		UserID:    c.userID,
	})
	if err != nil {
		c.logger.Error("Instance provisioning failed", "error", err)
		c.sender.Send(wire.ErrorResult(fmt.Sprintf("Failed to deploy instance: %v", err)))
		c.sender.Send(wire.LoopComplete())
		return
	}
	c.setInstanceID(inst.ID())
	defer c.teardown(inst)

	if c.authState != "" {
		if err := inst.AuthenticateBrowser(ctx, c.authState); err != nil {
			c.logger.Error("Auth state restore failed", "auth_state_id", c.authState, "error", err)
			c.sender.Send(wire.ErrorResult(fmt.Sprintf("Failed to restore auth state: %v", err)))
			c.sender.Send(wire.LoopComplete())
			return
		}
	}

	c.sender.Send(wire.InstanceInfo(inst.StreamURL(), inst.ID(), inst.LaunchTime()))
	c.sender.Send(wire.StreamURL(inst.StreamURL()))
	c.sender.Send(wire.Status("Launching agent"))
	c.logger.Info("Session ready", "container_id", inst.ID(), "model", c.model)

	eng := engine.New(engine.Options{
		Provider: c.handler.newProvider(provider.AnthropicOptions{
			APIKey:         c.apiKey,
			BaseURL:        c.handler.cfg.Inference.BaseURL,
			Model:          c.model,
			MaxTokens:      int64(c.handler.cfg.Inference.MaxTokens),
			ThinkingBudget: int64(c.handler.cfg.Inference.ThinkingBudget),
		}),
		Tools:   tools.NewCollection(inst, c.logger),
		History: chat.NewHistory(),
		Gate:    credits.NewGate(c.handler.repo, c.userID, c.logger),
		Sink:    c.sender,
		Logger:  c.logger,
	})

	go func() {
		defer c.cancel()
		c.readLoop(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case text := <-c.msgCh:
			turn := engine.NewTurn()
			c.setTurn(turn)
			eng.Run(ctx, turn, text)
			c.setTurn(nil)
		}
	}
}

// readLoop consumes client frames for the life of the connection.
// Commands act immediately, even mid-turn; messages queue for the
// sequential turn loop.
func (c *Controller) readLoop(ctx context.Context) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				c.logger.Debug("WebSocket closed by client")
			} else if ctx.Err() == nil {
				c.logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var cmd wire.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.logger.Warn("Undecodable client frame", "error", err)
			continue
		}

		switch {
		case cmd.Message != nil:
			c.logFrame("message", *cmd.Message)
			select {
			case c.msgCh <- *cmd.Message:
			default:
				c.logger.Warn("Message queue full, rejecting message")
				c.sender.Send(wire.ErrorResult("message queue full, try again shortly"))
			}

		case cmd.Command == wire.CommandPause:
			c.logFrame("pause", "")
			if turn := c.activeTurn(); turn != nil {
				c.logger.Info("Pause requested")
				turn.Interrupt()
			} else {
				c.logger.Debug("Pause requested with no active turn")
			}

		case cmd.Command == wire.CommandTerminate:
			c.logFrame("terminate", "")
			c.logger.Info("Terminate requested")
			c.cancel()
			return

		default:
			c.logger.Warn("Unknown client frame", "command", cmd.Command)
		}
	}
}

func (c *Controller) logFrame(frame, content string) {
	c.handler.transcript.Log(transcript.Event{
		UserID:     c.userID,
		SessionID:  c.sessionID,
		Direction:  "inbound",
		Frame:      frame,
		ContentRaw: content,
	})
}

// teardown destroys the session's instance. It runs on a fresh context:
// the session context is usually already canceled by the time we get
// here, and the instance must be removed regardless.
func (c *Controller) teardown(inst sandbox.Instance) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	if err := c.handler.mgr.StopInstance(ctx, inst.ID()); err != nil {
		c.logger.Error("Instance teardown failed", "container_id", inst.ID(), "error", err)
	}
}
