// Package httpserver exposes the webhook, demo, and debug HTTP surface.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kiranalabs/voicekhata/internal/bot"
	"github.com/kiranalabs/voicekhata/internal/livehub"
	"github.com/kiranalabs/voicekhata/internal/whatsapp"
	"github.com/kiranalabs/voicekhata/pkg/khata"
)

const (
	shutdownGrace  = 5 * time.Second
	maxWebhookBody = 1 << 20
)

// Config carries the HTTP surface settings.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
	VerifyToken    string
}

// Deps are the wired services the handlers delegate to.
type Deps struct {
	Bot    *bot.Bot
	Ledger *khata.Ledger
	Hub    *livehub.Hub
	Logger *zap.Logger
}

// Run boots the HTTP server and blocks until the context is cancelled or the
// listener fails.
func Run(ctx context.Context, cfg Config, deps Deps) error {
	if deps.Bot == nil || deps.Ledger == nil || deps.Hub == nil {
		return fmt.Errorf("%w: http server dependency is nil", khata.ErrInvalidServiceConfig)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	handler := &httpHandler{cfg: cfg, deps: deps}
	router := setupRouter(cfg, handler)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		deps.Logger.Info("khatad listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			deps.Logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/webhook/whatsapp", handler.handleWebhookVerify)
	router.POST("/webhook/whatsapp", handler.handleWebhook)

	demo := router.Group("/demo")
	demo.POST("/text", handler.handleDemoText)
	demo.POST("/confirm", handler.handleDemoConfirm)
	demo.GET("/entries", handler.handleDemoEntries)

	router.GET("/debug/stream", handler.handleDebugStream)

	return router
}

type httpHandler struct {
	cfg  Config
	deps Deps
}

// handleWebhookVerify answers the transport's subscription handshake.
func (handler *httpHandler) handleWebhookVerify(ctx *gin.Context) {
	challenge, ok := whatsapp.VerifyWebhookToken(
		handler.cfg.VerifyToken,
		ctx.Query("hub.mode"),
		ctx.Query("hub.verify_token"),
		ctx.Query("hub.challenge"),
	)
	if !ok {
		ctx.String(http.StatusForbidden, "verification failed")
		return
	}
	ctx.String(http.StatusOK, challenge)
}

// handleWebhook ingests inbound messages. It always answers 200: a non-200
// makes the transport retry and redeliver, which would double-handle
// messages, so decode failures are logged and acknowledged.
func (handler *httpHandler) handleWebhook(ctx *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxWebhookBody))
	if err != nil {
		handler.deps.Logger.Warn("webhook body read failed", zap.Error(err))
		ctx.String(http.StatusOK, "EVENT_RECEIVED")
		return
	}
	messages, err := whatsapp.ExtractMessages(body)
	if err != nil {
		handler.deps.Logger.Warn("webhook decode failed", zap.Error(err))
		ctx.String(http.StatusOK, "EVENT_RECEIVED")
		return
	}
	for _, message := range messages {
		handler.deps.Bot.HandleInbound(ctx.Request.Context(), message)
	}
	ctx.String(http.StatusOK, "EVENT_RECEIVED")
}

type demoTextRequest struct {
	ShopPhone string `json:"shop_phone"`
	Text      string `json:"text"`
}

func (handler *httpHandler) handleDemoText(ctx *gin.Context) {
	var request demoTextRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	shop, err := khata.NewShopKey(request.ShopPhone)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_shop", "shop_phone is required"))
		return
	}
	result := handler.deps.Bot.TextCommand(ctx.Request.Context(), shop, request.Text)
	ctx.JSON(http.StatusOK, gin.H{
		"reply":             result.Reply,
		"pending_action_id": result.PendingActionID,
	})
}

type demoConfirmRequest struct {
	ShopPhone string `json:"shop_phone"`
	ActionID  string `json:"action_id"`
	Decision  string `json:"decision"`
}

func (handler *httpHandler) handleDemoConfirm(ctx *gin.Context) {
	var request demoConfirmRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	shop, err := khata.NewShopKey(request.ShopPhone)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_shop", "shop_phone is required"))
		return
	}
	decision := khata.ParseDecision(request.Decision)
	if decision == khata.DecisionUnknown {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_decision", "decision must be yes or no"))
		return
	}
	result := handler.deps.Bot.Confirm(ctx.Request.Context(), shop, request.ActionID, decision)
	ctx.JSON(http.StatusOK, gin.H{"reply": result.Reply})
}

func (handler *httpHandler) handleDemoEntries(ctx *gin.Context) {
	shop, err := khata.NewShopKey(ctx.Query("shop_phone"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_shop", "shop_phone is required"))
		return
	}
	limit := 50
	if raw := ctx.Query("limit"); raw != "" {
		if _, scanErr := fmt.Sscanf(raw, "%d", &limit); scanErr != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_limit", "limit must be an integer"))
			return
		}
	}
	entries, err := handler.deps.Ledger.RecentEntries(ctx.Request.Context(), shop, limit)
	if err != nil {
		handler.deps.Logger.Error("recent entries fetch failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("store_error", "entries unavailable"))
		return
	}
	payload := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, entryPayload{
			EntryID:      entry.EntryID,
			CustomerName: entry.CustomerName,
			Amount:       entry.Amount,
			Reversed:     entry.Reversed,
			Transcript:   entry.Transcript,
			CreatedAt:    entry.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"entries": payload})
}

// handleDebugStream serves the live event feed over SSE. An empty shop_phone
// subscribes to every shop.
func (handler *httpHandler) handleDebugStream(ctx *gin.Context) {
	shopKey := livehub.WildcardKey
	if raw := ctx.Query("shop_phone"); raw != "" {
		shop, err := khata.NewShopKey(raw)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_shop", "shop_phone is malformed"))
			return
		}
		shopKey = shop.String()
	}

	events, cancel := handler.deps.Hub.Subscribe(shopKey)
	defer cancel()

	ctx.Header("Content-Type", "text/event-stream")
	ctx.Header("Cache-Control", "no-cache")
	ctx.Header("Connection", "keep-alive")

	ctx.Stream(func(w io.Writer) bool {
		select {
		case event, open := <-events:
			if !open {
				return false
			}
			ctx.SSEvent("message", event)
			return true
		case <-ctx.Request.Context().Done():
			return false
		}
	})
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type entryPayload struct {
	EntryID      string  `json:"entry_id"`
	CustomerName string  `json:"customer_name"`
	Amount       float64 `json:"amount"`
	Reversed     bool    `json:"reversed"`
	Transcript   string  `json:"transcript"`
	CreatedAt    string  `json:"created_at"`
}
