package bootstrap

import (
	"log"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"ai-pagechat-be/internal/config"
	"ai-pagechat-be/internal/controller"
	"ai-pagechat-be/internal/pkg/logger"
	"ai-pagechat-be/internal/repository/archive"
	"ai-pagechat-be/internal/repository/memory"
	"ai-pagechat-be/internal/service"
	"ai-pagechat-be/internal/websocket"
	"ai-pagechat-be/pkg/highlight"
	"ai-pagechat-be/pkg/llm/factory"
	"ai-pagechat-be/pkg/page"
)

type Container struct {
	// Controllers
	ChatController controller.IChatController

	// WebSockets
	WebSocketHub *websocket.Hub
}

func NewContainer(db *gorm.DB, cfg *config.Config) *Container {
	// 1. Core Facades
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")

	// 2. Event Bus
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{},
		watermillLogger,
	)
	dispatcher := highlight.NewDispatcher(pubSub)

	// Redis is optional; without it highlight pushes stay single-instance.
	var rdb *redis.Client
	if cfg.App.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.App.RedisURL)
		if err != nil {
			log.Printf("[WARN] Invalid REDIS_URL, running without redis: %v", err)
		} else {
			rdb = redis.NewClient(opts)
		}
	}

	// 3. LLM Provider
	llmProvider, err := factory.NewLLMProvider(
		cfg.Ai.LLMProvider,
		cfg.Ai.LLMModel,
		cfg.Ai.OllamaBaseURL,
	)
	if err != nil {
		log.Fatalf("[FATAL] Failed to initialize LLM Provider: %v", err)
	}
	log.Printf("[INFO] Using LLM Provider: %s (%s)", cfg.Ai.LLMProvider, cfg.Ai.LLMModel)

	// 4. Storage
	sessionRepo := memory.NewSessionRepository()

	var archiveRepo *archive.Repository
	if db != nil {
		archiveRepo, err = archive.NewRepository(db)
		if err != nil {
			log.Printf("[WARN] History archive disabled: %v", err)
			archiveRepo = nil
		}
	}

	// 5. Services
	extractOpts := page.DefaultExtractOptions()
	if cfg.Extract.ViewportWidth > 0 {
		extractOpts.ViewportWidth = cfg.Extract.ViewportWidth
	}
	if cfg.Extract.ViewportHeight > 0 {
		extractOpts.ViewportHeight = cfg.Extract.ViewportHeight
	}

	chatService := service.NewChatService(
		sessionRepo,
		archiveRepo,
		llmProvider,
		dispatcher,
		extractOpts,
		cfg.Ai.HistoryTurns,
		sysLogger,
	)

	// 6. Controllers & WebSocket push
	chatController := controller.NewChatController(chatService)
	hubLogger := logger.NewIsolatedLogger("logs/ws_hub.log")
	hub := websocket.NewHub(pubSub, rdb, hubLogger)

	return &Container{
		ChatController: chatController,
		WebSocketHub:   hub,
	}
}
