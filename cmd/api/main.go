package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/guardian/backend/internal/config"
	"github.com/zhouzirui/guardian/backend/internal/handler"
	"github.com/zhouzirui/guardian/backend/internal/middleware"
	"github.com/zhouzirui/guardian/backend/internal/model/contact"
	"github.com/zhouzirui/guardian/backend/internal/platform"
	"github.com/zhouzirui/guardian/backend/internal/platform/device"
	"github.com/zhouzirui/guardian/backend/internal/service/assistant"
	"github.com/zhouzirui/guardian/backend/internal/service/chat"
	"github.com/zhouzirui/guardian/backend/internal/service/checkin"
	"github.com/zhouzirui/guardian/backend/internal/service/location"
	"github.com/zhouzirui/guardian/backend/internal/service/sos"
	"github.com/zhouzirui/guardian/backend/internal/service/speech"
	"github.com/zhouzirui/guardian/backend/internal/storage/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	kv, err := sqlite.Open(ctx, cfg.Storage.Path)
	if err != nil {
		log.Fatalf("failed to open storage: %v", err)
	}
	defer kv.Close()
	contacts := contact.NewPersistentStore(ctx, kv)

	hub := device.NewHub(device.Options{
		RequestTimeout: cfg.Device.RequestTimeout,
		PingInterval:   cfg.Device.PingInterval,
		CacheTTL:       cfg.Location.CacheTTL,
	})

	locations := location.NewManager(hub)
	orchestrator := sos.NewOrchestrator(locations, sos.Capabilities{
		Haptics:   hub,
		Tone:      hub,
		Sharer:    hub,
		Clipboard: hub,
	}, sos.Config{
		FixTimeout:   cfg.SOS.FixTimeout,
		ShareTimeout: cfg.SOS.ShareTimeout,
		AlertTimeout: cfg.SOS.AlertTimeout,
	})

	assistantSvc := newAssistant(ctx, cfg, hub)

	timer := checkin.NewTimer(orchestrator, contacts, checkin.Config{
		DefaultDuration: cfg.CheckIn.DefaultDuration,
		MaxDuration:     cfg.CheckIn.MaxDuration,
	})

	var limiter *middleware.IPLimiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewIPLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}

	router := handler.NewRouter(handler.Dependencies{
		Contacts:       contacts,
		Location:       locations,
		SOS:            orchestrator,
		Assistant:      assistantSvc,
		CheckIn:        timer,
		Device:         hub,
		FixTimeout:     cfg.Location.FixTimeout,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Limiter:        limiter,
	})

	startServer(ctx, cfg.Server, router)

	timer.Cancel()
	locations.Stop(0)
}

// newAssistant wires the optional model fallback and voice input. Missing
// credentials leave the rule based assistant working on its own.
func newAssistant(ctx context.Context, cfg *config.Config, hub *device.Hub) *assistant.Service {
	var responder *assistant.Responder
	if cfg.AI.Enabled() && cfg.AI.AssistantLLMEnabled {
		chatModel, err := cfg.AI.NewChatModel(ctx)
		if err != nil {
			log.Printf("warning: failed to initialize chat model: %v", err)
			log.Println("continuing with rule based replies only - 请检查 Ark 模型相关环境变量")
		} else {
			responder, err = assistant.NewResponder(ctx, chatModel, assistant.ResponderConfig{
				Enabled:      true,
				HistoryLimit: cfg.AI.AssistantHistoryLimit,
			})
			if err != nil {
				log.Printf("warning: failed to initialize assistant responder: %v", err)
				responder = nil
			} else {
				log.Println("Assistant model fallback enabled")
			}
		}
	} else {
		log.Println("Ark 凭证未配置，跳过 AI 功能初始化")
	}

	var recognizer platform.Recognizer
	if cfg.Speech.Enabled {
		rec, err := speech.NewRecognizer(speech.Config{
			AppID:       cfg.Speech.AppID,
			AccessToken: cfg.Speech.AccessToken,
			Endpoint:    cfg.Speech.BaseURL,
			Model:       cfg.Speech.ASRModel,
			Timeout:     time.Duration(cfg.Speech.Timeout) * time.Second,
		})
		if err != nil {
			log.Printf("warning: failed to initialize speech recognizer: %v", err)
		} else {
			recognizer = rec
			log.Println("Speech recognizer initialized successfully")
		}
	} else {
		log.Println("语音服务凭证未配置，跳过语音功能初始化")
	}

	voice := assistant.NewVoice(recognizer, cfg.Speech.ASRLanguage)
	return assistant.NewService(chat.NewService(), responder, voice, hub)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Guardian backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
