package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/VoidObscura/clipdaemon/config"
	"github.com/VoidObscura/clipdaemon/handlers"
	"github.com/VoidObscura/clipdaemon/logger"
	"github.com/VoidObscura/clipdaemon/services/capture"
	"github.com/VoidObscura/clipdaemon/services/host"
	"github.com/VoidObscura/clipdaemon/services/intercept"
	"github.com/VoidObscura/clipdaemon/services/playback"
	"github.com/VoidObscura/clipdaemon/services/upload"
	"github.com/chromedp/chromedp"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func main() {
	if err := RunServer(); err != nil {
		panic(err)
	}
}

func RunServer() error {
	ctx := logger.WithLogger(context.Background(), logger.DefaultLogger)
	logger.InfoC(ctx, "starting clip daemon...")
	cfg, err := config.LoadConfigFromFile("")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		return err
	}

	logger.InfoC(ctx, "starting browser allocator...")
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocatorOptions(cfg.Browser)...)
	defer allocCancel()

	logger.InfoC(ctx, "creating intercept cache...")
	cache := intercept.NewCache()
	go cache.StartSweeper(ctx)

	logger.InfoC(ctx, "creating host discovery service...")
	hostService, hostCancel, err := host.NewService(allocCtx, cache, cfg.Browser)
	if err != nil {
		logger.ErrorC(ctx, "failed to start host discovery", slog.Any("error", err))
		return err
	}
	defer hostCancel()

	logger.InfoC(ctx, "creating upload service...")
	uploadService := upload.NewService(cfg.Upload)

	logger.InfoC(ctx, "creating capture orchestrator...")
	runner := host.CDPRunner{}
	captureService := &capture.Service{
		Hosts:    hostService,
		Runner:   runner,
		Forcer:   playback.NewForcer(runner),
		Relay:    capture.NewRelay(),
		Uploader: uploadService,
		Cache:    cache,
		Timing:   cfg.Capture,
		ClipDir:  cfg.ClipDir,
	}

	logger.InfoC(ctx, "creating gin engine...")
	gin.SetMode(gin.ReleaseMode)
	ginws := gin.New()
	ginws.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}),
		logger.Middleware(logger.DefaultLogger),
		gin.Recovery())

	logger.InfoC(ctx, "setting up routes...")
	handlers.SetupRoutes(ginws, captureService, cache)

	logger.InfoC(ctx, "setup complete, starting server...")
	logger.InfoC(ctx, "now listening", slog.String("addr", cfg.ListenAddr))
	return http.ListenAndServe(cfg.ListenAddr, ginws)
}

// allocatorOptions builds the browser launch flags. Muted autoplay must stay
// permitted in backgrounded tabs or the playback forcer loses its cheapest
// strategies.
func allocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("no-first-run", true),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}
