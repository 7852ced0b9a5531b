package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Brownie44l1/plant-disease-api/internal/app"
	"github.com/Brownie44l1/plant-disease-api/internal/config"
	"github.com/Brownie44l1/plant-disease-api/internal/device"
	"github.com/Brownie44l1/plant-disease-api/internal/handlers"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the TOML config file")
	flag.Parse()

	root := config.ProjectRoot()
	if !filepath.IsAbs(*configPath) {
		*configPath = filepath.Join(root, *configPath)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.ResolvePaths(root)
	cfg.ApplyEnv()

	if cfg.Log.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0o755); err != nil {
			log.Fatalf("Failed to create log directory: %v", err)
		}
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
		defer f.Close()
		log.SetOutput(io.MultiWriter(os.Stderr, f))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bridge := device.NewBridge()
	session, closeSession := app.Load(cfg, app.Devices{
		Picker:      bridge,
		Permissions: bridge,
		Capturer:    bridge,
		Notify:      func(msg string) { log.Printf("Notice: %s", msg) },
	})
	defer closeSession()

	if err := session.InitErr(); err != nil {
		log.Printf("Starting degraded: %v", err)
	} else {
		log.Printf("Classes: %v", session.Catalogue().Names())
	}

	handler := handlers.NewHandler(ctx, session, bridge, cfg.History.Limit)
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("Server starting on port %s", cfg.Server.Port)
	log.Println("Endpoints:")
	log.Println("  GET  /health              - Health check")
	log.Println("  GET  /display             - Current result text and notice")
	log.Println("  GET  /display/image       - Currently displayed image (PNG)")
	log.Println("  POST /actions/gallery     - Select an image from the device gallery")
	log.Println("  POST /actions/camera      - Capture an image with the device camera")
	log.Println("  GET  /actions/{id}        - Action status")
	log.Println("  GET  /requests            - Requests waiting for the device")
	log.Println("  POST /requests/picker     - Answer the gallery picker")
	log.Println("  POST /requests/permission - Answer the camera permission prompt")
	log.Println("  POST /requests/camera     - Answer the capture request")
	log.Println("  POST /predict             - Raw array prediction")
	log.Println("  POST /predict/image       - Predict from image upload")
	log.Println("  GET  /history             - Recent detections")
	log.Printf("\n💡 Upload test: curl -X POST -F \"image=@leaf.jpg\" http://localhost:%s/predict/image\n\n", cfg.Server.Port)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("Server failed: %v", err)
		closeSession()
		os.Exit(1)
	}
}
