// Command tradeengine is the process entrypoint: it loads configuration,
// opens the sqlite store, registers metrics, starts the gin control
// plane, auto-resumes any strategy left RUNNING across a restart, and
// blocks until an interrupt signal triggers graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"tradeengine/api"
	"tradeengine/config"
	"tradeengine/logger"
	"tradeengine/metrics"
	"tradeengine/store"
)

func main() {
	config.LoadDotenv()
	logger.Init(os.Getenv("ENV") != "production", zerolog.InfoLevel)

	dbPath := envOr("DB_PATH", "tradeengine.db")
	encryptionKey := os.Getenv("CREDENTIALS_KEY")
	addr := envOr("HTTP_ADDR", ":8080")
	jwtSecret := os.Getenv("JWT_SECRET")

	st, err := store.Open(dbPath, encryptionKey)
	if err != nil {
		logger.Errorf("open store: %v", err)
		os.Exit(1)
	}
	defer st.Close()

	metrics.Init()

	rt := newRuntime(st)

	srv := api.NewServer(st, rt, jwtSecret)
	wireMetricsEndpoint(srv.Router())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt.resumeRunning(ctx)

	logger.Infof("tradeengine listening on %s", addr)
	if err := srv.Run(ctx, addr); err != nil && err != http.ErrServerClosed {
		logger.Errorf("http server error: %v", err)
	}

	logger.Infof("shutting down, stopping supervised strategies")
	rt.StopAll()

	// Give in-flight supervised loops a window to close positions and
	// persist their final stop reason before the process exits.
	time.Sleep(2 * time.Second)
}

func wireMetricsEndpoint(r *gin.Engine) {
	handler := promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})
	r.GET("/metrics", gin.WrapH(handler))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
