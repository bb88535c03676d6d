// Package api exposes the HTTP control plane: create / list / start /
// stop / delete a strategy, and read its positions, holdings, account
// info, value curve and trade details. It is a thin gin layer over the
// store package — no business logic lives here beyond request shaping,
// the way SynapseStrike_teacher_ref/api/tactics.go's handlers are thin
// wrappers around s.store.Tactic().
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tradeengine/logger"
	"tradeengine/store"
)

// Launcher decouples the API from strategy-process orchestration: the
// cmd/tradeengine entrypoint implements it, wiring a fresh gateway and
// supervised coordinator goroutine per strategy. The API only needs to
// ask for a strategy to start or stop; it never constructs a gateway.
type Launcher interface {
	// Launch starts (or resumes) a strategy's supervised decision-cycle
	// loop. Idempotent: calling it on an already-running strategy is a
	// no-op.
	Launch(strategyID string) error
	// Stop signals a running strategy's loop to exit after its current
	// cycle; the loop itself flips status to STOPPED once it unwinds.
	Stop(strategyID string) error
}

// Server wires the store and the launcher behind authenticated gin
// routes.
type Server struct {
	store    *store.Store
	launcher Launcher
	jwt      *jwtAuthenticator
	router   *gin.Engine
	log      logger.Logger
}

// NewServer builds a Server. jwtSecret authenticates every route under
// /api — empty secret disables auth (local/dev only), mirroring how the
// paper execution gateway needs no credentials.
func NewServer(st *store.Store, launcher Launcher, jwtSecret string) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		store:    st,
		launcher: launcher,
		jwt:      newJWTAuthenticator(jwtSecret),
		router:   gin.New(),
		log:      logger.With("component", "api"),
	}
	s.router.Use(gin.Recovery(), s.requestLogger())
	s.registerRoutes()
	return s
}

// Router exposes the underlying gin engine, e.g. for httptest.
func (s *Server) Router() *gin.Engine { return s.router }

// Run starts the HTTP server and blocks until ctx is cancelled or the
// listener errors.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Infof("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func (s *Server) registerRoutes() {
	v1 := s.router.Group("/api/v1")
	v1.Use(s.jwt.middleware())

	v1.POST("/strategies", s.handleCreateStrategy)
	v1.GET("/strategies", s.handleListStrategies)
	v1.GET("/strategies/:id", s.handleGetStrategy)
	v1.DELETE("/strategies/:id", s.handleDeleteStrategy)
	v1.POST("/strategies/:id/start", s.handleStartStrategy)
	v1.POST("/strategies/:id/stop", s.handleStopStrategy)
	v1.GET("/strategies/:id/positions", s.handleGetPositions)
	v1.GET("/strategies/:id/holdings", s.handleGetPositions)
	v1.GET("/strategies/:id/account_info", s.handleGetAccountInfo)
	v1.GET("/strategies/:id/holding_price_curve", s.handleGetValueCurve)
	v1.GET("/strategies/:id/details", s.handleGetTradeDetails)
}
