package web

import (
	"context"
	"fmt"
	"net/http"

	"github.com/vitos/grid_ledger/internal/domain"
	"github.com/vitos/grid_ledger/internal/infrastructure/metrics"
	"github.com/vitos/grid_ledger/internal/usecase"
	"go.uber.org/zap"
)

// PriceSimulator is implemented by the simulated gateway.
type PriceSimulator interface {
	SetPrice(price float64) error
	Price() float64
	Cash() float64
}

type Options struct {
	// LogFile is tailed by /api/logs; empty disables the endpoint's content.
	LogFile   string
	TailLines int
	// Simulator enables /api/sim/price. Nil for a live broker.
	Simulator PriceSimulator
}

type Server struct {
	router   *http.ServeMux
	server   *http.Server
	service  *usecase.GridService
	lots     domain.LotRepository
	orders   domain.OrderRepository
	controls *usecase.Controls
	opts     Options
	logger   *zap.Logger
}

func NewServer(
	port int,
	service *usecase.GridService,
	store domain.LedgerStore,
	controls *usecase.Controls,
	opts Options,
	logger *zap.Logger,
) *Server {
	if opts.TailLines <= 0 {
		opts.TailLines = 200
	}
	s := &Server{
		router:   http.NewServeMux(),
		service:  service,
		lots:     store,
		orders:   store,
		controls: controls,
		opts:     opts,
		logger:   logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Dashboard
	s.router.HandleFunc("GET /{$}", s.handleDashboard)

	// Read-only views
	s.router.HandleFunc("GET /api/status", s.handleStatus)
	s.router.HandleFunc("GET /api/levels", s.handleLevels)
	s.router.HandleFunc("GET /api/orders", s.handleOrders)
	s.router.HandleFunc("GET /api/logs", s.handleLogs)

	// Operator controls
	s.router.HandleFunc("POST /api/pause", s.handlePause)
	s.router.HandleFunc("POST /api/resume", s.handleResume)
	s.router.HandleFunc("POST /api/wipe", s.handleWipe)

	if s.opts.Simulator != nil {
		s.router.HandleFunc("POST /api/sim/price", s.handleSimPrice)
	}

	s.router.Handle("GET /metrics", metrics.Handler())
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
