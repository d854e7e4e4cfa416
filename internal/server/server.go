// Package server wires the gateway together: registries, collaborators,
// middleware, handlers, transport and the HTTP listener.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/bulltrade/gateway/internal/alerts"
	"github.com/bulltrade/gateway/internal/collab"
	"github.com/bulltrade/gateway/internal/config"
	"github.com/bulltrade/gateway/internal/dispatch"
	"github.com/bulltrade/gateway/internal/domain"
	"github.com/bulltrade/gateway/internal/handlers"
	"github.com/bulltrade/gateway/internal/history"
	"github.com/bulltrade/gateway/internal/idem"
	"github.com/bulltrade/gateway/internal/market"
	"github.com/bulltrade/gateway/internal/metrics"
	"github.com/bulltrade/gateway/internal/middleware"
	"github.com/bulltrade/gateway/internal/orderlog"
	"github.com/bulltrade/gateway/internal/risk"
	"github.com/bulltrade/gateway/internal/room"
	"github.com/bulltrade/gateway/internal/session"
	"github.com/bulltrade/gateway/internal/transport"
)

var logger = log.New(log.Writer(), "[SERVER] ", log.LstdFlags)

// Server is the assembled gateway.
type Server struct {
	cfg *config.Config

	collector *metrics.Collector
	sessions  *session.Registry
	rooms     *room.Registry
	simulator *market.Simulator
	engine    *alerts.Engine
	cache     idem.Cache
	orders    closerOrderLog
	httpSrv   *http.Server
}

type closerOrderLog interface {
	Close() error
}

type noopCloser struct{}

func (noopCloser) Close() error { return nil }

// New builds the full object graph from configuration.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	collector := metrics.NewCollector()
	rooms := room.NewRegistry()
	simulator := market.NewSimulator(rooms)
	engine := alerts.NewEngine(collector, rooms)

	sessions := session.NewRegistry(cfg.Session.Secret, cfg.Session.SuspendTTL(), func(s *session.Session) {
		rooms.LeaveAll(s)
	})

	cache, err := buildIdemCache(ctx, cfg.Idempotency)
	if err != nil {
		return nil, err
	}

	orders, ordersCloser, err := buildOrderLog(ctx, cfg.OrderLog)
	if err != nil {
		return nil, err
	}

	store := history.NewStore(simulator)
	accounts := risk.NewMemoryAccounts()

	router := dispatch.NewRouter()
	router.Use(
		middleware.Trace(collector, engine),
		middleware.AuthGate(handlers.OpenMethods()),
		middleware.RateLimit(map[string]rate.Limit{
			handlers.MethodOrdersPlace: rate.Every(time.Second),
		}),
	)
	handlers.Register(router, handlers.Deps{
		Sessions:  sessions,
		Rooms:     rooms,
		Simulator: simulator,
		History:   collab.NewHistory(store),
		Orders:    collab.NewOrderLog(orders),
		Idem:      cache,
		Risk:      risk.NewValidator(),
		Accounts:  accounts,
		Collector: collector,
		Alerts:    engine,
	})

	ws := transport.New(sessions, rooms, router, collector)

	r := mux.NewRouter()
	r.HandleFunc("/ws", ws.HandleWebSocket)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{}))

	addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	return &Server{
		cfg:       cfg,
		collector: collector,
		sessions:  sessions,
		rooms:     rooms,
		simulator: simulator,
		engine:    engine,
		cache:     cache,
		orders:    ordersCloser,
		httpSrv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func buildIdemCache(ctx context.Context, cfg config.IdempotencyConfig) (idem.Cache, error) {
	switch cfg.Backend {
	case "", "memory":
		return idem.NewMemoryCache(cfg.TTL()), nil
	case "redis":
		return idem.NewRedisCache(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.TTL())
	default:
		return nil, fmt.Errorf("server: unknown idempotency backend %q", cfg.Backend)
	}
}

func buildOrderLog(ctx context.Context, cfg config.OrderLogConfig) (domain.OrderLog, closerOrderLog, error) {
	switch cfg.Backend {
	case "", "memory":
		return orderlog.NewMemory(), noopCloser{}, nil
	case "postgres":
		pg, err := orderlog.NewPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg, nil
	default:
		return nil, nil, fmt.Errorf("server: unknown orderlog backend %q", cfg.Backend)
	}
}

// Run starts the simulator, the alert evaluation loop and the HTTP listener,
// then blocks until the context is cancelled and everything has shut down.
func (s *Server) Run(ctx context.Context) error {
	s.simulator.Start(s.cfg.Market.TickInterval())
	defer s.simulator.Stop()

	evalDone := make(chan struct{})
	go s.evaluateLoop(ctx, evalDone)

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http shutdown: %v", err)
	}

	<-evalDone
	s.sessions.Shutdown()
	s.cache.Close()
	s.orders.Close()
	return nil
}

func (s *Server) evaluateLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.Alerts.EvaluateInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.engine.EvaluateAndBroadcast()
		}
	}
}
