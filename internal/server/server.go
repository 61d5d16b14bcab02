package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"sjsage522/pricewatch/internal/product"
	"sjsage522/pricewatch/internal/report"
	"sjsage522/pricewatch/logger"
	"sjsage522/pricewatch/services/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const chartPrefix = "/products/"

// Server is the read-only dashboard over the price store
type Server struct {
	store    store.PriceStore
	reporter *report.Reporter
	products []product.Product
	byID     map[string]product.Product
	byChart  map[string]product.Product
	log      *logger.Logger
}

// New builds the dashboard router
func New(s store.PriceStore, reporter *report.Reporter, products []product.Product, log *logger.Logger) http.Handler {
	srv := &Server{
		store:    s,
		reporter: reporter,
		products: products,
		byID:     make(map[string]product.Product, len(products)),
		byChart:  make(map[string]product.Product, len(products)),
		log:      log,
	}
	for _, p := range products {
		srv.byID[p.ID] = p
		srv.byChart[report.ChartFile(p.ID)] = p
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(srv.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", srv.health)
	r.Get("/", srv.index)
	r.Get(chartPrefix+"{chart}", srv.chart)

	r.Route("/api", func(r chi.Router) {
		r.Get("/products", srv.listProducts)
		r.Get("/products/{productID}/history", srv.history)
	})

	return r
}

// Serve runs handler on addr until ctx is cancelled
func Serve(ctx context.Context, addr string, handler http.Handler, log *logger.Logger) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("dashboard listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info().Msg("shutting down dashboard")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}
