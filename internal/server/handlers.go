package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"sjsage522/pricewatch/internal/product"
	"sjsage522/pricewatch/internal/report"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// ProductResponse is one entry of the product list
type ProductResponse struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Site   string            `json:"site"`
	URL    string            `json:"url"`
	Chart  string            `json:"chart"`
	Latest *LatestPrice      `json:"latest,omitempty"`
	Bounds map[string]string `json:"bounds,omitempty"`
}

// LatestPrice is the most recent observation of a product
type LatestPrice struct {
	Price      decimal.Decimal `json:"price"`
	ObservedAt time.Time       `json:"observed_at"`
}

// HistoryResponse is the ordered history of one product
type HistoryResponse struct {
	ProductID    string                `json:"product_id"`
	Observations []product.Observation `json:"observations"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	tracked, err := s.store.Products(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("store health check failed")
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error"})
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"configured": len(s.products),
		"stored":     len(tracked),
	})
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	resp := make([]ProductResponse, 0, len(s.products))
	for _, p := range s.products {
		item := ProductResponse{
			ID:    p.ID,
			Name:  p.DisplayName(),
			Site:  p.Site,
			URL:   p.URL,
			Chart: chartPrefix + report.ChartFile(p.ID),
		}
		if p.MinPrice != nil || p.MaxPrice != nil {
			item.Bounds = make(map[string]string)
			if p.MinPrice != nil {
				item.Bounds["min"] = p.MinPrice.String()
			}
			if p.MaxPrice != nil {
				item.Bounds["max"] = p.MaxPrice.String()
			}
		}

		latest, ok, err := s.store.Latest(r.Context(), p.ID)
		if err != nil {
			s.log.Error().Err(err).Str("product", p.ID).Msg("failed to read latest price")
			s.respondError(w, http.StatusInternalServerError, "failed to read price store")
			return
		}
		if ok {
			item.Latest = &LatestPrice{Price: latest.Price, ObservedAt: latest.ObservedAt}
		}
		resp = append(resp, item)
	}

	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	if _, ok := s.byID[productID]; !ok {
		s.respondError(w, http.StatusNotFound, "unknown product")
		return
	}

	resp := HistoryResponse{ProductID: productID, Observations: []product.Observation{}}
	for obs, err := range s.store.History(r.Context(), productID) {
		if err != nil {
			s.log.Error().Err(err).Str("product", productID).Msg("failed to read history")
			s.respondError(w, http.StatusInternalServerError, "failed to read price store")
			return
		}
		resp.Observations = append(resp.Observations, obs)
	}

	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) chart(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "chart")
	p, ok := s.byChart[name]
	if !ok {
		p, ok = s.byID[name]
	}
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := s.reporter.WriteChart(r.Context(), w, p)
	if errors.Is(err, report.ErrNoHistory) {
		http.Error(w, "no observations yet", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("product", p.ID).Msg("failed to render chart")
		http.Error(w, "failed to render chart", http.StatusInternalServerError)
	}
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.reporter.WriteIndex(r.Context(), w, s.products, chartPrefix); err != nil {
		s.log.Error().Err(err).Msg("failed to render index")
		http.Error(w, "failed to render index", http.StatusInternalServerError)
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
