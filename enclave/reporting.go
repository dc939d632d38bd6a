package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cloudx-io/opensale/core"
	"github.com/cloudx-io/opensale/saleapi"
)

// RegisterRoutes registers the read-only reporting routes.
func (s *SaleServer) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/livez", s.handleLivez)
	r.Get("/sale", s.handleSale)
	r.Get("/buckets/{index}", s.handleBucket)
	r.Get("/buckets/{index}/bids", s.handleBucketBids)
	r.Get("/buckets/{index}/valuation", s.handleValuation)
	r.Get("/buckets/{index}/receipt", s.handleReceipt)
	r.Get("/bids/{id}", s.handleBid)
	r.Get("/bidders/{bidder}", s.handleBidder)
}

// StartReporting serves the reporting routes on addr until ctx is done.
func (s *SaleServer) StartReporting(ctx context.Context, addr string) {
	r := chi.NewRouter()
	s.RegisterRoutes(r)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("INFO: Reporting server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("ERROR: Reporting server failed: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("ERROR: Reporting server shutdown: %v", err)
		}
	}()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ERROR: Failed to encode response: %v", err)
	}
}

// writeError maps engine errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrInvalidState):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrNotFinalized):
		status = http.StatusConflict
	}
	http.Error(w, err.Error(), status)
}

func bucketParam(r *http.Request) (core.BucketIndex, error) {
	index, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 64)
	return core.BucketIndex(index), err
}

func (s *SaleServer) handleLivez(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *SaleServer) handleSale(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.saleView())
}

func (s *SaleServer) handleBucket(w http.ResponseWriter, r *http.Request) {
	index, err := bucketParam(r)
	if err != nil {
		http.Error(w, "Invalid bucket index", http.StatusBadRequest)
		return
	}
	view, err := s.bucketView(index)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, view)
}

func (s *SaleServer) handleBucketBids(w http.ResponseWriter, r *http.Request) {
	index, err := bucketParam(r)
	if err != nil {
		http.Error(w, "Invalid bucket index", http.StatusBadRequest)
		return
	}
	views, err := s.chainViews(index)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, views)
}

func (s *SaleServer) handleValuation(w http.ResponseWriter, r *http.Request) {
	index, err := bucketParam(r)
	if err != nil {
		http.Error(w, "Invalid bucket index", http.StatusBadRequest)
		return
	}
	result, err := s.sale.ValuationAndCutoff(index)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, saleapi.NewValuationView(index, &result, s.units()))
}

func (s *SaleServer) handleReceipt(w http.ResponseWriter, r *http.Request) {
	index, err := bucketParam(r)
	if err != nil {
		http.Error(w, "Invalid bucket index", http.StatusBadRequest)
		return
	}
	receipt, err := s.receipt(index)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"bucket":              uint64(index),
		"receipt_cose_base64": receipt.EncodeBase64(),
	})
}

func (s *SaleServer) handleBid(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid bid ID", http.StatusBadRequest)
		return
	}
	view, err := s.bidView(core.BidID(id))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, view)
}

func (s *SaleServer) handleBidder(w http.ResponseWriter, r *http.Request) {
	view, err := s.bidderView(chi.URLParam(r, "bidder"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, view)
}
