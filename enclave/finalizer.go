package main

import (
	"context"
	"log"
	"time"

	"github.com/cloudx-io/opensale/saleapi"
)

// StartAutoFinalizer finalizes closed buckets in turn, maxSteps bids per tick,
// until every bucket is finalized or ctx is done.
func (s *SaleServer) StartAutoFinalizer(ctx context.Context, interval time.Duration, maxSteps int) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if s.finalizeTick(maxSteps) {
					log.Printf("INFO: Every bucket is finalized, auto finalizer stopping")
					return
				}
			}
		}
	}()
}

// finalizeTick advances finalization of the bucket whose turn it is, if its
// window has closed. It reports whether the whole sale is finalized.
func (s *SaleServer) finalizeTick(maxSteps int) bool {
	cfg := s.sale.Config()
	turn := s.sale.FinalizationTurn()
	if uint64(turn-cfg.BaseIndex) >= cfg.NumberOfBuckets {
		return true
	}
	if !s.schedule.IsWindowClosed(turn) {
		return false
	}

	var resp saleapi.FinalizeResponse
	s.mutate(func() {
		resp = s.ProcessFinalize(saleapi.FinalizeRequest{
			Type:     saleapi.TypeFinalize,
			Bucket:   uint64(turn),
			MaxSteps: maxSteps,
		})
	})
	if !resp.Success {
		log.Printf("ERROR: Auto finalization of bucket %d failed: %s", turn, resp.Message)
	}
	return false
}
