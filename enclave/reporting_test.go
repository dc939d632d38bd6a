package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/opensale/saleapi"
	"github.com/cloudx-io/opensale/validation"
)

func newTestRouter(s *SaleServer) chi.Router {
	r := chi.NewRouter()
	s.RegisterRoutes(r)
	return r
}

func get(t *testing.T, r http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	assert.Equal(t, http.StatusOK, rec.Code)
	var out T
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestReporting_Sale(t *testing.T) {
	s, clock := newTestServer(t, testConfig())
	r := newTestRouter(s)
	bidThree(t, s)

	check.Equal(t, http.StatusOK, get(t, r, "/livez").Code)

	view := decodeBody[saleapi.SaleView](t, get(t, r, "/sale"))
	check.Equal(t, "sale-1", view.SaleID)
	check.Equal(t, "beneficiary", view.Beneficiary)
	check.Equal(t, uint64(2), view.NumberOfBuckets)
	check.Equal(t, "1000", view.TokenAllotment)
	check.Equal(t, uint64(3), view.LastBidID)
	check.Equal(t, "24", view.Escrow)
	check.Equal(t, "2000", view.TokensRemaining)
	assert.NotNil(t, view.CurrentBucket)
	check.Equal(t, uint64(0), *view.CurrentBucket)

	clock.openBucket(2)
	after := decodeBody[saleapi.SaleView](t, get(t, r, "/sale"))
	check.Nil(t, after.CurrentBucket)
}

func TestReporting_Buckets(t *testing.T) {
	s, clock := newTestServer(t, testConfig())
	r := newTestRouter(s)
	bidThree(t, s)

	bucket := decodeBody[saleapi.BucketView](t, get(t, r, "/buckets/0"))
	check.Equal(t, "open", bucket.Phase)
	check.Equal(t, 3, bucket.BidCount)

	bids := decodeBody[[]saleapi.BidView](t, get(t, r, "/buckets/0/bids"))
	assert.Equal(t, 3, len(bids))
	check.Equal(t, "uncapped", bids[0].MaxValuation)
	check.Equal(t, "15", bids[1].MaxValuation)

	valuation := decodeBody[saleapi.ValuationView](t, get(t, r, "/buckets/0/valuation"))
	check.Equal(t, "15", valuation.Valuation)
	check.Equal(t, uint64(2), valuation.CutoffBidID)

	check.Equal(t, http.StatusConflict, get(t, r, "/buckets/0/receipt").Code)
	check.Equal(t, http.StatusNotFound, get(t, r, "/buckets/5").Code)
	check.Equal(t, http.StatusBadRequest, get(t, r, "/buckets/first").Code)

	clock.openBucket(1)
	finalized := roundTrip[saleapi.FinalizeResponse](t, s, saleapi.FinalizeRequest{Type: saleapi.TypeFinalize, Bucket: 0})
	assert.True(t, finalized.Done)

	receipt := decodeBody[struct {
		Bucket            uint64                    `json:"bucket"`
		ReceiptCOSEBase64 saleapi.ReceiptCOSEBase64 `json:"receipt_cose_base64"`
	}](t, get(t, r, "/buckets/0/receipt"))
	check.Equal(t, finalized.ReceiptCOSEBase64, receipt.ReceiptCOSEBase64)

	pemStr, err := s.keyManager.PublicKeyPEM()
	assert.NoError(t, err)
	result, err := validation.ValidateFinalizationReceipt(&validation.ReceiptValidationInput{
		ReceiptCOSEBase64: receipt.ReceiptCOSEBase64,
		PublicKey:         pemStr,
	})
	assert.NoError(t, err)
	check.True(t, result.IsValid())
}

func TestReporting_BidsAndBidders(t *testing.T) {
	cfg := testConfig()
	cfg.Whitelist.Enabled = true
	cfg.Whitelist.MaxBaseContribution = "100"
	cfg.Whitelist.Base = []string{"bidder_b", "bidder_c"}
	cfg.Whitelist.Reinforced = []string{"bidder_a"}
	s, clock := newTestServer(t, cfg)
	r := newTestRouter(s)
	bidThree(t, s)

	bid := decodeBody[saleapi.BidView](t, get(t, r, "/bids/2"))
	check.Equal(t, "bidder_b", bid.Bidder)
	check.Equal(t, "", bid.Refund)
	check.Equal(t, http.StatusNotFound, get(t, r, "/bids/42").Code)
	check.Equal(t, http.StatusBadRequest, get(t, r, "/bids/two").Code)

	clock.openBucket(1)
	roundTrip[saleapi.FinalizeResponse](t, s, saleapi.FinalizeRequest{Type: saleapi.TypeFinalize, Bucket: 0})
	roundTrip[saleapi.RedeemResponse](t, s, saleapi.RedeemRequest{Type: saleapi.TypeRedeem, Bidder: "bidder_b"})

	bidder := decodeBody[saleapi.BidderView](t, get(t, r, "/bidders/bidder_b"))
	check.Equal(t, "base", bidder.Tier)
	check.Equal(t, "10", bidder.TotalContribution)
	check.Equal(t, "5", bidder.Refunded)
	check.Equal(t, "333", bidder.Tokens)
	assert.Equal(t, 1, len(bidder.Bids))
	check.True(t, bidder.Bids[0].Redeemed)
	check.Equal(t, "partially_accepted", bidder.Bids[0].Status)

	stranger := decodeBody[saleapi.BidderView](t, get(t, r, "/bidders/nobody"))
	check.Equal(t, "", stranger.Tier)
	check.Equal(t, "0", stranger.TotalContribution)
	check.Equal(t, 0, len(stranger.Bids))
}
