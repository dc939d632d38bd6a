package main

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/assert"

	"github.com/cloudx-io/opensale/saleapi"
)

// MockEnclaveHandle implements the Attest method for testing
type MockEnclaveHandle struct {
	AttestFunc func(options enclave.AttestationOptions) ([]byte, error)
}

func (m *MockEnclaveHandle) Attest(options enclave.AttestationOptions) ([]byte, error) {
	if m.AttestFunc != nil {
		return m.AttestFunc(options)
	}
	return nil, fmt.Errorf("mock not configured")
}

// CreateMockEnclave returns a handle producing minimal Nitro-shaped attestations
// that carry the requested user data and nonce. They are not signed.
func CreateMockEnclave(t *testing.T) *MockEnclaveHandle {
	t.Helper()
	return &MockEnclaveHandle{
		AttestFunc: func(options enclave.AttestationOptions) ([]byte, error) {
			nestedDoc := map[string]any{
				"module_id": "test-enclave-12345",
				"digest":    "SHA384",
				"timestamp": uint64(1767225600000),
				"pcrs": map[uint64][]byte{
					0: make([]byte, 48),
					1: make([]byte, 48),
					2: make([]byte, 48),
				},
				"certificate": []byte("test-certificate-data"),
				"cabundle":    [][]byte{[]byte("test-ca-cert")},
				"public_key":  []byte("test-public-key-data"),
				"user_data":   options.UserData,
				"nonce":       options.Nonce,
			}
			nestedBytes, err := cbor.Marshal(nestedDoc)
			if err != nil {
				return nil, err
			}

			// AWS Nitro 4-element array format: [header, metadata, nested_doc, signature]
			return cbor.Marshal([]any{
				[]byte{0x01, 0x02, 0x03},
				map[string]any{},
				nestedBytes,
				[]byte{0x04, 0x05, 0x06},
			})
		},
	}
}

// parseKeyUserData decodes the user data of a mock key attestation
func parseKeyUserData(t *testing.T, att saleapi.AttestationCOSE) saleapi.KeyAttestationUserData {
	t.Helper()
	_, userDataBytes, err := att.ParseAttestationDoc()
	assert.NoError(t, err)
	var userData saleapi.KeyAttestationUserData
	assert.NoError(t, json.Unmarshal(userDataBytes, &userData))
	return userData
}

var saleStart = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// manualClock is the test time source of a server's schedule.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// openBucket moves the clock into the window of the bucket at offset k.
func (c *manualClock) openBucket(k int) {
	c.Set(saleStart.Add(time.Duration(k)*time.Hour + time.Minute))
}

// testConfig describes a two-bucket sale of 2000 tokens in whole units, one
// hour per bucket.
func testConfig() Config {
	cfg := Default()
	cfg.Sale.ID = "sale-1"
	cfg.Sale.Beneficiary = "beneficiary"
	cfg.Sale.NumberOfBuckets = 2
	cfg.Sale.BucketDuration = time.Hour
	cfg.Sale.StartTime = saleStart
	cfg.Sale.TokensForSale = "2000"
	cfg.Sale.TokenDecimals = 0
	cfg.Sale.CurrencyDecimals = 0
	cfg.Server.Listener = "tcp"
	cfg.Server.TCPAddr = "127.0.0.1:0"
	cfg.Finalizer.MaxSteps = 100
	return cfg
}

func newTestServer(t *testing.T, cfg Config) (*SaleServer, *manualClock) {
	t.Helper()
	server, err := NewSaleServer(cfg)
	assert.NoError(t, err)

	clock := &manualClock{}
	clock.openBucket(0)
	server.schedule.WithClock(clock.Now)

	mock := CreateMockEnclave(t)
	server.attester = func() (EnclaveAttester, error) { return mock, nil }
	return server, clock
}

func uint64Ptr(v uint64) *uint64 { return &v }

// placeBid sends a bid through the request dispatcher and requires it to succeed.
func placeBid(t *testing.T, s *SaleServer, bucket uint64, bidder, contribution, maxValuation string) saleapi.BidResponse {
	t.Helper()
	resp := roundTrip[saleapi.BidResponse](t, s, saleapi.BidRequest{
		Type:         saleapi.TypeBid,
		Bucket:       bucket,
		Bidder:       bidder,
		Contribution: contribution,
		MaxValuation: maxValuation,
	})
	assert.True(t, resp.Success)
	return resp
}

// roundTrip encodes req, dispatches it and decodes the response as T.
func roundTrip[T any](t *testing.T, s *SaleServer, req any) T {
	t.Helper()
	data, err := json.Marshal(req)
	assert.NoError(t, err)
	_, resp := s.handleRequest(data)
	encoded, err := json.Marshal(resp)
	assert.NoError(t, err)
	var out T
	assert.NoError(t, json.Unmarshal(encoded, &out))
	return out
}
