package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/mdlayher/vsock"

	"github.com/cloudx-io/opensale/core"
	"github.com/cloudx-io/opensale/custody"
	"github.com/cloudx-io/opensale/saleapi"
	"github.com/cloudx-io/opensale/schedule"
	"github.com/cloudx-io/opensale/snapshot"
	"github.com/cloudx-io/opensale/whitelist"
)

// SaleServer serves one sale over vsock (or TCP outside an enclave).
type SaleServer struct {
	cfg      Config
	sale     *core.Sale
	books    *custody.Books
	schedule *schedule.Schedule
	// whitelist is nil when every bidder is admitted.
	whitelist  *whitelist.Level
	keyManager *KeyManager
	receipts   *ReceiptStore
	attester   func() (EnclaveAttester, error)

	// mutateMu serialises state changes with the snapshot taken after them.
	mutateMu sync.Mutex
}

// NewSaleServer builds the sale described by cfg and restores the snapshot at
// cfg.Snapshot.Path when there is one.
func NewSaleServer(cfg Config) (*SaleServer, error) {
	tokens, err := cfg.TokensForSale()
	if err != nil {
		return nil, fmt.Errorf("tokens for sale: %w", err)
	}
	sched, err := schedule.New(cfg.Sale.StartTime, cfg.Sale.BucketDuration, cfg.Sale.NumberOfBuckets, core.BucketIndex(cfg.Sale.BaseIndex))
	if err != nil {
		return nil, fmt.Errorf("schedule: %w", err)
	}

	s := &SaleServer{
		cfg:      cfg,
		books:    custody.NewBooks(cfg.Sale.Beneficiary, tokens),
		schedule: sched,
		receipts: NewReceiptStore(),
		attester: getEnclaveAttester,
	}

	deps := core.Collaborators{Custody: s.books, Tokens: s.books, Clock: sched}
	if cfg.Whitelist.Enabled {
		maxBase, err := cfg.MaxBaseContribution()
		if err != nil {
			return nil, fmt.Errorf("max base contribution: %w", err)
		}
		s.whitelist = whitelist.New(maxBase)
		s.whitelist.AddBase(cfg.Whitelist.Base...)
		s.whitelist.AddReinforced(cfg.Whitelist.Reinforced...)
		deps.Admission = s.whitelist
	}

	saleCfg := core.Config{
		BaseIndex:       core.BucketIndex(cfg.Sale.BaseIndex),
		NumberOfBuckets: cfg.Sale.NumberOfBuckets,
	}
	saleCfg.TokensForSale.Set(tokens)
	s.sale, err = core.NewSale(saleCfg, deps)
	if err != nil {
		return nil, fmt.Errorf("sale: %w", err)
	}
	if s.whitelist != nil {
		s.whitelist.Attach(s.sale.Contributions())
	}

	s.keyManager, err = NewKeyManager()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize key manager: %w", err)
	}
	log.Printf("INFO: KeyManager initialized")

	if err := s.restore(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SaleServer) restore() error {
	if s.cfg.Snapshot.Path == "" {
		return nil
	}
	saved, err := snapshot.Load(s.cfg.Snapshot.Path)
	if errors.Is(err, snapshot.ErrNoSnapshot) {
		log.Printf("INFO: No snapshot at %s, starting a fresh sale", s.cfg.Snapshot.Path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if err := s.sale.Restore(saved.Sale); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	s.books.Restore(saved.Books)
	log.Printf("INFO: Restored snapshot saved at %s: %d bids, finalization turn %d",
		saved.SavedAt.Format(time.RFC3339), len(saved.Sale.Bids), saved.Sale.Turn)
	return nil
}

// persist saves a snapshot. Callers hold mutateMu.
func (s *SaleServer) persist() {
	if s.cfg.Snapshot.Path == "" {
		return
	}
	err := snapshot.Save(s.cfg.Snapshot.Path, &snapshot.Snapshot{
		SavedAt: time.Now(),
		Sale:    s.sale.Snapshot(),
		Books:   s.books.Balances(),
	})
	if err != nil {
		log.Printf("ERROR: Failed to save snapshot: %v", err)
	}
}

// mutate runs fn and persists the result as one step.
func (s *SaleServer) mutate(fn func()) {
	s.mutateMu.Lock()
	defer s.mutateMu.Unlock()
	fn()
	s.persist()
}

func (s *SaleServer) listen() (net.Listener, error) {
	switch s.cfg.Server.Listener {
	case "tcp":
		listener, err := net.Listen("tcp", s.cfg.Server.TCPAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to create tcp listener: %w", err)
		}
		log.Printf("INFO: Sale server listening on tcp %s", listener.Addr())
		return listener, nil
	default:
		listener, err := vsock.Listen(s.cfg.Server.VsockPort, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create vsock listener: %w", err)
		}
		log.Printf("INFO: Sale server listening on vsock port %d", s.cfg.Server.VsockPort)
		return listener, nil
	}
}

// Start accepts connections until the listener fails.
func (s *SaleServer) Start() error {
	listener, err := s.listen()
	if err != nil {
		return err
	}
	defer func() {
		if err := listener.Close(); err != nil {
			log.Printf("ERROR: Failed to close listener: %v", err)
		}
	}()
	return s.serve(listener)
}

func (s *SaleServer) serve(listener net.Listener) error {
	maxWorkers := s.cfg.Server.MaxWorkers
	semaphore := make(chan struct{}, maxWorkers)
	log.Printf("INFO: Worker pool initialized with %d max concurrent workers", maxWorkers)

	for {
		conn, err := listener.Accept()
		if errors.Is(err, net.ErrClosed) {
			return err
		}
		if err != nil {
			log.Printf("ERROR: Failed to accept connection: %v", err)
			continue
		}

		// Acquire worker slot - immediate rejection if pool full
		select {
		case semaphore <- struct{}{}:
			go func(c net.Conn) {
				defer func() { <-semaphore }()
				s.handleConnection(c)
			}(conn)
		default:
			log.Printf("INFO: No workers available, rejecting connection (pool full)")
			if err := conn.Close(); err != nil {
				log.Printf("ERROR: Failed to close rejected connection: %v", err)
			}
		}
	}
}

// handleConnection reads one request until the client closes its write side
// and answers with one JSON response.
func (s *SaleServer) handleConnection(conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: Panic recovered in handleConnection: %v", r)
		}
		if err := conn.Close(); err != nil {
			log.Printf("ERROR: Failed to close connection: %v", err)
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.Server.ReadTimeout))

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, conn); err != nil {
		log.Printf("ERROR: Failed to read request: %v", err)
		return
	}

	reqType, response := s.handleRequest(buf.Bytes())

	if err := json.NewEncoder(conn).Encode(response); err != nil {
		log.Printf("ERROR: Failed to encode response: %v", err)
	} else {
		log.Printf("INFO: Successfully sent response for %s", reqType)
	}
}

func errorResponse(format string, args ...any) saleapi.Result {
	return saleapi.Result{
		Type:      saleapi.TypeError,
		Message:   fmt.Sprintf(format, args...),
		ErrorKind: saleapi.ErrorKindBadRequest,
	}
}

// decodeRequest decodes data into req, or returns the error response to send.
func decodeRequest[T any](data []byte, req *T) (any, bool) {
	if err := json.Unmarshal(data, req); err != nil {
		log.Printf("ERROR: Failed to decode request: %v", err)
		return errorResponse("Failed to decode request: %v", err), false
	}
	return nil, true
}

// handleRequest dispatches on the request's type field.
func (s *SaleServer) handleRequest(data []byte) (string, any) {
	var baseReq struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &baseReq); err != nil {
		log.Printf("ERROR: Failed to decode base request: %v", err)
		return "", errorResponse("Failed to decode request: %v", err)
	}

	log.Printf("INFO: Received request type: %s", baseReq.Type)

	switch baseReq.Type {
	case saleapi.TypePing:
		return baseReq.Type, map[string]any{
			"type":      saleapi.TypePong,
			"message":   "Sale server is healthy",
			"timestamp": time.Now().Unix(),
		}

	case saleapi.TypeKey:
		attester, err := s.attester()
		if err != nil {
			log.Printf("ERROR: Key request failed: %v", err)
			return baseReq.Type, saleapi.Result{
				Type:      saleapi.TypeError,
				Message:   fmt.Sprintf("Failed to initialize TEE attester: %v", err),
				ErrorKind: "internal",
			}
		}
		keyResp, err := HandleKeyRequest(attester, s.keyManager, s.cfg.Sale.ID)
		if err != nil {
			log.Printf("ERROR: Key request failed: %v", err)
			return baseReq.Type, saleapi.Result{
				Type:      saleapi.TypeError,
				Message:   fmt.Sprintf("Key request failed: %v", err),
				ErrorKind: "internal",
			}
		}
		log.Printf("INFO: Key request processed successfully")
		return baseReq.Type, keyResp

	case saleapi.TypeBid:
		var req saleapi.BidRequest
		if resp, ok := decodeRequest(data, &req); !ok {
			return baseReq.Type, resp
		}
		var resp saleapi.BidResponse
		s.mutate(func() { resp = s.ProcessBid(req) })
		return baseReq.Type, resp

	case saleapi.TypeSearch:
		var req saleapi.SearchRequest
		if resp, ok := decodeRequest(data, &req); !ok {
			return baseReq.Type, resp
		}
		return baseReq.Type, s.ProcessSearch(req)

	case saleapi.TypeFinalize:
		var req saleapi.FinalizeRequest
		if resp, ok := decodeRequest(data, &req); !ok {
			return baseReq.Type, resp
		}
		var resp saleapi.FinalizeResponse
		s.mutate(func() { resp = s.ProcessFinalize(req) })
		return baseReq.Type, resp

	case saleapi.TypeRedeem:
		var req saleapi.RedeemRequest
		if resp, ok := decodeRequest(data, &req); !ok {
			return baseReq.Type, resp
		}
		var resp saleapi.RedeemResponse
		s.mutate(func() { resp = s.ProcessRedeem(req) })
		return baseReq.Type, resp

	case saleapi.TypeBucket:
		var req saleapi.BucketRequest
		if resp, ok := decodeRequest(data, &req); !ok {
			return baseReq.Type, resp
		}
		return baseReq.Type, s.ProcessBucket(req)

	case saleapi.TypeBidInfo:
		var req saleapi.BidInfoRequest
		if resp, ok := decodeRequest(data, &req); !ok {
			return baseReq.Type, resp
		}
		return baseReq.Type, s.ProcessBidInfo(req)

	case saleapi.TypeValuation:
		var req saleapi.ValuationRequest
		if resp, ok := decodeRequest(data, &req); !ok {
			return baseReq.Type, resp
		}
		return baseReq.Type, s.ProcessValuation(req)

	default:
		return baseReq.Type, errorResponse("Unknown request type: %s", baseReq.Type)
	}
}

func loadConfig(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return cfg, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func main() {
	configPath := flag.String("config", "", "Path to sale config YAML")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}

	server, err := NewSaleServer(cfg)
	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}

	ctx := context.Background()
	if cfg.Reporting.Enabled {
		server.StartReporting(ctx, cfg.Reporting.Addr)
	}
	if cfg.Finalizer.Enabled {
		server.StartAutoFinalizer(ctx, cfg.Finalizer.Interval, cfg.Finalizer.MaxSteps)
		log.Printf("INFO: Auto finalizer started (interval: %s, max steps: %d)", cfg.Finalizer.Interval, cfg.Finalizer.MaxSteps)
	}

	log.Fatal(server.Start())
}
