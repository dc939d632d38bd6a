package validation

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/holiman/uint256"
	"github.com/peterldowns/testy/assert"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/opensale/core"
	"github.com/cloudx-io/opensale/saleapi"
)

type stepClock struct{ open core.BucketIndex }

func (c *stepClock) CurrentBucketIndex() (core.BucketIndex, bool) { return c.open, true }
func (c *stepClock) IsWindowClosed(index core.BucketIndex) bool { return index < c.open }

type nopPayouts struct{}

func (nopPayouts) Refund(string, *uint256.Int) error { return nil }
func (nopPayouts) PayBeneficiary(*uint256.Int) error { return nil }
func (nopPayouts) Credit(string, *uint256.Int) error { return nil }

// finalizedReceipt finalizes a bucket holding an uncapped bid of 10, a bid of
// 10 capped at 15 and a bid of 4 capped at 12, and returns its receipt.
func finalizedReceipt(t *testing.T) *saleapi.FinalizationReceipt {
	t.Helper()
	clock := &stepClock{}
	cfg := core.Config{NumberOfBuckets: 1}
	cfg.TokensForSale.SetUint64(1500)
	sale, err := core.NewSale(cfg, core.Collaborators{Custody: nopPayouts{}, Tokens: nopPayouts{}, Clock: clock})
	assert.NoError(t, err)

	_, err = sale.SendUncapped(0, "bidder_a", uint256.NewInt(10))
	assert.NoError(t, err)
	_, err = sale.SearchAndInsert(0, "bidder_b", uint256.NewInt(10), uint256.NewInt(15))
	assert.NoError(t, err)
	_, err = sale.SearchAndInsert(0, "bidder_c", uint256.NewInt(4), uint256.NewInt(12))
	assert.NoError(t, err)

	clock.open = 1
	_, done, err := sale.Finalize(0, 10)
	assert.NoError(t, err)
	assert.True(t, done)

	bucket, err := sale.Bucket(0)
	assert.NoError(t, err)
	chain, err := sale.Chain(0)
	assert.NoError(t, err)
	receipt, err := saleapi.NewFinalizationReceipt("receipt-1", "sale-1", &bucket, chain, time.Now())
	assert.NoError(t, err)
	return receipt
}

type receiptKey struct {
	private *ecdsa.PrivateKey
	pem     string
}

func newReceiptKey(t *testing.T) *receiptKey {
	t.Helper()
	private, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	assert.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&private.PublicKey)
	assert.NoError(t, err)
	return &receiptKey{
		private: private,
		pem:     string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})),
	}
}

func (k *receiptKey) sign(t *testing.T, receipt *saleapi.FinalizationReceipt) saleapi.ReceiptCOSEBase64 {
	t.Helper()
	payload, err := saleapi.EncodeReceipt(receipt)
	assert.NoError(t, err)
	signer, err := cose.NewSigner(cose.AlgorithmES256, k.private)
	assert.NoError(t, err)

	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(cose.AlgorithmES256)
	msg.Payload = payload
	assert.NoError(t, msg.Sign(rand.Reader, nil, signer))
	raw, err := msg.MarshalCBOR()
	assert.NoError(t, err)
	return saleapi.ReceiptCOSE(raw).EncodeBase64()
}

// mockAttestation builds an untagged COSE_Sign1 attestation in the Nitro
// layout, signed with ES384 by a self-signed certificate. The PCRs are all
// zero, as in debug mode.
func mockAttestation(t *testing.T, userData any) saleapi.AttestationCOSEBase64 {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	assert.NoError(t, err)

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "i-0123456789abcdef0-enc0123456789abcdef.us-east-1.aws"},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(time.Hour),
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	assert.NoError(t, err)

	userDataJSON, err := json.Marshal(userData)
	assert.NoError(t, err)
	zero := make([]byte, 48)
	doc, err := cbor.Marshal(map[string]any{
		"module_id":   "i-0123456789abcdef0-enc0123456789abcdef",
		"digest":      "SHA384",
		"timestamp":   uint64(now.UnixMilli()),
		"pcrs":        map[uint64][]byte{0: zero, 1: zero, 2: zero},
		"certificate": certDER,
		"cabundle":    [][]byte{certDER},
		"user_data":   userDataJSON,
	})
	assert.NoError(t, err)

	protected, err := cbor.Marshal(map[int]int{1: -35})
	assert.NoError(t, err)
	sigStructure, err := cbor.Marshal([]any{"Signature1", protected, []byte{}, doc})
	assert.NoError(t, err)
	signer, err := cose.NewSigner(cose.AlgorithmES384, key)
	assert.NoError(t, err)
	signature, err := signer.Sign(rand.Reader, sigStructure)
	assert.NoError(t, err)

	raw, err := cbor.Marshal([]any{protected, map[any]any{}, doc, signature})
	assert.NoError(t, err)
	return saleapi.AttestationCOSE(raw).EncodeBase64()
}
