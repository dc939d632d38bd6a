package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/veraison/go-cose"

	"github.com/cloudx-io/opensale/saleapi"
)

// KeyManager manages the enclave's receipt signing key. The key is generated at
// startup and never leaves the enclave.
type KeyManager struct {
	privateKey *ecdsa.PrivateKey // Keep private - sensitive!
	PublicKey  *ecdsa.PublicKey
	signer     cose.Signer
}

// NewKeyManager creates a new KeyManager and generates a fresh P-256 key pair
func NewKeyManager() (*KeyManager, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	signer, err := cose.NewSigner(cose.AlgorithmES256, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}

	return &KeyManager{
		privateKey: privateKey,
		PublicKey:  &privateKey.PublicKey,
		signer:     signer,
	}, nil
}

// PublicKeyPEM returns the public key in PEM format
func (km *KeyManager) PublicKeyPEM() (string, error) {
	derBytes, err := x509.MarshalPKIXPublicKey(km.PublicKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}

	pemBlock := &pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: derBytes,
	}
	return string(pem.EncodeToMemory(pemBlock)), nil
}

// SignReceipt wraps a receipt in a tagged COSE_Sign1 envelope.
func (km *KeyManager) SignReceipt(receipt *saleapi.FinalizationReceipt) (saleapi.ReceiptCOSE, error) {
	payload, err := saleapi.EncodeReceipt(receipt)
	if err != nil {
		return nil, err
	}

	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(cose.AlgorithmES256)
	msg.Payload = payload
	if err := msg.Sign(rand.Reader, nil, km.signer); err != nil {
		return nil, fmt.Errorf("failed to sign receipt: %w", err)
	}

	raw, err := msg.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("failed to encode receipt envelope: %w", err)
	}
	return saleapi.ReceiptCOSE(raw), nil
}

// HandleKeyRequest returns the receipt verification key with its attestation
func HandleKeyRequest(attester EnclaveAttester, keyManager *KeyManager, saleID string) (*saleapi.KeyResponse, error) {
	publicKeyPEM, err := keyManager.PublicKeyPEM()
	if err != nil {
		return nil, fmt.Errorf("failed to export public key: %w", err)
	}

	attestationCOSE, err := GenerateKeyAttestation(attester, publicKeyPEM, saleID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key attestation: %w", err)
	}

	return &saleapi.KeyResponse{
		Type:                  saleapi.TypeKeyResponse,
		PublicKey:             publicKeyPEM,
		SaleID:                saleID,
		AttestationCOSEBase64: attestationCOSE.EncodeBase64(),
	}, nil
}
