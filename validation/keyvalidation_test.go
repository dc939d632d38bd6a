package validation

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/opensale/saleapi"
)

func keyUserData(publicKey string) saleapi.KeyAttestationUserData {
	return saleapi.KeyAttestationUserData{
		KeyAlgorithm: "ECDSA-P256",
		PublicKey:    publicKey,
		SaleID:       "sale-1",
	}
}

func TestValidateKeyAttestation(t *testing.T) {
	key := newReceiptKey(t)
	attestation := mockAttestation(t, keyUserData(key.pem))

	result, err := ValidateKeyAttestation(&KeyValidationInput{
		AttestationCOSEBase64: attestation,
		PublicKey:             key.pem + "\n",
		SaleID:                "sale-1",
	})
	assert.NoError(t, err)

	check.True(t, result.PCRsValid)
	check.True(t, result.SignatureValid)
	check.True(t, result.PublicKeyMatch)
	check.True(t, result.SaleIDMatch)
	// Self-signed, so not chained to the Nitro root.
	check.False(t, result.CertificateValid)
	check.False(t, result.IsValid())
}

func TestValidateKeyAttestation_Mismatches(t *testing.T) {
	key := newReceiptKey(t)
	attestation := mockAttestation(t, keyUserData(key.pem))

	result, err := ValidateKeyAttestation(&KeyValidationInput{
		AttestationCOSEBase64: attestation,
		PublicKey:             newReceiptKey(t).pem,
		SaleID:                "sale-2",
	})
	assert.NoError(t, err)
	check.False(t, result.PublicKeyMatch)
	check.False(t, result.SaleIDMatch)

	missing, err := ValidateKeyAttestation(&KeyValidationInput{
		AttestationCOSEBase64: mockAttestation(t, map[string]string{}),
		PublicKey:             key.pem,
	})
	assert.NoError(t, err)
	check.False(t, missing.PublicKeyMatch)
	check.True(t, missing.SaleIDMatch)
}

func TestValidateKeyAttestation_TamperedPayload(t *testing.T) {
	key := newReceiptKey(t)
	raw, err := mockAttestation(t, keyUserData(key.pem)).Decode()
	assert.NoError(t, err)

	// Flip a byte of the user data inside the signed payload.
	i := strings.LastIndex(string(raw), "sale-1")
	assert.True(t, i > 0)
	raw[i] = 'S'

	result, err := ValidateKeyAttestation(&KeyValidationInput{
		AttestationCOSEBase64: raw.EncodeBase64(),
		PublicKey:             key.pem,
	})
	assert.NoError(t, err)
	check.False(t, result.SignatureValid)
}

func TestValidateKeyAttestation_PCRConfig(t *testing.T) {
	key := newReceiptKey(t)
	attestation := mockAttestation(t, keyUserData(key.pem))
	dir := t.TempDir()

	other := filepath.Join(dir, "pcrs.json")
	assert.NoError(t, os.WriteFile(other, []byte(`{"pcr_sets":[{"pcr0":"aa","pcr1":"bb","pcr2":"cc","commit_hash":"abc123"}]}`), 0o600))
	result, err := ValidateKeyAttestation(&KeyValidationInput{
		AttestationCOSEBase64: attestation,
		PublicKey:             key.pem,
		PCRConfigPath:         other,
	})
	assert.NoError(t, err)
	check.False(t, result.PCRsValid)

	empty := filepath.Join(dir, "empty.json")
	assert.NoError(t, os.WriteFile(empty, []byte(`{"pcr_sets":[]}`), 0o600))
	_, err = ValidateKeyAttestation(&KeyValidationInput{
		AttestationCOSEBase64: attestation,
		PCRConfigPath:         empty,
	})
	check.Error(t, err)

	_, err = ValidateKeyAttestation(&KeyValidationInput{
		AttestationCOSEBase64: attestation,
		PCRConfigPath:         filepath.Join(dir, "missing.json"),
	})
	check.Error(t, err)
}

func TestValidatePCRs(t *testing.T) {
	known := []PCRSet{
		{PCR0: "a0", PCR1: "a1", PCR2: "a2", CommitHash: "first"},
		{PCR0: "b0", PCR1: "b1", PCR2: "b2", CommitHash: "second"},
	}

	ok, index := ValidatePCRs(saleapi.PCRs{ImageFileHash: "b0", KernelHash: "b1", ApplicationHash: "b2"}, known)
	check.True(t, ok)
	check.Equal(t, 1, index)

	ok, index = ValidatePCRs(saleapi.PCRs{ImageFileHash: "a0", KernelHash: "a1", ApplicationHash: "b2"}, known)
	check.False(t, ok)
	check.Equal(t, -1, index)
}
