package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudx-io/opensale/saleapi"
)

// KeyValidationInput contains all inputs needed for key attestation validation
type KeyValidationInput struct {
	AttestationCOSEBase64 saleapi.AttestationCOSEBase64 // From KeyResponse.AttestationCOSEBase64
	PublicKey             string                        // PEM-encoded receipt verification key
	SaleID                string                        // Empty skips the sale ID check
	PCRConfigPath         string                        // Empty uses DefaultPCRConfigPath
}

// ValidateKeyAttestation validates the attestation of the receipt signing key
//
// Returns:
//   - KeyValidationResult with detailed results (call result.IsValid() to check overall status)
//   - error if validation cannot be performed (e.g., malformed input, missing config)
func ValidateKeyAttestation(input *KeyValidationInput) (*KeyValidationResult, error) {
	pcrPath := input.PCRConfigPath
	if pcrPath == "" {
		pcrPath = DefaultPCRConfigPath()
	}
	knownPCRs, err := LoadPCRsFromFile(pcrPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load PCR configuration: %w", err)
	}

	baseResult, err := validateCommonAttestation(input.AttestationCOSEBase64, knownPCRs)
	if err != nil {
		return nil, err
	}

	keyAttestation, err := parseKeyAttestationFromCOSE(input.AttestationCOSEBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse attestation from attestation_cose_base64: %w", err)
	}

	result := &KeyValidationResult{
		BaseValidationResult: *baseResult,
	}

	if keyAttestation.UserData == nil || keyAttestation.UserData.PublicKey == "" {
		result.ValidationDetails = append(result.ValidationDetails, "Public key missing from attestation")
	} else if strings.TrimSpace(input.PublicKey) == strings.TrimSpace(keyAttestation.UserData.PublicKey) {
		// PEM encoders differ in trailing newlines
		result.PublicKeyMatch = true
		result.ValidationDetails = append(result.ValidationDetails, "Public key matches attestation")
	} else {
		result.ValidationDetails = append(result.ValidationDetails, "Public key mismatch: provided key does not match attested key")
	}

	switch {
	case input.SaleID == "":
		result.SaleIDMatch = true
	case keyAttestation.UserData != nil && keyAttestation.UserData.SaleID == input.SaleID:
		result.SaleIDMatch = true
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Key attested for sale %s", input.SaleID))
	default:
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Sale ID mismatch: expected %s", input.SaleID))
	}

	return result, nil
}

// parseKeyAttestationFromCOSE parses a KeyAttestationDoc from base64-encoded COSE bytes
func parseKeyAttestationFromCOSE(attestationCOSEB64 saleapi.AttestationCOSEBase64) (*saleapi.KeyAttestationDoc, error) {
	coseBytes, err := attestationCOSEB64.Decode()
	if err != nil {
		return nil, fmt.Errorf("decode COSE bytes: %w", err)
	}

	attestationDoc, userDataBytes, err := coseBytes.ParseAttestationDoc()
	if err != nil {
		return nil, fmt.Errorf("parse attestation document: %w", err)
	}

	var keyUserData saleapi.KeyAttestationUserData
	if len(userDataBytes) > 0 {
		if err := json.Unmarshal(userDataBytes, &keyUserData); err != nil {
			return nil, fmt.Errorf("parse user data: %w", err)
		}
	}

	return &saleapi.KeyAttestationDoc{
		AttestationDoc: attestationDoc,
		UserData:       &keyUserData,
	}, nil
}
