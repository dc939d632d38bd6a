// Command key-validator checks that a sale's receipt signing key was created
// inside an attested enclave, so receipts signed by it can be trusted.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/cloudx-io/opensale/saleapi"
	"github.com/cloudx-io/opensale/validation"
)

const (
	exitValid   = 0
	exitInvalid = 1
	exitError   = 2
)

const usage = `key-validator checks the attestation served by GET /key of a sale enclave.

It passes when the enclave's PCRs are a known build, the attestation chains to
the Nitro root, and the attested user data names the receipt signing key and,
if given, the sale.

Usage:
  key-validator --attestation <key_response.json> [--sale-id <id>] [options]

Flags:
`

const examples = `
Examples:
  curl -s https://sale.example/key > key_response.json
  key-validator --attestation key_response.json --sale-id sale-2026-q4

  # pin the key you already use to check receipts
  key-validator --attestation key_response.json --public-key receipt_key.pem --format json

Exit status is 0 when the key is attested, 1 when it is not and 2 when the
inputs cannot be read. Receipts themselves are checked by receipt-validator.
`

// lineHandler prints each record's message on its own line.
type lineHandler struct{ w io.Writer }

func (lineHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h lineHandler) Handle(_ context.Context, r slog.Record) error {
	_, err := fmt.Fprintln(h.w, r.Message)
	return err
}

func (h lineHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h lineHandler) WithGroup(string) slog.Handler      { return h }

type options struct {
	keyResponse string
	publicKey   string
	saleID      string
	pcrs        string
	format      string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	out := slog.New(lineHandler{w: stdout})

	var opts options
	fs := flag.NewFlagSet("key-validator", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.keyResponse, "attestation", "", "key response JSON saved from GET /key (required)")
	fs.StringVar(&opts.publicKey, "public-key", "", "PEM key to expect instead of the one in the response")
	fs.StringVar(&opts.saleID, "sale-id", "", "sale the key must be bound to")
	fs.StringVar(&opts.pcrs, "pcrs", "", "known PCR sets JSON (default: validation/pcrs.json)")
	fs.StringVar(&opts.format, "format", "text", "report format, text or json")
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
		fmt.Fprint(stderr, examples)
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitValid
		}
		return exitError
	}
	if opts.keyResponse == "" {
		fs.Usage()
		return exitError
	}
	if opts.format != "text" && opts.format != "json" {
		fmt.Fprintf(stderr, "unknown format %q\n", opts.format)
		return exitError
	}

	input, err := opts.input()
	if err != nil {
		fmt.Fprintf(stderr, "key-validator: %v\n", err)
		return exitError
	}
	result, err := validation.ValidateKeyAttestation(input)
	if err != nil {
		fmt.Fprintf(stderr, "key-validator: %v\n", err)
		return exitError
	}

	if opts.format == "json" {
		if err := report(out, result); err != nil {
			fmt.Fprintf(stderr, "key-validator: %v\n", err)
			return exitError
		}
	} else {
		summarize(out, result)
	}
	if !result.IsValid() {
		return exitInvalid
	}
	return exitValid
}

// input loads the saved key response. The attestation vouches for the key the
// response carries unless another is pinned.
func (o options) input() (*validation.KeyValidationInput, error) {
	data, err := os.ReadFile(o.keyResponse)
	if err != nil {
		return nil, err
	}
	var resp saleapi.KeyResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%s is not a key response: %w", o.keyResponse, err)
	}
	if resp.AttestationCOSEBase64 == "" {
		return nil, fmt.Errorf("%s carries no attestation", o.keyResponse)
	}

	publicKey := resp.PublicKey
	if o.publicKey != "" {
		pem, err := os.ReadFile(o.publicKey)
		if err != nil {
			return nil, err
		}
		publicKey = string(pem)
	}
	return &validation.KeyValidationInput{
		AttestationCOSEBase64: resp.AttestationCOSEBase64,
		PublicKey:             publicKey,
		SaleID:                o.saleID,
		PCRConfigPath:         o.pcrs,
	}, nil
}

func summarize(out *slog.Logger, result *validation.KeyValidationResult) {
	for _, detail := range result.ValidationDetails {
		out.Info("- " + detail)
	}
	out.Info("")
	checks := []struct {
		name string
		ok   bool
	}{
		{"enclave build (PCRs)", result.PCRsValid},
		{"certificate chain", result.CertificateValid},
		{"attestation signature", result.SignatureValid},
		{"receipt signing key", result.PublicKeyMatch},
		{"sale", result.SaleIDMatch},
	}
	for _, c := range checks {
		mark := "ok"
		if !c.ok {
			mark = "MISMATCH"
		}
		out.Info(fmt.Sprintf("%-22s %s", c.name, mark))
	}
	out.Info("")
	if result.IsValid() {
		out.Info("receipt signing key is attested")
	} else {
		out.Info("receipt signing key is NOT attested")
	}
}

func report(out *slog.Logger, result *validation.KeyValidationResult) error {
	data, err := json.MarshalIndent(struct {
		Valid            bool     `json:"valid"`
		PCRsValid        bool     `json:"pcrs_valid"`
		CertificateValid bool     `json:"certificate_valid"`
		SignatureValid   bool     `json:"signature_valid"`
		PublicKeyMatch   bool     `json:"public_key_match"`
		SaleIDMatch      bool     `json:"sale_id_match"`
		Details          []string `json:"details"`
	}{
		Valid:            result.IsValid(),
		PCRsValid:        result.PCRsValid,
		CertificateValid: result.CertificateValid,
		SignatureValid:   result.SignatureValid,
		PublicKeyMatch:   result.PublicKeyMatch,
		SaleIDMatch:      result.SaleIDMatch,
		Details:          result.ValidationDetails,
	}, "", "  ")
	if err != nil {
		return err
	}
	out.Info(string(data))
	return nil
}
