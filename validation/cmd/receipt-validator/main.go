package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/cloudx-io/opensale/saleapi"
	"github.com/cloudx-io/opensale/validation"
)

type plainTextHandler struct{}

func (*plainTextHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (*plainTextHandler) Handle(_ context.Context, r slog.Record) error {
	_, err := fmt.Fprintln(os.Stdout, r.Message)
	return err
}

func (h *plainTextHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	return h
}

func (h *plainTextHandler) WithGroup(_ string) slog.Handler {
	return h
}

var logger = slog.New(&plainTextHandler{})

func main() {
	var (
		receiptInput = flag.String("receipt", "", "Finalize response JSON (file path or inline JSON)")
		keyInput     = flag.String("key", "", "Key response JSON or public key PEM (file path)")
		saleID       = flag.String("sale-id", "", "Expected sale ID")
		bidID        = flag.String("bid-id", "", "Bid ID expected in the bucket")
		outputFormat = flag.String("format", "text", "Output format: text or json")
		help         = flag.Bool("help", false, "Show usage information")
	)

	flag.Parse()

	if *help {
		showUsage()
		os.Exit(0)
	}
	if *receiptInput == "" || *keyInput == "" {
		showUsage()
		fmt.Fprintf(os.Stderr, "\nError: --receipt and --key are required\n")
		os.Exit(1)
	}

	receipt, err := readReceipt(*receiptInput)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading receipt: %v\n", err)
		os.Exit(2)
	}

	publicKey, err := readPublicKey(*keyInput)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading key: %v\n", err)
		os.Exit(2)
	}

	input := &validation.ReceiptValidationInput{
		ReceiptCOSEBase64: receipt,
		PublicKey:         publicKey,
		SaleID:            *saleID,
	}
	if *bidID != "" {
		id, err := strconv.ParseUint(*bidID, 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid --bid-id: %v\n", err)
			os.Exit(2)
		}
		input.BidID = &id
	}

	result, err := validation.ValidateFinalizationReceipt(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation error: %v\n", err)
		os.Exit(2)
	}

	if *outputFormat == "json" {
		if err := outputJSON(result); err != nil {
			fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
			os.Exit(2)
		}
	} else {
		outputText(result)
	}

	if !result.IsValid() {
		os.Exit(1)
	}
	os.Exit(0)
}

func showUsage() {
	logger.Info("Finalization Receipt Validator")
	logger.Info("")
	logger.Info("Verifies a signed bucket finalization receipt and recomputes its clearing.")
	logger.Info("")
	logger.Info("Usage:")
	logger.Info("  receipt-validator --receipt <json> --key <path> [options]")
	logger.Info("")
	logger.Info("Required Flags:")
	logger.Info("  --receipt <json>                  Finalize response containing receipt_cose_base64")
	logger.Info("  --key <path>                      Key response JSON or public key PEM file")
	logger.Info("")
	logger.Info("Optional Flags:")
	logger.Info("  --sale-id <id>                    Expected sale ID")
	logger.Info("  --bid-id <id>                     Check that this bid is part of the bucket")
	logger.Info("  --format <text|json>              Output format (default: text)")
	logger.Info("  --help                            Show this help message")
	logger.Info("")
	logger.Info("Validate the key first with key-validator; this tool trusts the given key.")
	logger.Info("")
	logger.Info("Exit Codes:")
	logger.Info("  0 - Validation passed")
	logger.Info("  1 - Validation failed")
	logger.Info("  2 - Invalid input or runtime error")
}

func readJSONInput(input string) []byte {
	if data, err := os.ReadFile(input); err == nil {
		return data
	}
	return []byte(input)
}

func readReceipt(input string) (saleapi.ReceiptCOSEBase64, error) {
	var response saleapi.FinalizeResponse
	if err := json.Unmarshal(readJSONInput(input), &response); err != nil {
		return "", fmt.Errorf("failed to parse JSON: %w", err)
	}
	if response.ReceiptCOSEBase64 == "" {
		return "", fmt.Errorf("missing receipt_cose_base64 field in finalize response")
	}
	return response.ReceiptCOSEBase64, nil
}

func readPublicKey(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	if strings.HasPrefix(strings.TrimSpace(string(data)), "-----BEGIN") {
		return string(data), nil
	}

	var keyResponse saleapi.KeyResponse
	if err := json.Unmarshal(data, &keyResponse); err != nil {
		return "", fmt.Errorf("failed to parse key response: %w", err)
	}
	if keyResponse.PublicKey == "" {
		return "", fmt.Errorf("missing public_key field in key response")
	}
	return keyResponse.PublicKey, nil
}

func outputText(result *validation.ReceiptValidationResult) {
	logger.Info("Finalization Receipt Validator")
	logger.Info("==============================")
	logger.Info("")

	if r := result.Receipt; r != nil {
		logger.Info(fmt.Sprintf("Receipt:            %s", r.ReceiptID))
		logger.Info(fmt.Sprintf("Sale:               %s", r.SaleID))
		logger.Info(fmt.Sprintf("Bucket:             %d (%d bids)", r.Bucket, len(r.Bids)))
		logger.Info(fmt.Sprintf("Clearing valuation: %s", r.ClearingValuation))
		logger.Info("")
	}

	logger.Info("Details:")
	for _, detail := range result.ValidationDetails {
		logger.Info("  " + detail)
	}

	logger.Info("")
	logger.Info("Summary:")
	logger.Info(fmt.Sprintf("  Signature Valid:   %v", result.SignatureValid))
	logger.Info(fmt.Sprintf("  Sale ID Match:     %v", result.SaleIDMatch))
	logger.Info(fmt.Sprintf("  Ordering Valid:    %v", result.OrderingValid))
	logger.Info(fmt.Sprintf("  Hashes Valid:      %v", result.HashesValid))
	logger.Info(fmt.Sprintf("  Clearing Valid:    %v", result.ClearingValid))
	if result.BidChecked {
		logger.Info(fmt.Sprintf("  Bid Included:      %v", result.BidIncluded))
	}

	logger.Info("")
	logger.Info("==============================")
	if result.IsValid() {
		logger.Info("VALIDATION: ✓ PASSED")
		logger.Info("Exit Code: 0")
	} else {
		logger.Info("VALIDATION: ✗ FAILED")
		logger.Info("Exit Code: 1")
	}
}

func outputJSON(result *validation.ReceiptValidationResult) error {
	output := map[string]any{
		"valid":           result.IsValid(),
		"signature_valid": result.SignatureValid,
		"sale_id_match":   result.SaleIDMatch,
		"ordering_valid":  result.OrderingValid,
		"hashes_valid":    result.HashesValid,
		"clearing_valid":  result.ClearingValid,
		"details":         result.ValidationDetails,
	}
	if result.BidChecked {
		output["bid_included"] = result.BidIncluded
	}
	if result.Receipt != nil {
		output["receipt"] = result.Receipt
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return err
	}
	logger.Info(string(data))
	return nil
}
