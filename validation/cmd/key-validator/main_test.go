package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestRun_Usage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	check.Equal(t, exitError, run(nil, &stdout, &stderr))
	check.True(t, strings.Contains(stderr.String(), "--attestation <key_response.json>"))
	check.True(t, strings.Contains(stderr.String(), "receipt-validator"))

	stderr.Reset()
	check.Equal(t, exitValid, run([]string{"--help"}, &stdout, &stderr))
	check.Equal(t, "", stdout.String())
}

func TestRun_InputErrors(t *testing.T) {
	dir := t.TempDir()
	garbled := filepath.Join(dir, "garbled.json")
	assert.NoError(t, os.WriteFile(garbled, []byte("{"), 0o600))
	unattested := filepath.Join(dir, "unattested.json")
	assert.NoError(t, os.WriteFile(unattested, []byte(`{"sale_id":"sale-1"}`), 0o600))

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing file", []string{"--attestation", filepath.Join(dir, "absent.json")}, "absent.json"},
		{"not json", []string{"--attestation", garbled}, "is not a key response"},
		{"no attestation", []string{"--attestation", unattested}, "carries no attestation"},
		{"bad format", []string{"--attestation", unattested, "--format", "xml"}, "unknown format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			check.Equal(t, exitError, run(tt.args, &stdout, &stderr))
			check.True(t, strings.Contains(stderr.String(), tt.want))
		})
	}
}
