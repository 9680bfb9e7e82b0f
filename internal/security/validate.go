// Package security implements the engine's Security Gate: file validation,
// per-chunk AES-GCM encryption, per-user rate limiting, and access-token
// issuance.
package security

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"

	"github.com/upload-engine/chunkup/internal/retry"
)

// magicByte is one signature entry in the built-in file-signature table.
type magicByte struct {
	mime  string
	bytes []byte
}

// signatureTable holds the built-in magic-byte signatures. Unknown MIME
// types are not present here and pass signature validation vacuously.
var signatureTable = []magicByte{
	{mime: "image/jpeg", bytes: []byte{0xFF, 0xD8, 0xFF}},
	{mime: "image/png", bytes: []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}},
	{mime: "image/gif", bytes: []byte{0x47, 0x49, 0x46, 0x38}},
	{mime: "application/pdf", bytes: []byte{0x25, 0x50, 0x44, 0x46}},
}

// suspiciousHeader is one entry in the built-in virus-scan header table.
var suspiciousHeaders = [][]byte{
	{0x4D, 0x5A},             // MZ, Windows PE
	{0x7F, 0x45, 0x4C, 0x46}, // ELF
}

const signatureReadWindow = 50
const virusScanWindow = 1 << 20 // 1 MiB

// FileInfo describes the file under validation. Name and MimeType drive
// extension/MIME-allowlist checks; Size drives the max-size check; Reader
// (if non-nil) is consulted for signature and virus-scan checks.
type FileInfo struct {
	Name     string
	MimeType string
	Size     int64
	Reader   io.ReaderAt
}

// ValidationConfig mirrors config.SecurityConfig's validation-relevant
// fields, expressed in already-parsed form (sizes in bytes).
type ValidationConfig struct {
	MaxFileSize           int64
	AllowedMimeTypes       []string
	AllowedExtensions      []string
	ValidateFileSignature  bool
	EnableVirusScan        bool
}

// ValidateFile runs every configured check against f and returns every
// failure accumulated via multierr, rather than stopping at the first.
func ValidateFile(ctx context.Context, f FileInfo, cfg ValidationConfig) error {
	var errs error

	if cfg.MaxFileSize > 0 && f.Size > cfg.MaxFileSize {
		errs = multierr.Append(errs, &retry.ValidationError{
			Message: fmt.Sprintf("security: file size %d exceeds max %d", f.Size, cfg.MaxFileSize),
		})
	}

	if !mimeAllowed(f.MimeType, cfg.AllowedMimeTypes) {
		errs = multierr.Append(errs, &retry.ValidationError{
			Message: fmt.Sprintf("security: mime type %q not allowed", f.MimeType),
		})
	}

	if !extensionAllowed(f.Name, cfg.AllowedExtensions) {
		errs = multierr.Append(errs, &retry.ValidationError{
			Message: fmt.Sprintf("security: extension of %q not allowed", f.Name),
		})
	}

	if cfg.ValidateFileSignature {
		if err := validateSignature(f); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if cfg.EnableVirusScan {
		if err := scanForSuspiciousHeaders(ctx, f); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

func mimeAllowed(mimeType string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}

	for _, pattern := range allowed {
		if pattern == "*/*" || pattern == "*" {
			return true
		}

		if matchesMimePattern(pattern, mimeType) {
			return true
		}
	}

	return false
}

func matchesMimePattern(pattern, mimeType string) bool {
	if strings.HasSuffix(pattern, "/*") {
		return strings.HasPrefix(mimeType, strings.TrimSuffix(pattern, "*"))
	}

	return pattern == mimeType
}

func extensionAllowed(name string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}

	ext := strings.ToLower(filepath.Ext(name))

	for _, a := range allowed {
		if a == "*" {
			return true
		}

		if strings.ToLower(a) == ext {
			return true
		}
	}

	return false
}

// validateSignature reads the first signatureReadWindow bytes of f.Reader
// and compares them against the table entry for f.MimeType. A MIME type
// absent from the table passes vacuously, per spec.
func validateSignature(f FileInfo) error {
	if f.Reader == nil {
		return nil
	}

	var want []byte

	for _, sig := range signatureTable {
		if sig.mime == f.MimeType {
			want = sig.bytes
			break
		}
	}

	if want == nil {
		return nil
	}

	buf := make([]byte, signatureReadWindow)

	n, err := f.Reader.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return &retry.ValidationError{Message: fmt.Sprintf("security: reading file signature: %v", err)}
	}

	if n < len(want) || !bytes.HasPrefix(buf[:n], want) {
		return &retry.ValidationError{Message: fmt.Sprintf("security: file signature mismatch for %q", f.MimeType)}
	}

	return nil
}

// scanForSuspiciousHeaders streams f.Reader in virusScanWindow-sized
// windows and rejects the file if any window starts with a known
// suspicious header.
func scanForSuspiciousHeaders(ctx context.Context, f FileInfo) error {
	if f.Reader == nil {
		return nil
	}

	buf := make([]byte, virusScanWindow)

	for offset := int64(0); offset < f.Size; offset += virusScanWindow {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := f.Reader.ReadAt(buf, offset)
		if err != nil && err != io.EOF {
			return &retry.ValidationError{Message: fmt.Sprintf("security: scanning file: %v", err)}
		}

		for _, header := range suspiciousHeaders {
			if n >= len(header) && bytes.HasPrefix(buf[:n], header) {
				return &retry.ValidationError{Message: "security: suspicious file header detected"}
			}
		}

		if err == io.EOF {
			break
		}
	}

	return nil
}
