// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"fmt"
	"regexp"
	"strings"
)

// Security gate limits.
const (
	maxInputSize       = 500 * 1024 * 1024 // 500MB
	maxFilesPerRequest = 10
)

// allowedMimeTypes is the closed set of accepted attachment types.
var allowedMimeTypes = map[string]struct{}{
	"image/jpeg":      {},
	"image/png":       {},
	"image/gif":       {},
	"image/webp":      {},
	"audio/mpeg":      {},
	"audio/wav":       {},
	"video/mp4":       {},
	"application/pdf": {},
	"text/plain":      {},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": {},
}

// threatPatterns catch script injection and SQL tautologies in the text.
var threatPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script.*?>`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)data:text/html`),
	regexp.MustCompile(`(?i)eval\(`),
	regexp.MustCompile(`(?i)document\.write`),
	regexp.MustCompile(`(?i)onload=`),
	regexp.MustCompile(`(?i)onerror=`),
	regexp.MustCompile(`(?i)onclick=`),
	regexp.MustCompile(`(?i)'\s*or\s+'?1'?\s*=\s*'?1`),
	regexp.MustCompile(`(?i)union\s+select`),
	regexp.MustCompile(`(?i);\s*drop\s+table`),
}

// GateViolation describes why an input was rejected.
type GateViolation struct {
	Reason string
	Detail string
}

func (v *GateViolation) Error() string {
	return fmt.Sprintf("input rejected: %s (%s)", v.Reason, v.Detail)
}

// CheckSecurity runs the gate: total size, file count, MIME allowlist
// and pattern denylist. The first violation wins.
func CheckSecurity(req *Request) error {
	if size := req.TotalSize(); size > maxInputSize {
		return &GateViolation{Reason: "taille d'entrée excessive", Detail: fmt.Sprintf("%d octets", size)}
	}
	if count := req.FileCount(); count > maxFilesPerRequest {
		return &GateViolation{Reason: "trop de fichiers", Detail: fmt.Sprintf("%d fichiers", count)}
	}

	defaults := []struct {
		blobs []string
		mime  string
	}{
		{req.Base64Image, "image/jpeg"},
		{req.AudioBase64, "audio/mpeg"},
		{req.VideoBase64, "video/mp4"},
		{req.DocBase64, "application/pdf"},
		{req.ExcelBase64, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
	}
	for _, kind := range defaults {
		for _, blob := range kind.blobs {
			mime := MimeOf(blob, kind.mime)
			if _, ok := allowedMimeTypes[mime]; !ok {
				return &GateViolation{Reason: "type de fichier non autorisé", Detail: mime}
			}
		}
	}

	text := strings.ToLower(req.Texte)
	for _, pattern := range threatPatterns {
		if pattern.MatchString(text) {
			return &GateViolation{Reason: "motif suspect détecté", Detail: pattern.String()}
		}
	}
	return nil
}
