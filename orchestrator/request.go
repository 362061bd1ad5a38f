// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/Her50/yukpomnang-sub000/llm"
	"github.com/Her50/yukpomnang-sub000/media"
)

// Request is the multimodal input body of /api/ia/auto.
type Request struct {
	Texte       string   `json:"texte,omitempty"`
	Base64Image []string `json:"base64_image,omitempty"`
	AudioBase64 []string `json:"audio_base64,omitempty"`
	VideoBase64 []string `json:"video_base64,omitempty"`
	DocBase64   []string `json:"doc_base64,omitempty"`
	ExcelBase64 []string `json:"excel_base64,omitempty"`
	GPSMobile   string   `json:"gps_mobile,omitempty"`
	SiteWeb     string   `json:"site_web,omitempty"`

	// Intention forces the intent and skips detection (direct paths).
	Intention string `json:"intention,omitempty"`
}

// FileCount is the number of attached blobs across all kinds.
func (r *Request) FileCount() int {
	return len(r.Base64Image) + len(r.AudioBase64) + len(r.VideoBase64) + len(r.DocBase64) + len(r.ExcelBase64)
}

// TotalSize approximates the decoded payload size in bytes.
func (r *Request) TotalSize() int {
	total := len(r.Texte)
	for _, batch := range [][]string{r.Base64Image, r.AudioBase64, r.VideoBase64, r.DocBase64, r.ExcelBase64} {
		for _, blob := range batch {
			total += base64.StdEncoding.DecodedLen(len(payloadOf(blob)))
		}
	}
	return total
}

// Assembled is the decoded multimodal input fed into the pipeline.
type Assembled struct {
	Images   []llm.ImageInput
	Sources  []string
	Excerpts []string
	Uploads  []media.Upload
}

// Assemble decodes every attached blob. Images keep their MIME type for
// multimodal providers; other kinds are tagged by source so the prompt
// can mention them. Undecodable blobs abort assembly.
func (r *Request) Assemble() (*Assembled, error) {
	out := &Assembled{}
	if strings.TrimSpace(r.Texte) != "" {
		out.Sources = append(out.Sources, "texte")
	}

	for i, blob := range r.Base64Image {
		mime, data, err := decodeBlob(blob, "image/jpeg")
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		out.Images = append(out.Images, llm.ImageInput{MimeType: mime, Data: data})
		out.Uploads = append(out.Uploads, media.Upload{Kind: "image", MimeType: mime, Data: data})
	}
	if len(r.Base64Image) > 0 {
		out.Sources = append(out.Sources, "images")
	}

	kinds := []struct {
		blobs []string
		mime  string
		name  string
		kind  string
	}{
		{r.AudioBase64, "audio/mpeg", "audio", "audio"},
		{r.VideoBase64, "video/mp4", "video", "video"},
		{r.DocBase64, "application/pdf", "documents", "document"},
		{r.ExcelBase64, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "tableurs", "excel"},
	}
	for _, kind := range kinds {
		for i, blob := range kind.blobs {
			mime, data, err := decodeBlob(blob, kind.mime)
			if err != nil {
				return nil, fmt.Errorf("%s %d: %w", kind.name, i, err)
			}
			out.Excerpts = append(out.Excerpts, fmt.Sprintf("[%s %d, %d octets]", kind.name, i+1, len(data)))
			out.Uploads = append(out.Uploads, media.Upload{Kind: kind.kind, MimeType: mime, Data: data})
		}
		if len(kind.blobs) > 0 {
			out.Sources = append(out.Sources, kind.name)
		}
	}

	return out, nil
}

// decodeBlob accepts either a bare base64 payload or a data URI and
// returns the MIME type and decoded bytes.
func decodeBlob(blob, defaultMime string) (string, []byte, error) {
	mime := defaultMime
	payload := blob
	if strings.HasPrefix(blob, "data:") {
		rest := strings.TrimPrefix(blob, "data:")
		semi := strings.Index(rest, ";base64,")
		if semi < 0 {
			return "", nil, fmt.Errorf("malformed data URI")
		}
		mime = rest[:semi]
		payload = rest[semi+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("invalid base64: %w", err)
	}
	return mime, data, nil
}

func payloadOf(blob string) string {
	if idx := strings.Index(blob, ";base64,"); idx >= 0 {
		return blob[idx+len(";base64,"):]
	}
	return blob
}

// MimeOf extracts the declared MIME type of a data URI, or the default.
func MimeOf(blob, defaultMime string) string {
	if strings.HasPrefix(blob, "data:") {
		rest := strings.TrimPrefix(blob, "data:")
		if semi := strings.IndexByte(rest, ';'); semi > 0 {
			return rest[:semi]
		}
	}
	return defaultMime
}
