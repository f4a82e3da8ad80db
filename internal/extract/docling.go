package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// OfficeMimeTypes are the formats delegated to the Docling conversion
// service.
var OfficeMimeTypes = []string{
	"application/pdf",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"application/vnd.ms-powerpoint",
}

// Docling extracts office formats (pdf, docx, xlsx, pptx) by posting the
// bytes to a docling-serve conversion endpoint and reading back markdown.
type Docling struct {
	baseURL string
	client  *http.Client
}

func NewDocling(baseURL string) *Docling {
	return &Docling{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

// RegisterDocling wires a Docling extractor for every office mime type.
func RegisterDocling(r *Registry, baseURL string) {
	d := NewDocling(baseURL)
	for _, m := range OfficeMimeTypes {
		r.Register(m, d)
	}
}

type doclingResponse struct {
	Document struct {
		MDContent string `json:"md_content"`
	} `json:"document"`
	Status string `json:"status"`
	Errors []struct {
		ErrorMessage string `json:"error_message"`
	} `json:"errors"`
}

func (d *Docling) Extract(ctx context.Context, content []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("files", "document")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(content); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/v1alpha/convert/file", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("docling request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("docling response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("docling convert failed: %d %s", resp.StatusCode, truncateStr(string(data), 256))
	}

	var out doclingResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("docling decode: %w", err)
	}
	if out.Status == "failure" && len(out.Errors) > 0 {
		return "", fmt.Errorf("docling convert failed: %s", out.Errors[0].ErrorMessage)
	}
	return out.Document.MDContent, nil
}

func truncateStr(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
