package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"

	"github.com/studycircle/studycircle/internal/storage"
)

const (
	maxMaterialBodySize = 10 << 20 // 10MB, PDFs arrive base64-encoded
	maxURLFetchSize     = 5 << 20
	urlFetchTimeout     = 10 * time.Second
)

type materialRequest struct {
	Type    string `json:"type"` // "text" (default), "url", "pdf"
	Title   string `json:"title"`
	Content string `json:"content"`
	URL     string `json:"url"`
}

// handleIngestMaterial stores a study document (notes, syllabus, reading)
// for the caller. URL ingest fetches and strips HTML to text; pdf ingest
// decodes base64 and extracts the text layer.
func handleIngestMaterial(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxMaterialBodySize)
		defer r.Body.Close()

		var req materialRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Content == "" && req.URL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one of content or url is required")
			return
		}
		if req.Type == "" {
			req.Type = "text"
		}

		var content, source string
		switch req.Type {
		case "url":
			if req.URL == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "url is required for type=url")
				return
			}
			fetched, err := fetchAsText(r.Context(), deps.HTTPClient, req.URL)
			if err != nil {
				httpError(w, http.StatusBadGateway, "api_error", "fetching url: %v", err)
				return
			}
			content, source = fetched, req.URL
			if req.Title == "" {
				req.Title = req.URL
			}

		case "pdf":
			decoded, err := base64.StdEncoding.DecodeString(req.Content)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
				return
			}
			text, err := pdfToText(decoded)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "extracting pdf text: %v", err)
				return
			}
			content, source = text, "pdf"

		case "text":
			content, source = req.Content, "text"

		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unsupported type %q", req.Type)
			return
		}

		if strings.TrimSpace(content) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "material has no extractable text")
			return
		}

		material := storage.Material{
			ID:      uuid.New().String(),
			OwnerID: callerID(r),
			Title:   req.Title,
			Content: content,
			Source:  source,
		}
		if err := deps.Store.SaveMaterial(material); err != nil {
			faultError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]string{"id": material.ID})
	}
}

func fetchAsText(ctx context.Context, client *http.Client, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, urlFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxURLFetchSize))
	if err != nil {
		return "", err
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		return htmlToText(body)
	}
	return string(body), nil
}

// htmlToText walks the parsed document collecting text nodes, skipping
// script and style subtrees.
func htmlToText(raw []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				sb.WriteString(text)
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.TrimSpace(sb.String()), nil
}

func pdfToText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	textReader, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(textReader); err != nil {
		return "", err
	}
	return buf.String(), nil
}
