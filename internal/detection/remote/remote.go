// Package remote adapts an HTTP inference service to detection.Model.
//
// The service receives the scratch file as a multipart "file" upload and
// answers {"detections":[{"class":"...","confidence":0.9}, ...]}.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/udit1567/Home.auto/internal/detection"
	"github.com/udit1567/Home.auto/internal/imaging"
)

// Model posts images to an inference URL.
type Model struct {
	url    string
	client *http.Client
}

// New returns a model for endpoint. A nil client gets a 60s timeout client.
func New(endpoint string, client *http.Client) *Model {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Model{url: endpoint, client: client}
}

type response struct {
	Detections []struct {
		Class      string  `json:"class"`
		Confidence float64 `json:"confidence"`
	} `json:"detections"`
}

// Infer streams the file at h.Path() to the service.
func (m *Model) Infer(ctx context.Context, h *imaging.Handle) ([]detection.Detection, error) {
	f, err := os.Open(h.Path())
	if err != nil {
		return nil, fmt.Errorf("remote: open scratch image: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(h.Path()))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, pr)
	if err != nil {
		return nil, fmt.Errorf("remote: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: inference service returned %d: %s", detection.ErrInference, resp.StatusCode, body)
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", detection.ErrInference, err)
	}

	dets := make([]detection.Detection, 0, len(out.Detections))
	for _, d := range out.Detections {
		if d.Confidence < 0 || d.Confidence > 1 {
			return nil, fmt.Errorf("%w: confidence %v for %q is outside [0, 1]", detection.ErrInference, d.Confidence, d.Class)
		}
		dets = append(dets, detection.Detection{Class: d.Class, Confidence: d.Confidence})
	}
	return dets, nil
}

// Ping checks that the service answers on /health of the inference URL's host.
func (m *Model) Ping(ctx context.Context) error {
	u, err := url.Parse(m.url)
	if err != nil {
		return fmt.Errorf("remote: inference url: %w", err)
	}
	health := u.ResolveReference(&url.URL{Path: "/health"})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, health.String(), nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference service unhealthy: %d", resp.StatusCode)
	}
	return nil
}
