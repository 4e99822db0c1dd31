// Package client is a Go client for the gateway's HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/udit1567/Home.auto/pkg/schema"
)

// Model selects a detection endpoint.
type Model string

const (
	Objects      Model = "objects"
	PlantDisease Model = "plant_disease"
)

// APIError is a non-2xx answer from the gateway.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Message)
}

// LatestValue is the answer of a per-channel query. Timestamp keeps the
// gateway's "02 January 2006, 15:04" rendering.
type LatestValue struct {
	Channel   schema.Channel
	Value     float64
	Timestamp string
}

// Detections is a detection endpoint's answer.
type Detections struct {
	Counts     map[string]int `json:"counts"`
	Total      int            `json:"total"`
	Detections []struct {
		Class      string  `json:"class"`
		Confidence float64 `json:"confidence"`
	} `json:"detections,omitempty"`
}

// Client talks to one gateway. Token is only needed for Push.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New returns a client for baseURL (e.g. http://localhost:5000).
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Push appends a reading for the token's user.
func (c *Client) Push(ctx context.Context, channels schema.Channels) (*schema.Reading, error) {
	body, err := json.Marshal(channels)
	if err != nil {
		return nil, err
	}
	var out struct {
		Data schema.Reading `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/update", "application/json", bytes.NewReader(body), &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// Latest returns the newest non-null value of ch for userID.
func (c *Client) Latest(ctx context.Context, userID int64, ch schema.Channel) (*LatestValue, error) {
	var raw map[string]any
	path := fmt.Sprintf("/get_d%d/%d", int(ch)+1, userID)
	if err := c.do(ctx, http.MethodGet, path, "", nil, &raw); err != nil {
		return nil, err
	}
	v, ok := raw[ch.String()].(float64)
	if !ok {
		return nil, fmt.Errorf("response has no numeric %s", ch)
	}
	ts, _ := raw["timestamp"].(string)
	return &LatestValue{Channel: ch, Value: v, Timestamp: ts}, nil
}

// Readings lists every reading of userID.
func (c *Client) Readings(ctx context.Context, userID int64) ([]schema.Reading, error) {
	var out []schema.Reading
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/get_data/%d", userID), "", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DetectFile submits the image at path, as a multipart upload or, when
// asBase64 is set, as an inline base64 payload.
func (c *Client) DetectFile(ctx context.Context, m Model, path string, asBase64 bool) (*Detections, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	endpoint := "/detect_objects"
	if m == PlantDisease {
		endpoint = "/detect_plant_disease"
	}

	var out Detections
	if asBase64 {
		body, err := json.Marshal(map[string]string{"image_base64": base64.StdEncoding.EncodeToString(data)})
		if err != nil {
			return nil, err
		}
		err = c.do(ctx, http.MethodPost, endpoint+"_base64", "application/json", bytes.NewReader(body), &out)
		return &out, err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	err = c.do(ctx, http.MethodPost, endpoint, mw.FormDataContentType(), &buf, &out)
	return &out, err
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var e struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		msg := e.Message
		if msg == "" {
			msg = e.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
