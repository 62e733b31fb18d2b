package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aigoflow/helix/internal/capabilities"
	"github.com/aigoflow/helix/pkg/client"
)

// Backend runs chunk requests against a loaded model. Open acquires the
// device and loads weights; Close releases them. Infer returns one output per
// input item.
type Backend interface {
	Open(ctx context.Context) error
	Infer(ctx context.Context, req *client.ChunkRequest) ([]json.RawMessage, error)
	Close() error
}

// HTTPBackend forwards chunk requests to a model sidecar process over HTTP.
type HTTPBackend struct {
	baseURL string
	spec    capabilities.Spec
	http    *http.Client
}

type loadRequest struct {
	Model      string                 `json:"model"`
	Checkpoint string                 `json:"checkpoint"`
	Params     map[string]interface{} `json:"params,omitempty"`
}

type inferResponse struct {
	Outputs []json.RawMessage `json:"outputs"`
	Error   string            `json:"error,omitempty"`
}

func NewHTTPBackend(baseURL string, spec capabilities.Spec) *HTTPBackend {
	return &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		spec:    spec,
		http:    &http.Client{},
	}
}

// Open asks the sidecar to load the model onto its device.
func (b *HTTPBackend) Open(ctx context.Context) error {
	_, err := b.post(ctx, "/load", loadRequest{
		Model:      string(b.spec.Model),
		Checkpoint: b.spec.Checkpoint,
		Params:     b.spec.Params,
	})
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", b.spec.Model, err)
	}
	return nil
}

func (b *HTTPBackend) Infer(ctx context.Context, req *client.ChunkRequest) ([]json.RawMessage, error) {
	body, err := b.post(ctx, "/infer", req)
	if err != nil {
		return nil, err
	}
	var resp inferResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse backend response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("backend: %s", resp.Error)
	}
	return resp.Outputs, nil
}

// Close releases the device. It is bounded so shutdown cannot hang on an
// unresponsive sidecar.
func (b *HTTPBackend) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := b.post(ctx, "/release", loadRequest{Model: string(b.spec.Model)})
	return err
}

func (b *HTTPBackend) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
