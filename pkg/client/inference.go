package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/oklog/ulid/v2"
)

// Invoker sends one chunk request to the workers listening on subject and
// waits for the matching response
type Invoker interface {
	Invoke(ctx context.Context, subject string, req *ChunkRequest) (*ChunkResponse, error)
}

// ErrTimeout is returned when no worker replied in time
var ErrTimeout = errors.New("client: request timed out")

// NATSClient implements Invoker using NATS request/reply over the JetStream
// work queue
type NATSClient struct {
	conn     *nats.Conn
	clientID string
	timeout  time.Duration
}

// NewNATSClient connects to NATS. timeout applies when the caller's context
// has no deadline.
func NewNATSClient(natsURL, clientID string, timeout time.Duration) (*NATSClient, error) {
	conn, err := nats.Connect(natsURL, nats.Name(clientID))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return NewNATSClientWithConn(conn, clientID, timeout), nil
}

// NewNATSClientWithConn wraps an existing connection
func NewNATSClientWithConn(conn *nats.Conn, clientID string, timeout time.Duration) *NATSClient {
	if clientID == "" {
		clientID = "helix-client"
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &NATSClient{
		conn:     conn,
		clientID: clientID,
		timeout:  timeout,
	}
}

// NewRequestID returns a new ULID request id
func NewRequestID() string {
	return ulid.Make().String()
}

// Invoke publishes req on subject and waits for the reply on a private
// subject. A ChunkResponse.Error is returned as *RemoteError.
func (c *NATSClient) Invoke(ctx context.Context, subject string, req *ChunkRequest) (*ChunkResponse, error) {
	if req.ReqID == "" {
		req.ReqID = NewRequestID()
	}
	if req.TraceID == "" {
		req.TraceID = req.ReqID
	}
	req.ReplyTo = fmt.Sprintf("helix.reply.%s.%s", c.clientID, req.ReqID)

	requestBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	// Subscribe to reply subject before publishing
	replyChan := make(chan *nats.Msg, 1)
	sub, err := c.conn.ChanSubscribe(req.ReplyTo, replyChan)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to reply: %w", err)
	}
	defer sub.Unsubscribe()

	if err := c.conn.Publish(subject, requestBytes); err != nil {
		return nil, fmt.Errorf("failed to publish request: %w", err)
	}

	slog.Debug("Published chunk request",
		"subject", subject,
		"req_id", req.ReqID,
		"model", req.Model,
		"items", len(req.Sequences)+len(req.Smiles))

	var timeout <-chan time.Time
	if _, ok := ctx.Deadline(); !ok {
		timer := time.NewTimer(c.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case msg := <-replyChan:
		var response ChunkResponse
		if err := json.Unmarshal(msg.Data, &response); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
		if response.Error != "" {
			return &response, &RemoteError{ReqID: req.ReqID, WorkerID: response.WorkerID, Message: response.Error}
		}
		return &response, nil

	case <-timeout:
		return nil, fmt.Errorf("%w after %v (req %s)", ErrTimeout, c.timeout, req.ReqID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CheckHealth asks the workers of model for their status
func (c *NATSClient) CheckHealth(ctx context.Context, model string) (*HealthStatus, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}

	msg, err := c.conn.RequestWithContext(ctx, HealthSubject(model), nil)
	if err != nil {
		return nil, fmt.Errorf("health check for %s failed: %w", model, err)
	}

	var health HealthStatus
	if err := json.Unmarshal(msg.Data, &health); err != nil {
		return nil, fmt.Errorf("failed to parse health response: %w", err)
	}
	return &health, nil
}

// Conn returns the underlying connection
func (c *NATSClient) Conn() *nats.Conn {
	return c.conn
}

// Close closes the NATS connection
func (c *NATSClient) Close() error {
	if c.conn != nil {
		c.conn.Close()
	}
	return nil
}

// HealthSubject is the subject workers of model answer health checks on
func HealthSubject(model string) string {
	return fmt.Sprintf("models.%s.health", model)
}

// HeartbeatSubject is the subject workers of model publish heartbeats on
func HeartbeatSubject(model string) string {
	return fmt.Sprintf("models.%s.heartbeat", model)
}

// DecodeOutputs unmarshals every output of resp into T
func DecodeOutputs[T any](resp *ChunkResponse) ([]T, error) {
	out := make([]T, len(resp.Outputs))
	for i, raw := range resp.Outputs {
		if err := json.Unmarshal(raw, &out[i]); err != nil {
			return nil, fmt.Errorf("failed to decode output %d: %w", i, err)
		}
	}
	return out, nil
}
