package recording

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"roomrec/internal/core/domain"
	"roomrec/internal/core/ports"
	"roomrec/pkg/tracing"
	"roomrec/pkg/utils"
	"roomrec/pkg/validation"

	"go.uber.org/zap"
)

const (
	opStart = "start"
	opStop  = "stop"

	statusSuccess = "success"
	// maxResponseBody bounds how much of a backend reply is read.
	maxResponseBody = 64 << 10
	maxReasonLen    = 256
)

type HTTPBackendConfig struct {
	EndpointURL string
	AuthToken   string
	StartPath   string
	StopPath    string
	Timeout     time.Duration
}

type startRequest struct {
	RoomName string `json:"room_name"`
	Token    string `json:"token"`
}

type stopRequest struct {
	EgressID string `json:"egress_id"`
}

type backendResponse struct {
	Status   string `json:"status"`
	EgressID string `json:"egress_id,omitempty"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (r *backendResponse) reason() string {
	if r.Message != "" {
		return utils.TruncateString(r.Message, maxReasonLen)
	}
	if r.Error != "" {
		return utils.TruncateString(r.Error, maxReasonLen)
	}
	if r.Status != "" {
		return fmt.Sprintf("status %q", r.Status)
	}
	return ""
}

// HTTPBackend talks to a recording service that starts and stops egress jobs
// over JSON POSTs. Requests are never retried.
type HTTPBackend struct {
	cfg    HTTPBackendConfig
	client *http.Client
	logger *zap.SugaredLogger
}

var _ ports.RecordingBackend = (*HTTPBackend)(nil)

func NewHTTPBackend(cfg HTTPBackendConfig, client *http.Client, logger *zap.SugaredLogger) *HTTPBackend {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	cfg.EndpointURL = strings.TrimRight(cfg.EndpointURL, "/")
	return &HTTPBackend{cfg: cfg, client: client, logger: logger}
}

func (b *HTTPBackend) RequestStart(ctx context.Context, key domain.SessionKey) (_ domain.JobID, err error) {
	ctx, span := tracing.TraceBackendRequest(ctx, "http", opStart, key.RoomName, "")
	defer func() { tracing.End(span, err) }()

	resp, err := b.post(ctx, opStart, b.cfg.StartPath, startRequest{RoomName: key.RoomName, Token: key.Token})
	if err != nil {
		return "", err
	}
	if resp.EgressID == "" {
		return "", domain.Rejected(opStart, http.StatusOK, "response has no egress_id")
	}
	if err := validation.ValidateJobID(resp.EgressID); err != nil {
		return "", domain.Rejected(opStart, http.StatusOK, err.Error())
	}

	b.logger.Debugw("Recording started", "room", key.RoomName, "job_id", resp.EgressID)
	return domain.JobID(resp.EgressID), nil
}

func (b *HTTPBackend) RequestStop(ctx context.Context, jobID domain.JobID) (err error) {
	ctx, span := tracing.TraceBackendRequest(ctx, "http", opStop, "", string(jobID))
	defer func() { tracing.End(span, err) }()

	if _, err := b.post(ctx, opStop, b.cfg.StopPath, stopRequest{EgressID: string(jobID)}); err != nil {
		return err
	}
	b.logger.Debugw("Recording stopped", "job_id", jobID)
	return nil
}

// post sends body and returns the decoded reply when it reports success.
// Failures are *domain.BackendError.
func (b *HTTPBackend) post(ctx context.Context, op, path string, body interface{}) (*backendResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.EndpointURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, domain.Unreachable(op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if b.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.AuthToken)
	}

	httpResp, err := b.client.Do(req)
	if err != nil {
		return nil, domain.Unreachable(op, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, domain.Unreachable(op, err)
	}

	ok2xx := httpResp.StatusCode >= 200 && httpResp.StatusCode < 300

	var resp backendResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		if !ok2xx {
			return nil, domain.Rejected(op, httpResp.StatusCode, rawReason(httpResp.StatusCode, raw))
		}
		// a 2xx we cannot read says nothing about the job
		return nil, domain.Unreachable(op, fmt.Errorf("http %d: undecodable response: %w", httpResp.StatusCode, err))
	}

	if !ok2xx || resp.Status != statusSuccess {
		return nil, domain.Rejected(op, httpResp.StatusCode, resp.reason())
	}
	return &resp, nil
}

// rawReason describes a non-JSON error reply, e.g. a proxy's HTML page.
func rawReason(code int, raw []byte) string {
	if body := utils.SanitizeString(string(raw)); body != "" {
		return utils.TruncateString(body, maxReasonLen)
	}
	return http.StatusText(code)
}
