package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/imrishuroy/go-payflow/internal/tokenizer"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HTTPGateway talks JSON to a remote payment provider.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewHTTPGateway builds a client with a per-call timeout and an outbound rate limit (rps <= 0 disables it).
func NewHTTPGateway(baseURL string, timeout time.Duration, rps float64, logger *zap.Logger) *HTTPGateway {
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = max(1, int(rps))
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

func (g *HTTPGateway) ProcessPayment(ctx context.Context, req PaymentRequest) (*PaymentResponse, error) {
	var out PaymentResponse
	if err := g.post(ctx, "/payments", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (g *HTTPGateway) TokenizeCard(ctx context.Context, card tokenizer.Card) (*TokenResponse, error) {
	var out TokenResponse
	if err := g.post(ctx, "/cards/tokenize", card, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (g *HTTPGateway) post(ctx context.Context, path string, in, out any) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limit wait: %v", ErrGatewayUnavailable, err)
	}
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrGatewayUnavailable, err)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		g.logger.Warn("gateway call failed", zap.String("path", path), zap.Int("status", resp.StatusCode))
		return fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("gateway rejected request: status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}
