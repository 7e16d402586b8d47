package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/imrishuroy/go-payflow/internal/orders"
	"github.com/imrishuroy/go-payflow/internal/tokenizer"
	"go.uber.org/zap"
)

const MockGatewayID = "MOCK_GATEWAY_001"

// DefaultFailureRate is the share of card-network calls that fail randomly.
const DefaultFailureRate = 0.2

// Card number suffix decides the outcome. Unknown suffixes are ERROR.
var statusRules = map[string]string{
	"00": orders.StatusError,
	"01": orders.StatusDenied,
	"02": orders.StatusFailed,
	"03": orders.StatusCanceled,
	"04": orders.StatusPaid,
}

// Card number prefix decides the latency. Unknown prefixes are delayed.
var immediatePrefixes = map[string]bool{"40": true}

const (
	minNetworkDelay = 10 * time.Millisecond
	maxNetworkDelay = 20 * time.Second
)

// MockGateway simulates a card network behind the tokenizer.
type MockGateway struct {
	tokens      *tokenizer.Tokenizer
	logger      *zap.Logger
	failureRate float64

	nowFunc func() time.Time
	rnd     func() float64
	sleep   func(ctx context.Context, d time.Duration) error
}

type MockOption func(*MockGateway)

// WithFailureRate overrides DefaultFailureRate. Zero disables random failures.
func WithFailureRate(rate float64) MockOption {
	return func(g *MockGateway) { g.failureRate = rate }
}

// WithRand replaces the random source, which drives both delay and failures.
func WithRand(rnd func() float64) MockOption {
	return func(g *MockGateway) { g.rnd = rnd }
}

// WithSleep replaces the network delay.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) MockOption {
	return func(g *MockGateway) { g.sleep = sleep }
}

func NewMockGateway(tokens *tokenizer.Tokenizer, logger *zap.Logger, opts ...MockOption) *MockGateway {
	g := &MockGateway{
		tokens:      tokens,
		logger:      logger,
		failureRate: DefaultFailureRate,
		nowFunc:     time.Now,
		rnd:         rand.Float64,
		sleep:       sleepContext,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *MockGateway) TokenizeCard(ctx context.Context, card tokenizer.Card) (*TokenResponse, error) {
	token, err := g.tokens.Tokenize(card)
	if err != nil {
		return nil, err
	}
	return &TokenResponse{Token: token}, nil
}

func (g *MockGateway) ProcessPayment(ctx context.Context, req PaymentRequest) (*PaymentResponse, error) {
	card, err := g.tokens.Detokenize(req.CardToken)
	if err != nil {
		return nil, fmt.Errorf("detokenize card: %w", err)
	}

	number := card.Number
	end, start := suffix(number), prefix(number)
	status, ok := statusRules[end]
	if !ok {
		status = orders.StatusError
	}
	delayed := !immediatePrefixes[start]

	log := g.logger.With(zap.String("orderId", req.OrderID), zap.String("cardLast4", card.Last4()))
	log.Info("card network request",
		zap.String("expectedStatus", status),
		zap.Bool("delayed", delayed),
	)

	if delayed {
		d := minNetworkDelay + time.Duration(g.rnd()*float64(maxNetworkDelay))
		log.Info("card network delayed", zap.Duration("delay", d))
		if err := g.sleep(ctx, d); err != nil {
			return nil, err
		}
	}

	if g.rnd() < g.failureRate {
		log.Info("card network failing randomly")
		return nil, fmt.Errorf("%w: fail randomly", ErrGatewayUnavailable)
	}

	resp := &PaymentResponse{
		PaymentID: g.paymentID(),
		GatewayID: MockGatewayID,
		Status:    status,
	}
	when := "no delay"
	if delayed {
		when = "delay"
	}
	resp.Message = fmt.Sprintf("Card status %s because card ends with %s. With %s.", status, end, when)
	if status != orders.StatusPaid {
		resp.DenialReason = resp.Message
	}
	return resp, nil
}

func (g *MockGateway) paymentID() string {
	n := uint64(g.rnd() * float64(1<<53))
	return fmt.Sprintf("PAY_%d_%s", g.nowFunc().UnixMilli(), strconv.FormatUint(n, 36))
}

func suffix(s string) string {
	if len(s) < 2 {
		return s
	}
	return s[len(s)-2:]
}

func prefix(s string) string {
	if len(s) < 2 {
		return s
	}
	return s[:2]
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
