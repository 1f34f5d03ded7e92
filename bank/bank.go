// Package bank simulates the acquiring bank. Authorization outcomes are
// drawn from amount-tiered approval probabilities; the simulator stands in
// for a real settlement network behind the same interface.
package bank

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AuthRequest asks the bank to authorize a purchase.
type AuthRequest struct {
	TransactionID string
	MerchantID    string
	Amount        int64
	Currency      string
	Token         string
}

// RefundRequest asks the bank to return funds to the cardholder.
type RefundRequest struct {
	RefundID              string
	OriginalTransactionID string
	Amount                int64
}

// ChargebackRequest notifies the bank of a cardholder dispute.
type ChargebackRequest struct {
	ChargebackID          string
	OriginalTransactionID string
	Amount                int64
}

// Result is the bank's decision.
type Result struct {
	Approved          bool
	AuthorizationCode string
	DeclineReason     string
}

// Bank is the settlement interface called by the command consumer.
type Bank interface {
	Authorize(ctx context.Context, req AuthRequest) (Result, error)
	Refund(ctx context.Context, req RefundRequest) (Result, error)
	Chargeback(ctx context.Context, req ChargebackRequest) (Result, error)
}

// Approval tiers. Large purchases are declined more often.
const (
	highAmountThreshold    = 100000 // minor units
	approvalRateLow        = 0.9
	approvalRateHigh       = 0.5
	refundApprovalRate     = 0.95
	defaultMaxLatency      = 150 * time.Millisecond
)

var declineReasons = []string{
	"insufficient_funds",
	"invalid_card",
	"suspected_fraud",
	"card_expired",
	"exceeded_limit",
}

// Simulator implements Bank with randomized outcomes.
type Simulator struct {
	logger     *zap.Logger
	maxLatency time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// SimulatorOption configures a Simulator.
type SimulatorOption func(*Simulator)

// WithRand overrides the randomness source, pinning outcomes in tests.
func WithRand(rng *rand.Rand) SimulatorOption {
	return func(s *Simulator) {
		s.rng = rng
	}
}

// WithMaxLatency bounds the simulated processing delay.
func WithMaxLatency(d time.Duration) SimulatorOption {
	return func(s *Simulator) {
		s.maxLatency = d
	}
}

// NewSimulator creates a bank simulator.
func NewSimulator(logger *zap.Logger, opts ...SimulatorOption) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Simulator{
		logger:     logger,
		maxLatency: defaultMaxLatency,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Authorize implements Bank.
func (s *Simulator) Authorize(ctx context.Context, req AuthRequest) (Result, error) {
	if err := s.latency(ctx); err != nil {
		return Result{}, err
	}

	rate := approvalRateLow
	if req.Amount >= highAmountThreshold {
		rate = approvalRateHigh
	}

	res := s.decide(rate)
	s.logger.Info("Authorization decision",
		zap.String("transaction_id", req.TransactionID),
		zap.Int64("amount", req.Amount),
		zap.Bool("approved", res.Approved),
		zap.String("decline_reason", res.DeclineReason))
	return res, nil
}

// Refund implements Bank.
func (s *Simulator) Refund(ctx context.Context, req RefundRequest) (Result, error) {
	if err := s.latency(ctx); err != nil {
		return Result{}, err
	}

	res := s.decide(refundApprovalRate)
	s.logger.Info("Refund decision",
		zap.String("refund_id", req.RefundID),
		zap.Bool("approved", res.Approved))
	return res, nil
}

// Chargeback implements Bank. Disputes are always accepted.
func (s *Simulator) Chargeback(ctx context.Context, req ChargebackRequest) (Result, error) {
	if err := s.latency(ctx); err != nil {
		return Result{}, err
	}

	res := Result{Approved: true, AuthorizationCode: s.authCode()}
	s.logger.Info("Chargeback accepted",
		zap.String("chargeback_id", req.ChargebackID))
	return res, nil
}

func (s *Simulator) decide(approvalRate float64) Result {
	s.mu.Lock()
	roll := s.rng.Float64()
	reasonIdx := s.rng.Intn(len(declineReasons))
	s.mu.Unlock()

	if roll < approvalRate {
		return Result{Approved: true, AuthorizationCode: s.authCode()}
	}
	return Result{Approved: false, DeclineReason: declineReasons[reasonIdx]}
}

func (s *Simulator) authCode() string {
	s.mu.Lock()
	n := s.rng.Intn(1 << 20)
	s.mu.Unlock()
	return fmt.Sprintf("AUTH-%s-%05x", strconv.FormatInt(time.Now().Unix(), 36), n)
}

// latency sleeps for a random bounded delay, honoring ctx cancellation.
func (s *Simulator) latency(ctx context.Context) error {
	if s.maxLatency <= 0 {
		return nil
	}
	s.mu.Lock()
	d := time.Duration(s.rng.Int63n(int64(s.maxLatency)))
	s.mu.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
