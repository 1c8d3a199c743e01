// Package memory is an in-process ledger used for local development and tests.
// Transaction ids are derived deterministically from the anchored identifier
// and blocks advance by one per submission.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	"certledger/internal/anchor"
)

// BaseCost is the estimate returned for every request.
const BaseCost uint64 = 50_000

type Ledger struct {
	mu      sync.Mutex
	anchors map[string]anchor.Receipt
	block   uint64
	now     func() time.Time

	submitCalls int
	lastLimit   uint64

	// failure injection
	estimateErr error
	submitErr   error
	// landThenFail stores the anchor but still returns submitErr, mimicking a
	// submission whose response was lost.
	landThenFail bool
	delay        time.Duration
}

func New() *Ledger {
	return &Ledger{
		anchors: make(map[string]anchor.Receipt),
		block:   1000,
		now:     time.Now,
	}
}

func (l *Ledger) EstimateCost(ctx context.Context, _ anchor.AnchorRequest) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.estimateErr != nil {
		return 0, l.estimateErr
	}
	return BaseCost, nil
}

func (l *Ledger) Submit(ctx context.Context, req anchor.AnchorRequest, costLimit uint64) (anchor.Receipt, error) {
	l.mu.Lock()
	delay := l.delay
	l.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return anchor.Receipt{}, ctx.Err()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.submitCalls++
	l.lastLimit = costLimit

	if l.submitErr != nil && !l.landThenFail {
		return anchor.Receipt{}, l.submitErr
	}
	if costLimit < BaseCost {
		return anchor.Receipt{}, anchor.NewLedgerError(anchor.ErrorSubmission, "cost limit below required cost", nil)
	}
	if existing, ok := l.anchors[req.FixedWidthID]; ok {
		return existing, nil
	}
	l.block++
	receipt := anchor.Receipt{
		TxID:       txID(req.FixedWidthID),
		BlockRef:   strconv.FormatUint(l.block, 10),
		FixedID:    req.FixedWidthID,
		AnchoredAt: l.now(),
	}
	l.anchors[req.FixedWidthID] = receipt
	if l.landThenFail {
		return anchor.Receipt{}, l.submitErr
	}
	return receipt, nil
}

func (l *Ledger) Lookup(ctx context.Context, fixedID string) (anchor.Receipt, bool, error) {
	if err := ctx.Err(); err != nil {
		return anchor.Receipt{}, false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.anchors[fixedID]
	return r, ok, nil
}

// FailEstimates makes EstimateCost return err (nil clears it).
func (l *Ledger) FailEstimates(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.estimateErr = err
}

// FailSubmissions makes Submit return err without anchoring (nil clears it).
func (l *Ledger) FailSubmissions(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.submitErr = err
	l.landThenFail = false
}

// LoseResponses makes Submit anchor the record and then return err.
func (l *Ledger) LoseResponses(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.submitErr = err
	l.landThenFail = err != nil
}

// SetDelay slows every submission down by d.
func (l *Ledger) SetDelay(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.delay = d
}

// SubmitCalls returns how many times Submit was invoked.
func (l *Ledger) SubmitCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.submitCalls
}

// LastCostLimit returns the cost limit of the most recent submission.
func (l *Ledger) LastCostLimit() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastLimit
}

func txID(fixedID string) string {
	sum := sha256.Sum256([]byte("tx:" + fixedID))
	return "0x" + hex.EncodeToString(sum[:])
}
