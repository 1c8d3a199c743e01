package anchor

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// AnchorRequest is the fixed-shape payload the ledger accepts.
type AnchorRequest struct {
	FixedWidthID    string `json:"fixed_width_id"`
	SubjectCode     string `json:"subject_code"`
	CredentialName  string `json:"credential_name"`
	Grade           string `json:"grade"`
	IssueDateEpoch  int64  `json:"issue_date_epoch"`
	ExpiryDateEpoch int64  `json:"expiry_date_epoch"`
	AuxiliaryRef    string `json:"auxiliary_ref"`
}

// Receipt is the ledger's confirmation of an anchored record.
type Receipt struct {
	TxID       string    `json:"tx_id"`
	BlockRef   string    `json:"block_ref"`
	FixedID    string    `json:"fixed_id"`
	AnchoredAt time.Time `json:"anchored_at"`
}

//go:generate mockgen -source=ledger.go -destination=mocks/ledger_mock.go -package=mocks

// LedgerClient is the external ledger capability. Implementations must not
// retry Submit on their own.
type LedgerClient interface {
	// EstimateCost returns the expected cost units for submitting req.
	EstimateCost(ctx context.Context, req AnchorRequest) (uint64, error)
	// Submit anchors req, spending at most costLimit.
	Submit(ctx context.Context, req AnchorRequest, costLimit uint64) (Receipt, error)
	// Lookup finds an existing anchor by its fixed-width identifier.
	Lookup(ctx context.Context, fixedID string) (Receipt, bool, error)
}

// ErrorCategory classifies ledger failures.
type ErrorCategory string

const (
	ErrorCostEstimation ErrorCategory = "cost_estimation"
	ErrorSubmission     ErrorCategory = "submission"
	ErrorTimeout        ErrorCategory = "timeout"
	ErrorLookup         ErrorCategory = "lookup"
	ErrorOutage         ErrorCategory = "outage"
	ErrorBadData        ErrorCategory = "bad_data"
)

// LedgerError wraps a ledger failure with its category.
type LedgerError struct {
	Category   ErrorCategory
	Message    string
	Underlying error
}

func (e *LedgerError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("ledger [%s]: %s: %v", e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("ledger [%s]: %s", e.Category, e.Message)
}

func (e *LedgerError) Unwrap() error {
	return e.Underlying
}

func NewLedgerError(category ErrorCategory, message string, underlying error) *LedgerError {
	return &LedgerError{Category: category, Message: message, Underlying: underlying}
}

// CategoryOf extracts the category from err, defaulting to submission.
func CategoryOf(err error) ErrorCategory {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	return ErrorSubmission
}
