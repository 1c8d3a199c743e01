package service

import (
	"context"
	"errors"

	"certledger/internal/anchor"
	"certledger/pkg/domain"
	"certledger/pkg/platform/sentinel"
)

// AnchorIndex answers whether a certificate, or another record with the same
// content, already carries a ledger receipt.
type AnchorIndex struct {
	store Store
}

func NewAnchorIndex(store Store) *AnchorIndex {
	return &AnchorIndex{store: store}
}

func (i *AnchorIndex) FindAnchored(ctx context.Context, certID domain.CertificateID, contentHash string) (anchor.Receipt, bool, error) {
	cert, err := i.store.FindByID(ctx, certID)
	switch {
	case err == nil:
		if cert.IsAnchored() {
			return receiptOf(cert.AnchorRef), true, nil
		}
	case !errors.Is(err, sentinel.ErrNotFound):
		return anchor.Receipt{}, false, err
	}
	if contentHash == "" {
		return anchor.Receipt{}, false, nil
	}
	byHash, err := i.store.FindByContentHash(ctx, contentHash)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return anchor.Receipt{}, false, nil
		}
		return anchor.Receipt{}, false, err
	}
	if byHash.IsAnchored() {
		return receiptOf(byHash.AnchorRef), true, nil
	}
	return anchor.Receipt{}, false, nil
}
