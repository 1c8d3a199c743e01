package handler

import (
	"time"

	"certledger/internal/revocation/models"
)

type TierResponse struct {
	Status    string     `json:"status"`
	Actor     string     `json:"actor,omitempty"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
	Comments  string     `json:"comments,omitempty"`
}

type ExecutionResponse struct {
	TxID       string    `json:"tx_id"`
	BlockRef   string    `json:"block_ref"`
	FixedID    string    `json:"fixed_id"`
	ExecutedAt time.Time `json:"executed_at"`
	ExecutedBy string    `json:"executed_by"`
}

type AppealResponse struct {
	Grounds   string     `json:"grounds"`
	FiledBy   string     `json:"filed_by"`
	FiledAt   time.Time  `json:"filed_at"`
	Outcome   string     `json:"outcome"`
	DecidedBy string     `json:"decided_by,omitempty"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
	Comments  string     `json:"comments,omitempty"`
}

// RevocationResponse is the public shape of a revocation record.
type RevocationResponse struct {
	RevocationID  string                  `json:"revocation_id"`
	CertificateID string                  `json:"certificate_id"`
	Status        string                  `json:"status"`
	Reason        string                  `json:"reason"`
	Description   string                  `json:"description"`
	Evidence      []string                `json:"evidence,omitempty"`
	InitiatedBy   string                  `json:"initiated_by"`
	Tiers         map[string]TierResponse `json:"tiers"`
	Execution     *ExecutionResponse      `json:"execution,omitempty"`
	Appeal        *AppealResponse         `json:"appeal,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

type RevocationListResponse struct {
	CertificateID string                `json:"certificate_id"`
	Revocations   []*RevocationResponse `json:"revocations"`
}

func FromRecord(r *models.Record) *RevocationResponse {
	resp := &RevocationResponse{
		RevocationID:  r.ID.String(),
		CertificateID: r.CertificateID.String(),
		Status:        string(r.Status()),
		Reason:        string(r.Reason),
		Description:   r.Description,
		Evidence:      r.Evidence,
		InitiatedBy:   r.InitiatedBy.String(),
		Tiers:         make(map[string]TierResponse, len(models.Tiers)),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	for _, t := range models.Tiers {
		rec := r.Tier(t)
		resp.Tiers[string(t)] = TierResponse{
			Status:    string(rec.Status),
			Actor:     rec.Actor.String(),
			DecidedAt: rec.DecidedAt,
			Comments:  rec.Comments,
		}
	}
	if e := r.Execution; e != nil {
		resp.Execution = &ExecutionResponse{
			TxID:       e.TxID,
			BlockRef:   e.BlockRef,
			FixedID:    e.FixedID,
			ExecutedAt: e.ExecutedAt,
			ExecutedBy: e.ExecutedBy.String(),
		}
	}
	if a := r.Appeal; a != nil {
		resp.Appeal = &AppealResponse{
			Grounds:   a.Grounds,
			FiledBy:   a.FiledBy.String(),
			FiledAt:   a.FiledAt,
			Outcome:   string(a.Outcome),
			DecidedBy: a.DecidedBy.String(),
			DecidedAt: a.DecidedAt,
			Comments:  a.Comments,
		}
	}
	return resp
}

func FromRecords(certID string, records []models.Record) *RevocationListResponse {
	resp := &RevocationListResponse{
		CertificateID: certID,
		Revocations:   make([]*RevocationResponse, 0, len(records)),
	}
	for i := range records {
		resp.Revocations = append(resp.Revocations, FromRecord(&records[i]))
	}
	return resp
}
