//go:build integration

package storage_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"certledger/internal/anchor"
	ledgermemory "certledger/internal/anchor/ledger/memory"
	approval "certledger/internal/approval/models"
	approvalstore "certledger/internal/approval/store"
	"certledger/internal/audit"
	auditpostgres "certledger/internal/audit/store/postgres"
	certmodels "certledger/internal/certificate/models"
	certservice "certledger/internal/certificate/service"
	certstore "certledger/internal/certificate/store"
	revmodels "certledger/internal/revocation/models"
	revservice "certledger/internal/revocation/service"
	revstore "certledger/internal/revocation/store"
	"certledger/internal/storage"
	"certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/tx"
	"certledger/pkg/testutil/containers"
)

type PostgresSuite struct {
	suite.Suite
	pg           *containers.PostgresContainer
	ctx          context.Context
	certs        *certstore.PostgresStore
	certificates *certservice.Service
	revocations  *revservice.Service
}

func TestPostgresSuite(t *testing.T) {
	suite.Run(t, new(PostgresSuite))
}

func (s *PostgresSuite) SetupSuite() {
	s.ctx = context.Background()
	s.pg = containers.NewPostgresContainer(s.T())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.Require().NoError(storage.Migrate(s.ctx, s.pg.DB, logger))
	// a second run is a no-op
	s.Require().NoError(storage.Migrate(s.ctx, s.pg.DB, logger))

	runner := tx.NewSQLRunner(s.pg.DB)
	s.certs = certstore.NewPostgres(s.pg.DB)
	trail := audit.New(auditpostgres.New(s.pg.DB), audit.WithLogger(logger))
	anchorer := anchor.New(ledgermemory.New(),
		anchor.WithIndex(certservice.NewAnchorIndex(s.certs)),
		anchor.WithLogger(logger),
	)
	s.certificates = certservice.New(s.certs, approvalstore.NewPostgres(s.pg.DB), anchorer, trail,
		certservice.WithLogger(logger),
		certservice.WithTxRunner(runner),
	)
	s.revocations = revservice.New(revstore.NewPostgres(s.pg.DB), s.certs, anchorer, trail,
		revservice.WithLogger(logger),
		revservice.WithTxRunner(runner),
	)
}

func (s *PostgresSuite) SetupTest() {
	s.Require().NoError(s.pg.Truncate(s.ctx, "audit_entries", "revocations", "approval_queue", "certificates"))
}

func (s *PostgresSuite) submit(holderID string) *certmodels.Certificate {
	cert, err := s.certificates.Submit(s.ctx, domain.Actor{ID: "issuer-1", Role: domain.RoleIssuer}, certservice.SubmitCommand{
		Attributes: certmodels.Attributes{
			HolderID:       holderID,
			HolderName:     "Grace Hopper",
			IssuerID:       "CS",
			CredentialName: "CS101",
			Grade:          "A",
			IssueDate:      time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		},
		Content: []byte("transcript " + holderID),
	})
	s.Require().NoError(err)
	return cert
}

func (s *PostgresSuite) issue(holderID string) certmodels.Certificate {
	cert := s.submit(holderID)
	var result *certservice.ProcessResult
	for _, role := range []domain.Role{domain.RoleValidator, domain.RoleApprover, domain.RoleDepartmentHead} {
		var err error
		result, err = s.certificates.Process(s.ctx, domain.Actor{ID: domain.ActorID(role + "-1"), Role: role}, certservice.ProcessCommand{
			CertificateID: cert.ID,
			Decision:      approval.StepApproved,
		})
		s.Require().NoError(err)
	}
	s.Require().Equal(certmodels.StatusIssued, result.Certificate.Status)
	return result.Certificate
}

func (s *PostgresSuite) TestIssuanceIsPersistedAndLookupsResolve() {
	cert := s.issue("S1")

	byHash, err := s.certs.FindByContentHash(s.ctx, cert.ContentHash)
	s.Require().NoError(err)
	s.Equal(cert.ID, byHash.ID)

	s.Require().NotNil(cert.AnchorRef)
	byTx, err := s.certs.FindByTxID(s.ctx, cert.AnchorRef.TxID)
	s.Require().NoError(err)
	s.Equal(cert.ID, byTx.ID)

	result, err := s.certificates.Verify(s.ctx, cert.AnchorRef.TxID)
	s.Require().NoError(err)
	s.True(result.IsValid)

	history, err := s.certificates.History(s.ctx, cert.ID)
	s.Require().NoError(err)
	s.Require().NotEmpty(history)
	s.Equal(audit.ActionSubmitted, history[0].Action)
	s.Equal(audit.ActionIssued, history[len(history)-1].Action)
}

func (s *PostgresSuite) TestDuplicateContentIsRejected() {
	s.submit("S2")
	_, err := s.certificates.Submit(s.ctx, domain.Actor{ID: "issuer-1", Role: domain.RoleIssuer}, certservice.SubmitCommand{
		Attributes: certmodels.Attributes{
			HolderID:       "S2",
			HolderName:     "Grace Hopper",
			IssuerID:       "CS",
			CredentialName: "CS102",
			Grade:          "B",
			IssueDate:      time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		},
		Content: []byte("transcript S2"),
	})
	s.True(dErrors.HasCode(err, dErrors.CodeDuplicate))
}

func (s *PostgresSuite) TestRevocationRoundTrip() {
	cert := s.issue("S3")
	registrar := domain.Actor{ID: "reg-1", Role: domain.RoleRegistrar}

	record, err := s.revocations.Initiate(s.ctx, registrar, revservice.InitiateCommand{
		CertificateID: cert.ID,
		Reason:        revmodels.ReasonDataError,
		Description:   "grade recorded against the wrong module",
		Evidence:      []string{"ticket-1", "ticket-2"},
	})
	s.Require().NoError(err)

	_, err = s.revocations.Initiate(s.ctx, registrar, revservice.InitiateCommand{
		CertificateID: cert.ID,
		Reason:        revmodels.ReasonOther,
		Description:   "second attempt while the first is open",
	})
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	for _, actor := range []domain.Actor{
		{ID: "head-1", Role: domain.RoleDepartmentHead},
		registrar,
		{ID: "root-1", Role: domain.RoleSuperAdmin},
	} {
		record, err = s.revocations.Decide(s.ctx, actor, revservice.DecideCommand{
			RevocationID: record.ID,
			Decision:     approval.StepApproved,
		})
		s.Require().NoError(err)
	}
	s.Equal(revmodels.StatusApproved, record.Status())

	record, err = s.revocations.Execute(s.ctx, registrar, record.ID)
	s.Require().NoError(err)
	s.Equal(revmodels.StatusExecuted, record.Status())

	stored, err := s.revocations.Get(s.ctx, record.ID)
	s.Require().NoError(err)
	s.Equal([]string{"ticket-1", "ticket-2"}, stored.Evidence)
	s.Require().NotNil(stored.Execution)

	revoked, err := s.certs.FindByID(s.ctx, cert.ID)
	s.Require().NoError(err)
	s.Equal(certmodels.StatusRevoked, revoked.Status)
}
