package business

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/antinvestor/service-chama/service/daraja"
	"github.com/antinvestor/service-chama/service/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// gormStore serves every handle from one database. With sqlite a single open
// connection serialises transactions the way row locks do on postgres.
type gormStore struct {
	db *gorm.DB
}

func (s *gormStore) DB(ctx context.Context, _ bool) *gorm.DB {
	return s.db.WithContext(ctx)
}

func newSQLiteStore(t *testing.T) *gormStore {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.AllModels()...))
	return &gormStore{db: db}
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (r *recordingAudit) Record(_ context.Context, entry AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *recordingAudit) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	actions := make([]string, 0, len(r.entries))
	for _, entry := range r.entries {
		actions = append(actions, entry.Action)
	}
	return actions
}

var testClock = time.Date(2026, time.March, 5, 10, 8, 9, 0, time.UTC)

func amount(value int64) decimal.Decimal {
	return decimal.NewFromInt(value)
}

// EngineSuite gives each test a fresh database, engine and gateway mock.
type EngineSuite struct {
	suite.Suite
	ctx     context.Context
	store   *gormStore
	gateway *daraja.MockClient
	audit   *recordingAudit
	engine  *Engine
	cfg     Config
}

func (s *EngineSuite) SetupTest() {
	s.setupWith(newSQLiteStore(s.T()))
}

func (s *EngineSuite) setupWith(store *gormStore) {
	s.ctx = context.Background()
	s.store = store
	s.gateway = &daraja.MockClient{}
	s.gateway.On("Configured").Return(true).Maybe()
	s.gateway.On("MissingSettings").Return(nil).Maybe()
	s.audit = &recordingAudit{}
	s.cfg = Config{
		ExpectedContribution:  amount(3000),
		PendingTimeout:        10 * time.Minute,
		RetentionDays:         7,
		SettlementMaxAttempts: 3,
		ConflictRetryInterval: time.Millisecond,
	}
	s.rebuildEngine()
}

func (s *EngineSuite) rebuildEngine() {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	s.engine = NewEngine(s.ctx, s.store, s.gateway, s.audit, s.cfg, logrus.NewEntry(log))
	s.engine.now = func() time.Time { return testClock }
}

func (s *EngineSuite) seedUser(admin bool) *models.User {
	user := &models.User{
		Username:    "member-" + uuid.NewString()[:8],
		FirstName:   "Wanjiru",
		LastName:    "Kamau",
		PhoneNumber: "0712345678",
		IsAdmin:     admin,
	}
	s.Require().NoError(s.engine.users.Save(s.ctx, user))
	return user
}

// seedApprovedLoan creates an interest free approved loan so its balance equals
// the principal.
func (s *EngineSuite) seedApprovedLoan(userID string, principal int64, borrowed time.Time) *models.Loan {
	loan := models.NewLoan(userID, amount(principal))
	loan.InterestRate = decimal.Zero
	s.Require().True(loan.Approve(borrowed))
	s.Require().NoError(s.engine.loans.Save(s.ctx, loan))
	return loan
}

func (s *EngineSuite) seedPending(userID, transactionType string, requested int64, loanID *string) *models.PaymentStatus {
	status := &models.PaymentStatus{
		CheckoutRequestID: "ws_CO_" + uuid.NewString()[:12],
		MerchantRequestID: "29115-34620561-1",
		UserID:            userID,
		TransactionType:   transactionType,
		Amount:            amount(requested),
		PhoneNumber:       "254712345678",
		Status:            models.PaymentStatePending,
		LoanID:            loanID,
		InitiatedAt:       testClock,
	}
	s.Require().NoError(s.engine.statuses.Create(s.ctx, status))
	return status
}

// patchStatus rewrites columns of a seeded row directly, without model hooks.
func (s *EngineSuite) patchStatus(id string, updates map[string]any) {
	result := s.store.db.Session(&gorm.Session{SkipHooks: true}).
		Model(&models.PaymentStatus{}).
		Where("id = ?", id).
		Updates(updates)
	s.Require().NoError(result.Error)
	s.Require().EqualValues(1, result.RowsAffected, "payment status %s not patched", id)
}

func (s *EngineSuite) successPayload(checkoutID string, paid int64, receipt string) []byte {
	return daraja.SimulatedCallback(checkoutID, "29115-34620561-1", true, amount(paid), receipt, "254712345678", testClock)
}

func (s *EngineSuite) reloadStatus(id string) *models.PaymentStatus {
	status, err := s.engine.statuses.GetByID(s.ctx, id)
	s.Require().NoError(err)
	return status
}

func (s *EngineSuite) reloadLoan(id string) *models.Loan {
	loan, err := s.engine.loans.GetByID(s.ctx, id)
	s.Require().NoError(err)
	return loan
}

func (s *EngineSuite) contributions(userID string) []*models.Contribution {
	rows, err := s.engine.contribution.ListByUser(s.ctx, userID)
	s.Require().NoError(err)
	return rows
}

func (s *EngineSuite) overpayments(userID string) []*models.Overpayment {
	rows, err := s.engine.overpayments.ListByUser(s.ctx, userID)
	s.Require().NoError(err)
	return rows
}

func (s *EngineSuite) loanPayments(loanID string) []*models.LoanPayment {
	rows, err := s.engine.loanPayments.ListByLoan(s.ctx, loanID)
	s.Require().NoError(err)
	return rows
}

func (s *EngineSuite) assertAmount(expected int64, actual decimal.Decimal, field string) {
	s.Truef(amount(expected).Equal(actual), "%s: expected %d, got %s", field, expected, actual.String())
}

func strPtr(v string) *string {
	return &v
}

var anyPush = mock.MatchedBy(func(daraja.PushRequest) bool { return true })
