package business

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/antinvestor/service-chama/service/models"
	"github.com/antinvestor/service-chama/service/repository"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PostgresSuite reruns the concurrency sensitive scenarios against a real
// postgres so row locks and unique constraints are exercised. Set
// CHAMA_INTEGRATION=1 with a docker daemon available.
type PostgresSuite struct {
	EngineSuite
	container testcontainers.Container
	db        *gorm.DB
}

func TestPostgresSuite(t *testing.T) {
	if os.Getenv("CHAMA_INTEGRATION") != "1" {
		t.Skip("set CHAMA_INTEGRATION=1 to run postgres integration tests")
	}
	suite.Run(t, new(PostgresSuite))
}

func (s *PostgresSuite) SetupSuite() {
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "chama",
				"POSTGRES_PASSWORD": "chama",
				"POSTGRES_DB":       "chama",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	s.Require().NoError(err)
	s.container = container

	host, err := container.Host(ctx)
	s.Require().NoError(err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	s.Require().NoError(err)

	dsn := fmt.Sprintf("postgres://chama:chama@%s:%s/chama?sslmode=disable", host, port.Port())
	s.db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	s.Require().NoError(err)
}

func (s *PostgresSuite) TearDownSuite() {
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *PostgresSuite) SetupTest() {
	s.Require().NoError(s.db.Migrator().DropTable(models.AllModels()...))
	s.Require().NoError(s.db.AutoMigrate(models.AllModels()...))
	s.setupWith(&gormStore{db: s.db})
}

func (s *PostgresSuite) TestConcurrentDeliveriesSettleOnce() {
	user := s.seedUser(false)
	loan := s.seedApprovedLoan(user.GetID(), 2000, testClock.AddDate(0, -1, 0))
	status := s.seedPending(user.GetID(), models.TransactionTypeLoanRepayment, 2600, strPtr(loan.GetID()))
	payload := s.successPayload(status.CheckoutRequestID, 2600, "PGRACE0001")

	const deliveries = 10
	kinds := make(chan OutcomeKind, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := s.engine.HandleCallback(s.ctx, payload)
			if err != nil {
				kinds <- OutcomeKind("error: " + err.Error())
				return
			}
			kinds <- outcome.Kind
		}()
	}
	wg.Wait()
	close(kinds)

	settled := 0
	for kind := range kinds {
		switch kind {
		case OutcomeSettled:
			settled++
		case OutcomeDuplicate:
		default:
			s.Failf("unexpected outcome", "%s", kind)
		}
	}
	s.Equal(1, settled)
	s.Len(s.loanPayments(loan.GetID()), 1)
	s.Len(s.overpayments(user.GetID()), 1)
	s.assertAmount(0, s.reloadLoan(loan.GetID()).UnpaidBalance, "unpaid balance")
}

func (s *PostgresSuite) TestContributionUniquePerMonth() {
	user := s.seedUser(false)
	first := &models.Contribution{UserID: user.GetID(), Month: models.MonthStart(testClock), Amount: amount(3000)}
	second := &models.Contribution{UserID: user.GetID(), Month: models.MonthStart(testClock), Amount: amount(3000)}

	s.Require().NoError(s.engine.contribution.Create(s.ctx, first))
	err := s.engine.contribution.Create(s.ctx, second)
	s.Require().Error(err)
	s.True(repository.IsUniqueViolation(err))
}

func (s *PostgresSuite) TestConcurrentAllocationsNeverOverdraw() {
	admin := s.seedUser(true)
	user := s.seedUser(false)
	status := s.seedPending(user.GetID(), models.TransactionTypeContribution, 3800, nil)
	outcome, err := s.engine.HandleCallback(s.ctx, s.successPayload(status.CheckoutRequestID, 3800, "PGALLOC001"))
	s.Require().NoError(err)
	s.Require().NotNil(outcome.Overpayment)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		loan := s.seedApprovedLoan(user.GetID(), 300, testClock.AddDate(0, 0, -i-1))
		wg.Add(1)
		go func(loanID string) {
			defer wg.Done()
			_, _ = s.engine.AllocateToLoan(s.ctx, outcome.Overpayment.GetID(), loanID, admin.GetID(), "")
		}(loan.GetID())
	}
	wg.Wait()

	reloaded, err := s.engine.overpayments.GetByID(s.ctx, outcome.Overpayment.GetID())
	s.Require().NoError(err)
	s.True(reloaded.Balanced())
	s.assertAmount(800, reloaded.AllocatedAmount.Add(reloaded.RemainingAmount), "allocated plus remaining")
	s.False(reloaded.RemainingAmount.IsNegative())
}
