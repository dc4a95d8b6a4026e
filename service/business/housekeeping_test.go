package business

import (
	"testing"
	"time"

	"github.com/antinvestor/service-chama/service/models"
	"github.com/stretchr/testify/suite"
)

type HousekeepingSuite struct {
	EngineSuite
}

func TestHousekeepingSuite(t *testing.T) {
	suite.Run(t, new(HousekeepingSuite))
}

func (s *HousekeepingSuite) backdate(status *models.PaymentStatus, initiated time.Time) {
	s.patchStatus(status.GetID(), map[string]any{"initiated_at": initiated})
}

func (s *HousekeepingSuite) TestSweepTimesOutStalePending() {
	user := s.seedUser(false)
	stale := s.seedPending(user.GetID(), models.TransactionTypeContribution, 3000, nil)
	s.backdate(stale, testClock.Add(-11*time.Minute))
	fresh := s.seedPending(user.GetID(), models.TransactionTypeContribution, 3000, nil)
	s.backdate(fresh, testClock.Add(-2*time.Minute))

	count, err := s.engine.SweepTimeouts(s.ctx)
	s.Require().NoError(err)
	s.EqualValues(1, count)

	timedOut := s.reloadStatus(stale.GetID())
	s.Equal(models.PaymentStateTimeout, timedOut.Status)
	s.Equal("Transaction timed out", timedOut.FailureReason)
	s.Equal(models.PaymentStatePending, s.reloadStatus(fresh.GetID()).Status)

	outcome, err := s.engine.HandleCallback(s.ctx, s.successPayload(stale.CheckoutRequestID, 3000, "TOOLATE001"))
	s.Require().NoError(err)
	s.Equal(OutcomeDuplicate, outcome.Kind)
	s.Empty(s.contributions(user.GetID()))
}

func (s *HousekeepingSuite) TestPurgeRemovesOnlyOldTerminalRows() {
	user := s.seedUser(false)
	old := s.seedPending(user.GetID(), models.TransactionTypeContribution, 3000, nil)
	recent := s.seedPending(user.GetID(), models.TransactionTypeContribution, 3000, nil)
	open := s.seedPending(user.GetID(), models.TransactionTypeContribution, 3000, nil)

	for status, completed := range map[*models.PaymentStatus]time.Time{
		old:    testClock.AddDate(0, 0, -10),
		recent: testClock.AddDate(0, 0, -2),
	} {
		s.patchStatus(status.GetID(), map[string]any{"status": models.PaymentStateFailed, "completed_at": completed})
	}

	purged, err := s.engine.PurgeCompleted(s.ctx, 0)
	s.Require().NoError(err)
	s.EqualValues(1, purged)

	_, err = s.engine.statuses.GetByID(s.ctx, old.GetID())
	s.Error(err)
	s.reloadStatus(recent.GetID())
	s.reloadStatus(open.GetID())

	purged, err = s.engine.PurgeCompleted(s.ctx, 1)
	s.Require().NoError(err)
	s.EqualValues(1, purged)
	s.Equal(models.PaymentStatePending, s.reloadStatus(open.GetID()).Status)
}

func (s *HousekeepingSuite) TestRunHousekeepingReplaysBeforeSweeping() {
	user := s.seedUser(false)
	_, err := s.engine.HandleCallback(s.ctx, s.successPayload("ws_CO_LATELINK", 3000, "LATELINK01"))
	s.Require().NoError(err)

	status := s.seedPending(user.GetID(), models.TransactionTypeContribution, 3000, nil)
	s.backdate(status, testClock.Add(-30*time.Minute))
	s.Require().NoError(s.engine.statuses.UpdateCorrelation(s.ctx, status.GetID(), "ws_CO_LATELINK", "m-1"))

	report, err := s.engine.RunHousekeeping(s.ctx, true)
	s.Require().NoError(err)
	s.Equal(1, report.Replayed)
	s.Zero(report.TimedOut)
	s.Zero(report.Purged)
	s.Equal(models.PaymentStateSuccess, s.reloadStatus(status.GetID()).Status)
}

func (s *HousekeepingSuite) TestApproveAndRejectLoans() {
	admin := s.seedUser(true)
	member := s.seedUser(false)
	first := models.NewLoan(member.GetID(), amount(1000))
	second := models.NewLoan(member.GetID(), amount(2000))
	s.Require().NoError(s.engine.loans.Save(s.ctx, first))
	s.Require().NoError(s.engine.loans.Save(s.ctx, second))

	_, err := s.engine.ApproveLoan(s.ctx, first.GetID(), member.GetID())
	s.ErrorIs(err, ErrNotAdmin)

	approved, err := s.engine.ApproveLoan(s.ctx, first.GetID(), admin.GetID())
	s.Require().NoError(err)
	s.Equal(models.LoanStatusApproved, approved.Status)
	s.assertAmount(1050, approved.AmountDue, "amount due")
	s.assertAmount(1050, approved.UnpaidBalance, "unpaid balance")
	s.Require().NotNil(approved.DueDate)
	s.Equal(testClock.AddDate(0, 0, models.LoanTermDays), approved.DueDate.UTC())

	_, err = s.engine.ApproveLoan(s.ctx, first.GetID(), admin.GetID())
	s.ErrorIs(err, ErrLoanNotPending)

	rejected, err := s.engine.RejectLoan(s.ctx, second.GetID(), admin.GetID())
	s.Require().NoError(err)
	s.Equal(models.LoanStatusRejected, rejected.Status)

	_, err = s.engine.RejectLoan(s.ctx, "missing", admin.GetID())
	s.ErrorIs(err, ErrLoanNotFound)

	s.Subset(s.audit.actions(), []string{"loan.approved", "loan.rejected"})
}
