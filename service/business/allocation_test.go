package business

import (
	"testing"

	"github.com/antinvestor/service-chama/service/models"
	"github.com/stretchr/testify/suite"
)

type AllocationSuite struct {
	EngineSuite
	admin *models.User
}

func TestAllocationSuite(t *testing.T) {
	suite.Run(t, new(AllocationSuite))
}

func (s *AllocationSuite) SetupTest() {
	s.EngineSuite.SetupTest()
	s.admin = s.seedUser(true)
}

// overpaidContribution settles a contribution of paid and returns the excess.
func (s *AllocationSuite) overpaidContribution(user *models.User, paid int64) *models.Overpayment {
	status := s.seedPending(user.GetID(), models.TransactionTypeContribution, paid, nil)
	outcome, err := s.engine.HandleCallback(s.ctx, s.successPayload(status.CheckoutRequestID, paid, "OVER"+status.CheckoutRequestID[6:12]))
	s.Require().NoError(err)
	s.Require().NotNil(outcome.Overpayment)
	return outcome.Overpayment
}

func (s *AllocationSuite) TestFutureContributionAllocatesEverything() {
	user := s.seedUser(false)
	overpayment := s.overpaidContribution(user, 3500)

	allocated, err := s.engine.AllocateToFutureContribution(s.ctx, overpayment.GetID(), s.admin.GetID(), "carry to April")
	s.Require().NoError(err)
	s.Equal(models.OverpaymentStatusAllocated, allocated.Status)
	s.Equal(models.AllocationFutureContribution, allocated.AllocationType)
	s.assertAmount(500, allocated.AllocatedAmount, "allocated")
	s.assertAmount(0, allocated.RemainingAmount, "remaining")
	s.Equal(s.admin.GetID(), allocated.AdminID)
	s.Equal("carry to April", allocated.AdminNotes)
	s.NotNil(allocated.AllocatedAt)
	s.True(allocated.Balanced())
	s.Contains(s.audit.actions(), "overpayment.allocated")

	_, err = s.engine.AllocateToFutureContribution(s.ctx, overpayment.GetID(), s.admin.GetID(), "")
	s.ErrorIs(err, ErrOverpaymentAllocated)
}

func (s *AllocationSuite) TestRefundAllocatesEverything() {
	user := s.seedUser(false)
	overpayment := s.overpaidContribution(user, 4200)

	allocated, err := s.engine.AllocateOverpayment(s.ctx, AllocationRequest{
		OverpaymentID:  overpayment.GetID(),
		AdminID:        s.admin.GetID(),
		AllocationType: models.AllocationRefund,
	})
	s.Require().NoError(err)
	s.Equal(models.OverpaymentStatusAllocated, allocated.Status)
	s.assertAmount(1200, allocated.AllocatedAmount, "allocated")
}

func (s *AllocationSuite) TestLoanAllocationIsBoundedByBalance() {
	user := s.seedUser(false)
	overpayment := s.overpaidContribution(user, 4000)
	loan := s.seedApprovedLoan(user.GetID(), 300, testClock.AddDate(0, 0, -5))

	allocated, err := s.engine.AllocateToLoan(s.ctx, overpayment.GetID(), loan.GetID(), s.admin.GetID(), "")
	s.Require().NoError(err)
	s.assertAmount(300, allocated.AllocatedAmount, "allocated")
	s.assertAmount(700, allocated.RemainingAmount, "remaining")
	s.Equal(models.OverpaymentStatusPending, allocated.Status)
	s.Equal(loan.GetID(), allocated.AllocationTargetID)
	s.True(allocated.Balanced())

	reloaded := s.reloadLoan(loan.GetID())
	s.Equal(models.LoanStatusPaid, reloaded.Status)
	s.assertAmount(0, reloaded.UnpaidBalance, "unpaid balance")

	payments := s.loanPayments(loan.GetID())
	s.Require().Len(payments, 1)
	s.assertAmount(300, payments[0].Amount, "loan payment")
	s.Equal(models.PaymentMethodOverpayment, payments[0].PaymentMethod)
	s.Equal("OVP-"+overpayment.GetID(), payments[0].TransactionID)

	_, err = s.engine.AllocateToLoan(s.ctx, overpayment.GetID(), loan.GetID(), s.admin.GetID(), "")
	s.ErrorIs(err, ErrLoanNotApproved)

	rest, err := s.engine.AllocateToFutureContribution(s.ctx, overpayment.GetID(), s.admin.GetID(), "")
	s.Require().NoError(err)
	s.assertAmount(1000, rest.AllocatedAmount, "allocated")
	s.Equal(models.OverpaymentStatusAllocated, rest.Status)
}

func (s *AllocationSuite) TestLoanAllocationFullyCoveredByBalance() {
	user := s.seedUser(false)
	overpayment := s.overpaidContribution(user, 3500)
	loan := s.seedApprovedLoan(user.GetID(), 2000, testClock.AddDate(0, 0, -5))

	allocated, err := s.engine.AllocateToLoan(s.ctx, overpayment.GetID(), loan.GetID(), s.admin.GetID(), "")
	s.Require().NoError(err)
	s.Equal(models.OverpaymentStatusAllocated, allocated.Status)
	s.assertAmount(1500, s.reloadLoan(loan.GetID()).UnpaidBalance, "unpaid balance")
}

func (s *AllocationSuite) TestLoanAllocationRefusals() {
	user := s.seedUser(false)
	other := s.seedUser(false)
	overpayment := s.overpaidContribution(user, 3500)
	foreign := s.seedApprovedLoan(other.GetID(), 1000, testClock.AddDate(0, 0, -5))
	pending := models.NewLoan(user.GetID(), amount(1000))
	s.Require().NoError(s.engine.loans.Save(s.ctx, pending))

	tests := []struct {
		name   string
		loanID string
		err    error
	}{
		{name: "wrong owner", loanID: foreign.GetID(), err: ErrLoanNotOwned},
		{name: "not approved", loanID: pending.GetID(), err: ErrLoanNotApproved},
		{name: "missing loan", loanID: "no-such-loan", err: ErrLoanNotFound},
		{name: "no loan id", loanID: "", err: ErrInvalidPaymentRequest},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.engine.AllocateToLoan(s.ctx, overpayment.GetID(), tt.loanID, s.admin.GetID(), "")
			s.ErrorIs(err, tt.err)
		})
	}

	reloaded, err := s.engine.overpayments.GetByID(s.ctx, overpayment.GetID())
	s.Require().NoError(err)
	s.assertAmount(500, reloaded.RemainingAmount, "remaining")
	s.Empty(s.loanPayments(foreign.GetID()))
}

func (s *AllocationSuite) TestAllocationRequiresAdmin() {
	user := s.seedUser(false)
	overpayment := s.overpaidContribution(user, 3500)

	_, err := s.engine.AllocateToFutureContribution(s.ctx, overpayment.GetID(), user.GetID(), "")
	s.ErrorIs(err, ErrNotAdmin)

	_, err = s.engine.AllocateToFutureContribution(s.ctx, overpayment.GetID(), "nobody", "")
	s.ErrorIs(err, ErrNotAdmin)

	_, err = s.engine.ListOverpayments(s.ctx, user.GetID(), "")
	s.ErrorIs(err, ErrNotAdmin)
}

func (s *AllocationSuite) TestAllocationValidation() {
	user := s.seedUser(false)
	overpayment := s.overpaidContribution(user, 3500)

	_, err := s.engine.AllocateOverpayment(s.ctx, AllocationRequest{
		OverpaymentID:  overpayment.GetID(),
		AdminID:        s.admin.GetID(),
		AllocationType: "charity",
	})
	s.ErrorIs(err, ErrInvalidAllocationType)

	_, err = s.engine.AllocateToFutureContribution(s.ctx, "missing", s.admin.GetID(), "")
	s.ErrorIs(err, ErrOverpaymentNotFound)
}

func (s *AllocationSuite) TestListOverpayments() {
	user := s.seedUser(false)
	first := s.overpaidContribution(user, 3500)
	s.Require().NoError(s.store.db.Unscoped().Delete(&models.Contribution{}, "user_id = ?", user.GetID()).Error)
	s.overpaidContribution(user, 3100)

	_, err := s.engine.AllocateToFutureContribution(s.ctx, first.GetID(), s.admin.GetID(), "")
	s.Require().NoError(err)

	pending, err := s.engine.ListOverpayments(s.ctx, s.admin.GetID(), models.OverpaymentStatusPending)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.assertAmount(100, pending[0].RemainingAmount, "remaining")

	all, err := s.engine.ListOverpayments(s.ctx, s.admin.GetID(), "")
	s.Require().NoError(err)
	s.Len(all, 2)
}
