package models

import (
	"time"

	"github.com/pitabwire/frame"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	TransactionTypeContribution  = "contribution"
	TransactionTypeLoanRepayment = "loan_repayment"

	PaymentStatePending = "pending"
	PaymentStateSuccess = "success"
	PaymentStateFailed  = "failed"
	PaymentStateTimeout = "timeout"

	LoanStatusPending  = "pending"
	LoanStatusApproved = "approved"
	LoanStatusRejected = "rejected"
	LoanStatusPaid     = "paid"

	OverpaymentStatusPending   = "pending"
	OverpaymentStatusAllocated = "allocated"

	AllocationFutureContribution = "future_contribution"
	AllocationLoanPayment        = "loan_payment"
	AllocationRefund             = "refund"

	OriginContribution = "contribution"
	OriginLoanPayment  = "loan_payment"

	PaymentMethodMobileMoney = "mpesa"
	PaymentMethodOverpayment = "overpayment"

	UnmatchedQueued    = "queued"
	UnmatchedResolved  = "resolved"
	UnmatchedDismissed = "dismissed"

	DefaultInterestRate = 5
	LoanTermDays        = 30
)

// User is a chama member. Totals are always summed from ledger rows.
type User struct {
	frame.BaseModel
	Username    string `gorm:"type:varchar(100);uniqueIndex"`
	FirstName   string `gorm:"type:varchar(100)"`
	LastName    string `gorm:"type:varchar(100)"`
	Email       string `gorm:"type:varchar(150)"`
	PhoneNumber string `gorm:"type:varchar(20)"`
	IsAdmin     bool
	Suspended   bool
}

func (model *User) FullName() string {
	return model.FirstName + " " + model.LastName
}

// Loan tracks principal, interest and repayments for one member loan.
type Loan struct {
	frame.BaseModel
	UserID        string          `gorm:"type:varchar(50);index"`
	Amount        decimal.Decimal `gorm:"type:numeric"`
	InterestRate  decimal.Decimal `gorm:"type:numeric"`
	AmountDue     decimal.Decimal `gorm:"type:numeric"`
	PaidAmount    decimal.Decimal `gorm:"type:numeric"`
	UnpaidBalance decimal.Decimal `gorm:"type:numeric"`
	Status        string          `gorm:"type:varchar(20);index"`
	BorrowedDate  *time.Time      `gorm:"index"`
	DueDate       *time.Time
	PaidDate      *time.Time
}

// NewLoan builds a pending loan application with its amounts calculated.
func NewLoan(userID string, amount decimal.Decimal) *Loan {
	loan := &Loan{
		UserID:       userID,
		Amount:       amount,
		InterestRate: decimal.NewFromInt(DefaultInterestRate),
		PaidAmount:   decimal.Zero,
		Status:       LoanStatusPending,
	}
	loan.Recalculate()
	return loan
}

// Recalculate derives amount due and unpaid balance from principal, rate and payments.
func (model *Loan) Recalculate() {
	interest := model.Amount.Mul(model.InterestRate).Div(decimal.NewFromInt(100))
	model.AmountDue = model.Amount.Add(interest).Round(2)
	model.UnpaidBalance = model.Outstanding()
}

// Outstanding is amount due less paid, floored at zero.
func (model *Loan) Outstanding() decimal.Decimal {
	balance := model.AmountDue.Sub(model.PaidAmount)
	if balance.IsNegative() {
		return decimal.Zero
	}
	return balance
}

// ApplyPayment credits amount to the loan and moves it to paid once cleared.
func (model *Loan) ApplyPayment(amount decimal.Decimal, at time.Time) {
	model.PaidAmount = model.PaidAmount.Add(amount)
	model.UnpaidBalance = model.Outstanding()
	if model.UnpaidBalance.IsZero() {
		model.Status = LoanStatusPaid
		model.PaidDate = &at
	}
}

func (model *Loan) Approve(at time.Time) bool {
	if model.Status != LoanStatusPending {
		return false
	}
	due := at.AddDate(0, 0, LoanTermDays)
	model.Status = LoanStatusApproved
	model.BorrowedDate = &at
	model.DueDate = &due
	model.Recalculate()
	return true
}

func (model *Loan) Reject() bool {
	if model.Status != LoanStatusPending {
		return false
	}
	model.Status = LoanStatusRejected
	return true
}

// AcceptsPayments reports whether the loan can be credited.
func (model *Loan) AcceptsPayments() bool {
	return model.Status == LoanStatusApproved && model.Outstanding().IsPositive()
}

// LoanPayment is an immutable record of one amount applied to one loan.
type LoanPayment struct {
	frame.BaseModel
	LoanID        string          `gorm:"type:varchar(50);index"`
	Amount        decimal.Decimal `gorm:"type:numeric"`
	PaymentDate   time.Time
	PaymentMethod string `gorm:"type:varchar(50)"`
	TransactionID string `gorm:"type:varchar(100)"`
}

// Contribution is one member's payment for a calendar month.
type Contribution struct {
	frame.BaseModel
	UserID        string          `gorm:"type:varchar(50);uniqueIndex:idx_contribution_user_month"`
	Month         time.Time       `gorm:"uniqueIndex:idx_contribution_user_month"`
	Amount        decimal.Decimal `gorm:"type:numeric"`
	PaymentMethod string          `gorm:"type:varchar(50)"`
	TransactionID string          `gorm:"type:varchar(100)"`
}

// MonthStart normalises t to the first day of its month at UTC midnight.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// PaymentStatus tracks one asynchronous STK push attempt from initiation to a
// terminal state.
type PaymentStatus struct {
	frame.BaseModel
	CheckoutRequestID  string          `gorm:"type:varchar(100);uniqueIndex"`
	MerchantRequestID  string          `gorm:"type:varchar(100)"`
	UserID             string          `gorm:"type:varchar(50);index"`
	TransactionType    string          `gorm:"type:varchar(20)"`
	Amount             decimal.Decimal `gorm:"type:numeric"`
	PhoneNumber        string          `gorm:"type:varchar(15)"`
	AccountReference   string          `gorm:"type:varchar(50)"`
	Status             string          `gorm:"type:varchar(20);index"`
	MpesaReceiptNumber string          `gorm:"type:varchar(50)"`
	FailureReason      string          `gorm:"type:text"`
	LoanID             *string         `gorm:"type:varchar(50)"`
	TargetMonth        *time.Time
	ContributionID     *string `gorm:"type:varchar(50)"`
	LoanPaymentID      *string `gorm:"type:varchar(50)"`
	InitiatedAt        time.Time `gorm:"index"`
	CompletedAt        *time.Time
}

func (model *PaymentStatus) IsPending() bool {
	return model.Status == PaymentStatePending
}

func (model *PaymentStatus) IsTerminal() bool {
	switch model.Status {
	case PaymentStateSuccess, PaymentStateFailed, PaymentStateTimeout:
		return true
	}
	return false
}

// Overpayment is the excess of a received payment over the amount expected
// for its ledger entry, held until an admin allocates it.
type Overpayment struct {
	frame.BaseModel
	UserID              string          `gorm:"type:varchar(50);index"`
	PaymentStatusID     string          `gorm:"type:varchar(50)"`
	OriginalPaymentType string          `gorm:"type:varchar(50)"`
	OriginalPaymentID   string          `gorm:"type:varchar(50)"`
	ExpectedAmount      decimal.Decimal `gorm:"type:numeric"`
	ActualAmount        decimal.Decimal `gorm:"type:numeric"`
	OverpaymentAmount   decimal.Decimal `gorm:"type:numeric"`
	AllocatedAmount     decimal.Decimal `gorm:"type:numeric"`
	RemainingAmount     decimal.Decimal `gorm:"type:numeric"`
	Status              string          `gorm:"type:varchar(20);index"`
	AllocationType      string          `gorm:"type:varchar(50)"`
	AllocationTargetID  string          `gorm:"type:varchar(50)"`
	AdminID             string          `gorm:"type:varchar(50)"`
	AdminNotes          string          `gorm:"type:text"`
	AllocatedAt         *time.Time
}

// NewOverpayment splits actual against expected. It returns nil when there is
// no excess.
func NewOverpayment(userID, origin string, expected, actual decimal.Decimal) *Overpayment {
	if !actual.GreaterThan(expected) {
		return nil
	}
	excess := actual.Sub(expected)
	return &Overpayment{
		UserID:              userID,
		OriginalPaymentType: origin,
		ExpectedAmount:      expected,
		ActualAmount:        actual,
		OverpaymentAmount:   excess,
		AllocatedAmount:     decimal.Zero,
		RemainingAmount:     excess,
		Status:              OverpaymentStatusPending,
	}
}

// Allocate moves amount from remaining to allocated and closes the record
// once nothing is left.
func (model *Overpayment) Allocate(amount decimal.Decimal, allocationType string, at time.Time) {
	model.AllocatedAmount = model.AllocatedAmount.Add(amount)
	model.RemainingAmount = model.RemainingAmount.Sub(amount)
	model.AllocationType = allocationType
	model.AllocatedAt = &at
	if !model.RemainingAmount.IsPositive() {
		model.RemainingAmount = decimal.Zero
		model.Status = OverpaymentStatusAllocated
	}
}

func (model *Overpayment) Balanced() bool {
	return model.AllocatedAmount.Add(model.RemainingAmount).Equal(model.OverpaymentAmount)
}

// UnmatchedCallback holds a successful gateway notification that could not be
// tied to any payment attempt. An admin resolves or dismisses it.
type UnmatchedCallback struct {
	frame.BaseModel
	CheckoutRequestID       string          `gorm:"type:varchar(100);index"`
	MerchantRequestID       string          `gorm:"type:varchar(100)"`
	ResultCode              int
	MpesaReceiptNumber      string          `gorm:"type:varchar(50)"`
	Amount                  decimal.Decimal `gorm:"type:numeric"`
	PhoneNumber             string          `gorm:"type:varchar(15)"`
	Payload                 datatypes.JSON
	Status                  string `gorm:"type:varchar(20);index"`
	ResolvedPaymentStatusID string `gorm:"type:varchar(50)"`
	ResolvedAt              *time.Time
}

// AuditLog is an append-only record of an admin or settlement action.
type AuditLog struct {
	frame.BaseModel
	ActorID    string `gorm:"type:varchar(50);index"`
	Action     string `gorm:"type:varchar(100)"`
	TargetType string `gorm:"type:varchar(50)"`
	TargetID   string `gorm:"type:varchar(50)"`
	Before     datatypes.JSONMap
	After      datatypes.JSONMap
	Details    string `gorm:"type:text"`
	OccurredAt time.Time
}

// AllModels lists every table for migration.
func AllModels() []any {
	return []any{
		&User{}, &Loan{}, &LoanPayment{}, &Contribution{},
		&PaymentStatus{}, &Overpayment{}, &UnmatchedCallback{}, &AuditLog{},
	}
}
