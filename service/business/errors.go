package business

import (
	"errors"

	"github.com/antinvestor/service-chama/service/daraja"
)

var (
	ErrInvalidPaymentRequest  = errors.New("invalid payment request")
	ErrInvalidAmount          = daraja.ErrInvalidAmount
	ErrInvalidPhone           = daraja.ErrInvalidPhone
	ErrUnknownTransactionType = errors.New("unknown transaction type")

	ErrUserNotFound  = errors.New("user does not exist")
	ErrUserSuspended = errors.New("user is suspended")
	ErrNotAdmin      = errors.New("caller is not an admin")

	ErrLoanNotFound      = errors.New("loan does not exist")
	ErrLoanNotOwned      = errors.New("loan does not belong to this user")
	ErrLoanNotApproved   = errors.New("loan is not approved for repayment")
	ErrLoanNotPending    = errors.New("loan is not pending")
	ErrLoanFullyPaid     = errors.New("loan is already fully paid")
	ErrNoOutstandingLoan = errors.New("user has no outstanding approved loan")

	ErrDuplicateContribution = errors.New("contribution already recorded for this month")

	ErrGatewayNotConfigured    = errors.New("payment gateway is not configured")
	ErrPaymentInitiationFailed = errors.New("payment initiation failed")
	ErrPaymentStatusNotFound   = errors.New("payment status does not exist")

	ErrOverpaymentNotFound   = errors.New("overpayment does not exist")
	ErrOverpaymentAllocated  = errors.New("overpayment has already been allocated")
	ErrInvalidAllocationType = errors.New("invalid allocation type")

	ErrUnmatchedNotFound = errors.New("unmatched callback does not exist")
	ErrTestModeOnly      = errors.New("only available in test mode")
	ErrConcurrentUpdate  = errors.New("concurrent update conflict, retry later")
)
