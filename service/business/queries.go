package business

import (
	"context"
	"errors"
	"fmt"

	"github.com/antinvestor/service-chama/service/daraja"
	"github.com/antinvestor/service-chama/service/models"
	"github.com/antinvestor/service-chama/service/repository"
	"github.com/shopspring/decimal"
)

// GetPaymentStatus returns an attempt to its owner or to an admin. Anyone else
// gets ErrPaymentStatusNotFound.
func (e *Engine) GetPaymentStatus(ctx context.Context, checkoutRequestID, callerID string) (*models.PaymentStatus, error) {
	status, err := e.statuses.GetByCheckoutID(ctx, checkoutRequestID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrPaymentStatusNotFound
		}
		return nil, err
	}
	if status.UserID == callerID {
		return status, nil
	}
	if err := e.RequireAdmin(ctx, callerID); err != nil {
		if errors.Is(err, ErrNotAdmin) {
			return nil, ErrPaymentStatusNotFound
		}
		return nil, err
	}
	return status, nil
}

func (e *Engine) ListPendingPayments(ctx context.Context, userID string) ([]*models.PaymentStatus, error) {
	return e.statuses.ListPendingByUser(ctx, userID)
}

// SimulateRequest drives a fake gateway callback for a pending attempt.
type SimulateRequest struct {
	CheckoutRequestID string
	Success           bool
	// Amount defaults to the requested amount when zero.
	Amount  decimal.Decimal
	Receipt string
}

// SimulateCallback is only available in test mode.
func (e *Engine) SimulateCallback(ctx context.Context, request SimulateRequest) (*Outcome, error) {
	if !e.cfg.TestMode {
		return nil, ErrTestModeOnly
	}
	status, err := e.statuses.GetByCheckoutID(ctx, request.CheckoutRequestID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrPaymentStatusNotFound
		}
		return nil, err
	}

	amount := request.Amount
	if !amount.IsPositive() {
		amount = status.Amount
	}
	receipt := request.Receipt
	if receipt == "" {
		receipt = fmt.Sprintf("SIM%d", e.now().Unix())
	}

	payload := daraja.SimulatedCallback(status.CheckoutRequestID, status.MerchantRequestID,
		request.Success, amount, receipt, status.PhoneNumber, e.now())
	return e.HandleCallback(ctx, payload)
}
