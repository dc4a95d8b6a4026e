package business

import (
	"context"
	"errors"
	"time"

	"github.com/antinvestor/service-chama/service/daraja"
	"github.com/antinvestor/service-chama/service/models"
	"github.com/antinvestor/service-chama/service/repository"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/datatypes"
)

var errLostRace = errors.New("payment status left pending by another delivery")

// HandleCallback reconciles one raw gateway notification. Every expected
// outcome, including malformed and orphan callbacks, comes back as an Outcome
// with a nil error. The error is reserved for infrastructure failures.
func (e *Engine) HandleCallback(ctx context.Context, payload []byte) (*Outcome, error) {
	callback, err := daraja.ParseCallback(payload)
	if err != nil {
		kind := KindMalformedCallback
		if errors.Is(err, daraja.ErrMissingCorrelationID) {
			kind = KindMissingCorrelationID
		}
		e.log.WithError(err).WithField("error_kind", kind).Warn("discarding unusable callback")
		return e.finish(&Outcome{Kind: OutcomeInvalid, Error: kind, Reason: err.Error()}), nil
	}

	outcome, err := e.reconcile(ctx, callback, payload)
	if err != nil {
		callbacksTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	return e.finish(outcome), nil
}

func (e *Engine) finish(outcome *Outcome) *Outcome {
	callbacksTotal.WithLabelValues(string(outcome.Kind)).Inc()
	return outcome
}

func (e *Engine) reconcile(ctx context.Context, callback *daraja.StkCallback, payload []byte) (*Outcome, error) {
	logger := e.log.
		WithField("checkout_request_id", callback.CheckoutRequestID).
		WithField("merchant_request_id", callback.MerchantRequestID).
		WithField("result_code", callback.Code())

	status, err := e.statuses.GetByCheckoutID(ctx, callback.CheckoutRequestID)
	if err != nil {
		if repository.IsNotFound(err) {
			return e.recordOrphan(ctx, callback, payload)
		}
		return nil, err
	}

	outcome := &Outcome{
		CheckoutRequestID: status.CheckoutRequestID,
		PaymentStatusID:   status.GetID(),
		TransactionType:   status.TransactionType,
	}

	if status.IsTerminal() {
		logger.WithField("status", status.Status).Info("callback for completed payment, ignoring")
		outcome.Kind = OutcomeDuplicate
		return outcome, nil
	}

	if !callback.Succeeded() {
		now := e.now()
		updates := map[string]any{
			"status":         models.PaymentStateFailed,
			"failure_reason": callback.ResultDesc,
			"completed_at":   now,
		}
		if callback.MerchantRequestID != "" {
			updates["merchant_request_id"] = callback.MerchantRequestID
		}
		applied, err := e.statuses.CompleteIfPending(ctx, status.GetID(), updates)
		if err != nil {
			return nil, err
		}
		if !applied {
			outcome.Kind = OutcomeDuplicate
			return outcome, nil
		}
		logger.WithField("reason", callback.ResultDesc).Info("payment failed at gateway")
		outcome.Kind = OutcomeFailed
		outcome.Reason = callback.ResultDesc
		return outcome, nil
	}

	settlement, err := callback.Settlement()
	if err != nil {
		logger.WithError(err).Warn("successful callback without required metadata, leaving payment pending")
		outcome.Kind = OutcomeInvalid
		outcome.Error = KindIncompleteCallback
		outcome.Reason = err.Error()
		return outcome, nil
	}

	return e.settle(ctx, status, settlement)
}

// settle applies a confirmed payment and moves its status to success in a
// single transaction. A refusal rolls everything back and then records the
// reason on the status.
func (e *Engine) settle(ctx context.Context, status *models.PaymentStatus, settlement *daraja.Settlement) (*Outcome, error) {
	timer := prometheus.NewTimer(settlementDuration.WithLabelValues(status.TransactionType))
	defer timer.ObserveDuration()

	logger := e.log.
		WithField("checkout_request_id", status.CheckoutRequestID).
		WithField("transaction_type", status.TransactionType).
		WithField("receipt", settlement.MpesaReceiptNumber).
		WithField("amount", settlement.Amount.String())

	var outcome *Outcome
	err := e.inTransaction(ctx, func(ctx context.Context) error {
		outcome = nil
		locked, err := e.statuses.GetByCheckoutIDForUpdate(ctx, status.CheckoutRequestID)
		if err != nil {
			return err
		}
		if !locked.IsPending() {
			return errLostRace
		}

		result, err := e.applySettlement(ctx, locked, settlement)
		if err != nil {
			return err
		}

		updates := map[string]any{
			"status":               models.PaymentStateSuccess,
			"mpesa_receipt_number": settlement.MpesaReceiptNumber,
			"completed_at":         e.now(),
		}
		if settlement.MerchantRequestID != "" {
			updates["merchant_request_id"] = settlement.MerchantRequestID
		}
		if result.ContributionID != "" {
			updates["contribution_id"] = result.ContributionID
		}
		if result.LoanPaymentID != "" {
			updates["loan_payment_id"] = result.LoanPaymentID
			updates["loan_id"] = result.LoanID
		}

		applied, err := e.statuses.CompleteIfPending(ctx, locked.GetID(), updates)
		if err != nil {
			return err
		}
		if !applied {
			return errLostRace
		}
		outcome = result
		return nil
	})

	base := Outcome{
		CheckoutRequestID: status.CheckoutRequestID,
		PaymentStatusID:   status.GetID(),
		TransactionType:   status.TransactionType,
	}

	var refusal *SettlementError
	switch {
	case errors.Is(err, errLostRace):
		logger.Info("payment already settled by a concurrent delivery")
		base.Kind = OutcomeDuplicate
		return &base, nil
	case errors.As(err, &refusal):
		return e.rejectSettlement(ctx, status, settlement, refusal)
	case err != nil:
		logger.WithError(err).Error("settlement failed, payment left pending")
		return nil, err
	}

	outcome.Kind = OutcomeSettled
	outcome.CheckoutRequestID = base.CheckoutRequestID
	outcome.PaymentStatusID = base.PaymentStatusID
	outcome.TransactionType = base.TransactionType

	entry := logger.WithField("applied", outcome.AppliedAmount.String())
	if outcome.Overpayment != nil {
		overpaymentsTotal.WithLabelValues(outcome.Overpayment.OriginalPaymentType).Inc()
		entry = entry.WithField("overpayment", outcome.Overpayment.OverpaymentAmount.String())
	}
	entry.Info("payment settled")

	e.recordAudit(ctx, AuditEntry{
		ActorID:    SystemActor,
		Action:     "payment.settled",
		TargetType: "payment_status",
		TargetID:   status.GetID(),
		Before:     map[string]any{"status": models.PaymentStatePending},
		After: map[string]any{
			"status":          models.PaymentStateSuccess,
			"receipt":         settlement.MpesaReceiptNumber,
			"applied":         outcome.AppliedAmount.String(),
			"contribution_id": outcome.ContributionID,
			"loan_payment_id": outcome.LoanPaymentID,
			"loan_id":         outcome.LoanID,
		},
	})
	if outcome.Overpayment != nil {
		e.recordAudit(ctx, AuditEntry{
			ActorID:    SystemActor,
			Action:     "overpayment.created",
			TargetType: "overpayment",
			TargetID:   outcome.Overpayment.GetID(),
			After:      snapshot(outcome.Overpayment),
		})
	}
	return outcome, nil
}

func (e *Engine) rejectSettlement(ctx context.Context, status *models.PaymentStatus, settlement *daraja.Settlement, refusal *SettlementError) (*Outcome, error) {
	logger := e.log.
		WithField("checkout_request_id", status.CheckoutRequestID).
		WithField("receipt", settlement.MpesaReceiptNumber).
		WithField("error_kind", refusal.Kind)

	updates := map[string]any{
		"status":               models.PaymentStateFailed,
		"failure_reason":       "settlement refused: " + refusal.Err.Error(),
		"mpesa_receipt_number": settlement.MpesaReceiptNumber,
		"completed_at":         e.now(),
	}
	applied, err := e.statuses.CompleteIfPending(ctx, status.GetID(), updates)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{
		CheckoutRequestID: status.CheckoutRequestID,
		PaymentStatusID:   status.GetID(),
		TransactionType:   status.TransactionType,
	}
	if !applied {
		outcome.Kind = OutcomeDuplicate
		return outcome, nil
	}

	logger.WithError(refusal.Err).Warn("settlement refused, payment marked failed for manual review")
	outcome.Kind = OutcomeRejected
	outcome.Error = refusal.Kind
	outcome.Reason = refusal.Err.Error()

	e.recordAudit(ctx, AuditEntry{
		ActorID:    SystemActor,
		Action:     "payment.settlement_refused",
		TargetType: "payment_status",
		TargetID:   status.GetID(),
		Before:     map[string]any{"status": models.PaymentStatePending},
		After:      map[string]any{"status": models.PaymentStateFailed, "receipt": settlement.MpesaReceiptNumber},
		Details:    refusal.Error(),
	})
	return outcome, nil
}

// recordOrphan queues a successful but unattributable payment for manual
// reconciliation. Failed orphans are only logged.
func (e *Engine) recordOrphan(ctx context.Context, callback *daraja.StkCallback, payload []byte) (*Outcome, error) {
	orphanCallbacksTotal.Inc()
	logger := e.log.
		WithField("checkout_request_id", callback.CheckoutRequestID).
		WithField("result_code", callback.Code())

	outcome := &Outcome{Kind: OutcomeOrphan, CheckoutRequestID: callback.CheckoutRequestID}
	if !callback.Succeeded() {
		logger.Warn("orphan callback for failed payment")
		return outcome, nil
	}

	queued := &models.UnmatchedCallback{
		CheckoutRequestID: callback.CheckoutRequestID,
		MerchantRequestID: callback.MerchantRequestID,
		ResultCode:        callback.Code(),
		Payload:           datatypes.JSON(payload),
		Status:            models.UnmatchedQueued,
	}
	if settlement, err := callback.Settlement(); err == nil {
		queued.MpesaReceiptNumber = settlement.MpesaReceiptNumber
		queued.Amount = settlement.Amount
		queued.PhoneNumber = settlement.PhoneNumber
	}
	if err := e.unmatched.Save(ctx, queued); err != nil {
		return nil, err
	}

	logger.WithField("receipt", queued.MpesaReceiptNumber).
		WithField("unmatched_id", queued.GetID()).
		Warn("orphan callback queued for manual reconciliation")
	return outcome, nil
}

// RetryUnmatched replays queued orphan callbacks whose checkout id now
// resolves to a payment attempt.
func (e *Engine) RetryUnmatched(ctx context.Context) (int, error) {
	queued, err := e.unmatched.ListByStatus(ctx, models.UnmatchedQueued)
	if err != nil {
		return 0, err
	}
	resolved := 0
	for _, item := range queued {
		ok, err := e.replayUnmatched(ctx, item)
		if err != nil {
			e.log.WithError(err).WithField("unmatched_id", item.GetID()).Warn("could not replay unmatched callback")
			continue
		}
		if ok {
			resolved++
		}
	}
	return resolved, nil
}

func (e *Engine) retryUnmatchedFor(ctx context.Context, checkoutRequestID string) {
	queued, err := e.unmatched.ListByStatus(ctx, models.UnmatchedQueued)
	if err != nil {
		e.log.WithError(err).Warn("could not list unmatched callbacks")
		return
	}
	for _, item := range queued {
		if item.CheckoutRequestID != checkoutRequestID {
			continue
		}
		if _, err := e.replayUnmatched(ctx, item); err != nil {
			e.log.WithError(err).WithField("unmatched_id", item.GetID()).Warn("could not replay unmatched callback")
		}
	}
}

func (e *Engine) replayUnmatched(ctx context.Context, item *models.UnmatchedCallback) (bool, error) {
	status, err := e.statuses.GetByCheckoutID(ctx, item.CheckoutRequestID)
	if err != nil {
		if repository.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	callback, err := daraja.ParseCallback(item.Payload)
	if err != nil {
		return false, err
	}
	outcome, err := e.reconcile(ctx, callback, item.Payload)
	if err != nil {
		return false, err
	}
	if outcome.Kind == OutcomeOrphan || outcome.Kind == OutcomeInvalid {
		return false, nil
	}
	callbacksTotal.WithLabelValues(string(outcome.Kind)).Inc()

	now := e.now()
	item.Status = models.UnmatchedResolved
	item.ResolvedPaymentStatusID = status.GetID()
	item.ResolvedAt = &now
	if err := e.unmatched.Save(ctx, item); err != nil {
		return false, err
	}
	e.log.WithField("unmatched_id", item.GetID()).
		WithField("outcome", outcome.Kind).
		Info("unmatched callback reconciled")
	return true, nil
}

// ListUnmatched returns queued orphan callbacks.
func (e *Engine) ListUnmatched(ctx context.Context) ([]*models.UnmatchedCallback, error) {
	return e.unmatched.ListByStatus(ctx, models.UnmatchedQueued)
}

// DismissUnmatched closes a queued orphan after an admin has dealt with it
// outside the system.
func (e *Engine) DismissUnmatched(ctx context.Context, id, adminID, notes string) (*models.UnmatchedCallback, error) {
	if err := e.RequireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	item, err := e.unmatched.GetByID(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrUnmatchedNotFound
		}
		return nil, err
	}
	if item.Status != models.UnmatchedQueued {
		return item, nil
	}

	now := e.now()
	item.Status = models.UnmatchedDismissed
	item.ResolvedAt = &now
	if err := e.unmatched.Save(ctx, item); err != nil {
		return nil, err
	}
	e.recordAudit(ctx, AuditEntry{
		ActorID:    adminID,
		Action:     "unmatched.dismissed",
		TargetType: "unmatched_callback",
		TargetID:   item.GetID(),
		Before:     map[string]any{"status": models.UnmatchedQueued},
		After:      map[string]any{"status": models.UnmatchedDismissed},
		Details:    notes,
	})
	return item, nil
}

func monthOf(status *models.PaymentStatus, now time.Time) time.Time {
	if status.TargetMonth != nil && !status.TargetMonth.IsZero() {
		return models.MonthStart(*status.TargetMonth)
	}
	return models.MonthStart(now)
}
