package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/antinvestor/service-chama/service/business"
	"github.com/antinvestor/service-chama/service/models"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

type initiateBody struct {
	Amount      decimal.Decimal `json:"amount"`
	PhoneNumber string          `json:"phone_number"`
	LoanID      string          `json:"loan_id"`
	Month       string          `json:"month"`
}

type initiateResponse struct {
	Success           bool             `json:"success"`
	Message           string           `json:"message"`
	CheckoutRequestID string           `json:"checkout_request_id"`
	MerchantRequestID string           `json:"merchant_request_id"`
	Amount            decimal.Decimal  `json:"amount"`
	PhoneNumber       string           `json:"phone_number"`
	LoanID            string           `json:"loan_id,omitempty"`
	RemainingBalance  *decimal.Decimal `json:"remaining_balance,omitempty"`
	Outcome           string           `json:"outcome,omitempty"`
}

func (cs *ChamaServer) InitiateContribution(w http.ResponseWriter, r *http.Request) {
	cs.initiate(w, r, models.TransactionTypeContribution)
}

func (cs *ChamaServer) InitiateLoanRepayment(w http.ResponseWriter, r *http.Request) {
	cs.initiate(w, r, models.TransactionTypeLoanRepayment)
}

func (cs *ChamaServer) initiate(w http.ResponseWriter, r *http.Request, transactionType string) {
	userID, err := caller(r)
	if err != nil {
		cs.respondError(w, r, err)
		return
	}

	var body initiateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		cs.respondError(w, r, fmt.Errorf("%w: %v", business.ErrInvalidPaymentRequest, err))
		return
	}

	result, err := cs.Engine.InitiatePayment(r.Context(), business.InitiateRequest{
		UserID:          userID,
		Amount:          body.Amount,
		PhoneNumber:     body.PhoneNumber,
		TransactionType: transactionType,
		LoanID:          body.LoanID,
		Month:           body.Month,
	})
	if err != nil {
		cs.respondError(w, r, err)
		return
	}

	message := result.Message
	if message == "" {
		message = "Payment request sent. Check your phone to complete the payment."
	}
	response := initiateResponse{
		Success:           true,
		Message:           message,
		CheckoutRequestID: result.CheckoutRequestID,
		MerchantRequestID: result.MerchantRequestID,
		Amount:            result.Amount,
		PhoneNumber:       result.PhoneNumber,
		LoanID:            result.LoanID,
		RemainingBalance:  result.RemainingBalance,
	}
	if result.Settlement != nil {
		response.Outcome = string(result.Settlement.Kind)
	}
	respondJSON(w, http.StatusOK, response)
}

type paymentStatusResponse struct {
	CheckoutRequestID  string          `json:"checkout_request_id"`
	TransactionType    string          `json:"transaction_type"`
	Amount             decimal.Decimal `json:"amount"`
	Status             string          `json:"status"`
	MpesaReceiptNumber string          `json:"mpesa_receipt_number,omitempty"`
	FailureReason      string          `json:"failure_reason,omitempty"`
	LoanID             *string         `json:"loan_id,omitempty"`
	InitiatedAt        string          `json:"initiated_at"`
	CompletedAt        string          `json:"completed_at,omitempty"`
}

func toStatusResponse(status *models.PaymentStatus) paymentStatusResponse {
	response := paymentStatusResponse{
		CheckoutRequestID:  status.CheckoutRequestID,
		TransactionType:    status.TransactionType,
		Amount:             status.Amount,
		Status:             status.Status,
		MpesaReceiptNumber: status.MpesaReceiptNumber,
		FailureReason:      status.FailureReason,
		LoanID:             status.LoanID,
		InitiatedAt:        status.InitiatedAt.UTC().Format(timeLayout),
	}
	if status.CompletedAt != nil {
		response.CompletedAt = status.CompletedAt.UTC().Format(timeLayout)
	}
	return response
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

func (cs *ChamaServer) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := caller(r)
	if err != nil {
		cs.respondError(w, r, err)
		return
	}
	status, err := cs.Engine.GetPaymentStatus(r.Context(), mux.Vars(r)["checkout_request_id"], userID)
	if err != nil {
		cs.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toStatusResponse(status))
}

func (cs *ChamaServer) PendingPayments(w http.ResponseWriter, r *http.Request) {
	userID, err := caller(r)
	if err != nil {
		cs.respondError(w, r, err)
		return
	}
	statuses, err := cs.Engine.ListPendingPayments(r.Context(), userID)
	if err != nil {
		cs.respondError(w, r, err)
		return
	}
	response := make([]paymentStatusResponse, 0, len(statuses))
	for _, status := range statuses {
		response = append(response, toStatusResponse(status))
	}
	respondJSON(w, http.StatusOK, map[string]any{"payments": response})
}

func (cs *ChamaServer) ConfigStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, cs.Engine.ConfigStatus())
}

type simulateBody struct {
	CheckoutRequestID string          `json:"checkout_request_id"`
	Success           *bool           `json:"success"`
	Amount            decimal.Decimal `json:"amount"`
	Receipt           string          `json:"receipt"`
}

func (cs *ChamaServer) SimulateCallback(w http.ResponseWriter, r *http.Request) {
	var body simulateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.CheckoutRequestID == "" {
		cs.respondError(w, r, fmt.Errorf("%w: checkout_request_id is required", business.ErrInvalidPaymentRequest))
		return
	}
	success := true
	if body.Success != nil {
		success = *body.Success
	}

	outcome, err := cs.Engine.SimulateCallback(r.Context(), business.SimulateRequest{
		CheckoutRequestID: body.CheckoutRequestID,
		Success:           success,
		Amount:            body.Amount,
		Receipt:           body.Receipt,
	})
	if err != nil {
		cs.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"outcome": outcome.Kind,
		"error":   outcome.Error,
		"reason":  outcome.Reason,
	})
}
