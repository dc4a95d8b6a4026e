package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/antinvestor/service-chama/service/business"
	"github.com/gorilla/mux"
)

type allocateBody struct {
	AllocationType string `json:"allocation_type"`
	LoanID         string `json:"loan_id"`
	Notes          string `json:"notes"`
}

// decodeOptional accepts an empty body.
func decodeOptional(r *http.Request, target any) error {
	err := json.NewDecoder(r.Body).Decode(target)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("%w: %v", business.ErrInvalidPaymentRequest, err)
}

func (cs *ChamaServer) ListOverpayments(w http.ResponseWriter, r *http.Request) {
	adminID, err := caller(r)
	if err != nil {
		cs.respondError(w, r, err)
		return
	}
	overpayments, err := cs.Engine.ListOverpayments(r.Context(), adminID, r.URL.Query().Get("status"))
	if err != nil {
		cs.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"overpayments": overpayments})
}

func (cs *ChamaServer) AllocateOverpayment(w http.ResponseWriter, r *http.Request) {
	adminID, err := caller(r)
	if err != nil {
		cs.respondError(w, r, err)
		return
	}
	var body allocateBody
	if err := decodeOptional(r, &body); err != nil {
		cs.respondError(w, r, err)
		return
	}

	overpayment, err := cs.Engine.AllocateOverpayment(r.Context(), business.AllocationRequest{
		OverpaymentID:  mux.Vars(r)["id"],
		AdminID:        adminID,
		AllocationType: body.AllocationType,
		LoanID:         body.LoanID,
		Notes:          body.Notes,
	})
	if err != nil {
		cs.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, overpayment)
}

func (cs *ChamaServer) ApproveLoan(w http.ResponseWriter, r *http.Request) {
	adminID, err := caller(r)
	if err != nil {
		cs.respondError(w, r, err)
		return
	}
	loan, err := cs.Engine.ApproveLoan(r.Context(), mux.Vars(r)["id"], adminID)
	if err != nil {
		cs.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, loan)
}

func (cs *ChamaServer) RejectLoan(w http.ResponseWriter, r *http.Request) {
	adminID, err := caller(r)
	if err != nil {
		cs.respondError(w, r, err)
		return
	}
	loan, err := cs.Engine.RejectLoan(r.Context(), mux.Vars(r)["id"], adminID)
	if err != nil {
		cs.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, loan)
}

func (cs *ChamaServer) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	adminID, err := caller(r)
	if err == nil {
		err = cs.Engine.RequireAdmin(r.Context(), adminID)
	}
	if err != nil {
		cs.respondError(w, r, err)
		return false
	}
	return true
}

func (cs *ChamaServer) SweepPayments(w http.ResponseWriter, r *http.Request) {
	if !cs.requireAdmin(w, r) {
		return
	}
	report, err := cs.Engine.RunHousekeeping(r.Context(), false)
	if err != nil {
		cs.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"timed_out":          report.TimedOut,
		"unmatched_replayed": report.Replayed,
	})
}

func (cs *ChamaServer) CleanupPayments(w http.ResponseWriter, r *http.Request) {
	if !cs.requireAdmin(w, r) {
		return
	}
	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			cs.respondError(w, r, fmt.Errorf("%w: days must be a positive integer", business.ErrInvalidPaymentRequest))
			return
		}
		days = parsed
	}
	purged, err := cs.Engine.PurgeCompleted(r.Context(), days)
	if err != nil {
		cs.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"purged": purged})
}

func (cs *ChamaServer) ListUnmatched(w http.ResponseWriter, r *http.Request) {
	if !cs.requireAdmin(w, r) {
		return
	}
	items, err := cs.Engine.ListUnmatched(r.Context())
	if err != nil {
		cs.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"unmatched": items})
}

type dismissBody struct {
	Notes string `json:"notes"`
}

func (cs *ChamaServer) DismissUnmatched(w http.ResponseWriter, r *http.Request) {
	adminID, err := caller(r)
	if err != nil {
		cs.respondError(w, r, err)
		return
	}
	var body dismissBody
	if err := decodeOptional(r, &body); err != nil {
		cs.respondError(w, r, err)
		return
	}
	item, err := cs.Engine.DismissUnmatched(r.Context(), mux.Vars(r)["id"], adminID, body.Notes)
	if err != nil {
		cs.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}
