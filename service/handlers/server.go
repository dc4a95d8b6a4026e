package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/antinvestor/service-chama/service/business"
	"github.com/sirupsen/logrus"
)

// CallerHeader carries the authenticated member id set by the upstream gateway.
const CallerHeader = "X-User-ID"

var errMissingCaller = errors.New("missing " + CallerHeader + " header")

type ChamaServer struct {
	Engine *business.Engine
	Log    *logrus.Entry
}

func NewChamaServer(engine *business.Engine, log *logrus.Entry) *ChamaServer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &ChamaServer{Engine: engine, Log: log}
}

func (cs *ChamaServer) logger(r *http.Request, handler string) *logrus.Entry {
	return cs.Log.WithContext(r.Context()).
		WithField("type", handler).
		WithField("path", r.URL.Path)
}

func caller(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get(CallerHeader))
	if id == "" {
		return "", errMissingCaller
	}
	return id, nil
}

func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (cs *ChamaServer) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	entry := cs.logger(r, "error").WithError(err).WithField("status", status)
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Info("request rejected")
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}
	respondJSON(w, status, map[string]string{"error": message})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, errMissingCaller):
		return http.StatusUnauthorized
	case errors.Is(err, business.ErrInvalidPaymentRequest),
		errors.Is(err, business.ErrInvalidAmount),
		errors.Is(err, business.ErrInvalidPhone),
		errors.Is(err, business.ErrUnknownTransactionType),
		errors.Is(err, business.ErrInvalidAllocationType):
		return http.StatusBadRequest
	case errors.Is(err, business.ErrNotAdmin),
		errors.Is(err, business.ErrUserSuspended),
		errors.Is(err, business.ErrLoanNotOwned),
		errors.Is(err, business.ErrTestModeOnly):
		return http.StatusForbidden
	case errors.Is(err, business.ErrUserNotFound),
		errors.Is(err, business.ErrLoanNotFound),
		errors.Is(err, business.ErrPaymentStatusNotFound),
		errors.Is(err, business.ErrOverpaymentNotFound),
		errors.Is(err, business.ErrUnmatchedNotFound):
		return http.StatusNotFound
	case errors.Is(err, business.ErrDuplicateContribution),
		errors.Is(err, business.ErrLoanNotApproved),
		errors.Is(err, business.ErrLoanNotPending),
		errors.Is(err, business.ErrLoanFullyPaid),
		errors.Is(err, business.ErrNoOutstandingLoan),
		errors.Is(err, business.ErrOverpaymentAllocated),
		errors.Is(err, business.ErrConcurrentUpdate):
		return http.StatusConflict
	case errors.Is(err, business.ErrPaymentInitiationFailed):
		return http.StatusBadGateway
	case errors.Is(err, business.ErrGatewayNotConfigured):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
