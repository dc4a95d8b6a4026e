package handlers

import (
	"io"
	"net/http"
	"strings"
)

const maxCallbackBytes = 1 << 20

// callbackAck is the only response the gateway ever sees.
var callbackAck = map[string]any{"ResultCode": 0, "ResultDesc": "Accepted"}

// HandleMpesaCallback reconciles a gateway notification and acknowledges it
// whatever the outcome, so the gateway never redelivers.
func (cs *ChamaServer) HandleMpesaCallback(w http.ResponseWriter, r *http.Request) {
	logger := cs.logger(r, "CallbackHandler").
		WithField("remote_addr", r.RemoteAddr).
		WithField("user_agent", r.UserAgent())

	if !strings.Contains(strings.ToLower(r.UserAgent()), "safaricom") {
		logger.Warn("callback from unexpected user agent")
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes))
	if err != nil {
		logger.WithError(err).Error("could not read callback body")
		respondJSON(w, http.StatusOK, callbackAck)
		return
	}

	outcome, err := cs.Engine.HandleCallback(r.Context(), body)
	if err != nil {
		logger.WithError(err).Error("callback processing failed, payment left for the sweeper")
		respondJSON(w, http.StatusOK, callbackAck)
		return
	}

	logger.WithField("checkout_request_id", outcome.CheckoutRequestID).
		WithField("outcome", outcome.Kind).
		WithField("error_kind", outcome.Error).
		Info("callback processed")
	respondJSON(w, http.StatusOK, callbackAck)
}
