package daraja

import (
	"encoding/json"
	"strconv"
	"strings"
)

const (
	TransactionTypePayBill = "CustomerPayBillOnline"

	ResponseCodeAccepted = "0"
	ResultCodeSuccess    = 0
	ResultCodeCancelled  = 1032

	MaxAccountReferenceLen = 12
	MaxDescriptionLen      = 20
)

// AuthResponse is the client credentials exchange result. Daraja sends
// expires_in as a quoted number.
type AuthResponse struct {
	AccessToken string          `json:"access_token"`
	ExpiresIn   json.RawMessage `json:"expires_in"`
}

func (r AuthResponse) ExpiresInSeconds() int64 {
	value, ok := rawScalar(r.ExpiresIn)
	if !ok {
		return 0
	}
	seconds, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return seconds
}

// PushRequest is what callers hand to the client.
type PushRequest struct {
	PhoneNumber      string
	Amount           int64
	AccountReference string
	Description      string
}

// STKPushRequest is the Lipa na M-Pesa online wire request.
type STKPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// STKPushResponse is the synchronous acknowledgement of an STK push.
type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

func (r *STKPushResponse) Accepted() bool {
	return r.ResponseCode == ResponseCodeAccepted
}

// ErrorResponse is the body Daraja returns with 4xx and 5xx statuses.
type ErrorResponse struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}

// rawScalar renders a JSON string or number as text.
func rawScalar(raw json.RawMessage) (string, bool) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "", false
	}
	if strings.HasPrefix(trimmed, `"`) {
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			return "", false
		}
		value = strings.TrimSpace(value)
		return value, value != ""
	}
	var number json.Number
	if err := json.Unmarshal(raw, &number); err != nil {
		return "", false
	}
	return number.String(), true
}
