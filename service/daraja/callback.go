package daraja

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Nairobi is the timezone Daraja timestamps are expressed in.
var Nairobi = time.FixedZone("EAT", 3*60*60)

const timestampLayout = "20060102150405"

// CallbackEnvelope is the body Daraja posts to the callback URL.
type CallbackEnvelope struct {
	Body *struct {
		StkCallback *StkCallback `json:"stkCallback"`
	} `json:"Body"`
}

type StkCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        json.RawMessage   `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`

	resultCode int
}

type CallbackMetadata struct {
	Item []CallbackItem `json:"Item"`
}

type CallbackItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value,omitempty"`
}

// Settlement is the typed view of a successful callback's metadata.
type Settlement struct {
	CheckoutRequestID  string
	MerchantRequestID  string
	Amount             decimal.Decimal
	MpesaReceiptNumber string
	PhoneNumber        string
	TransactionDate    *time.Time
}

// ParseCallback decodes a callback strictly. It fails with
// ErrMalformedCallback when the envelope or result code is missing and with
// ErrMissingCorrelationID when the checkout id is absent.
func ParseCallback(payload []byte) (*StkCallback, error) {
	var envelope CallbackEnvelope
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()
	if err := decoder.Decode(&envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	if envelope.Body == nil || envelope.Body.StkCallback == nil {
		return nil, fmt.Errorf("%w: missing Body.stkCallback", ErrMalformedCallback)
	}

	callback := envelope.Body.StkCallback
	code, ok := rawScalar(callback.ResultCode)
	if !ok {
		return nil, fmt.Errorf("%w: missing ResultCode", ErrMalformedCallback)
	}
	parsed, err := strconv.Atoi(code)
	if err != nil {
		return nil, fmt.Errorf("%w: ResultCode %q", ErrMalformedCallback, code)
	}
	callback.resultCode = parsed

	callback.CheckoutRequestID = strings.TrimSpace(callback.CheckoutRequestID)
	if callback.CheckoutRequestID == "" {
		return callback, ErrMissingCorrelationID
	}
	return callback, nil
}

func (c *StkCallback) Code() int {
	return c.resultCode
}

func (c *StkCallback) Succeeded() bool {
	return c.resultCode == ResultCodeSuccess
}

func (c *StkCallback) item(name string) (string, bool) {
	if c.CallbackMetadata == nil {
		return "", false
	}
	for _, item := range c.CallbackMetadata.Item {
		if item.Name == name {
			return rawScalar(item.Value)
		}
	}
	return "", false
}

// Settlement extracts the receipt, amount and payer phone. Any missing or
// unreadable required item yields ErrIncompleteCallback naming the field.
func (c *StkCallback) Settlement() (*Settlement, error) {
	var missing []string

	receipt, ok := c.item("MpesaReceiptNumber")
	if !ok {
		missing = append(missing, "MpesaReceiptNumber")
	}

	var amount decimal.Decimal
	rawAmount, ok := c.item("Amount")
	if ok {
		parsed, err := decimal.NewFromString(rawAmount)
		if err != nil || !parsed.IsPositive() {
			missing = append(missing, "Amount")
		} else {
			amount = parsed
		}
	} else {
		missing = append(missing, "Amount")
	}

	phone, ok := c.item("PhoneNumber")
	if !ok {
		missing = append(missing, "PhoneNumber")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrIncompleteCallback, strings.Join(missing, ", "))
	}

	settlement := &Settlement{
		CheckoutRequestID:  c.CheckoutRequestID,
		MerchantRequestID:  c.MerchantRequestID,
		Amount:             amount,
		MpesaReceiptNumber: receipt,
		PhoneNumber:        phone,
	}
	if rawDate, ok := c.item("TransactionDate"); ok {
		if at, err := time.ParseInLocation(timestampLayout, rawDate, Nairobi); err == nil {
			settlement.TransactionDate = &at
		}
	}
	return settlement, nil
}

// SimulatedCallback builds a callback payload the way Daraja would send it.
// It backs test mode and the simulate endpoint.
func SimulatedCallback(checkoutRequestID, merchantRequestID string, success bool, amount decimal.Decimal, receipt, phone string, at time.Time) []byte {
	callback := map[string]any{
		"MerchantRequestID": merchantRequestID,
		"CheckoutRequestID": checkoutRequestID,
	}
	if success {
		callback["ResultCode"] = ResultCodeSuccess
		callback["ResultDesc"] = "The service request is processed successfully."
		callback["CallbackMetadata"] = map[string]any{
			"Item": []map[string]any{
				{"Name": "Amount", "Value": json.Number(amount.String())},
				{"Name": "MpesaReceiptNumber", "Value": receipt},
				{"Name": "TransactionDate", "Value": json.Number(at.In(Nairobi).Format(timestampLayout))},
				{"Name": "PhoneNumber", "Value": json.Number(phone)},
			},
		}
	} else {
		callback["ResultCode"] = ResultCodeCancelled
		callback["ResultDesc"] = "Request cancelled by user"
	}
	payload, _ := json.Marshal(map[string]any{"Body": map[string]any{"stkCallback": callback}})
	return payload
}
