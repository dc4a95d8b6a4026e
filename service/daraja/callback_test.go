package daraja

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const successPayload = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": "ws_CO_191220191020363925",
      "ResultCode": 0,
      "ResultDesc": "The service request is processed successfully.",
      "CallbackMetadata": {
        "Item": [
          {"Name": "Amount", "Value": 3500.00},
          {"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
          {"Name": "Balance"},
          {"Name": "TransactionDate", "Value": 20191219102115},
          {"Name": "PhoneNumber", "Value": 254708374149}
        ]
      }
    }
  }
}`

func TestParseCallbackSuccess(t *testing.T) {
	callback, err := ParseCallback([]byte(successPayload))
	require.NoError(t, err)
	assert.True(t, callback.Succeeded())
	assert.Equal(t, "ws_CO_191220191020363925", callback.CheckoutRequestID)

	settlement, err := callback.Settlement()
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(3500).Equal(settlement.Amount))
	assert.Equal(t, "NLJ7RT61SV", settlement.MpesaReceiptNumber)
	assert.Equal(t, "254708374149", settlement.PhoneNumber)
	require.NotNil(t, settlement.TransactionDate)
	assert.Equal(t, time.Date(2019, 12, 19, 7, 21, 15, 0, time.UTC), settlement.TransactionDate.UTC())
}

func TestParseCallbackErrors(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		expectErr error
	}{
		{name: "not json", payload: `not-json`, expectErr: ErrMalformedCallback},
		{name: "missing body", payload: `{"foo":1}`, expectErr: ErrMalformedCallback},
		{name: "missing result code", payload: `{"Body":{"stkCallback":{"CheckoutRequestID":"x"}}}`, expectErr: ErrMalformedCallback},
		{name: "missing checkout id", payload: `{"Body":{"stkCallback":{"ResultCode":0,"CheckoutRequestID":" "}}}`, expectErr: ErrMissingCorrelationID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCallback([]byte(tt.payload))
			assert.ErrorIs(t, err, tt.expectErr)
		})
	}
}

func TestCallbackFailureCode(t *testing.T) {
	callback, err := ParseCallback([]byte(`{"Body":{"stkCallback":{"MerchantRequestID":"m","CheckoutRequestID":"c","ResultCode":"1032","ResultDesc":"Request cancelled by user"}}}`))
	require.NoError(t, err)
	assert.False(t, callback.Succeeded())
	assert.Equal(t, ResultCodeCancelled, callback.Code())
}

func TestSettlementIncomplete(t *testing.T) {
	callback, err := ParseCallback([]byte(`{"Body":{"stkCallback":{"CheckoutRequestID":"c","ResultCode":0,"CallbackMetadata":{"Item":[{"Name":"Amount","Value":100}]}}}}`))
	require.NoError(t, err)

	_, err = callback.Settlement()
	assert.ErrorIs(t, err, ErrIncompleteCallback)
	assert.Contains(t, err.Error(), "MpesaReceiptNumber")
	assert.Contains(t, err.Error(), "PhoneNumber")
}

func TestSimulatedCallbackRoundTrip(t *testing.T) {
	at := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	payload := SimulatedCallback("ws_CO_TEST", "merchant", true, decimal.NewFromInt(2500), "TESTRCPT", "254712345678", at)

	callback, err := ParseCallback(payload)
	require.NoError(t, err)
	settlement, err := callback.Settlement()
	require.NoError(t, err)
	assert.Equal(t, "TESTRCPT", settlement.MpesaReceiptNumber)
	assert.True(t, decimal.NewFromInt(2500).Equal(settlement.Amount))

	cancelled, err := ParseCallback(SimulatedCallback("ws_CO_TEST", "merchant", false, decimal.Zero, "", "", at))
	require.NoError(t, err)
	assert.False(t, cancelled.Succeeded())
}
