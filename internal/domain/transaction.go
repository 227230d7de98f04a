package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/kevin07696/processing-service/pkg/errors"
)

// SupportedCurrencies lists the currency codes accepted at intake
var SupportedCurrencies = []string{"EUR", "USD", "UAH", "RUR"}

// Transaction is a payment moving value from a source to a destination.
// Source and Destination are opaque to processing; only payment interfaces
// interpret them.
type Transaction struct {
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	Source      map[string]interface{} `json:"source,omitempty"`
	Destination map[string]interface{} `json:"destination,omitempty"`
	ExtraInfo   map[string]interface{} `json:"extra_info,omitempty"`
	Error       *string                `json:"error,omitempty"`
	ID          string                 `json:"id"`
	Status      Status                 `json:"status"`
	PaysysID    string                 `json:"paysys_id"`
	Currency    string                 `json:"currency,omitempty"`
	Description string                 `json:"description,omitempty"`
	Amount      decimal.Decimal        `json:"amount"`
}

// ErrorMessage returns the error text or an empty string
func (t *Transaction) ErrorMessage() string {
	if t.Error == nil {
		return ""
	}
	return *t.Error
}

// SetError records a failure description on the transaction
func (t *Transaction) SetError(msg string) {
	t.Error = &msg
}

// MergeExtraInfo adds keys from info, overwriting existing keys of the same name
func (t *Transaction) MergeExtraInfo(info map[string]interface{}) {
	if len(info) == 0 {
		return
	}
	if t.ExtraInfo == nil {
		t.ExtraInfo = make(map[string]interface{}, len(info))
	}
	for k, v := range info {
		t.ExtraInfo[k] = v
	}
}

// Clone returns a deep copy. Nested maps inside Source, Destination and
// ExtraInfo are copied as well so a payment interface cannot mutate the
// caller's copy.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	c := *t
	c.Source = cloneMap(t.Source)
	c.Destination = cloneMap(t.Destination)
	c.ExtraInfo = cloneMap(t.ExtraInfo)
	if t.Error != nil {
		msg := *t.Error
		c.Error = &msg
	}
	return &c
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return cloneMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}

// ParseTransaction decodes an inbound message into a Transaction and checks
// the fields processing depends on. The returned transaction has status
// ACCEPTED regardless of what the message carried.
func ParseTransaction(body []byte) (*Transaction, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var tx Transaction
	if err := dec.Decode(&tx); err != nil {
		return nil, WrapError(ErrorCodeValidationMalformed, "malformed transaction message", err)
	}

	tx.ID = strings.TrimSpace(tx.ID)
	if tx.ID == "" {
		return nil, WrapError(ErrorCodeValidationMissingField, "invalid transaction",
			pkgerrors.NewValidationError("id", "is required"))
	}

	if tx.Amount.IsNegative() {
		return nil, WrapError(ErrorCodeValidationAmountInvalid, "invalid transaction",
			pkgerrors.NewValidationError("amount", fmt.Sprintf("must not be negative, got %s", tx.Amount))).
			WithDetail("transaction_id", tx.ID)
	}

	if tx.Currency != "" && !isSupportedCurrency(tx.Currency) {
		return nil, WrapError(ErrorCodeValidationFailed, "invalid transaction",
			pkgerrors.NewValidationError("currency", fmt.Sprintf("unsupported currency %q", tx.Currency))).
			WithDetail("transaction_id", tx.ID)
	}

	if tx.PaysysID == "" {
		tx.PaysysID = paysysFromContract(tx.Source)
	}

	tx.Status = StatusAccepted
	tx.Error = nil
	return &tx, nil
}

// paysysFromContract reads source.paysys_contract.payment_interface, the
// location older producers use for the payment interface id.
func paysysFromContract(source map[string]interface{}) string {
	contract, ok := source["paysys_contract"].(map[string]interface{})
	if !ok {
		return ""
	}
	id, _ := contract["payment_interface"].(string)
	return id
}

func isSupportedCurrency(code string) bool {
	for _, c := range SupportedCurrencies {
		if c == code {
			return true
		}
	}
	return false
}
