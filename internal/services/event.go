package services

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// Event classification buckets.
const (
	ClassSuccess = "SUCCESS"
	ClassFailure = "FAILURE"
	ClassOther   = "OTHER"
)

// Event is the canonical shape every gateway notification is normalized into.
type Event struct {
	OrderID   string
	PaymentID string
	Class     string
	StatusRaw string
	Amount    float64
	Raw       []byte
}

// ErrMissingOrderID is a hard normalization failure: the delivery is
// acknowledged but nothing is mutated.
var ErrMissingOrderID = errors.New("notification carries no order id")

type nestedEnvelope struct {
	Type string `json:"type"`
	Data struct {
		Order struct {
			OrderID     string  `json:"order_id"`
			OrderAmount float64 `json:"order_amount"`
		} `json:"order"`
		Payment struct {
			CfPaymentID   any     `json:"cf_payment_id"`
			PaymentStatus string  `json:"payment_status"`
			PaymentAmount float64 `json:"payment_amount"`
		} `json:"payment"`
	} `json:"data"`
}

type flatEnvelope struct {
	OrderID     string `json:"orderId"`
	ReferenceID any    `json:"referenceId"`
	TxStatus    string `json:"txStatus"`
	OrderAmount any    `json:"orderAmount"`
}

// NormalizeEvent extracts the canonical event tuple from a raw notification
// body. Known payload shapes are probed in priority order: the nested
// data.order/data.payment envelope first, then the legacy flat shape.
func NormalizeEvent(raw []byte) (Event, error) {
	for _, probe := range []func([]byte) (Event, bool){probeNested, probeFlat} {
		if ev, ok := probe(raw); ok {
			ev.Class = ClassifyStatus(ev.StatusRaw)
			ev.Raw = raw
			return ev, nil
		}
	}
	return Event{}, ErrMissingOrderID
}

func probeNested(raw []byte) (Event, bool) {
	var env nestedEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, false
	}
	if env.Data.Order.OrderID == "" {
		return Event{}, false
	}

	amount := env.Data.Payment.PaymentAmount
	if amount == 0 {
		amount = env.Data.Order.OrderAmount
	}

	return Event{
		OrderID:   env.Data.Order.OrderID,
		PaymentID: stringifyID(env.Data.Payment.CfPaymentID),
		StatusRaw: env.Data.Payment.PaymentStatus,
		Amount:    amount,
	}, true
}

func probeFlat(raw []byte) (Event, bool) {
	var env flatEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, false
	}
	if env.OrderID == "" {
		return Event{}, false
	}

	var amount float64
	switch v := env.OrderAmount.(type) {
	case float64:
		amount = v
	case string:
		amount, _ = strconv.ParseFloat(v, 64)
	}

	return Event{
		OrderID:   env.OrderID,
		PaymentID: stringifyID(env.ReferenceID),
		StatusRaw: env.TxStatus,
		Amount:    amount,
	}, true
}

// ClassifyStatus folds a gateway status token into SUCCESS, FAILURE or OTHER.
// Unknown and non-final tokens land in OTHER and are acknowledged without any
// state change.
func ClassifyStatus(status string) string {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "SUCCESS", "PAID", "OK":
		return ClassSuccess
	case "FAILED", "FAILURE", "CANCELLED", "USER_DROPPED", "DECLINED", "VOID", "EXPIRED":
		return ClassFailure
	default:
		return ClassOther
	}
}

func stringifyID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatInt(int64(id), 10)
	case json.Number:
		return id.String()
	default:
		return ""
	}
}
