// Package lifecycle holds the invoice state machine. An invoice moves along two
// independent axes: its document status and its payment status.
package lifecycle

import (
	"errors"
	"fmt"

	"einvoice/internal/model"

	"github.com/shopspring/decimal"
)

var (
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrNotEditable       = errors.New("invoice is not editable")
	ErrUnknownStatus     = errors.New("unknown status")
	ErrInvalidAmount     = errors.New("payment amount must be greater than zero")
	ErrOverpayment       = errors.New("payment exceeds invoice total")
)

// Transition is an applied status change.
type Transition struct {
	Axis string
	From string
	To   string
}

// TransitionError reports a change the state machine does not allow.
type TransitionError struct {
	Axis   string
	From   string
	To     string
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("cannot change %s status from %s to %s", e.Axis, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error {
	return ErrIllegalTransition
}

// Manual document transitions. draft -> fbr_posted is absent on purpose: only a
// successful gateway post may take it, through Posted.
var documentTransitions = map[string][]string{
	model.StatusDraft:     {model.StatusDeleted},
	model.StatusFBRPosted: {model.StatusVerified},
	model.StatusVerified:  {model.StatusPaid, model.StatusDraft},
	model.StatusPaid:      nil,
	model.StatusDeleted:   nil,
}

var paymentStatuses = map[string]bool{
	model.PaymentPending:   true,
	model.PaymentPartial:   true,
	model.PaymentPaid:      true,
	model.PaymentOverdue:   true,
	model.PaymentCancelled: true,
}

// IsDocumentStatus reports whether s is a known document status.
func IsDocumentStatus(s string) bool {
	_, ok := documentTransitions[s]
	return ok
}

// IsPaymentStatus reports whether s is a known payment status.
func IsPaymentStatus(s string) bool {
	return paymentStatuses[s]
}

// Editable reports whether an invoice in this document status may have its
// number, buyer, items or rates changed.
func Editable(status string) bool {
	return status == model.StatusDraft || status == model.StatusVerified
}

// CheckEditable returns ErrNotEditable unless the invoice is draft or verified.
func CheckEditable(status string) error {
	if !Editable(status) {
		return fmt.Errorf("%w: status is %s (must be %s or %s)", ErrNotEditable, status, model.StatusDraft, model.StatusVerified)
	}
	return nil
}

// ChangeDocument validates an operator-requested document status change.
func ChangeDocument(from, to string) (Transition, error) {
	if !IsDocumentStatus(to) {
		return Transition{}, fmt.Errorf("%w: %q", ErrUnknownStatus, to)
	}
	if to == model.StatusFBRPosted {
		return Transition{}, &TransitionError{Axis: model.AxisDocument, From: from, To: to, Reason: "only a successful FBR post sets this status"}
	}
	for _, allowed := range documentTransitions[from] {
		if allowed == to {
			return Transition{Axis: model.AxisDocument, From: from, To: to}, nil
		}
	}
	return Transition{}, &TransitionError{Axis: model.AxisDocument, From: from, To: to}
}

// Posted validates the gateway-driven draft -> fbr_posted transition.
func Posted(from string) (Transition, error) {
	if from != model.StatusDraft {
		return Transition{}, &TransitionError{
			Axis:   model.AxisDocument,
			From:   from,
			To:     model.StatusFBRPosted,
			Reason: "only draft invoices can be posted",
		}
	}
	return Transition{Axis: model.AxisDocument, From: from, To: model.StatusFBRPosted}, nil
}

// PaymentChange is the result of a payment-axis operation.
type PaymentChange struct {
	Transition
	AmountPaid decimal.Decimal
}

// ChangePayment validates an operator-requested payment status change.
// Resetting to pending clears the amount paid; marking paid settles the balance.
// Partial is only reachable by recording a payment.
func ChangePayment(from, to string, total, paid decimal.Decimal) (PaymentChange, error) {
	if !IsPaymentStatus(to) {
		return PaymentChange{}, fmt.Errorf("%w: %q", ErrUnknownStatus, to)
	}
	illegal := func(reason string) (PaymentChange, error) {
		return PaymentChange{}, &TransitionError{Axis: model.AxisPayment, From: from, To: to, Reason: reason}
	}
	if from == model.PaymentPaid {
		return illegal("payment is settled")
	}
	if from == to {
		return illegal("status is unchanged")
	}

	change := PaymentChange{
		Transition: Transition{Axis: model.AxisPayment, From: from, To: to},
		AmountPaid: paid,
	}
	switch to {
	case model.PaymentPending:
		change.AmountPaid = decimal.Zero
	case model.PaymentCancelled:
	case model.PaymentOverdue:
		if from != model.PaymentPending {
			return illegal("only pending invoices become overdue")
		}
	case model.PaymentPaid:
		if from == model.PaymentCancelled {
			return illegal("payment is cancelled")
		}
		change.AmountPaid = total
	case model.PaymentPartial:
		return illegal("record a payment amount instead")
	}
	return change, nil
}

// RecordPayment adds amount to the amount already paid. Reaching the total settles
// the invoice; anything less leaves it partially paid; exceeding it is rejected.
func RecordPayment(from string, total, alreadyPaid, amount decimal.Decimal) (PaymentChange, error) {
	switch from {
	case model.PaymentPending, model.PaymentPartial, model.PaymentOverdue:
	default:
		return PaymentChange{}, &TransitionError{Axis: model.AxisPayment, From: from, To: model.PaymentPartial, Reason: "payments are closed"}
	}
	if !amount.IsPositive() {
		return PaymentChange{}, ErrInvalidAmount
	}

	newPaid := alreadyPaid.Add(amount)
	if newPaid.GreaterThan(total) {
		return PaymentChange{}, fmt.Errorf("%w: paying %s would bring the amount paid to %s of %s",
			ErrOverpayment, amount.String(), newPaid.String(), total.String())
	}

	to := model.PaymentPartial
	if newPaid.Equal(total) {
		to = model.PaymentPaid
	}
	return PaymentChange{
		Transition: Transition{Axis: model.AxisPayment, From: from, To: to},
		AmountPaid: newPaid,
	}, nil
}
