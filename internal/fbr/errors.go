package fbr

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTaxID is returned when an identifier is neither an NTN nor a CNIC.
	ErrInvalidTaxID = errors.New("invalid NTN/CNIC")

	// ErrMissingSellerTaxID is returned when the company profile has no NTN/CNIC.
	ErrMissingSellerTaxID = errors.New("seller NTN/CNIC is not configured")

	// ErrNoItems is returned when an invoice has no line items.
	ErrNoItems = errors.New("invoice has no items")

	// ErrMissingField is returned when a field the gateway requires is empty.
	ErrMissingField = errors.New("missing required field")

	// ErrUnknownDocumentType is returned for document types the gateway does not accept.
	ErrUnknownDocumentType = errors.New("unknown document type")

	// ErrMissingToken is returned when no bearer token is configured for the gateway.
	ErrMissingToken = errors.New("FBR token is not configured")

	// ErrTransport is returned when the gateway could not be reached or answered with a non-2xx status.
	ErrTransport = errors.New("FBR gateway transport failure")

	// ErrUnexpectedResponse is returned when a 2xx gateway body cannot be parsed.
	ErrUnexpectedResponse = errors.New("unexpected FBR gateway response")

	// ErrSandboxOnly is returned when a sandbox-only operation targets production.
	ErrSandboxOnly = errors.New("operation is only available in the sandbox environment")

	// ErrUnknownScenario is returned when a scenario id is not in the catalog.
	ErrUnknownScenario = errors.New("unknown scenario")
)

// IdentifierError describes an identifier that failed normalization.
type IdentifierError struct {
	Field  string
	Input  string
	Digits int
}

func (e *IdentifierError) Error() string {
	field := e.Field
	if field == "" {
		field = "tax id"
	}
	return fmt.Sprintf("%s %q has %d digits, expected %d (NTN) or %d (CNIC)", field, e.Input, e.Digits, NTNLength, CNICLength)
}

func (e *IdentifierError) Unwrap() error {
	return ErrInvalidTaxID
}

// MissingFieldError names a payload field that must be present.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field %s", e.Field)
}

func (e *MissingFieldError) Unwrap() error {
	return ErrMissingField
}
