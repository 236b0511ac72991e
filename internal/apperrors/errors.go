package apperrors

import (
	"errors"
	"net/http"
)

// Code identifies a class of domain failure. Codes are part of the API surface.
type Code string

const (
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeMalformedID        Code = "MALFORMED_ID"
	CodeNotFound           Code = "NOT_FOUND"
	CodePollNotVotable     Code = "POLL_NOT_VOTABLE"
	CodeInvalidOption      Code = "INVALID_OPTION"
	CodeDuplicateVote      Code = "DUPLICATE_VOTE"
	CodeDuplicateAtConfirm Code = "DUPLICATE_AT_CONFIRM"
	CodeAlreadyVoted       Code = "ALREADY_VOTED"
	CodeTokenExpired       Code = "TOKEN_EXPIRED"
	CodeTokenInvalid       Code = "TOKEN_INVALID"
	CodeDeliveryFailed     Code = "DELIVERY_FAILED"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeInternal           Code = "INTERNAL"
)

// HTTPStatus maps a code to the status the API answers with.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidation, CodeMalformedID, CodeInvalidOption, CodeTokenInvalid:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodePollNotVotable, CodeDuplicateVote, CodeDuplicateAtConfirm, CodeAlreadyVoted:
		return http.StatusConflict
	case CodeTokenExpired:
		return http.StatusGone
	case CodeDeliveryFailed:
		return http.StatusBadGateway
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is a coded domain error.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error carrying the same code, so sentinels compare by code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New returns an error with code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// MessageOf returns the client-safe message for err. Uncoded errors are hidden.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != CodeInternal {
		return e.Message
	}
	return "internal server error"
}
