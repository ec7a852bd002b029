package plugin

import (
	"fmt"
	"strconv"
)

// AbortError carries an HTTP-like status line (e.g. "402 Missing userID")
// back to the command's response. Plugins return one from Peek/Process (as
// the error return) to signal a command failure; the controller catches it
// at the peek/process boundary, writes StatusLine into the response,
// clears Repeek, and short-circuits remaining phases (§4.2 Failure
// signaling, §4.3 Exception boundary).
type AbortError struct {
	Code    int
	Message string
	Cause   error
}

func NewAbortError(code int, message string) *AbortError {
	return &AbortError{Code: code, Message: message}
}

func (e *AbortError) Error() string {
	return e.StatusLine()
}

func (e *AbortError) Unwrap() error { return e.Cause }

// StatusLine renders the error the way it is written into the response.
func (e *AbortError) StatusLine() string {
	return fmt.Sprintf("%d %s", e.Code, e.Message)
}

// VerifyAttributeInt64 aborts the command with "402 Missing <field>" if
// absent, or "402 Invalid <field>" if present but not an integer.
func VerifyAttributeInt64(values map[string]string, field string) (int64, *AbortError) {
	raw, present := values[field]
	if !present || raw == "" {
		return 0, NewAbortError(402, "Missing "+field)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, NewAbortError(402, "Invalid "+field)
	}
	return n, nil
}

// VerifyAttributeSize aborts the command unless the named field's value is
// present and its length falls within [min, max].
func VerifyAttributeSize(values map[string]string, field string, min, max int) (string, *AbortError) {
	raw, present := values[field]
	if !present {
		return "", NewAbortError(402, "Missing "+field)
	}
	if len(raw) < min || len(raw) > max {
		return "", NewAbortError(402, "Invalid "+field)
	}
	return raw, nil
}

// VerifyAttributeBool aborts the command with "402 Missing <field>" if
// absent, or "402 Invalid <field>" if present but not a recognized boolean.
func VerifyAttributeBool(values map[string]string, field string) (bool, *AbortError) {
	raw, present := values[field]
	if !present || raw == "" {
		return false, NewAbortError(402, "Missing "+field)
	}
	switch raw {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	default:
		return false, NewAbortError(402, "Invalid "+field)
	}
}
