package services

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrRoomNotFound      = errors.New("room not found")
	ErrQuotaExceeded     = errors.New("scan quota exceeded")
	ErrProviderTransient = errors.New("provider transient failure")
	ErrProviderFatal     = errors.New("provider failure")
	ErrModelUnsupported  = errors.New("model unsupported")
	ErrPreprocess        = errors.New("image preprocessing failed")
	ErrPersistence       = errors.New("persistence failure")
	ErrArchival          = errors.New("archival failure")
)

// Quota caps
const (
	CapUserDaily     = "user_daily"
	CapPropertyDaily = "property_daily"
)

// QuotaError reports which daily cap rejected a scan.
type QuotaError struct {
	Cap        string
	Limit      int
	Used       int
	RetryAfter time.Duration
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s: %s cap of %d reached (%d used), retry in %s",
		ErrQuotaExceeded, e.Cap, e.Limit, e.Used, e.RetryAfter.Round(time.Second))
}

func (e *QuotaError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// Wrap tags err with a marker and an operation label.
func Wrap(marker error, operation, message string, err error) error {
	detail := strings.TrimSpace(strings.Join(nonEmpty(operation, message), ": "))
	if detail == "" {
		detail = "service failure"
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// ErrorCode is the short diagnostic code surfaced to clients and stored on
// failed sessions.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, ErrValidation):
		return "invalid_request"
	case errors.Is(err, ErrPreprocess):
		return "image_unreadable"
	case errors.Is(err, ErrProviderTransient):
		return "provider_unavailable"
	case errors.Is(err, ErrProviderFatal), errors.Is(err, ErrModelUnsupported):
		return "provider_error"
	case errors.Is(err, ErrPersistence):
		return "persistence_error"
	default:
		return "internal_error"
	}
}

const maxSessionErrorLen = 240

// sessionErrorMessage renders err as the short message stored on a FAILED session.
func sessionErrorMessage(err error) string {
	msg := ErrorCode(err) + ": " + strings.Join(strings.Fields(err.Error()), " ")
	runes := []rune(msg)
	if len(runes) > maxSessionErrorLen {
		msg = string(runes[:maxSessionErrorLen-3]) + "..."
	}
	return msg
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
