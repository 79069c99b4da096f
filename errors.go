package reflector

import (
	"context"
	"errors"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes of errors reported by Graph implementations. Errors raised while
// handling a message use the ErrorCode itself as their text code.
const (
	TextCodeNotFound    = "GRAPH_NOT_FOUND"
	TextCodeConflict    = "GRAPH_CONFLICT"
	TextCodeUnavailable = "GRAPH_UNAVAILABLE"
)

// NotFound returns the error a Graph reports when a referenced entity does not
// exist.
func NotFound(format string, args ...any) error {
	return goerrors.New(fmt.Sprintf(format, args...), goerrors.CategoryNotFound).
		WithTextCode(TextCodeNotFound)
}

// Conflict returns the error a Graph reports when a write violates one of its
// uniqueness constraints.
func Conflict(format string, args ...any) error {
	return goerrors.New(fmt.Sprintf(format, args...), goerrors.CategoryConflict).
		WithTextCode(TextCodeConflict)
}

// Unavailable wraps err as a temporary failure of the backing store. Retrying
// the same operation later may succeed.
func Unavailable(err error, message string) error {
	return goerrors.Wrap(err, goerrors.CategoryExternal, message).
		WithTextCode(TextCodeUnavailable)
}

// IsNotFound reports whether err was reported as a missing entity.
func IsNotFound(err error) bool {
	return hasCategory(err, goerrors.CategoryNotFound)
}

// IsConflict reports whether err was reported as a violated uniqueness
// constraint.
func IsConflict(err error) bool {
	return hasCategory(err, goerrors.CategoryConflict)
}

func hasCategory(err error, category goerrors.Category) bool {
	var rich *goerrors.Error
	return goerrors.As(err, &rich) && rich.Category == category
}

// ErrTenantNotFound may be wrapped by TenantResolver implementations outside
// this package to report that a message maps to no tenant. Classify reports
// such errors as ErrorTenantNotFound.
var ErrTenantNotFound = errors.New("tenant not found")

// IsTenantNotFound reports whether err classifies as ErrorTenantNotFound.
func IsTenantNotFound(err error) bool {
	return Classify(err) == ErrorTenantNotFound
}

func tenantNotFound(format string, args ...any) error {
	return messageError(goerrors.CategoryNotFound, ErrorTenantNotFound,
		fmt.Errorf("%w: %s", ErrTenantNotFound, fmt.Sprintf(format, args...)), nil)
}

func missingAttribute(name string) error {
	return messageError(goerrors.CategoryValidation, ErrorMissingAttribute,
		fmt.Errorf("missing required attribute %q", name), map[string]any{"attribute": name})
}

func malformed(err error) error {
	return messageError(goerrors.CategoryBadInput, ErrorMalformedMessage, err, nil)
}

func entityNotFound(kind, hardwareID string) error {
	return messageError(goerrors.CategoryNotFound, ErrorEntityNotFound,
		fmt.Errorf("%s %q not found", kind, hardwareID), map[string]any{"kind": kind, "hardwareId": hardwareID})
}

func duplicateHardwareID(kind, hardwareID string, cause error) error {
	err := fmt.Errorf("%s with hardware id %q already exists", kind, hardwareID)
	if cause != nil {
		// The graph's own error is kept as text only; its category must not shadow
		// this one.
		err = fmt.Errorf("%w: %v", err, cause)
	}
	return messageError(goerrors.CategoryConflict, ErrorDuplicateHardwareID, err,
		map[string]any{"kind": kind, "hardwareId": hardwareID})
}

// messageError wraps cause in an envelope whose text code is the ErrorCode that
// the failed message is reported with.
func messageError(category goerrors.Category, code ErrorCode, cause error, metadata map[string]any) error {
	err := goerrors.Wrap(cause, category, cause.Error()).
		WithTextCode(string(code))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// Classify maps an error returned while handling a message to the ErrorCode
// reported in its feedback.
//
// Errors raised by the pipeline carry their ErrorCode as text code. Errors
// reported by the Graph are classified by category. A deadline that expired
// while waiting on the graph is reported as unavailable; anything else is
// internal.
func Classify(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		if errors.Is(err, ErrTenantNotFound) {
			return ErrorTenantNotFound
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrorGraphUnavailable
		}
		return ErrorInternal
	}
	for _, code := range ErrorCodes() {
		if rich.TextCode == string(code) {
			return code
		}
	}
	switch rich.Category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorMalformedMessage
	case goerrors.CategoryNotFound:
		return ErrorEntityNotFound
	case goerrors.CategoryConflict:
		return ErrorConflict
	case goerrors.CategoryExternal, goerrors.CategoryOperation, goerrors.CategoryRateLimit:
		return ErrorGraphUnavailable
	default:
		return ErrorInternal
	}
}
