package session

import (
	"errors"

	"github.com/m-mizutani/goerr/v2"
)

var (
	// ErrAccessDenied means the site refused the session outright (geofencing or
	// anti-automation). Backing off does not help; the infrastructure has to change.
	ErrAccessDenied = goerr.New("access denied by booking site")
	// ErrNavigation means the center page itself could not be reached.
	ErrNavigation = goerr.New("navigation to booking site failed")
	// ErrSessionLaunch means no browser or page could be obtained.
	ErrSessionLaunch = goerr.New("browser session could not be started")
	// ErrExtraction means the page snapshot could not be taken or parsed.
	ErrExtraction = goerr.New("slot extraction failed")
	// ErrSessionClosed is returned by a driver after Close.
	ErrSessionClosed = goerr.New("browser session closed")
	// ErrElementNotFound is the typed outcome of a lookup that matched nothing.
	ErrElementNotFound = goerr.New("element not found")
)

// FailureKind groups check failures for reporting.
type FailureKind string

const (
	KindNone               FailureKind = ""
	KindTransient          FailureKind = "transient"
	KindCheckFatal         FailureKind = "check_fatal"
	KindAccessDenied       FailureKind = "access_denied"
	KindResourceExhaustion FailureKind = "resource_exhaustion"
)

// Classify maps a Check error onto a FailureKind.
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrAccessDenied):
		return KindAccessDenied
	case errors.Is(err, ErrSessionLaunch), errors.Is(err, ErrSessionClosed):
		return KindResourceExhaustion
	case errors.Is(err, ErrElementNotFound):
		return KindTransient
	default:
		return KindCheckFatal
	}
}

// Retryable reports whether waiting and trying again can help.
func Retryable(err error) bool {
	return err != nil && Classify(err) != KindAccessDenied
}

// Describe renders err for last_error, prefixing access denials so operators
// can tell them apart from ordinary outages.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	if Classify(err) == KindAccessDenied {
		return "access denied (not retryable by backoff): " + err.Error()
	}
	return err.Error()
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrElementNotFound)
}
