// SPDX-License-Identifier: GPL-3.0-or-later

package servio

import (
	"errors"

	"github.com/bassosimone/errclass"
)

// ErrClassifier classifies errors into categorical strings for analysis.
//
// Implementations map errors to short, descriptive labels (e.g., "ETIMEDOUT",
// "EPROTOVIOLATION") that end up in the errClass field of log events.
type ErrClassifier interface {
	Classify(err error) string
}

// ErrClassifierFunc adapts a function to the [ErrClassifier] interface.
type ErrClassifierFunc func(error) string

var _ ErrClassifier = ErrClassifierFunc(nil)

// Classify implements [ErrClassifier].
func (f ErrClassifierFunc) Classify(err error) string {
	return f(err)
}

// Error classes for the errors defined by this package.
const (
	EUNSUPPORTED    = "EUNSUPPORTED"
	EPROTOVIOLATION = "EPROTOVIOLATION"
	ECONFIG         = "ECONFIG"
)

// DefaultErrClassifier maps the errors of this package to their own classes and
// uses [errclass.New] for everything else, including the cause of [ErrTransport].
//
// The nil error maps to the empty string.
var DefaultErrClassifier = ErrClassifierFunc(classifyError)

func classifyError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnsupportedProtocol):
		return EUNSUPPORTED
	case errors.Is(err, ErrProtocolViolation):
		return EPROTOVIOLATION
	case errors.Is(err, ErrConfiguration):
		return ECONFIG
	default:
		return errclass.New(err)
	}
}
