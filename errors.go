/*
Copyright © 2018 the gridsubset authors.
This file is part of gridsubset.

gridsubset is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

gridsubset is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with gridsubset.  If not, see <http://www.gnu.org/licenses/>.
*/

package gridsubset

import (
	"errors"
	"fmt"
)

// ErrorKind classifies the errors that can occur while parsing,
// running or retrieving a subset job.
type ErrorKind int

// These are the kinds of errors.
const (
	// UnknownKind is used for errors that did not originate in this module.
	UnknownKind ErrorKind = iota

	// ValidationError indicates bad or missing request parameters.
	ValidationError

	// UnknownRegion indicates that a named region is not in the region table.
	UnknownRegion

	// DatasetUnavailable indicates that the dataset is not (yet) loaded.
	// It is retryable.
	DatasetUnavailable

	// AmbiguousFeature indicates that a point selector did not resolve
	// to exactly one time series.
	AmbiguousFeature

	// NotFound indicates that a job, series or output file does not exist.
	NotFound

	// ExtractionError indicates a failure in the dataset library.
	ExtractionError

	// IOError indicates an output write or persistence failure.
	IOError
)

func (k ErrorKind) String() string {
	switch k {
	case ValidationError:
		return "ValidationError"
	case UnknownRegion:
		return "UnknownRegion"
	case DatasetUnavailable:
		return "DatasetUnavailable"
	case AmbiguousFeature:
		return "AmbiguousFeature"
	case NotFound:
		return "NotFound"
	case ExtractionError:
		return "ExtractionError"
	case IOError:
		return "IOError"
	default:
		return "Unknown"
	}
}

// Retryable reports whether an operation that failed with this kind
// of error may succeed if tried again later.
func (k ErrorKind) Retryable() bool { return k == DatasetUnavailable }

// Error is the error type returned by this module.
type Error struct {
	Kind ErrorKind

	// Param is the name of the offending request parameter, for
	// ValidationError and UnknownRegion errors.
	Param string

	Msg string
	Err error
}

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Param != "" {
		s += " (" + e.Param + ")"
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf returns a new error of the given kind.
func Errorf(kind ErrorKind, format string, a ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, a...)}
}

// WrapError wraps err in an error of the given kind. If err already
// carries a kind, that kind is kept.
func WrapError(kind ErrorKind, err error, msg string) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != UnknownKind {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// MissingParameter returns the error for a mandatory parameter that
// was not supplied.
func MissingParameter(param string) error {
	return &Error{Kind: ValidationError, Param: param,
		Msg: "must provide a value for parameter " + param}
}

// InvalidValue returns the error for a parameter whose value cannot
// be parsed.
func InvalidValue(param, value string, err error) error {
	return &Error{Kind: ValidationError, Param: param,
		Msg: fmt.Sprintf("invalid value %q", value), Err: err}
}

// KindOf returns the kind of err, or UnknownKind if err is not
// (and does not wrap) an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return UnknownKind
}
