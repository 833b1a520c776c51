// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package fault defines the kinds of failures surfaced by the switch sessions, the rule codec
// and the provisioning components, along with the context needed to diagnose them.
package fault

import (
	goerrors "errors"
	"fmt"
	"strings"

	"github.com/onosproject/onos-lib-go/pkg/errors"
	"google.golang.org/genproto/googleapis/rpc/code"
)

// Kind classifies a failure
type Kind int

const (
	// Unknown is an unclassified failure
	Unknown Kind = iota
	// Connection means the control channel is unreachable or broken
	Connection
	// Arbitration means mastership was denied or lost
	Arbitration
	// Pipeline means the device rejected the forwarding pipeline
	Pipeline
	// WriteRejected means the device refused a single rule write
	WriteRejected
	// UnknownIdentifier means a symbolic name is not present in the pipeline descriptor
	UnknownIdentifier
	// ValueWidthMismatch means a value does not have the declared width of its field
	ValueWidthMismatch
	// InvalidEntry means a rule is structurally malformed, e.g. wrong match kind
	InvalidEntry
	// NotFound means a counter index was never populated
	NotFound
	// NotMaster means the session does not hold mastership
	NotMaster
	// NotInstalled means the forwarding pipeline has not been installed
	NotInstalled
	// Closed means the session has been closed
	Closed
)

var kindNames = map[Kind]string{
	Unknown:            "Unknown",
	Connection:         "ConnectionError",
	Arbitration:        "ArbitrationError",
	Pipeline:           "PipelineError",
	WriteRejected:      "WriteRejected",
	UnknownIdentifier:  "UnknownIdentifier",
	ValueWidthMismatch: "ValueWidthMismatch",
	InvalidEntry:       "InvalidEntry",
	NotFound:           "NotFound",
	NotMaster:          "NotMaster",
	NotInstalled:       "NotInstalled",
	Closed:             "Closed",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is a classified failure carrying the switch, table and operation it relates to
type Error struct {
	Kind    Kind
	Switch  string
	Table   string
	Op      string
	Reason  code.Code
	Message string
	Err     error
}

// Error renders the failure with all of its context
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Switch != "" {
		fmt.Fprintf(&b, " switch=%s", e.Switch)
	}
	if e.Op != "" {
		fmt.Fprintf(&b, " op=%s", e.Op)
	}
	if e.Table != "" {
		fmt.Fprintf(&b, " table=%s", e.Table)
	}
	if e.Kind == WriteRejected {
		fmt.Fprintf(&b, " reason=%s", e.Reason)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new failure of the given kind
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies the given cause
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithSwitch records the switch name, unless already set
func (e *Error) WithSwitch(name string) *Error {
	if e.Switch == "" {
		e.Switch = name
	}
	return e
}

// WithTable records the table name, unless already set
func (e *Error) WithTable(name string) *Error {
	if e.Table == "" {
		e.Table = name
	}
	return e
}

// WithOp records the operation, unless already set
func (e *Error) WithOp(op string) *Error {
	if e.Op == "" {
		e.Op = op
	}
	return e
}

// KindOf returns the kind of the outermost classified failure in the chain
func KindOf(err error) Kind {
	var fe *Error
	if goerrors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Is returns true if the given error is classified as the specified kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Annotate adds switch and operation context to a classified failure; unclassified errors are
// returned unchanged
func Annotate(err error, switchName string, op string) error {
	var fe *Error
	if goerrors.As(err, &fe) {
		fe.WithSwitch(switchName).WithOp(op)
	}
	return err
}

// FromGRPC classifies a gRPC failure; transport failures become Connection failures and
// everything else is classified as the given fallback kind
func FromGRPC(err error, fallback Kind) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if goerrors.As(err, &fe) {
		return fe
	}
	typed := errors.FromGRPC(err)
	switch errors.TypeOf(typed) {
	case errors.Unavailable, errors.Canceled, errors.Timeout:
		return &Error{Kind: Connection, Err: typed}
	case errors.Unauthorized, errors.Forbidden:
		if fallback == WriteRejected || fallback == Pipeline {
			return &Error{Kind: NotMaster, Err: typed}
		}
	}
	return &Error{Kind: fallback, Err: typed}
}
