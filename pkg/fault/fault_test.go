// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package fault

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/genproto/googleapis/rpc/code"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestError(t *testing.T) {
	err := New(WriteRejected, "duplicate entry")
	err.Reason = code.Code_ALREADY_EXISTS
	err.WithSwitch("s1").WithTable("MyIngress.ipv4_lpm").WithOp("write")
	assert.Equal(t, "WriteRejected switch=s1 op=write table=MyIngress.ipv4_lpm reason=ALREADY_EXISTS: duplicate entry",
		err.Error())

	// Context recorded first wins
	err.WithSwitch("s2").WithOp("provision")
	assert.Equal(t, "s1", err.Switch)
	assert.Equal(t, "write", err.Op)

	wrapped := Wrap(Connection, io.EOF, "stream of %s broken", "s3")
	assert.Equal(t, "ConnectionError: stream of s3 broken: EOF", wrapped.Error())
	assert.ErrorIs(t, wrapped, io.EOF)

	assert.Equal(t, "Kind(42)", Kind(42).String())
}

func TestKindOf(t *testing.T) {
	err := New(NotFound, "counter cell 7")
	assert.Equal(t, NotFound, KindOf(err))
	assert.True(t, Is(fmt.Errorf("sampling: %w", err), NotFound))
	assert.False(t, Is(err, NotMaster))
	assert.False(t, Is(nil, Unknown))
	assert.Equal(t, Unknown, KindOf(io.EOF))
}

func TestAnnotate(t *testing.T) {
	err := Annotate(fmt.Errorf("plan: %w", New(UnknownIdentifier, "table X")), "s2", "plan")
	assert.Contains(t, err.Error(), "UnknownIdentifier switch=s2 op=plan")

	assert.Equal(t, io.EOF, Annotate(io.EOF, "s2", "plan"))
}

func TestFromGRPC(t *testing.T) {
	assert.Nil(t, FromGRPC(nil, Pipeline))

	err := FromGRPC(status.Error(codes.Unavailable, "connection refused"), WriteRejected)
	assert.Equal(t, Connection, err.Kind)

	err = FromGRPC(status.Error(codes.DeadlineExceeded, "too slow"), Arbitration)
	assert.Equal(t, Connection, err.Kind)

	err = FromGRPC(status.Error(codes.PermissionDenied, "not master"), WriteRejected)
	assert.Equal(t, NotMaster, err.Kind)

	err = FromGRPC(status.Error(codes.PermissionDenied, "not master"), Arbitration)
	assert.Equal(t, Arbitration, err.Kind)

	err = FromGRPC(status.Error(codes.InvalidArgument, "bad pipeline"), Pipeline)
	assert.Equal(t, Pipeline, err.Kind)
	assert.Contains(t, err.Error(), "bad pipeline")

	classified := New(Closed, "session closed")
	assert.Same(t, classified, FromGRPC(classified, Pipeline))
}
