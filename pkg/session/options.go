// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"time"

	gogo "github.com/gogo/protobuf/types"
	"github.com/onosproject/onos-api/go/onos/stratum"
	p4api "github.com/p4lang/p4runtime/go/p4/v1"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/anypb"
)

const defaultDialTimeout = 10 * time.Second

// Option configures a session
type Option func(s *Session)

// WithElectionID sets the election ID used to claim mastership; higher election ID wins
func WithElectionID(high uint64, low uint64) Option {
	return func(s *Session) {
		s.electionID = &p4api.Uint128{High: high, Low: low}
	}
}

// WithRole claims mastership for the named role rather than the default role; the role configuration
// permits pushing the forwarding pipeline and opts out of packet-ins
func WithRole(name string) Option {
	return func(s *Session) {
		s.role = newRole(name)
	}
}

// WithDialTimeout bounds the time spent establishing the control channel
func WithDialTimeout(timeout time.Duration) Option {
	return func(s *Session) {
		s.dialTimeout = timeout
	}
}

// WithDialOptions adds gRPC dial options, e.g. a custom dialer
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(s *Session) {
		s.dialOpts = append(s.dialOpts, opts...)
	}
}

func newRole(name string) *p4api.Role {
	if name == "" {
		return nil
	}
	roleConfig := &stratum.P4RoleConfig{
		ReceivesPacketIns: false,
		CanPushPipeline:   true,
	}
	any, err := gogo.MarshalAny(roleConfig)
	if err != nil {
		log.Warnf("Unable to marshal configuration of role %s: %+v", name, err)
		return &p4api.Role{Name: name}
	}
	return &p4api.Role{
		Name: name,
		Config: &anypb.Any{
			TypeUrl: any.TypeUrl,
			Value:   any.Value,
		},
	}
}
