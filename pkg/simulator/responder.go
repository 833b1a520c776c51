// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package simulator

import (
	simapi "github.com/onosproject/onos-api/go/onos/fabricsim"
	p4api "github.com/p4lang/p4runtime/go/p4/v1"
	"google.golang.org/genproto/googleapis/rpc/code"
)

// StreamResponder represents a P4Runtime stream channel of a controller connected to a switch
type StreamResponder interface {
	// Role returns the role name the stream has been arbitrated for
	Role() string

	// ElectionID returns the election ID the stream has been arbitrated with
	ElectionID() *p4api.Uint128

	// IsMaster returns true if the responder is the master for the given role and master election ID
	IsMaster(role string, masterElectionID *p4api.Uint128) bool

	// SendMastershipArbitration sends the mastership arbitration result to the stream; the stream
	// receives OK status if it is the master and the fail code otherwise
	SendMastershipArbitration(role string, masterElectionID *p4api.Uint128, failCode code.Code)

	// Send queues up the specified response to be sent on the stream
	Send(response *p4api.StreamMessageResponse)
}

// Agent serves the P4Runtime API of a simulated switch
type Agent interface {
	// Start starts the agent for the given switch
	Start(sw *Switch) error

	// Stop stops the agent
	Stop(mode simapi.StopMode) error
}
