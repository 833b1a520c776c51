// SPDX-FileCopyrightText: 2020-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package device implements the simulated switch agent NB
package device

import (
	"fmt"
	"net"

	"github.com/onosproject/fabric-tunnel/pkg/northbound/device/p4runtime/v1"
	"github.com/onosproject/fabric-tunnel/pkg/simulator"
	simapi "github.com/onosproject/onos-api/go/onos/fabricsim"
	"github.com/onosproject/onos-lib-go/pkg/errors"
	"github.com/onosproject/onos-lib-go/pkg/logging"
	"github.com/onosproject/onos-lib-go/pkg/northbound"
	p4rtapi "github.com/p4lang/p4runtime/go/p4/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

var log = logging.GetLogger("northbound", "device")

const maxMessageSize = 16 * 1024 * 1024

// Service implements the P4Runtime service for a specified switch
type Service struct {
	northbound.Service
	sw *simulator.Switch
}

// NewService creates the P4Runtime service for the given switch
func NewService(sw *simulator.Switch) Service {
	return Service{sw: sw}
}

// Register registers the P4Runtime service with the given gRPC server
func (s Service) Register(r *grpc.Server) {
	p4rtapi.RegisterP4RuntimeServer(r, p4runtime.NewServer(s.sw))
	log.Debugf("Switch %s: P4Runtime registered", s.sw.Name)
}

// NewAgent creates a new simulated switch agent serving P4Runtime on the given TCP port
func NewAgent(port int) simulator.Agent {
	return &agent{port: port}
}

// Implementation of Agent interface backed by a gRPC server listening on a TCP port; the port may lie
// above the int16 range accepted by the onos-lib-go northbound configuration
type agent struct {
	port   int
	server *grpc.Server
	done   chan struct{}
}

// Start starts the simulated switch agent
func (a *agent) Start(sw *simulator.Switch) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", a.port))
	if err != nil {
		return errors.NewUnavailable("switch %s unable to listen on port %d: %v", sw.Name, a.port, err)
	}
	a.server, a.done = serve(sw, listener)
	log.Infof("Switch %s: Started simulated switch NBI on %s", sw.Name, listener.Addr())
	return nil
}

// Stop stops the simulated switch agent
func (a *agent) Stop(mode simapi.StopMode) error {
	return stop(a.server, a.done, mode)
}

// Serves the P4Runtime service of the switch on the listener until the server stops
func serve(sw *simulator.Switch, listener net.Listener) (*grpc.Server, chan struct{}) {
	server := grpc.NewServer(grpc.MaxRecvMsgSize(maxMessageSize), grpc.MaxSendMsgSize(maxMessageSize))
	NewService(sw).Register(server)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := server.Serve(listener); err != nil {
			log.Warnf("Switch %s: Agent stopped: %+v", sw.Name, err)
		}
	}()
	return server, done
}

func stop(server *grpc.Server, done chan struct{}, mode simapi.StopMode) error {
	if server == nil {
		return nil
	}
	if mode == simapi.StopMode_ORDERLY_STOP {
		server.GracefulStop()
	} else {
		server.Stop()
	}
	<-done
	return nil
}

// LocalAgent serves P4Runtime over an in-memory listener; used to run switches in-process
type LocalAgent struct {
	listener *bufconn.Listener
	server   *grpc.Server
	done     chan struct{}
}

// NewLocalAgent creates a new in-process agent
func NewLocalAgent() *LocalAgent {
	return &LocalAgent{listener: bufconn.Listen(1024 * 1024)}
}

// Start starts serving the switch over the in-memory listener
func (a *LocalAgent) Start(sw *simulator.Switch) error {
	a.server, a.done = serve(sw, a.listener)
	log.Infof("Switch %s: Started local simulated switch NBI", sw.Name)
	return nil
}

// Stop stops serving and waits for the server to exit
func (a *LocalAgent) Stop(mode simapi.StopMode) error {
	return stop(a.server, a.done, mode)
}

// Dial connects to the in-memory listener
func (a *LocalAgent) Dial() (net.Conn, error) {
	return a.listener.Dial()
}
