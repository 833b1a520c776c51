// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package harness runs simulated switches in-process, reachable over in-memory connections
package harness

import (
	"context"
	"net"
	"sync"

	"github.com/onosproject/fabric-tunnel/pkg/northbound/device"
	"github.com/onosproject/fabric-tunnel/pkg/simulator"
	simapi "github.com/onosproject/onos-api/go/onos/fabricsim"
	"github.com/onosproject/onos-lib-go/pkg/errors"
	"google.golang.org/grpc"
)

// Harness is a fabric of in-process simulated switches
type Harness struct {
	Fabric *simulator.Fabric

	lock   sync.RWMutex
	agents map[string]*device.LocalAgent
}

// New creates a new harness with no switches
func New() *Harness {
	return &Harness{
		Fabric: simulator.NewFabric(),
		agents: make(map[string]*device.LocalAgent),
	}
}

// AddSwitch creates and starts a simulated switch
func (h *Harness) AddSwitch(name string, deviceID uint64, opts ...simulator.Option) (*simulator.Switch, error) {
	agent := device.NewLocalAgent()
	sw := simulator.NewSwitch(name, deviceID, agent, opts...)
	if err := h.Fabric.AddSwitch(sw); err != nil {
		return nil, err
	}
	h.lock.Lock()
	defer h.lock.Unlock()
	h.agents[h.Address(name)] = agent
	return sw, nil
}

// Switch returns the named switch
func (h *Harness) Switch(name string) *simulator.Switch {
	sw, err := h.Fabric.GetSwitch(name)
	if err != nil {
		return nil
	}
	return sw
}

// Address returns the address of the named switch, to be used with the harness dial option
func (h *Harness) Address(name string) string {
	return name + ".sim"
}

// DialOption returns the dial option routing connections to the harness switches by their address
func (h *Harness) DialOption() grpc.DialOption {
	return grpc.WithContextDialer(func(ctx context.Context, address string) (net.Conn, error) {
		h.lock.RLock()
		agent, ok := h.agents[address]
		h.lock.RUnlock()
		if !ok {
			return nil, errors.NewUnavailable("no switch at %s", address)
		}
		return agent.Dial()
	})
}

// Stop stops all switches
func (h *Harness) Stop() {
	h.Fabric.Stop(simapi.StopMode_CHAOTIC_STOP)
}
