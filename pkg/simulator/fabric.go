// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package simulator

import (
	"sort"
	"sync"

	simapi "github.com/onosproject/onos-api/go/onos/fabricsim"
	"github.com/onosproject/onos-lib-go/pkg/errors"
)

// Fabric tracks a set of simulated switches
type Fabric struct {
	lock     sync.RWMutex
	switches map[string]*Switch
	devices  map[uint64]string
}

// NewFabric creates a new empty fabric
func NewFabric() *Fabric {
	return &Fabric{
		switches: make(map[string]*Switch),
		devices:  make(map[uint64]string),
	}
}

// AddSwitch adds the given switch and starts it
func (f *Fabric) AddSwitch(sw *Switch) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	if _, ok := f.switches[sw.Name]; ok {
		return errors.NewAlreadyExists("switch %s already created", sw.Name)
	}
	if name, ok := f.devices[sw.DeviceID]; ok {
		return errors.NewAlreadyExists("device ID %d is already used by switch %s", sw.DeviceID, name)
	}
	if err := sw.Start(); err != nil {
		return err
	}
	f.switches[sw.Name] = sw
	f.devices[sw.DeviceID] = sw.Name
	return nil
}

// GetSwitch returns the switch with the specified name
func (f *Fabric) GetSwitch(name string) (*Switch, error) {
	f.lock.RLock()
	defer f.lock.RUnlock()
	if sw, ok := f.switches[name]; ok {
		return sw, nil
	}
	return nil, errors.NewNotFound("switch %s not found", name)
}

// GetSwitches returns all switches ordered by name
func (f *Fabric) GetSwitches() []*Switch {
	f.lock.RLock()
	defer f.lock.RUnlock()
	switches := make([]*Switch, 0, len(f.switches))
	for _, sw := range f.switches {
		switches = append(switches, sw)
	}
	sort.Slice(switches, func(i, j int) bool { return switches[i].Name < switches[j].Name })
	return switches
}

// RemoveSwitch stops and removes the specified switch
func (f *Fabric) RemoveSwitch(name string, mode simapi.StopMode) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	sw, ok := f.switches[name]
	if !ok {
		return errors.NewNotFound("switch %s not found", name)
	}
	delete(f.switches, name)
	delete(f.devices, sw.DeviceID)
	sw.Stop(mode)
	return nil
}

// Stop stops all switches
func (f *Fabric) Stop(mode simapi.StopMode) {
	for _, sw := range f.GetSwitches() {
		_ = f.RemoveSwitch(sw.Name, mode)
	}
}
