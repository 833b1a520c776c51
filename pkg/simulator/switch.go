// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package simulator contains simulated P4Runtime switches used to run the controller without hardware
package simulator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/onosproject/fabric-tunnel/pkg/simulator/entries"
	simapi "github.com/onosproject/onos-api/go/onos/fabricsim"
	"github.com/onosproject/onos-lib-go/pkg/errors"
	"github.com/onosproject/onos-lib-go/pkg/logging"
	p4api "github.com/p4lang/p4runtime/go/p4/v1"
	"google.golang.org/genproto/googleapis/rpc/code"
)

var log = logging.GetLogger("simulator")

// Switch simulates a single P4Runtime switch
type Switch struct {
	Name     string
	DeviceID uint64
	Agent    Agent

	trafficInterval time.Duration

	lock                     sync.RWMutex
	forwardingPipelineConfig *p4api.ForwardingPipelineConfig
	streamResponders         []StreamResponder
	roleElections            map[string]*p4api.Uint128

	tables   *entries.Tables
	counters *entries.Counters

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a simulated switch
type Option func(sw *Switch)

// WithTrafficInterval enables simulated traffic, which bumps the counters of installed entries at the given interval
func WithTrafficInterval(interval time.Duration) Option {
	return func(sw *Switch) {
		sw.trafficInterval = interval
	}
}

// NewSwitch initializes a new switch simulator
func NewSwitch(name string, deviceID uint64, agent Agent, opts ...Option) *Switch {
	log.Infof("Switch %s: Creating simulator with device ID %d", name, deviceID)
	sw := &Switch{
		Name:          name,
		DeviceID:      deviceID,
		Agent:         agent,
		roleElections: make(map[string]*p4api.Uint128),
	}
	for _, opt := range opts {
		opt(sw)
	}
	return sw
}

// Start spawns the switch background tasks and its agent API server
func (sw *Switch) Start() error {
	log.Infof("Switch %s: Starting simulator", sw.Name)

	if sw.trafficInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		sw.cancel = cancel
		sw.done = make(chan struct{})
		go sw.simulateTraffic(ctx, sw.trafficInterval)
	}

	if err := sw.Agent.Start(sw); err != nil {
		log.Errorf("Switch %s: Unable to run simulator: %+v", sw.Name, err)
		sw.stopTraffic()
		return err
	}
	return nil
}

// Stop stops the switch agent and any background simulation tasks
func (sw *Switch) Stop(mode simapi.StopMode) {
	sw.stopTraffic()
	log.Infof("Switch %s: Stopping simulator using %s", sw.Name, mode)
	if err := sw.Agent.Stop(mode); err != nil {
		log.Errorf("Switch %s: Unable to stop simulator: %+v", sw.Name, err)
	}
}

func (sw *Switch) stopTraffic() {
	if sw.cancel != nil {
		sw.cancel()
		<-sw.done
		sw.cancel = nil
	}
}

// IsMaster returns an error if the given election ID is not the master for the specified device and role
func (sw *Switch) IsMaster(deviceID uint64, role string, electionID *p4api.Uint128) error {
	if deviceID != sw.DeviceID {
		return errors.NewNotFound("incorrect device ID: %d", deviceID)
	}
	sw.lock.RLock()
	defer sw.lock.RUnlock()
	winningElectionID, ok := sw.roleElections[role]
	if !ok || electionID == nil || winningElectionID.High != electionID.High || winningElectionID.Low != electionID.Low {
		return errors.NewUnauthorized("not master for role %q on device ID: %d", role, deviceID)
	}
	return nil
}

// RecordRoleElection checks the given election ID for the specified role and records it if the given election ID
// is larger than a previously recorded election ID for the same role; returns the winning election ID for the
// role or nil if a master for this role and election ID is already claimed
func (sw *Switch) RecordRoleElection(role string, electionID *p4api.Uint128) *p4api.Uint128 {
	sw.lock.Lock()
	defer sw.lock.Unlock()
	return sw.recordRoleElection(role, electionID)
}

func (sw *Switch) recordRoleElection(role string, electionID *p4api.Uint128) *p4api.Uint128 {
	maxID, ok := sw.roleElections[role]
	if !ok || less(maxID, electionID) {
		sw.roleElections[role] = electionID
		return electionID
	} else if equal(maxID, electionID) {
		return nil // this role and election ID has already been claimed
	}
	return maxID
}

// RunMastershipArbitration processes the arbitration update received on the given stream, adds the stream
// to the switch and notifies all streams of the role about the outcome
func (sw *Switch) RunMastershipArbitration(responder StreamResponder, deviceID uint64) error {
	log.Debugf("Switch %s: running mastership arbitration for role %q and election ID %+v",
		sw.Name, responder.Role(), responder.ElectionID())
	if deviceID != sw.DeviceID {
		return errors.NewNotFound("incorrect device ID: %d", deviceID)
	}
	if responder.ElectionID() == nil {
		return errors.NewInvalid("election ID is required")
	}

	sw.lock.Lock()
	defer sw.lock.Unlock()

	// Record the role and election ID, return the winning (highest) election ID for the role
	maxElectionID := sw.recordRoleElection(responder.Role(), responder.ElectionID())
	if maxElectionID == nil {
		return errors.NewInvalid("election ID %+v is already used for role %q", responder.ElectionID(), responder.Role())
	}
	sw.streamResponders = append(sw.streamResponders, responder)
	sw.notifyRole(responder.Role(), maxElectionID)
	return nil
}

// Notifies all streams for the role; if we cannot locate the responder with the max election ID, then the
// previous master has left and all streams get NOT_FOUND code
func (sw *Switch) notifyRole(role string, maxElectionID *p4api.Uint128) {
	failCode := code.Code_NOT_FOUND
	for _, r := range sw.streamResponders {
		if r.IsMaster(role, maxElectionID) {
			failCode = code.Code_ALREADY_EXISTS
			break
		}
	}
	for _, r := range sw.streamResponders {
		if r.Role() == role {
			r.SendMastershipArbitration(role, maxElectionID, failCode)
		}
	}
}

// RemoveStreamResponder removes the specified stream responder from the switch; if the responder was the
// master of its role, the role is left without a master and the remaining streams are notified
func (sw *Switch) RemoveStreamResponder(responder StreamResponder) {
	sw.lock.Lock()
	defer sw.lock.Unlock()
	found := false
	for i, r := range sw.streamResponders {
		if r == responder {
			last := len(sw.streamResponders) - 1
			sw.streamResponders[i] = sw.streamResponders[last]
			sw.streamResponders[last] = nil
			sw.streamResponders = sw.streamResponders[:last]
			found = true
			break
		}
	}
	if !found {
		return
	}

	role := responder.Role()
	if maxID, ok := sw.roleElections[role]; ok && responder.IsMaster(role, maxID) {
		log.Infof("Switch %s: master for role %q has left", sw.Name, role)
		delete(sw.roleElections, role)
		sw.notifyRole(role, maxID)
	}
}

// SetPipelineConfig validates and sets the forwarding pipeline configuration for the switch; any
// previously installed entries are discarded
func (sw *Switch) SetPipelineConfig(fpc *p4api.ForwardingPipelineConfig) error {
	if err := ValidatePipelineConfig(fpc); err != nil {
		return err
	}

	sw.lock.Lock()
	defer sw.lock.Unlock()
	sw.forwardingPipelineConfig = fpc
	sw.tables = entries.NewTables(fpc.P4Info)
	sw.counters = entries.NewCounters(fpc.P4Info.Counters)

	cookie := uint64(0)
	if fpc.Cookie != nil {
		cookie = fpc.Cookie.Cookie
	}
	log.Infof("Switch %s: Pipeline set with cookie %d; tables: %d; counters: %d",
		sw.Name, cookie, len(fpc.P4Info.Tables), len(fpc.P4Info.Counters))
	return nil
}

// ValidatePipelineConfig checks that the pipeline config carries a P4Info with tables and a well-formed
// JSON device config, as expected by BMv2-like targets
func ValidatePipelineConfig(fpc *p4api.ForwardingPipelineConfig) error {
	if fpc == nil || fpc.P4Info == nil || len(fpc.P4Info.Tables) == 0 {
		return errors.NewInvalid("pipeline config has no P4Info tables")
	}
	if !json.Valid(fpc.P4DeviceConfig) {
		return errors.NewInvalid("device config is not a valid target configuration")
	}
	return nil
}

// GetPipelineConfig returns the forwarding pipeline configuration of the switch or nil if not set yet
func (sw *Switch) GetPipelineConfig() *p4api.ForwardingPipelineConfig {
	sw.lock.RLock()
	defer sw.lock.RUnlock()
	return sw.forwardingPipelineConfig
}

// Tables returns the switch tables store; nil if the pipeline config is not set yet
func (sw *Switch) Tables() *entries.Tables {
	sw.lock.RLock()
	defer sw.lock.RUnlock()
	return sw.tables
}

// Counters returns the switch counters store; nil if the pipeline config is not set yet
func (sw *Switch) Counters() *entries.Counters {
	sw.lock.RLock()
	defer sw.lock.RUnlock()
	return sw.counters
}

// ProcessWrite processes the specified batch of updates; returns an error for each update, nil for
// updates that were applied
func (sw *Switch) ProcessWrite(updates []*p4api.Update) ([]error, error) {
	sw.lock.Lock()
	defer sw.lock.Unlock()
	if sw.tables == nil {
		return nil, errors.NewConflict("pipeline config not set yet for switch %s", sw.Name)
	}

	errs := make([]error, len(updates))
	for i, update := range updates {
		switch update.Type {
		case p4api.Update_INSERT:
			errs[i] = sw.processModify(update, true)
		case p4api.Update_MODIFY:
			errs[i] = sw.processModify(update, false)
		case p4api.Update_DELETE:
			errs[i] = sw.processDelete(update)
		default:
			errs[i] = errors.NewInvalid("unsupported update type %s", update.Type)
		}
		if errs[i] != nil {
			log.Warnf("Switch %s: Unable to %s entry: %+v", sw.Name, update.Type, errs[i])
		}
	}
	return errs, nil
}

func (sw *Switch) processModify(update *p4api.Update, isInsert bool) error {
	entity := update.Entity
	switch {
	case entity.GetTableEntry() != nil:
		return sw.tables.ModifyTableEntry(entity.GetTableEntry(), isInsert)
	case entity.GetCounterEntry() != nil:
		return sw.counters.ModifyCounterEntry(entity.GetCounterEntry(), isInsert)
	}
	return errors.NewNotSupported("unsupported entity")
}

func (sw *Switch) processDelete(update *p4api.Update) error {
	entity := update.Entity
	switch {
	case entity.GetTableEntry() != nil:
		return sw.tables.RemoveTableEntry(entity.GetTableEntry())
	case entity.GetCounterEntry() != nil:
		return errors.NewInvalid("counter cannot be deleted")
	}
	return errors.NewNotSupported("unsupported entity")
}

// ProcessRead executes the read of the specified set of requests, returning accumulated results via the supplied sender
func (sw *Switch) ProcessRead(requests []*p4api.Entity, sender entries.BatchSender) error {
	sw.lock.RLock()
	defer sw.lock.RUnlock()
	if sw.tables == nil {
		return errors.NewConflict("pipeline config not set yet for switch %s", sw.Name)
	}

	for _, request := range requests {
		var err error
		switch {
		case request.GetTableEntry() != nil:
			err = sw.tables.ReadTableEntries(request.GetTableEntry(), sender)
		case request.GetCounterEntry() != nil:
			err = sw.counters.ReadCounterEntries(request.GetCounterEntry(), sender)
		default:
			err = errors.NewNotSupported("unsupported entity")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func less(a *p4api.Uint128, b *p4api.Uint128) bool {
	return a.High < b.High || (a.High == b.High && a.Low < b.Low)
}

func equal(a *p4api.Uint128, b *p4api.Uint128) bool {
	return a.High == b.High && a.Low == b.Low
}
