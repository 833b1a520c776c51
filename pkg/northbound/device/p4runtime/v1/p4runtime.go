// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package p4runtime implements the simulated P4Runtime service
package p4runtime

import (
	"context"
	"io"
	"sync"

	"github.com/onosproject/fabric-tunnel/pkg/simulator"
	"github.com/onosproject/onos-lib-go/pkg/errors"
	"github.com/onosproject/onos-lib-go/pkg/logging"
	p4rtapi "github.com/p4lang/p4runtime/go/p4/v1"
	"google.golang.org/genproto/googleapis/rpc/code"
	"google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/anypb"
)

var log = logging.GetLogger("northbound", "device", "p4runtime")

// Server implements the P4Runtime API
type Server struct {
	p4rtapi.UnimplementedP4RuntimeServer
	sw *simulator.Switch
}

// NewServer creates a new P4Runtime API server for the given switch
func NewServer(sw *simulator.Switch) *Server {
	return &Server{sw: sw}
}

// Capabilities responds with the device P4Runtime capabilities
func (s *Server) Capabilities(ctx context.Context, request *p4rtapi.CapabilitiesRequest) (*p4rtapi.CapabilitiesResponse, error) {
	log.Infof("Switch %s: P4Runtime capabilities have been requested", s.sw.Name)
	return &p4rtapi.CapabilitiesResponse{P4RuntimeApiVersion: "1.3.0"}, nil
}

// Write applies the updates of the request; only the master for the request role may write
func (s *Server) Write(ctx context.Context, request *p4rtapi.WriteRequest) (*p4rtapi.WriteResponse, error) {
	log.Debugf("Switch %s: Write received with %d updates", s.sw.Name, len(request.Updates))
	if err := s.sw.IsMaster(request.DeviceId, request.Role, request.ElectionId); err != nil {
		return nil, errors.Status(err).Err()
	}
	errs, err := s.sw.ProcessWrite(request.Updates)
	if err != nil {
		return nil, errors.Status(err).Err()
	}
	for _, err := range errs {
		if err != nil {
			return nil, writeError(errs)
		}
	}
	return &p4rtapi.WriteResponse{}, nil
}

// Produces the P4Runtime batch write error, which carries one p4.v1.Error detail for each update
func writeError(errs []error) error {
	details := make([]*anypb.Any, 0, len(errs))
	for _, err := range errs {
		p4err := &p4rtapi.Error{CanonicalCode: int32(code.Code_OK)}
		if err != nil {
			p4err.CanonicalCode = int32(errors.Status(err).Code())
			p4err.Message = err.Error()
			p4err.Space = "simulator"
		}
		detail, err := anypb.New(p4err)
		if err != nil {
			return errors.Status(errors.NewInternal(err.Error())).Err()
		}
		details = append(details, detail)
	}
	return grpcstatus.ErrorProto(&status.Status{
		Code:    int32(codes.Unknown),
		Message: "write failure",
		Details: details,
	})
}

// Read streams the requested entities
func (s *Server) Read(request *p4rtapi.ReadRequest, server p4rtapi.P4Runtime_ReadServer) error {
	log.Debugf("Switch %s: Read received", s.sw.Name)
	if request.DeviceId != s.sw.DeviceID {
		return errors.Status(errors.NewNotFound("incorrect device ID: %d", request.DeviceId)).Err()
	}
	err := s.sw.ProcessRead(request.Entities, func(entities []*p4rtapi.Entity) error {
		return server.Send(&p4rtapi.ReadResponse{Entities: entities})
	})
	if err != nil && err != io.EOF {
		return errors.Status(err).Err()
	}
	return nil
}

// SetForwardingPipelineConfig validates and, unless only verification is requested, applies the pipeline config
func (s *Server) SetForwardingPipelineConfig(ctx context.Context, request *p4rtapi.SetForwardingPipelineConfigRequest) (*p4rtapi.SetForwardingPipelineConfigResponse, error) {
	log.Infof("Switch %s: Setting forwarding pipeline configuration using %s", s.sw.Name, request.Action)
	if err := s.sw.IsMaster(request.DeviceId, request.Role, request.ElectionId); err != nil {
		return nil, errors.Status(err).Err()
	}

	var err error
	switch request.Action {
	case p4rtapi.SetForwardingPipelineConfigRequest_VERIFY:
		err = simulator.ValidatePipelineConfig(request.Config)
	case p4rtapi.SetForwardingPipelineConfigRequest_VERIFY_AND_COMMIT,
		p4rtapi.SetForwardingPipelineConfigRequest_RECONCILE_AND_COMMIT:
		err = s.sw.SetPipelineConfig(request.Config)
	default:
		err = errors.NewNotSupported("pipeline config action %s is not supported", request.Action)
	}
	if err != nil {
		log.Warnf("Switch %s: Unable to set pipeline configuration: %+v", s.sw.Name, err)
		return nil, errors.Status(err).Err()
	}
	return &p4rtapi.SetForwardingPipelineConfigResponse{}, nil
}

// GetForwardingPipelineConfig returns the requested parts of the current pipeline config
func (s *Server) GetForwardingPipelineConfig(ctx context.Context, request *p4rtapi.GetForwardingPipelineConfigRequest) (*p4rtapi.GetForwardingPipelineConfigResponse, error) {
	log.Debugf("Switch %s: Getting pipeline configuration", s.sw.Name)
	if request.DeviceId != s.sw.DeviceID {
		return nil, errors.Status(errors.NewNotFound("incorrect device ID: %d", request.DeviceId)).Err()
	}
	fpc := s.sw.GetPipelineConfig()
	if fpc == nil {
		return nil, errors.Status(errors.NewConflict("pipeline config not set yet for switch %s", s.sw.Name)).Err()
	}

	config := &p4rtapi.ForwardingPipelineConfig{Cookie: fpc.Cookie}
	switch request.ResponseType {
	case p4rtapi.GetForwardingPipelineConfigRequest_ALL:
		config.P4Info = fpc.P4Info
		config.P4DeviceConfig = fpc.P4DeviceConfig
	case p4rtapi.GetForwardingPipelineConfigRequest_P4INFO_AND_COOKIE:
		config.P4Info = fpc.P4Info
	case p4rtapi.GetForwardingPipelineConfigRequest_DEVICE_CONFIG_AND_COOKIE:
		config.P4DeviceConfig = fpc.P4DeviceConfig
	}
	return &p4rtapi.GetForwardingPipelineConfigResponse{Config: config}, nil
}

// StreamChannel reads and handles incoming requests and emits any queued up outgoing responses
func (s *Server) StreamChannel(server p4rtapi.P4Runtime_StreamChannelServer) error {
	responder := newStreamResponder()

	// Emit any queued-up messages in the background until we get an error or the stream is closed
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for msg := range responder.responses {
			if err := server.Send(msg); err != nil {
				return
			}
		}
	}()

	err := s.receive(server, responder)
	if responder.registered {
		s.sw.RemoveStreamResponder(responder)
	}
	responder.close()
	wg.Wait()
	return err
}

func (s *Server) receive(server p4rtapi.P4Runtime_StreamChannelServer, responder *streamResponder) error {
	for {
		msg, err := server.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		if arbitration := msg.GetArbitration(); arbitration != nil {
			if err := s.arbitrate(responder, arbitration); err != nil {
				log.Warnf("Switch %s: Arbitration failed: %+v", s.sw.Name, err)
				return errors.Status(err).Err()
			}
			continue
		}

		if !responder.registered {
			log.Warnf("Switch %s: Ignoring stream message received before arbitration", s.sw.Name)
			continue
		}
		if packet := msg.GetPacket(); packet != nil {
			log.Debugf("Switch %s: packet out of %d bytes", s.sw.Name, len(packet.Payload))
		}
		if digestAck := msg.GetDigestAck(); digestAck != nil {
			log.Debugf("Switch %s: digest ack: %+v", s.sw.Name, digestAck)
		}
	}
}

// Processes mastership arbitration update; a repeated update on the same stream replaces the previous one
func (s *Server) arbitrate(responder *streamResponder, arbitration *p4rtapi.MasterArbitrationUpdate) error {
	if responder.registered {
		s.sw.RemoveStreamResponder(responder)
		responder.registered = false
	}
	responder.deviceID = arbitration.DeviceId
	responder.role = arbitration.Role
	responder.electionID = arbitration.ElectionId
	if err := s.sw.RunMastershipArbitration(responder, arbitration.DeviceId); err != nil {
		return err
	}
	responder.registered = true
	return nil
}

const responsesBufferSize = 128

// Per-stream state; arbitration fields are only changed while the responder is not registered with the switch
type streamResponder struct {
	deviceID   uint64
	role       *p4rtapi.Role
	electionID *p4rtapi.Uint128
	registered bool

	lock      sync.Mutex
	closed    bool
	responses chan *p4rtapi.StreamMessageResponse
}

func newStreamResponder() *streamResponder {
	return &streamResponder{responses: make(chan *p4rtapi.StreamMessageResponse, responsesBufferSize)}
}

func (r *streamResponder) Role() string {
	if r.role == nil {
		return ""
	}
	return r.role.Name
}

func (r *streamResponder) ElectionID() *p4rtapi.Uint128 {
	return r.electionID
}

func (r *streamResponder) IsMaster(role string, masterElectionID *p4rtapi.Uint128) bool {
	return r.Role() == role && r.electionID != nil && masterElectionID != nil &&
		r.electionID.High == masterElectionID.High && r.electionID.Low == masterElectionID.Low
}

func (r *streamResponder) SendMastershipArbitration(role string, masterElectionID *p4rtapi.Uint128, failCode code.Code) {
	st := &status.Status{Code: int32(code.Code_OK)}
	if !r.IsMaster(role, masterElectionID) {
		st.Code = int32(failCode)
		if failCode == code.Code_NOT_FOUND {
			st.Message = "no master for role"
		} else {
			st.Message = "another controller is master"
		}
	}
	r.Send(&p4rtapi.StreamMessageResponse{
		Update: &p4rtapi.StreamMessageResponse_Arbitration{
			Arbitration: &p4rtapi.MasterArbitrationUpdate{
				DeviceId:   r.deviceID,
				Role:       r.role,
				ElectionId: masterElectionID,
				Status:     st,
			},
		},
	})
}

func (r *streamResponder) Send(response *p4rtapi.StreamMessageResponse) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.closed {
		return
	}
	select {
	case r.responses <- response:
	default:
		log.Warnf("Stream response buffer is full; dropping response")
	}
}

func (r *streamResponder) close() {
	r.lock.Lock()
	defer r.lock.Unlock()
	if !r.closed {
		r.closed = true
		close(r.responses)
	}
}
