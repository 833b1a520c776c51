// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package session implements the controller side of the P4Runtime control channel to a single switch:
// mastership arbitration, forwarding pipeline installation, entry writes and reads, and counter reads.
package session

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/onosproject/fabric-tunnel/pkg/fault"
	"github.com/onosproject/fabric-tunnel/pkg/pipeline"
	"github.com/onosproject/fabric-tunnel/pkg/rule"
	"github.com/onosproject/onos-lib-go/pkg/logging"
	p4api "github.com/p4lang/p4runtime/go/p4/v1"
	"google.golang.org/genproto/googleapis/rpc/code"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

var log = logging.GetLogger("session")

// Mastership is the state of the session's mastership claim
type Mastership int

const (
	// Unclaimed means mastership has not been claimed yet
	Unclaimed Mastership = iota
	// Master means the session holds mastership and may write
	Master
	// Lost means a peer with higher election ID holds mastership; the state is terminal
	Lost
)

func (m Mastership) String() string {
	switch m {
	case Unclaimed:
		return "Unclaimed"
	case Master:
		return "Master"
	case Lost:
		return "Lost"
	}
	return fmt.Sprintf("Mastership(%d)", int(m))
}

// PipelineState is the state of the forwarding pipeline installation
type PipelineState int

const (
	// NotInstalled means the pipeline has not been installed by this session
	NotInstalled PipelineState = iota
	// Installed means the pipeline is installed and entries may be written
	Installed
)

func (p PipelineState) String() string {
	if p == Installed {
		return "Installed"
	}
	return "NotInstalled"
}

// CounterData is the value of a single counter cell
type CounterData struct {
	Packets int64
	Bytes   int64
}

// Session is a control channel to a single switch
type Session struct {
	name        string
	address     string
	deviceID    uint64
	electionID  *p4api.Uint128
	role        *p4api.Role
	dialTimeout time.Duration
	dialOpts    []grpc.DialOption

	conn   *grpc.ClientConn
	client p4api.P4RuntimeClient

	// serializes mastership claims
	claimLock sync.Mutex

	lock          sync.RWMutex
	mastership    Mastership
	pipelineState PipelineState
	descriptor    pipeline.Descriptor
	closed        bool
	stream        p4api.P4Runtime_StreamChannelClient
	streamCancel  context.CancelFunc
	streamErr     error
	awaiting      chan *p4api.MasterArbitrationUpdate
	monitorDone   chan struct{}

	closeOnce sync.Once
}

// Open establishes the control channel to the switch at the given address; the dial is bounded by the
// dial timeout and fails with a Connection failure if the switch is unreachable
func Open(ctx context.Context, name string, address string, deviceID uint64, opts ...Option) (*Session, error) {
	s := &Session{
		name:        name,
		address:     address,
		deviceID:    deviceID,
		electionID:  &p4api.Uint128{High: 0, Low: 1},
		dialTimeout: defaultDialTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	log.Infof("%s: connecting to %s with device ID %d...", name, address, deviceID)
	dialCtx, cancel := context.WithTimeout(ctx, s.dialTimeout)
	defer cancel()

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, s.dialOpts...)
	conn, err := grpc.DialContext(dialCtx, address, dialOpts...)
	if err != nil {
		return nil, fault.Wrap(fault.Connection, err, "unable to connect to %s", address).WithSwitch(name).WithOp("open")
	}
	s.conn = conn
	s.client = p4api.NewP4RuntimeClient(conn)
	return s, nil
}

// Name returns the switch name
func (s *Session) Name() string {
	return s.name
}

// Address returns the switch address
func (s *Session) Address() string {
	return s.address
}

// DeviceID returns the P4Runtime device ID of the switch
func (s *Session) DeviceID() uint64 {
	return s.deviceID
}

// Mastership returns the current mastership state
func (s *Session) Mastership() Mastership {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.mastership
}

// PipelineState returns the current pipeline state
func (s *Session) PipelineState() PipelineState {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.pipelineState
}

// Descriptor returns the descriptor of the installed pipeline; nil until the pipeline is installed
func (s *Session) Descriptor() pipeline.Descriptor {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.descriptor
}

func (s *Session) roleName() string {
	if s.role == nil {
		return ""
	}
	return s.role.Name
}

// ClaimMastership opens the stream channel and claims mastership using the session's election ID. Claiming
// mastership while already master is a no-op. If a peer with higher election ID is master, the session
// enters the terminal Lost state and an Arbitration failure is returned.
func (s *Session) ClaimMastership(ctx context.Context) error {
	s.claimLock.Lock()
	defer s.claimLock.Unlock()

	s.lock.Lock()
	switch {
	case s.closed:
		s.lock.Unlock()
		return s.fail(fault.Closed, "claim", "session is closed")
	case s.mastership == Master:
		s.lock.Unlock()
		return nil
	case s.mastership == Lost:
		s.lock.Unlock()
		return s.fail(fault.Arbitration, "claim", "mastership has been lost")
	}

	opened := s.stream != nil
	s.lock.Unlock()

	// The stream is opened without holding the lock; only claims install it and those are serialized
	var stream p4api.P4Runtime_StreamChannelClient
	var cancel context.CancelFunc
	if !opened {
		var streamCtx context.Context
		streamCtx, cancel = context.WithCancel(context.Background())
		var err error
		stream, err = s.client.StreamChannel(streamCtx)
		if err != nil {
			cancel()
			return fault.Annotate(fault.FromGRPC(err, fault.Connection), s.name, "claim")
		}
	}

	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		if cancel != nil {
			cancel()
		}
		return s.fail(fault.Closed, "claim", "session is closed")
	}
	if !opened {
		s.stream = stream
		s.streamCancel = cancel
		s.monitorDone = make(chan struct{})
		go s.monitorStream(stream, s.monitorDone)
	}
	awaiting := make(chan *p4api.MasterArbitrationUpdate, 1)
	s.awaiting = awaiting
	stream, monitorDone := s.stream, s.monitorDone
	s.lock.Unlock()

	log.Infof("%s: claiming mastership for role %q with election ID %d:%d",
		s.name, s.roleName(), s.electionID.High, s.electionID.Low)
	err := stream.Send(&p4api.StreamMessageRequest{
		Update: &p4api.StreamMessageRequest_Arbitration{
			Arbitration: &p4api.MasterArbitrationUpdate{
				DeviceId:   s.deviceID,
				Role:       s.role,
				ElectionId: s.electionID,
			},
		},
	})
	if err != nil {
		return fault.Annotate(fault.FromGRPC(err, fault.Connection), s.name, "claim")
	}

	select {
	case arbitration := <-awaiting:
		return s.evaluateClaim(arbitration)
	case <-monitorDone:
		s.lock.RLock()
		err = s.streamErr
		s.lock.RUnlock()
		if st, ok := status.FromError(err); ok && st.Code() == codes.InvalidArgument {
			return fault.Wrap(fault.Arbitration, err, "arbitration refused").WithSwitch(s.name).WithOp("claim")
		}
		return fault.Wrap(fault.Connection, err, "stream closed during arbitration").WithSwitch(s.name).WithOp("claim")
	case <-ctx.Done():
		return fault.Wrap(fault.Connection, ctx.Err(), "no arbitration response").WithSwitch(s.name).WithOp("claim")
	}
}

// Applies the outcome of our own arbitration request
func (s *Session) evaluateClaim(arbitration *p4api.MasterArbitrationUpdate) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.isMaster(arbitration) {
		s.mastership = Master
		log.Infof("%s: mastership acquired", s.name)
		return nil
	}
	s.mastership = Lost
	statusCode := code.Code(arbitration.GetStatus().GetCode())
	log.Warnf("%s: mastership denied: %s", s.name, statusCode)
	master := arbitration.GetElectionId()
	return fault.New(fault.Arbitration, "mastership denied with status %s; master election ID is %d:%d",
		statusCode, master.GetHigh(), master.GetLow()).WithSwitch(s.name).WithOp("claim")
}

func (s *Session) isMaster(arbitration *p4api.MasterArbitrationUpdate) bool {
	id := arbitration.GetElectionId()
	return code.Code(arbitration.GetStatus().GetCode()) == code.Code_OK && id != nil &&
		id.High == s.electionID.High && id.Low == s.electionID.Low
}

// Receives stream messages until the stream breaks; hands the response to a pending claim to the
// claimer and demotes the session on any later arbitration update that does not confirm mastership
func (s *Session) monitorStream(stream p4api.P4Runtime_StreamChannelClient, done chan struct{}) {
	defer close(done)
	for {
		msg, err := stream.Recv()
		if err != nil {
			s.lock.Lock()
			s.streamErr = err
			closed := s.closed
			s.lock.Unlock()
			if !closed && err != io.EOF {
				log.Warnf("%s: stream channel closed: %+v", s.name, err)
			}
			return
		}

		arbitration := msg.GetArbitration()
		if arbitration == nil {
			log.Debugf("%s: ignoring stream message %T", s.name, msg.Update)
			continue
		}

		s.lock.Lock()
		if s.awaiting != nil {
			s.awaiting <- arbitration
			s.awaiting = nil
		} else if s.mastership == Master && !s.isMaster(arbitration) {
			s.mastership = Lost
			log.Warnf("%s: mastership lost to election ID %d:%d", s.name,
				arbitration.GetElectionId().GetHigh(), arbitration.GetElectionId().GetLow())
		}
		s.lock.Unlock()
	}
}

// Checks that the session is usable for the given operation
func (s *Session) check(op string, needMaster bool, needPipeline bool) error {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.closed {
		return s.fail(fault.Closed, op, "session is closed")
	}
	if needMaster && s.mastership != Master {
		return s.fail(fault.NotMaster, op, "mastership is %s", s.mastership)
	}
	if needPipeline && s.pipelineState != Installed {
		return s.fail(fault.NotInstalled, op, "forwarding pipeline is not installed")
	}
	return nil
}

func (s *Session) fail(kind fault.Kind, op string, format string, args ...interface{}) error {
	return fault.New(kind, format, args...).WithSwitch(s.name).WithOp(op)
}

// PushPipeline installs the given forwarding pipeline; requires mastership. When the pipeline requests
// reconciliation and the switch already runs a pipeline with the same cookie, the push is skipped.
func (s *Session) PushPipeline(ctx context.Context, cfg *pipeline.Config) error {
	if err := s.check("push", true, false); err != nil {
		return err
	}

	if cfg.Reconcile && cfg.Cookie != 0 {
		resp, err := s.client.GetForwardingPipelineConfig(ctx, &p4api.GetForwardingPipelineConfigRequest{
			DeviceId:     s.deviceID,
			ResponseType: p4api.GetForwardingPipelineConfigRequest_COOKIE_ONLY,
		})
		if err == nil && resp.GetConfig().GetCookie().GetCookie() == cfg.Cookie {
			log.Infof("%s: pipeline with cookie %d already installed", s.name, cfg.Cookie)
			s.installed(cfg)
			return nil
		}
		if err != nil {
			log.Debugf("%s: unable to get pipeline cookie: %+v", s.name, err)
		}
	}

	log.Infof("%s: pushing pipeline with cookie %d", s.name, cfg.Cookie)
	_, err := s.client.SetForwardingPipelineConfig(ctx, &p4api.SetForwardingPipelineConfigRequest{
		DeviceId:   s.deviceID,
		Role:       s.roleName(),
		ElectionId: s.electionID,
		Action:     p4api.SetForwardingPipelineConfigRequest_VERIFY_AND_COMMIT,
		Config:     cfg.ForwardingPipelineConfig(),
	})
	if err != nil {
		return fault.Annotate(fault.FromGRPC(err, fault.Pipeline), s.name, "push")
	}
	s.installed(cfg)
	return nil
}

func (s *Session) installed(cfg *pipeline.Config) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.pipelineState = Installed
	s.descriptor = cfg.Descriptor
}

// WriteEntry inserts the table entry described by the given spec; requires mastership and an installed
// pipeline. Rejected writes are not retried.
func (s *Session) WriteEntry(ctx context.Context, spec rule.Spec) error {
	if err := s.check("write", true, true); err != nil {
		return fault.Annotate(withTable(err, spec.Table), s.name, "write")
	}
	entry, err := rule.Encode(spec, s.Descriptor())
	if err != nil {
		return fault.Annotate(err, s.name, "write")
	}

	log.Debugf("%s: writing %s", s.name, spec)
	_, err = s.client.Write(ctx, &p4api.WriteRequest{
		DeviceId:   s.deviceID,
		Role:       s.roleName(),
		ElectionId: s.electionID,
		Updates: []*p4api.Update{{
			Type:   p4api.Update_INSERT,
			Entity: &p4api.Entity{Entity: &p4api.Entity_TableEntry{TableEntry: entry}},
		}},
		Atomicity: p4api.WriteRequest_CONTINUE_ON_ERROR,
	})
	if err != nil {
		return s.writeFailure(err, spec.Table)
	}
	return nil
}

// Classifies the write failure; device rejections carry the reason code of the first failed update
func (s *Session) writeFailure(err error, table string) error {
	fe := fault.FromGRPC(err, fault.WriteRejected).WithSwitch(s.name).WithTable(table).WithOp("write")
	if fe.Kind != fault.WriteRejected {
		return fe
	}
	st, _ := status.FromError(err)
	fe.Reason = code.Code(st.Code())
	fe.Message = st.Message()
	for _, detail := range st.Details() {
		if p4err, ok := detail.(*p4api.Error); ok && code.Code(p4err.CanonicalCode) != code.Code_OK {
			fe.Reason = code.Code(p4err.CanonicalCode)
			fe.Message = p4err.Message
			break
		}
	}
	fe.Err = nil
	return fe
}

func withTable(err error, table string) error {
	if fe, ok := err.(*fault.Error); ok {
		fe.WithTable(table)
	}
	return err
}

// ReadEntries reads all entries currently installed in the switch tables; the entries are received
// lazily as the reader is advanced
func (s *Session) ReadEntries(ctx context.Context) (*EntryReader, error) {
	if err := s.check("read", false, true); err != nil {
		return nil, err
	}
	stream, err := s.client.Read(ctx, &p4api.ReadRequest{
		DeviceId: s.deviceID,
		Entities: []*p4api.Entity{{Entity: &p4api.Entity_TableEntry{TableEntry: &p4api.TableEntry{}}}},
	})
	if err != nil {
		return nil, fault.Annotate(fault.FromGRPC(err, fault.Unknown), s.name, "read")
	}
	return &EntryReader{session: s, stream: stream, descriptor: s.Descriptor()}, nil
}

// ReadCounter returns the value of the given cell of the named counter; requires mastership and an installed
// pipeline. Fails with NotFound if the cell has never been populated.
func (s *Session) ReadCounter(ctx context.Context, name string, index int64) (CounterData, error) {
	if err := s.check("counter", true, true); err != nil {
		return CounterData{}, err
	}
	counter, err := s.Descriptor().Resolve(pipeline.Counter, "", name)
	if err != nil {
		return CounterData{}, fault.Annotate(err, s.name, "counter")
	}
	if index < 0 || (counter.Size > 0 && index >= counter.Size) {
		return CounterData{}, s.fail(fault.InvalidEntry, "counter", "index %d of counter %s is out of range", index, name)
	}

	stream, err := s.client.Read(ctx, &p4api.ReadRequest{
		DeviceId: s.deviceID,
		Entities: []*p4api.Entity{{Entity: &p4api.Entity_CounterEntry{CounterEntry: &p4api.CounterEntry{
			CounterId: counter.ID,
			Index:     &p4api.Index{Index: index},
		}}}},
	})
	if err != nil {
		return CounterData{}, s.counterFailure(err)
	}

	var data *p4api.CounterData
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return CounterData{}, s.counterFailure(err)
		}
		for _, entity := range resp.Entities {
			entry := entity.GetCounterEntry()
			if entry != nil && entry.CounterId == counter.ID && entry.GetIndex().GetIndex() == index {
				data = entry.Data
			}
		}
	}
	if data == nil {
		return CounterData{}, s.fail(fault.NotFound, "counter", "counter %s index %d has never been populated", name, index)
	}
	return CounterData{Packets: data.PacketCount, Bytes: data.ByteCount}, nil
}

func (s *Session) counterFailure(err error) error {
	if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
		return fault.Wrap(fault.NotFound, err, "counter not found").WithSwitch(s.name).WithOp("counter")
	}
	return fault.Annotate(fault.FromGRPC(err, fault.Unknown), s.name, "counter")
}

// Close releases the control channel; subsequent calls are no-ops
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		log.Infof("%s: closing session", s.name)
		s.lock.Lock()
		s.closed = true
		stream, cancel, done := s.stream, s.streamCancel, s.monitorDone
		s.lock.Unlock()

		if stream != nil {
			_ = stream.CloseSend()
			cancel()
		}
		if cerr := s.conn.Close(); cerr != nil {
			err = fault.Wrap(fault.Connection, cerr, "unable to close channel").WithSwitch(s.name).WithOp("close")
		}
		if done != nil {
			<-done
		}
	})
	return err
}
