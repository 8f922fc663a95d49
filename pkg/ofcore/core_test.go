package ofcore

import (
	"context"
	"testing"
	"time"

	"github.com/ofnet/ofcore/pkg/ofmsg"
	"github.com/ofnet/ofcore/pkg/ofmsg/ofmsgtest"
)

// recordingCoreHandler captures the CoreHandler events a test cares
// about onto channels.
type recordingCoreHandler struct {
	dptUp   chan *Endpoint
	ctlUp   chan *Endpoint
	dptDown chan *Endpoint
	ctlDown chan *Endpoint
	msgs    chan ofmsg.Message
}

func newRecordingCoreHandler() *recordingCoreHandler {
	return &recordingCoreHandler{
		dptUp:   make(chan *Endpoint, 4),
		ctlUp:   make(chan *Endpoint, 4),
		dptDown: make(chan *Endpoint, 4),
		ctlDown: make(chan *Endpoint, 4),
		msgs:    make(chan ofmsg.Message, 16),
	}
}

func (h *recordingCoreHandler) OnDptEstablished(dpt *Endpoint)          { h.dptUp <- dpt }
func (h *recordingCoreHandler) OnDptClosed(dpt *Endpoint, _ error)      { h.dptDown <- dpt }
func (h *recordingCoreHandler) OnCtlEstablished(ctl *Endpoint)          { h.ctlUp <- ctl }
func (h *recordingCoreHandler) OnCtlClosed(ctl *Endpoint, _ error)      { h.ctlDown <- ctl }
func (h *recordingCoreHandler) OnNegotiationFailed(string, PeerKind, string) {}
func (h *recordingCoreHandler) OnMessage(_ EndpointKind, _ *Endpoint, _ ConnId, _ uint32, msg ofmsg.Message) {
	h.msgs <- msg
}

// newTestCore wires a Core hosting the controller role (its listener
// accepts datapath peers) around the demo codec.
func newTestCore(t *testing.T) (*Core, *recordingCoreHandler, func()) {
	t.Helper()
	h := newRecordingCoreHandler()
	core := NewCore(ofmsgtest.Codec{}, h, WithEchoInterval(time.Hour), WithEchoTimeout(time.Hour))
	if err := core.Listen("tcp", "127.0.0.1:0", PeerDatapath); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		core.Run(ctx)
	}()

	return core, h, func() {
		core.Close()
		cancel()
		<-done
	}
}

// respondingDptCoreHandler plays the application side of a datapath: it
// answers the FEATURES_REQUEST the bring-up sequencer sends with a
// FeaturesReply carrying a fixed dpid, the way a real switch's control
// agent would.
type respondingDptCoreHandler struct {
	*recordingCoreHandler
	dpID uint64
}

func (h *respondingDptCoreHandler) OnMessage(kind EndpointKind, ep *Endpoint, connID ConnId, xid uint32, msg ofmsg.Message) {
	switch msg.(type) {
	case ofmsgtest.FeaturesRequest:
		_ = ep.Send(connID, xid, ofmsgtest.FeaturesReply{DatapathID_: h.dpID})
		return
	case ofmsgtest.GetConfigRequest:
		_ = ep.Send(connID, xid, ofmsgtest.GetConfigReply{})
		return
	case ofmsgtest.TableStatsRequest:
		_ = ep.Send(connID, xid, ofmsgtest.TableStatsReply{NumTables: 1})
		return
	}
	h.recordingCoreHandler.OnMessage(kind, ep, connID, xid, msg)
}

func TestCoreDatapathBringupAndRouting(t *testing.T) {
	ctlHandler := newRecordingCoreHandler()
	ctlCore := NewCore(ofmsgtest.Codec{}, ctlHandler, WithEchoInterval(time.Hour), WithEchoTimeout(time.Hour))
	if err := ctlCore.Listen("tcp", "127.0.0.1:0", PeerDatapath); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); ctlCore.Run(ctx) }()
	defer func() { ctlCore.Close(); cancel(); <-done }()

	dptHandler := &respondingDptCoreHandler{recordingCoreHandler: newRecordingCoreHandler(), dpID: 0x99}
	dptCore := NewCore(ofmsgtest.Codec{}, dptHandler, WithEchoInterval(time.Hour), WithEchoTimeout(time.Hour))
	dctx, dcancel := context.WithCancel(context.Background())
	ddone := make(chan struct{})
	go func() { defer close(ddone); dptCore.Run(dctx) }()
	defer func() { dptCore.Close(); dcancel(); <-ddone }()

	addr := ctlCore.listeners[0].Addr().String()
	dptCore.Dial(addr, PeerController)

	var dpt *Endpoint
	select {
	case dpt = <-ctlHandler.dptUp:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for OnDptEstablished")
	}
	if dpt.DpID() != 0x99 {
		t.Fatalf("dpid = %#x, want 0x99", dpt.DpID())
	}

	if err := dpt.Send(MainConnId, 123, ofmsgtest.FlowMod{Cookie: 1}); err != nil {
		t.Fatalf("Send to dpt: %v", err)
	}
}

func TestCoreRoleArbitrationDemotesOldMaster(t *testing.T) {
	core, h, stop := newTestCore(t)
	defer stop()

	addr := core.listeners[0].Addr().String()
	_ = core.Dial(addr, PeerController)
	_ = core.Dial(addr, PeerController)

	var first, second *Endpoint
	select {
	case first = <-h.ctlUp:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first ctl")
	}
	select {
	case second = <-h.ctlUp:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for second ctl")
	}

	if _, err := first.HandleRoleRequest(RoleMaster, 1); err != nil {
		t.Fatalf("first HandleRoleRequest: %v", err)
	}
	core.demoteOtherMasters(first) // second is not master yet; no-op sanity check
	if first.Role() != RoleMaster {
		t.Fatalf("first.Role() = %v, want MASTER", first.Role())
	}

	if _, err := second.HandleRoleRequest(RoleMaster, 1); err != nil {
		t.Fatalf("second HandleRoleRequest: %v", err)
	}
	core.demoteOtherMasters(second)
	if first.Role() != RoleSlave {
		t.Fatalf("first.Role() = %v, want SLAVE after second became MASTER", first.Role())
	}
	if second.Role() != RoleMaster {
		t.Fatalf("second.Role() = %v, want MASTER", second.Role())
	}
}
