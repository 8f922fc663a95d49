package ofcore

import (
	"testing"
	"time"

	"github.com/ofnet/ofcore/pkg/ofmsg/ofmsgtest"
)

// txnEvent captures the arguments a transaction hook fired with.
type txnEvent struct {
	originConn ConnId
	xid        uint32
	typ        uint8
}

type txnClosedEvent struct {
	txnEvent
	reason error
}

// recordingTxnHook implements both TransactionTimeoutHook and
// TransactionClosedHook onto buffered channels, the way
// recordingFrameHook (conn_hooks_test.go) captures FrameWriteHook/
// FrameReadHook calls.
type recordingTxnHook struct {
	timeout chan txnEvent
	closed  chan txnClosedEvent
}

func newRecordingTxnHook() *recordingTxnHook {
	return &recordingTxnHook{
		timeout: make(chan txnEvent, 4),
		closed:  make(chan txnClosedEvent, 4),
	}
}

func (h *recordingTxnHook) OnTransactionTimeout(originConn ConnId, xid uint32, typ uint8) {
	h.timeout <- txnEvent{originConn: originConn, xid: xid, typ: typ}
}

func (h *recordingTxnHook) OnTransactionClosed(originConn ConnId, xid uint32, typ uint8, reason error) {
	h.closed <- txnClosedEvent{txnEvent: txnEvent{originConn: originConn, xid: xid, typ: typ}, reason: reason}
}

// TestCoreSweepFiresTransactionTimeoutHook registers a transaction with
// a deadline already in the past directly on a Dpt-Endpoint's store,
// then drives Core.sweep once and checks the `timeout(xid, type)`
// callback of §5/§7 fired with the right arguments.
func TestCoreSweepFiresTransactionTimeoutHook(t *testing.T) {
	hook := newRecordingTxnHook()
	core := NewCore(ofmsgtest.Codec{}, newRecordingCoreHandler(), WithHooks(hook))

	ep := newEndpoint(EndpointDpt, RoleDefaultAsyncConfig, nil)
	ep.dpID = DpId(7)
	if err := ep.Transactions().Register(99, 3, MainConnId, time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	core.dpts[ep.dpID] = ep

	core.sweep(time.Now())

	select {
	case ev := <-hook.timeout:
		if ev.xid != 99 || ev.typ != 3 || ev.originConn != MainConnId {
			t.Fatalf("got %+v, want xid=99 type=3 originConn=0", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnTransactionTimeout")
	}
}

// TestCoreFiresTransactionClosedHookWhenConnCloses drives
// coreConnHandler.OnClosed directly against an Endpoint carrying an
// in-flight transaction on the closing Conn's id and checks the
// CONNECTION_CLOSED-equivalent callback of §5/§7 fires.
func TestCoreFiresTransactionClosedHookWhenConnCloses(t *testing.T) {
	hook := newRecordingTxnHook()
	core := NewCore(ofmsgtest.Codec{}, newRecordingCoreHandler(), WithHooks(hook))

	ep, _, stop := establishedEndpoint(t)
	defer stop()

	mainConn, ok := ep.MainConn()
	if !ok {
		t.Fatal("establishedEndpoint did not wire a main conn")
	}
	if err := ep.Transactions().Register(42, 9, MainConnId, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	h := &coreConnHandler{core: core, conn: mainConn, peerKind: PeerController, ctlEndpoint: ep}
	h.OnClosed(mainConn, ErrConnClosed)

	select {
	case ev := <-hook.closed:
		if ev.xid != 42 || ev.typ != 9 || ev.originConn != MainConnId {
			t.Fatalf("got %+v, want xid=42 type=9 originConn=0", ev)
		}
		if ev.reason != ErrConnClosed {
			t.Fatalf("reason = %v, want ErrConnClosed", ev.reason)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnTransactionClosed")
	}
}
