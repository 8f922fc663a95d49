package ofcore

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ofnet/ofcore/pkg/ofmsg/ofmsgtest"
)

// recordingFrameHook captures every OnFrameWrite/OnFrameRead call it
// receives, guarded by a mutex since both fire from each side's own
// Conn event loop goroutine.
type recordingFrameHook struct {
	mu     sync.Mutex
	writes []uint8
	reads  []uint8
}

func (h *recordingFrameHook) OnFrameWrite(_ ConnId, typ uint8, n int, _, _ time.Duration, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err == nil && n > 0 {
		h.writes = append(h.writes, typ)
	}
}

func (h *recordingFrameHook) OnFrameRead(_ ConnId, typ uint8, n int, _, _ time.Duration, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err == nil && n > 0 {
		h.reads = append(h.reads, typ)
	}
}

func (h *recordingFrameHook) snapshot() (writes, reads []uint8) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]uint8(nil), h.writes...), append([]uint8(nil), h.reads...)
}

func TestConnFiresFrameHooksOnWriteAndRead(t *testing.T) {
	clientNc, serverNc := net.Pipe()
	defer clientNc.Close()
	defer serverNc.Close()

	clientHook := &recordingFrameHook{}
	clientCfg := testCfg(t)
	clientCfg.hooks = hooks{clientHook}

	serverHook := &recordingFrameHook{}
	serverCfg := testCfg(t)
	serverCfg.hooks = hooks{serverHook}

	codec := ofmsgtest.Codec{}
	clientH := newRecordingHandler()
	serverH := newRecordingHandler()
	client := Accept(clientCfg, codec, clientH, clientNc, PeerDatapath)
	server := Accept(serverCfg, codec, serverH, serverNc, PeerController)
	defer client.Close()
	defer server.Close()

	<-clientH.established
	<-serverH.established

	if err := client.Send(1, ofmsgtest.FlowMod{Cookie: 1}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case <-serverH.messages:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message delivery")
	}

	// Give the hook goroutines a moment to record the write/read that
	// happened just before delivery.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		writes, _ := clientHook.snapshot()
		_, reads := serverHook.snapshot()
		if len(writes) > 0 && len(reads) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	writes, _ := clientHook.snapshot()
	if len(writes) == 0 {
		t.Fatal("client's FrameWriteHook never fired")
	}
	_, reads := serverHook.snapshot()
	if len(reads) == 0 {
		t.Fatal("server's FrameReadHook never fired")
	}
}
