package ofcore

import "time"

// Hook is the empty marker interface for all hook types. Applications
// implement whichever of the typed interfaces below they care about and
// pass the value to WithHooks; hooks.each dispatches to every hook that
// satisfies a given typed interface, the way franz-go's own Hook system
// fans out BrokerConnectHook/BrokerWriteHook/etc.
type Hook interface{}

// ConnEstablishedHook fires after a Conn completes its HELLO handshake.
type ConnEstablishedHook interface {
	OnConnEstablished(connID ConnId, peerAddr string, version int, since time.Duration)
}

// ConnClosedHook fires once when a Core-managed Conn closes for good,
// at the same moment as ConnHandler.OnClosed. An active-side Conn that
// loses its socket and reconnects does not fire it.
type ConnClosedHook interface {
	OnConnClosed(connID ConnId, peerAddr string, reason error)
}

// FrameWriteHook fires after a frame is handed to the socket, win or
// lose.
type FrameWriteHook interface {
	OnFrameWrite(connID ConnId, typ uint8, n int, writeWait, timeToWrite time.Duration, err error)
}

// FrameReadHook fires after a frame is read off the socket, win or
// lose.
type FrameReadHook interface {
	OnFrameRead(connID ConnId, typ uint8, n int, readWait, timeToRead time.Duration, err error)
}

// RoleChangedHook fires whenever a controller-side Endpoint's role
// changes as a result of an accepted ROLE_REQUEST.
type RoleChangedHook interface {
	OnRoleChanged(ctlID CtlId, dpID DpId, from, to Role)
}

// TransactionTimeoutHook fires when an in-flight request's deadline
// elapses before a matching reply arrived: the `timeout(xid, type)`
// callback named in §5/§7's error-propagation taxonomy.
type TransactionTimeoutHook interface {
	OnTransactionTimeout(originConn ConnId, xid uint32, typ uint8)
}

// TransactionClosedHook fires when an in-flight request's owning Conn
// closes before a reply arrived, flushing that transaction with the
// CONNECTION_CLOSED signal §5 describes.
type TransactionClosedHook interface {
	OnTransactionClosed(originConn ConnId, xid uint32, typ uint8, reason error)
}

type hooks []Hook

func (hs hooks) each(fn func(Hook)) {
	for _, h := range hs {
		fn(h)
	}
}
