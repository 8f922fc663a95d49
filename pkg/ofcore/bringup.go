package ofcore

import (
	"sync"
	"time"

	"github.com/ofnet/ofcore/pkg/ofmsg"
)

type bringupStage int8

const (
	bringupFeatures bringupStage = iota
	bringupGetConfig
	bringupTableStats
	bringupDone
)

// dptBringupSequencer drives the §10.7 datapath bring-up sequence
// (FEATURES_REQUEST -> GET_CONFIG_REQUEST -> TABLE_STATS_REQUEST) on a
// newly ESTABLISHED Conn whose peer is a datapath, before the Conn is
// handed to Core as routable (either as a new Endpoint's main
// connection, or aggregated into an existing one as an auxiliary
// connection, depending on the auxiliary id FEATURES_REPLY reports).
// Any stage whose codec does not implement the matching
// request-factory interface is skipped immediately, so a minimal Codec
// still bringup-completes on FEATURES alone; an auxiliary connection
// always stops after FEATURES, since GET_CONFIG/TABLE_STATS describe
// per-datapath rather than per-connection state.
type dptBringupSequencer struct {
	conn  *Conn
	codec ofmsg.HandshakeCodec
	xids  *TransactionStore // scratch store, not the eventual Endpoint's

	timeout time.Duration
	onReady func(dpID DpId, auxID uint8)
	onFail  func(err error)

	mu      sync.Mutex
	stage   bringupStage
	dpID    DpId
	auxID   uint8
	timer   *time.Timer
	stopped bool
}

func newDptBringupSequencer(conn *Conn, codec ofmsg.HandshakeCodec, timeout time.Duration, onReady func(DpId, uint8), onFail func(error)) *dptBringupSequencer {
	return &dptBringupSequencer{
		conn:    conn,
		codec:   codec,
		xids:    NewTransactionStore(),
		timeout: timeout,
		onReady: onReady,
		onFail:  onFail,
	}
}

// Start sends the first stage the codec supports, or finishes
// immediately if the codec implements none of them.
func (s *dptBringupSequencer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanceLocked(bringupFeatures)
}

// advanceLocked must be called with s.mu held. It sends the request for
// stage (skipping ahead over any the codec cannot build) and arms the
// corresponding timeout.
func (s *dptBringupSequencer) advanceLocked(stage bringupStage) {
	for {
		if s.stopped {
			return
		}
		switch stage {
		case bringupFeatures:
			f, ok := s.codec.(ofmsg.FeaturesRequestFactory)
			if !ok {
				stage = bringupGetConfig
				continue
			}
			s.send(f.NewFeaturesRequest())
		case bringupGetConfig:
			f, ok := s.codec.(ofmsg.GetConfigRequestFactory)
			if !ok {
				stage = bringupTableStats
				continue
			}
			s.send(f.NewGetConfigRequest())
		case bringupTableStats:
			f, ok := s.codec.(ofmsg.TableStatsRequestFactory)
			if !ok {
				stage = bringupDone
				continue
			}
			s.send(f.NewTableStatsRequest())
		case bringupDone:
			s.finishLocked(nil)
			return
		}
		s.stage = stage
		s.armTimerLocked()
		return
	}
}

func (s *dptBringupSequencer) send(msg ofmsg.Message) {
	xid := s.xids.NextXid()
	deadline := time.Now().Add(s.timeout)
	_ = s.xids.Register(xid, msg.Type(), MainConnId, deadline)
	if err := s.conn.Send(xid, msg); err != nil {
		s.finishLocked(err)
	}
}

func (s *dptBringupSequencer) armTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.timeout, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stopped {
			return
		}
		s.finishLocked(ErrConnClosed)
	})
}

// OnMessage feeds one inbound message to the sequencer. It returns true
// if the message belonged to the bring-up exchange (and was consumed),
// false if the caller should route it elsewhere (the sequencer has
// already finished).
func (s *dptBringupSequencer) OnMessage(msg ofmsg.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	switch s.stage {
	case bringupFeatures:
		fr, ok := msg.(ofmsg.FeaturesReply)
		if !ok {
			return false
		}
		s.dpID = DpId(fr.DatapathID())
		s.auxID = fr.AuxiliaryID()
		if s.auxID != 0 {
			// An auxiliary connection aggregates under an Endpoint the
			// main connection already brought up; GET_CONFIG/TABLE_STATS
			// describe per-datapath state, not per-connection state, so
			// there is nothing further for this connection to ask.
			s.advanceLocked(bringupDone)
			return true
		}
		s.advanceLocked(bringupGetConfig)
		return true
	case bringupGetConfig:
		if _, ok := msg.(ofmsg.GetConfigReply); !ok {
			return false
		}
		s.advanceLocked(bringupTableStats)
		return true
	case bringupTableStats:
		if _, ok := msg.(ofmsg.TableStatsReply); !ok {
			return false
		}
		s.advanceLocked(bringupDone)
		return true
	default:
		return false
	}
}

func (s *dptBringupSequencer) finishLocked(err error) {
	if s.stopped {
		return
	}
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
	}
	if err != nil {
		if s.onFail != nil {
			s.onFail(err)
		}
		return
	}
	if s.onReady != nil {
		s.onReady(s.dpID, s.auxID)
	}
}

// Stop cancels the sequencer without invoking either callback, for use
// when the underlying Conn closes before bring-up completes.
func (s *dptBringupSequencer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
	}
}
