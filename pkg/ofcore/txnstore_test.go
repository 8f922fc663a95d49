package ofcore

import (
	"testing"
	"time"
)

func TestTransactionStoreRegisterMatch(t *testing.T) {
	s := NewTransactionStore()
	xid := s.NextXid()
	if err := s.Register(xid, 5, ConnId(0), time.Now().Add(time.Second)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	txn, ok := s.Match(xid, 5)
	if !ok {
		t.Fatalf("Match(%d, 5) did not find the registered transaction", xid)
	}
	if txn.Type != 5 || txn.OriginConn != ConnId(0) {
		t.Fatalf("unexpected transaction: %+v", txn)
	}
	if _, ok := s.Match(xid, 5); ok {
		t.Fatalf("Match should remove the transaction on first success")
	}
}

func TestTransactionStoreMatchWrongTypeStillRemoves(t *testing.T) {
	s := NewTransactionStore()
	xid := s.NextXid()
	_ = s.Register(xid, 5, ConnId(0), time.Now().Add(time.Second))

	if _, ok := s.Match(xid, 6); ok {
		t.Fatalf("Match with mismatched type should report not-found")
	}
	if s.Len() != 0 {
		t.Fatalf("Len() = %d after mismatched Match, want 0 (entry still removed)", s.Len())
	}
}

func TestTransactionStoreRegisterBusy(t *testing.T) {
	s := NewTransactionStore()
	_ = s.Register(1, 1, ConnId(0), time.Now().Add(time.Second))
	if err := s.Register(1, 1, ConnId(0), time.Now().Add(time.Second)); err != ErrBusy {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
}

func TestTransactionStoreNextXidSkipsBusy(t *testing.T) {
	s := NewTransactionStore()
	first := s.NextXid()
	_ = s.Register(first, 1, ConnId(0), time.Now().Add(time.Second))

	s.counter = first // force the allocator to collide with `first` again
	next := s.NextXid()
	if next == first {
		t.Fatalf("NextXid returned a still-busy xid %d", next)
	}
}

func TestTransactionStoreSweepExpired(t *testing.T) {
	s := NewTransactionStore()
	now := time.Now()
	_ = s.Register(1, 1, ConnId(0), now.Add(-time.Second))
	_ = s.Register(2, 1, ConnId(0), now.Add(time.Hour))

	expired := s.Sweep(now)
	if len(expired) != 1 || expired[0].Xid != 1 {
		t.Fatalf("Sweep returned %+v, want only xid 1", expired)
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d after sweep, want 1 (xid 2 still pending)", s.Len())
	}
}

func TestTransactionStoreEvictConn(t *testing.T) {
	s := NewTransactionStore()
	_ = s.Register(1, 1, ConnId(0), time.Now().Add(time.Hour))
	_ = s.Register(2, 1, ConnId(1), time.Now().Add(time.Hour))

	evicted := s.EvictConn(0)
	if len(evicted) != 1 || evicted[0].Xid != 1 {
		t.Fatalf("EvictConn(0) = %+v, want only xid 1", evicted)
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d after EvictConn, want 1", s.Len())
	}
}
