package ofcore

import "testing"

// recordingLogger captures every Log call it receives.
type recordingLogger struct {
	level LogLevel
	calls []string
}

func (l *recordingLogger) Level() LogLevel { return l.level }
func (l *recordingLogger) Log(level LogLevel, msg string, _ ...interface{}) {
	l.calls = append(l.calls, level.String()+" "+msg)
}

func TestJournalRecordForwardsToLogger(t *testing.T) {
	lg := &recordingLogger{level: LogLevelDebug}
	j := NewJournal(4, lg)

	j.Record(LogLevelWarn, "conn 0 added")
	j.Record(LogLevelInfo, "conn 0 removed")

	want := []string{"WARN conn 0 added", "INFO conn 0 removed"}
	if len(lg.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", lg.calls, want)
	}
	for i, c := range lg.calls {
		if c != want[i] {
			t.Fatalf("calls[%d] = %q, want %q", i, c, want[i])
		}
	}
}

func TestJournalRecordToleratesNilLogger(t *testing.T) {
	j := NewJournal(2, nil)
	j.Record(LogLevelInfo, "no panic please")
	if len(j.Entries()) != 1 {
		t.Fatalf("Entries() = %v, want 1 entry", j.Entries())
	}
}

func TestJournalEvictsOldestWhenFull(t *testing.T) {
	j := NewJournal(3, nil)
	j.Record(LogLevelInfo, "one")
	j.Record(LogLevelInfo, "two")
	j.Record(LogLevelInfo, "three")
	j.Record(LogLevelInfo, "four")

	entries := j.Entries()
	if len(entries) != 3 {
		t.Fatalf("len(Entries()) = %d, want 3", len(entries))
	}
	want := []string{"two", "three", "four"}
	for i, e := range entries {
		if e.Text != want[i] {
			t.Fatalf("entries[%d] = %q, want %q", i, e.Text, want[i])
		}
	}
}

func TestJournalDefaultCapacity(t *testing.T) {
	j := NewJournal(0, nil)
	if cap(j.entries) != DefaultJournalCapacity {
		t.Fatalf("capacity = %d, want %d", cap(j.entries), DefaultJournalCapacity)
	}
}

func TestJournalEntriesBeforeFull(t *testing.T) {
	j := NewJournal(5, nil)
	j.Record(LogLevelWarn, "only")
	entries := j.Entries()
	if len(entries) != 1 || entries[0].Text != "only" || entries[0].Level != LogLevelWarn {
		t.Fatalf("entries = %+v, want one LogLevelWarn entry \"only\"", entries)
	}
}
