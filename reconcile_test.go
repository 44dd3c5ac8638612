package facegate

import (
	"fmt"
	"reflect"
	"testing"
)

func entryUpdate(employeeID, recordID, ts string) RawAttendanceUpdate {
	u := RawAttendanceUpdate{
		Action:       "entry",
		EmployeeID:   employeeID,
		Timestamp:    ts,
		AttendanceID: recordID,
	}
	return u
}

func TestEntryTypeForAction(t *testing.T) {
	cases := []struct {
		action string
		want   EntryType
		ok     bool
	}{
		{"entry", EntryTypeEntry, true},
		{"exit", EntryTypeExit, true},
		{"delete", EntryTypeExit, true},
		{"early_exit_reason", EntryTypeExit, true},
		{"promote", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := entryTypeForAction(tc.action)
		if got != tc.want || ok != tc.ok {
			t.Errorf("entryTypeForAction(%q) = (%q, %v), want (%q, %v)", tc.action, got, ok, tc.want, tc.ok)
		}
	}
}

func TestReconcilerMergesEntry(t *testing.T) {
	r := NewReconciler()

	var notified [][]AttendanceEvent
	r.OnChange(func(evs []AttendanceEvent) { notified = append(notified, evs) })

	r.Apply([]RawAttendanceUpdate{{
		Action:       "entry",
		EmployeeID:   "emp-42",
		Name:         "Ada",
		Timestamp:    "2026-03-01T09:00:00Z",
		AttendanceID: "att-100",
		Confidence:   0.93,
		IsLate:       true,
	}})

	recent := r.Recent()
	if len(recent) != 1 {
		t.Fatalf("recent = %d events, want 1", len(recent))
	}
	ev := recent[0]
	if ev.EmployeeID != "emp-42" || ev.AttendanceRecordID != "att-100" {
		t.Errorf("event identity = %q/%q", ev.EmployeeID, ev.AttendanceRecordID)
	}
	if ev.EntryType != EntryTypeEntry || !ev.IsLate || ev.EmployeeName != "Ada" {
		t.Errorf("event = %+v", ev)
	}
	if !ev.HasRecordID() {
		t.Errorf("real attendance id treated as synthetic")
	}
	if len(notified) != 1 || len(notified[0]) != 1 {
		t.Errorf("change observer fired %d times", len(notified))
	}
}

func TestReconcilerIdempotentReplay(t *testing.T) {
	r := NewReconciler()
	batch := []RawAttendanceUpdate{
		{Action: "entry", EmployeeID: "emp-1", Timestamp: "2026-03-01T09:00:00Z", AttendanceID: "att-1"},
		{Action: "exit", EmployeeID: "emp-2", Timestamp: "2026-03-01T09:05:00Z", AttendanceID: "att-2"},
		{Action: "entry", EmployeeID: "emp-3", Timestamp: "2026-03-01T09:10:00Z"},
	}

	r.Apply(batch)
	first := r.Recent()

	// Reconnect re-sync replays the same batch; the canonical list must
	// not grow or reorder.
	r.Apply(batch)
	second := r.Recent()

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("replay changed canonical list:\n first = %+v\nsecond = %+v", first, second)
	}
	if len(second) != 3 {
		t.Fatalf("recent = %d events, want 3", len(second))
	}
}

func TestReconcilerDedupByRecordID(t *testing.T) {
	r := NewReconciler()

	r.Apply([]RawAttendanceUpdate{{Action: "entry", EmployeeID: "emp-1", Timestamp: "2026-03-01T09:00:00Z", AttendanceID: "att-1"}})
	// Same record arrives again, corrected server-side.
	r.Apply([]RawAttendanceUpdate{{Action: "entry", EmployeeID: "emp-1", Name: "Ada", Timestamp: "2026-03-01T09:00:05Z", AttendanceID: "att-1"}})

	recent := r.Recent()
	if len(recent) != 1 {
		t.Fatalf("recent = %d events, want 1 after dedup", len(recent))
	}
	if recent[0].EmployeeName != "Ada" || recent[0].Timestamp != "2026-03-01T09:00:05Z" {
		t.Errorf("newer event did not supersede: %+v", recent[0])
	}
}

func TestReconcilerBoundedHistory(t *testing.T) {
	r := NewReconciler()

	var batch []RawAttendanceUpdate
	for i := 0; i < 15; i++ {
		batch = append(batch, entryUpdate(
			fmt.Sprintf("emp-%d", i),
			fmt.Sprintf("att-%d", i),
			fmt.Sprintf("2026-03-01T09:%02d:00Z", i),
		))
	}
	r.Apply(batch)

	recent := r.Recent()
	if len(recent) != RecentEventLimit {
		t.Fatalf("recent = %d events, want %d", len(recent), RecentEventLimit)
	}
	// Most recent first: the last applied update heads the list, the
	// five oldest fell off.
	if recent[0].AttendanceRecordID != "att-14" {
		t.Errorf("head = %s, want att-14", recent[0].AttendanceRecordID)
	}
	if recent[len(recent)-1].AttendanceRecordID != "att-5" {
		t.Errorf("tail = %s, want att-5", recent[len(recent)-1].AttendanceRecordID)
	}
}

func TestReconcilerRecordIDPriority(t *testing.T) {
	t.Run("record.id wins", func(t *testing.T) {
		r := NewReconciler()
		u := RawAttendanceUpdate{Action: "entry", EmployeeID: "emp-1", Timestamp: "t", AttendanceID: "att-low", ID: "id-lower"}
		u.Record.ID = "rec-top"
		r.Apply([]RawAttendanceUpdate{u})
		if got := r.Recent()[0].AttendanceRecordID; got != "rec-top" {
			t.Fatalf("record id = %q, want rec-top", got)
		}
	})

	t.Run("attendance_id over id", func(t *testing.T) {
		r := NewReconciler()
		r.Apply([]RawAttendanceUpdate{{Action: "entry", EmployeeID: "emp-1", Timestamp: "t", AttendanceID: "att-low", ID: "id-lower"}})
		if got := r.Recent()[0].AttendanceRecordID; got != "att-low" {
			t.Fatalf("record id = %q, want att-low", got)
		}
	})

	t.Run("collision with employee id rejected", func(t *testing.T) {
		r := NewReconciler()
		// Upstream sometimes copies the employee id into the record id
		// field; that candidate must be skipped in favor of the next.
		u := RawAttendanceUpdate{Action: "entry", EmployeeID: "emp-1", Timestamp: "t", ID: "att-real"}
		u.Record.ID = "emp-1"
		r.Apply([]RawAttendanceUpdate{u})
		if got := r.Recent()[0].AttendanceRecordID; got != "att-real" {
			t.Fatalf("record id = %q, want att-real", got)
		}
	})

	t.Run("all candidates collide falls back to synthetic", func(t *testing.T) {
		r := NewReconciler()
		r.Apply([]RawAttendanceUpdate{{Action: "entry", EmployeeID: "emp-1", Timestamp: "t", AttendanceID: "emp-1", ID: "emp-1"}})
		ev := r.Recent()[0]
		if ev.HasRecordID() {
			t.Fatalf("colliding candidates produced a real record id %q", ev.AttendanceRecordID)
		}
		if ev.AttendanceRecordID == ev.EmployeeID {
			t.Fatalf("record id equals employee id")
		}
	})
}

func TestReconcilerEmployeeIDAliases(t *testing.T) {
	cases := []struct {
		name string
		u    RawAttendanceUpdate
	}{
		{"employee_id", RawAttendanceUpdate{Action: "entry", EmployeeID: "emp-1", Timestamp: "t"}},
		{"emp_id", RawAttendanceUpdate{Action: "entry", EmpID: "emp-1", Timestamp: "t"}},
		{"user_id", RawAttendanceUpdate{Action: "entry", UserID: "emp-1", Timestamp: "t"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewReconciler()
			r.Apply([]RawAttendanceUpdate{tc.u})
			recent := r.Recent()
			if len(recent) != 1 || recent[0].EmployeeID != "emp-1" {
				t.Fatalf("recent = %+v", recent)
			}
		})
	}
}

func TestReconcilerSyntheticIdentityDedup(t *testing.T) {
	r := NewReconciler()
	u := RawAttendanceUpdate{Action: "entry", EmployeeID: "emp-1", Timestamp: "2026-03-01T09:00:00Z"}

	r.Apply([]RawAttendanceUpdate{u})
	r.Apply([]RawAttendanceUpdate{u})

	if got := len(r.Recent()); got != 1 {
		t.Fatalf("recent = %d events, want 1 (synthetic tuple dedup)", got)
	}
}

func TestReconcilerEarlyExitCase(t *testing.T) {
	t.Run("opens case with real record id", func(t *testing.T) {
		r := NewReconciler()
		var opened []EarlyExitCase
		r.OnEarlyExit(func(c EarlyExitCase) { opened = append(opened, c) })

		r.Apply([]RawAttendanceUpdate{{
			Action:       "exit",
			EmployeeID:   "emp-9",
			Name:         "Grace",
			Timestamp:    "2026-03-01T15:00:00Z",
			AttendanceID: "att-77",
			IsEarlyExit:  true,
		}})

		if len(opened) != 1 {
			t.Fatalf("early-exit observer fired %d times", len(opened))
		}
		c, ok := r.CaseFor("att-77")
		if !ok {
			t.Fatalf("no open case for att-77")
		}
		if c.EmployeeID != "emp-9" || c.AttendanceRecordID != "att-77" {
			t.Errorf("case = %+v", c)
		}

		// Re-applying the same update must not re-announce the case.
		r.Apply([]RawAttendanceUpdate{{
			Action: "exit", EmployeeID: "emp-9", Name: "Grace",
			Timestamp: "2026-03-01T15:00:00Z", AttendanceID: "att-77", IsEarlyExit: true,
		}})
		if len(opened) != 1 {
			t.Fatalf("replay re-announced the case")
		}

		r.CloseCase("att-77")
		if _, ok := r.CaseFor("att-77"); ok {
			t.Fatalf("case survived CloseCase")
		}
	})

	t.Run("fails closed without record id", func(t *testing.T) {
		r := NewReconciler()
		var errs []error
		r.OnError(func(err error) { errs = append(errs, err) })

		r.Apply([]RawAttendanceUpdate{{
			Action:      "exit",
			EmployeeID:  "emp-9",
			Timestamp:   "2026-03-01T15:00:00Z",
			IsEarlyExit: true,
		}})

		if len(r.OpenCases()) != 0 {
			t.Fatalf("case opened against a synthetic record id")
		}
		if len(errs) != 1 {
			t.Fatalf("error observer fired %d times, want 1", len(errs))
		}
		// The event itself still lands on the list.
		if len(r.Recent()) != 1 {
			t.Fatalf("degraded update dropped from recent list")
		}
	})

	t.Run("early exit ignored for entries", func(t *testing.T) {
		r := NewReconciler()
		r.Apply([]RawAttendanceUpdate{{
			Action: "entry", EmployeeID: "emp-9", Timestamp: "t",
			AttendanceID: "att-1", IsEarlyExit: true,
		}})
		if len(r.OpenCases()) != 0 {
			t.Fatalf("entry opened an early-exit case")
		}
	})
}

func TestReconcilerUnknownActionReported(t *testing.T) {
	r := NewReconciler()
	var errs []error
	r.OnError(func(err error) { errs = append(errs, err) })

	r.Apply([]RawAttendanceUpdate{
		{Action: "promote", EmployeeID: "emp-1", Timestamp: "t"},
		{Action: "entry", EmployeeID: "emp-2", Timestamp: "t", AttendanceID: "att-2"},
	})

	if len(errs) != 1 {
		t.Fatalf("error observer fired %d times, want 1", len(errs))
	}
	// The bad update must not poison the rest of the batch.
	if got := len(r.Recent()); got != 1 {
		t.Fatalf("recent = %d events, want 1", got)
	}
}

func TestReconcilerMissingEmployeeID(t *testing.T) {
	r := NewReconciler()
	var errs []error
	r.OnError(func(err error) { errs = append(errs, err) })

	r.Apply([]RawAttendanceUpdate{{Action: "entry", Timestamp: "t"}})

	if len(r.Recent()) != 0 {
		t.Fatalf("update without employee id landed on recent list")
	}
	if len(errs) != 1 {
		t.Fatalf("error observer fired %d times, want 1", len(errs))
	}
}
