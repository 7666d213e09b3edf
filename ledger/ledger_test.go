package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// openTestDB returns an in-memory SQLite connection with the same PRAGMAs
// and schema as production. Closed automatically when the test finishes.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	// Shared-cache URI keeps the memory database alive even if sql.DB
	// cycles the underlying connection.
	dsn := fmt.Sprintf(
		"file:test_%s?mode=memory&cache=shared&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		t.Name(),
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("openTestDB: sql.Open: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		t.Fatalf("openTestDB: ping: %v", err)
	}
	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		t.Fatalf("openTestDB: schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// recordingNotifier captures published transitions.
type recordingNotifier struct {
	mu          sync.Mutex
	transitions []Transition
}

func (n *recordingNotifier) Publish(t Transition) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.transitions = append(n.transitions, t)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.transitions)
}

func openSessions(t *testing.T, db *sql.DB, barcode string) int {
	t.Helper()
	var n int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM attendance WHERE barcode = ? AND status = ?`,
		barcode, StatusInProgress,
	).Scan(&n)
	if err != nil {
		t.Fatalf("count open sessions: %v", err)
	}
	return n
}

func TestRecordScan_EmptyBarcodeRejected(t *testing.T) {
	l := New(openTestDB(t), nil)

	for _, in := range []string{"", "   ", "\t\n"} {
		if _, err := l.RecordScan(context.Background(), in, "", ""); err != ErrEmptyBarcode {
			t.Errorf("RecordScan(%q) err = %v, want ErrEmptyBarcode", in, err)
		}
	}
}

func TestRecordScan_WalkInThenWalkOut(t *testing.T) {
	db := openTestDB(t)
	l := New(db, nil)
	l.now = func() time.Time { return time.Date(2026, 3, 2, 9, 30, 15, 0, time.UTC) }
	ctx := context.Background()

	in, err := l.RecordScan(ctx, "S123", "", "")
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if in.Action != ActionWalkIn || in.Status != StatusInProgress {
		t.Fatalf("first scan = %s/%s, want Walk-In/In Progress", in.Action, in.Status)
	}
	if in.InTime != "09:30:15" || in.Date != "2026-03-02" {
		t.Errorf("walk-in time/date = %s %s", in.InTime, in.Date)
	}
	if in.OutTime != OutTimePlaceholder {
		t.Errorf("walk-in out time = %q, want placeholder", in.OutTime)
	}
	if in.Name != "Student S123" || in.Section != "—" {
		t.Errorf("placeholders = %q/%q", in.Name, in.Section)
	}

	l.now = func() time.Time { return time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC) }
	out, err := l.RecordScan(ctx, "S123", "", "")
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if out.Action != ActionWalkOut || out.Status != StatusCompleted {
		t.Fatalf("second scan = %s/%s, want Walk-Out/Completed", out.Action, out.Status)
	}
	if out.InTime != "09:30:15" {
		t.Errorf("walk-out kept in time %q, want 09:30:15", out.InTime)
	}
	if out.OutTime != "11:00:00" {
		t.Errorf("walk-out time = %q, want 11:00:00", out.OutTime)
	}

	if n := openSessions(t, db, "S123"); n != 0 {
		t.Errorf("open sessions after walk-out = %d, want 0", n)
	}
}

func TestRecordScan_SuppliedNameAndSectionUsed(t *testing.T) {
	db := openTestDB(t)
	l := New(db, nil)

	in, err := l.RecordScan(context.Background(), "R42", "Asha Rao", "B")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if in.Name != "Asha Rao" || in.Section != "B" {
		t.Errorf("transition carries %q/%q, want supplied values", in.Name, in.Section)
	}

	var name, section string
	err = db.QueryRow(`SELECT name, section FROM attendance WHERE barcode = ?`, "R42").
		Scan(&name, &section)
	if err != nil {
		t.Fatalf("query row: %v", err)
	}
	if name != "Asha Rao" || section != "B" {
		t.Errorf("stored %q/%q, want supplied values", name, section)
	}
}

func TestRecordScan_StrictAlternation(t *testing.T) {
	db := openTestDB(t)
	l := New(db, nil)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		tr, err := l.RecordScan(ctx, "S777", "", "")
		if err != nil {
			t.Fatalf("scan %d: %v", i, err)
		}

		wantAction := ActionWalkIn
		if i%2 == 1 {
			wantAction = ActionWalkOut
		}
		if tr.Action != wantAction {
			t.Fatalf("scan %d action = %s, want %s", i, tr.Action, wantAction)
		}

		wantOpen := (i + 1) % 2
		if n := openSessions(t, db, "S777"); n != wantOpen {
			t.Fatalf("after scan %d: %d open sessions, want %d", i, n, wantOpen)
		}
	}
}

func TestRecordScan_ThirdScanOpensNewSession(t *testing.T) {
	db := openTestDB(t)
	l := New(db, nil)
	ctx := context.Background()

	first, _ := l.RecordScan(ctx, "S123", "", "")
	if _, err := l.RecordScan(ctx, "S123", "", ""); err != nil {
		t.Fatalf("second scan: %v", err)
	}
	third, err := l.RecordScan(ctx, "S123", "", "")
	if err != nil {
		t.Fatalf("third scan: %v", err)
	}

	if third.Action != ActionWalkIn {
		t.Fatalf("third scan action = %s, want Walk-In", third.Action)
	}

	var rows int
	if err := db.QueryRow(`SELECT COUNT(*) FROM attendance WHERE barcode = ?`, "S123").Scan(&rows); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if rows != 2 {
		t.Errorf("rows = %d, want 2 distinct sessions", rows)
	}
	_ = first
}

func TestRecordScan_ConcurrentSameIdentifier(t *testing.T) {
	db := openTestDB(t)
	l := New(db, nil)

	const n = 25
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.RecordScan(context.Background(), "S123", "", ""); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent scan: %v", err)
	}

	// Any serialization of 25 scans alternates Walk-In/Walk-Out and ends
	// with exactly one open session; never two open at once.
	if open := openSessions(t, db, "S123"); open != n%2 {
		t.Errorf("open sessions = %d, want %d", open, n%2)
	}

	var completed int
	if err := db.QueryRow(
		`SELECT COUNT(*) FROM attendance WHERE barcode = ? AND status = ?`,
		"S123", StatusCompleted,
	).Scan(&completed); err != nil {
		t.Fatalf("count completed: %v", err)
	}
	if completed != n/2 {
		t.Errorf("completed sessions = %d, want %d", completed, n/2)
	}
}

func TestRecordScan_DifferentIdentifiersIndependent(t *testing.T) {
	db := openTestDB(t)
	l := New(db, nil)
	ctx := context.Background()

	if _, err := l.RecordScan(ctx, "A1", "", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := l.RecordScan(ctx, "B2", "", ""); err != nil {
		t.Fatal(err)
	}

	if openSessions(t, db, "A1") != 1 || openSessions(t, db, "B2") != 1 {
		t.Error("each identifier should have its own open session")
	}

	tr, err := l.RecordScan(ctx, "A1", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if tr.Action != ActionWalkOut {
		t.Errorf("A1 second scan = %s, want Walk-Out", tr.Action)
	}
	if openSessions(t, db, "B2") != 1 {
		t.Error("closing A1 must not touch B2's session")
	}
}

func TestRecordScan_PublishesEveryTransition(t *testing.T) {
	db := openTestDB(t)
	notify := &recordingNotifier{}
	l := New(db, notify)
	ctx := context.Background()

	l.RecordScan(ctx, "S9", "", "")
	l.RecordScan(ctx, "S9", "", "")

	if notify.count() != 2 {
		t.Fatalf("published %d transitions, want 2", notify.count())
	}
	notify.mu.Lock()
	defer notify.mu.Unlock()
	if notify.transitions[0].Action != ActionWalkIn ||
		notify.transitions[1].Action != ActionWalkOut {
		t.Errorf("published actions = %s, %s",
			notify.transitions[0].Action, notify.transitions[1].Action)
	}
}

func TestRecent_NewestFirst(t *testing.T) {
	db := openTestDB(t)
	l := New(db, nil)
	ctx := context.Background()

	for _, code := range []string{"A1", "B2", "C3"} {
		if _, err := l.RecordScan(ctx, code, "", ""); err != nil {
			t.Fatal(err)
		}
	}

	sessions, err := Recent(ctx, db, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	if sessions[0].Barcode != "C3" || sessions[1].Barcode != "B2" {
		t.Errorf("order = %s,%s, want C3,B2", sessions[0].Barcode, sessions[1].Barcode)
	}
}
