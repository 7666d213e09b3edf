package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Session statuses. A barcode has at most one "In Progress" session at a
// time; that is the invariant RecordScan exists to uphold.
const (
	StatusInProgress = "In Progress"
	StatusCompleted  = "Completed"
)

// Transition actions.
const (
	ActionWalkIn  = "Walk-In"
	ActionWalkOut = "Walk-Out"
)

// OutTimePlaceholder is shown for sessions that are still open.
const OutTimePlaceholder = "—"

// ErrEmptyBarcode rejects scans whose identifier is empty after trimming.
var ErrEmptyBarcode = errors.New("empty barcode")

// Session is one persisted attendance row.
type Session struct {
	ID      int64
	Barcode string
	Name    string
	Section string
	Class   string
	Date    string // YYYY-MM-DD
	InTime  string // HH:MM:SS
	OutTime string // HH:MM:SS, empty while open
	Status  string
}

// Transition is the result of one scan, handed to the notifier and
// returned to the caller.
type Transition struct {
	Barcode string `json:"identifier"`
	Name    string `json:"displayName"`
	Section string `json:"section"`
	Date    string `json:"date"`
	InTime  string `json:"walkInTime"`
	OutTime string `json:"walkOutTime"`
	Status  string `json:"status"`
	Action  string `json:"action"`
}

// Notifier receives every committed transition. Implementations must not
// block; a notifier failure never fails the scan.
type Notifier interface {
	Publish(t Transition)
}

// Ledger turns scans into walk-in/walk-out transitions against the
// attendance store.
type Ledger struct {
	db     *sql.DB
	notify Notifier
	now    func() time.Time

	// Per-identifier locks serialize the lookup-then-write for
	// near-simultaneous scans of the same barcode. The store transaction
	// alone is not enough with a multi-conn pool, and the explicit lock
	// keeps the invariant independent of connection-pool settings.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Ledger over an open attendance database. notify may be
// nil when no broadcaster is wired.
func New(db *sql.DB, notify Notifier) *Ledger {
	return &Ledger{
		db:     db,
		notify: notify,
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

// RecordScan records one scan of barcode. An open session for the barcode
// is closed (Walk-Out); otherwise a new one is opened (Walk-In). name and
// section fill the new row when supplied; deterministic placeholders are
// used otherwise. The returned transition reflects the persisted row.
func (l *Ledger) RecordScan(ctx context.Context, barcode, name, section string) (Transition, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return Transition{}, ErrEmptyBarcode
	}

	lock := l.lockFor(barcode)
	lock.Lock()
	defer lock.Unlock()

	now := l.now()
	dateStr := now.Format("2006-01-02")
	timeStr := now.Format("15:04:05")

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Transition{}, fmt.Errorf("begin scan tx: %w", err)
	}
	defer tx.Rollback()

	var (
		id      int64
		curName string
		curSect string
		curDate string
		inTime  string
	)
	err = tx.QueryRowContext(ctx, `
SELECT id, name, section, date, in_time FROM attendance
WHERE barcode = ? AND status = ?
ORDER BY id DESC LIMIT 1;`, barcode, StatusInProgress).
		Scan(&id, &curName, &curSect, &curDate, &inTime)

	switch {
	case err == sql.ErrNoRows:
		// Walk-In: open a new session.
		if name == "" {
			name = "Student " + barcode
		}
		if section == "" {
			section = "—"
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO attendance (barcode, name, section, class, date, in_time, status)
VALUES (?, ?, ?, ?, ?, ?, ?);`,
			barcode, name, section, "BCA", dateStr, timeStr, StatusInProgress,
		); err != nil {
			return Transition{}, fmt.Errorf("insert walk-in: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return Transition{}, fmt.Errorf("commit walk-in: %w", err)
		}

		t := Transition{
			Barcode: barcode,
			Name:    name,
			Section: section,
			Date:    dateStr,
			InTime:  timeStr,
			OutTime: OutTimePlaceholder,
			Status:  StatusInProgress,
			Action:  ActionWalkIn,
		}
		l.publish(t)
		return t, nil

	case err != nil:
		return Transition{}, fmt.Errorf("lookup open session: %w", err)
	}

	// Walk-Out: close the open session.
	if _, err := tx.ExecContext(ctx, `
UPDATE attendance SET out_time = ?, status = ? WHERE id = ?;`,
		timeStr, StatusCompleted, id,
	); err != nil {
		return Transition{}, fmt.Errorf("close session %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return Transition{}, fmt.Errorf("commit walk-out: %w", err)
	}

	t := Transition{
		Barcode: barcode,
		Name:    curName,
		Section: curSect,
		Date:    curDate,
		InTime:  inTime,
		OutTime: timeStr,
		Status:  StatusCompleted,
		Action:  ActionWalkOut,
	}
	l.publish(t)
	return t, nil
}

// publish hands the transition to the notifier. Errors are not possible
// by contract and delivery is fire-and-forget; a slow or dead observer
// must never hold up the capture pipeline.
func (l *Ledger) publish(t Transition) {
	if l.notify == nil {
		return
	}
	l.notify.Publish(t)
}

func (l *Ledger) lockFor(barcode string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[barcode]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[barcode] = lock
	}
	return lock
}
