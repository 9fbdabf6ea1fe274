package executor

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestSQLExecutorQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "name"}).
		AddRow(int64(1), "alice").
		AddRow(int64(2), "bob")
	mock.ExpectPrepare("SELECT id, name FROM users").ExpectQuery().WillReturnRows(rows)

	exec := NewSQLExecutor(db, nil)
	res, err := exec.Execute(context.Background(), "SELECT id, name FROM users", "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	defer res.Close()

	if !res.HasRows {
		t.Fatalf("expected HasRows = true")
	}
	if len(res.Columns) != 2 {
		t.Fatalf("expected 2 columns, got %d", len(res.Columns))
	}

	var got []string
	vals := make([]Value, 2)
	for {
		ok, err := res.Next(vals)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, vals[1].String)
	}
	if len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Errorf("rows = %v", got)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLExecutorExec(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE users SET name").WillReturnResult(sqlmock.NewResult(0, 3))

	exec := NewSQLExecutor(db, nil)
	res, err := exec.Execute(context.Background(), "UPDATE users SET name = 'x'", "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.HasRows {
		t.Errorf("expected HasRows = false for UPDATE")
	}
	if res.RowsAffected != 3 {
		t.Errorf("RowsAffected = %d, want 3", res.RowsAffected)
	}
}

func TestResultAcquireIsExclusive(t *testing.T) {
	r := &Result{}
	if !r.Acquire() {
		t.Fatalf("first Acquire should succeed")
	}
	if r.Acquire() {
		t.Fatalf("second concurrent Acquire should fail")
	}
	if !r.Active() {
		t.Fatalf("expected Active() true after Acquire")
	}
	if err := r.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if r.Active() {
		t.Fatalf("expected Active() false after Release")
	}
}
