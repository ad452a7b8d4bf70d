package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
)

func TestIsDuplicateKey(t *testing.T) {
	dup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}
	if !isDuplicateKey(dup) {
		t.Fatalf("1062 should be a duplicate key")
	}
	if !isDuplicateKey(fmt.Errorf("insert: %w", dup)) {
		t.Fatalf("wrapped 1062 should be a duplicate key")
	}
	if isDuplicateKey(&mysql.MySQLError{Number: 1213}) || isDuplicateKey(errors.New("boom")) || isDuplicateKey(nil) {
		t.Fatalf("only 1062 is a duplicate key")
	}
}

func TestNullTimeRoundTrip(t *testing.T) {
	if nt := nullTime(nil); nt.Valid {
		t.Fatalf("nil should be NULL")
	}
	local := time.Date(2025, 3, 14, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	nt := nullTime(&local)
	if !nt.Valid || nt.Time.Location() != time.UTC {
		t.Fatalf("nullTime: %+v", nt)
	}
	back := timePtr(nt)
	if back == nil || !back.Equal(local) {
		t.Fatalf("timePtr: %v", back)
	}
	if timePtr(sql.NullTime{}) != nil {
		t.Fatalf("NULL should map to nil")
	}
	if zeroableTime(time.Time{}).Valid {
		t.Fatalf("zero time should be NULL")
	}
}
