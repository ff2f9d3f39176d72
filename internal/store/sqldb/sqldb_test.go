package sqldb

import "testing"

func TestRebind(t *testing.T) {
	pg := &DB{dialect: Postgres}
	got := pg.rebind(`SELECT a FROM t WHERE x=? AND y=?;`)
	if got != `SELECT a FROM t WHERE x=$1 AND y=$2;` {
		t.Fatalf("unexpected rebind: %s", got)
	}
	lite := &DB{dialect: SQLite}
	if q := lite.rebind(`x=?`); q != `x=?` {
		t.Fatalf("sqlite must keep ?: %s", q)
	}
}

func TestNullString(t *testing.T) {
	if nullString("") != nil {
		t.Fatalf("empty string must map to NULL")
	}
	if nullString("x") != "x" {
		t.Fatalf("non-empty passes through")
	}
}
