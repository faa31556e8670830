package placeholder

import (
	"fmt"
	"testing"

	"github.com/sqlbridge/sqlbridge/internal/value"
)

func renderInt(v value.Value) (string, error) {
	if v.IsNull() {
		return "NULL", nil
	}
	n, _ := v.Int()
	return fmt.Sprintf("%d", n), nil
}

func renderString(v value.Value) (string, error) {
	if v.IsNull() {
		return "NULL", nil
	}
	return "'" + v.String() + "'", nil
}

func TestToDollarRewritesAtP(t *testing.T) {
	got := ToDollar("SELECT * FROM t WHERE a = @p1 AND b = @p2")
	want := "SELECT * FROM t WHERE a = $1 AND b = $2"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestRenderDollarTenDoesNotCollideWithOne(t *testing.T) {
	binds := make([]value.Value, 10)
	for i := range binds {
		binds[i] = value.FromInt64(int64(i + 1))
	}
	sql := "SELECT $1, $10"
	got, err := RenderDollar(sql, binds, renderInt)
	if err != nil {
		t.Fatal(err)
	}
	want := "SELECT 1, 10"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestRenderDollarMissingBind(t *testing.T) {
	_, err := RenderDollar("SELECT $1", nil, renderInt)
	if err == nil {
		t.Fatal("expected error for unbound placeholder")
	}
}

func TestRenderMySQLAtPDescendingSafe(t *testing.T) {
	binds := make([]value.Value, 10)
	for i := range binds {
		binds[i] = value.FromInt64(int64(i + 1))
	}
	got, err := RenderMySQL("SELECT @p1, @p10", binds, renderInt)
	if err != nil {
		t.Fatal(err)
	}
	want := "SELECT 1, 10"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestRenderMySQLMixedAtPAndQuestionMark(t *testing.T) {
	binds := []value.Value{value.FromInt64(7), value.FromString("alice")}
	got, err := RenderMySQL("INSERT INTO t(id, name) VALUES (@p1, ?)", binds, func(v value.Value) (string, error) {
		if v.Kind() == value.KindString {
			return renderString(v)
		}
		return renderInt(v)
	})
	if err != nil {
		t.Fatal(err)
	}
	want := "INSERT INTO t(id, name) VALUES (7, 'alice')"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestRenderMySQLQuestionMarkInsideStringLiteralNotSubstituted(t *testing.T) {
	binds := []value.Value{value.FromInt64(1)}
	got, err := RenderMySQL("SELECT @p1 WHERE note = 'is this ok?'", binds, renderInt)
	if err != nil {
		t.Fatal(err)
	}
	want := "SELECT 1 WHERE note = 'is this ok?'"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestToNamedAscending(t *testing.T) {
	rewritten, names := ToNamedAscending("INSERT INTO t(a, b, c) VALUES (?, ?, ?)", 3)
	want := "INSERT INTO t(a, b, c) VALUES (@p1, @p2, @p3)"
	if rewritten != want {
		t.Fatalf("got %q want %q", rewritten, want)
	}
	if len(names) != 3 || names[0] != "@p1" || names[2] != "@p3" {
		t.Fatalf("got %v", names)
	}
}

func TestToNamedAscendingSkipsQuestionMarkInLiteral(t *testing.T) {
	rewritten, names := ToNamedAscending("SELECT ? WHERE note = 'really?'", 1)
	want := "SELECT @p1 WHERE note = 'really?'"
	if rewritten != want {
		t.Fatalf("got %q want %q", rewritten, want)
	}
	if len(names) != 1 {
		t.Fatalf("got %v", names)
	}
}
