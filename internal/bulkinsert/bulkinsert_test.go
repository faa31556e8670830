package bulkinsert

import (
	"context"
	"strings"
	"testing"

	"github.com/sqlbridge/sqlbridge/internal/value"
)

func TestPlanEmptyInputReturnsNoBatches(t *testing.T) {
	if got := Plan("t", []string{"a"}, nil, DefaultLimit); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestPlanSingleBatchWhenUnderLimit(t *testing.T) {
	rows := [][]value.Value{
		{value.FromInt64(1), value.FromString("a")},
		{value.FromInt64(2), value.FromString("b")},
	}
	batches := Plan("widgets", []string{"id", "name"}, rows, DefaultLimit)
	if len(batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(batches))
	}
	if len(batches[0].Binds) != 4 {
		t.Fatalf("expected 4 binds, got %d", len(batches[0].Binds))
	}
	if !strings.Contains(batches[0].SQL, "@p1") || !strings.Contains(batches[0].SQL, "@p4") {
		t.Fatalf("expected sequential placeholders, got %q", batches[0].SQL)
	}
}

func TestPlanSplitsAcrossBatchesWhenOverLimit(t *testing.T) {
	columns := []string{"a", "b", "c"}
	rows := make([][]value.Value, 10)
	for i := range rows {
		rows[i] = []value.Value{value.FromInt64(int64(i)), value.FromInt64(int64(i)), value.FromInt64(int64(i))}
	}
	// limit=9, columns=3 -> batchSize=3 rows per statement -> 4 batches (3,3,3,1)
	batches := Plan("t", columns, rows, 9)
	if len(batches) != 4 {
		t.Fatalf("expected 4 batches, got %d", len(batches))
	}
	total := 0
	for _, b := range batches {
		total += len(b.Binds) / len(columns)
	}
	if total != 10 {
		t.Fatalf("expected 10 rows total across batches, got %d", total)
	}
	if len(batches[3].Binds) != 3 {
		t.Fatalf("expected final batch to hold the 1 remaining row, got %d binds", len(batches[3].Binds))
	}
}

func TestPlanEveryBatchHasInsertPrefix(t *testing.T) {
	columns := []string{"a"}
	rows := make([][]value.Value, 12)
	for i := range rows {
		rows[i] = []value.Value{value.FromInt64(int64(i))}
	}
	batches := Plan("t", columns, rows, 5)
	for _, b := range batches {
		if !strings.HasPrefix(b.SQL, "INSERT INTO t (a) VALUES ") {
			t.Fatalf("unexpected SQL shape: %q", b.SQL)
		}
	}
}

func TestNormalizeDictionariesPadsMissingColumnsWithNull(t *testing.T) {
	rows := []DictRow{
		{{Column: "id", Value: value.FromInt64(1)}, {Column: "name", Value: value.FromString("a")}},
		{{Column: "id", Value: value.FromInt64(2)}},
	}
	columns, positional := NormalizeDictionaries(rows)
	if len(columns) != 2 || columns[0] != "id" || columns[1] != "name" {
		t.Fatalf("got columns %v", columns)
	}
	if len(positional) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(positional))
	}
	if !positional[1][1].IsNull() {
		t.Fatal("expected missing 'name' column to be padded with null")
	}
}

func TestExecuteSumsRowsAffectedAcrossBatches(t *testing.T) {
	columns := []string{"a"}
	rows := make([][]value.Value, 7)
	for i := range rows {
		rows[i] = []value.Value{value.FromInt64(int64(i))}
	}
	calls := 0
	total, err := Execute(context.Background(), "t", columns, rows, 2, func(ctx context.Context, sql string, binds []value.Value) (int64, error) {
		calls++
		return int64(len(binds)), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if total != 7 {
		t.Fatalf("expected total rows affected 7, got %d", total)
	}
	if calls != 4 {
		t.Fatalf("expected 4 batches at batchSize=2/col=1, got %d calls", calls)
	}
}

func TestExecuteEmptyReturnsZero(t *testing.T) {
	total, err := Execute(context.Background(), "t", []string{"a"}, nil, DefaultLimit, func(ctx context.Context, sql string, binds []value.Value) (int64, error) {
		t.Fatal("exec should not be called for empty input")
		return 0, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 {
		t.Fatalf("expected 0, got %d", total)
	}
}
