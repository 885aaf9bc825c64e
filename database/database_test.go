package database

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/FeatheredSystems/TytoDB/predicate"
	"github.com/FeatheredSystems/TytoDB/types"
)

func testSchema() ([]string, []types.Kind) {
	return []string{"id", "name", "score"},
		[]types.Kind{types.KindI64, types.KindStringSmall, types.KindF64}
}

func openTestDatabase(t *testing.T) *Database {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustCreateContainer(t *testing.T, db *Database, name string) {
	t.Helper()
	names, kinds := testSchema()
	if err := db.CreateContainer(name, names, kinds); err != nil {
		t.Fatalf("CreateContainer: %v", err)
	}
}

func TestOpenBootstrapsSettingsAndRegistry(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if db.settings.MaxColumns != defaultMaxColumns {
		t.Fatalf("expected default max_columns, got %d", db.settings.MaxColumns)
	}
	if _, err := loadSettings(dir); err != nil {
		t.Fatalf("settings.yaml was not persisted: %v", err)
	}
	if _, err := loadContainerNames(dir); err != nil {
		t.Fatalf("containers.yaml was not persisted: %v", err)
	}
}

func TestCreateContainerThenReopenRecoversSchema(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	mustCreateContainer(t, db, "people")
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	c, err := reopened.container("people")
	if err != nil {
		t.Fatalf("container not recovered: %v", err)
	}
	if got, want := c.ColumnNames(), []string{"id", "name", "score"}; len(got) != len(want) {
		t.Fatalf("column names mismatch: got %v", got)
	}
}

func TestReopenDetectsTamperedWAL(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	mustCreateContainer(t, db, "people")
	db.Dispatch(CreateRow{
		Container:   "people",
		ColumnNames: []string{"id", "name", "score"},
		Values:      []types.Value{types.I64(1), types.String(types.KindStringSmall, "alice"), types.F64(9.5)},
	})
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "people.mr"), []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}, 0o644); err != nil {
		t.Fatalf("tamper write: %v", err)
	}

	if _, err := Open(dir); err == nil {
		t.Fatal("expected Open to reject a tampered WAL")
	}
}

func TestCreateContainerRejectsTooManyColumns(t *testing.T) {
	db := openTestDatabase(t)
	names := make([]string, 0, db.settings.MaxColumns+1)
	kinds := make([]types.Kind, 0, db.settings.MaxColumns+1)
	for i := uint32(0); i < db.settings.MaxColumns+1; i++ {
		names = append(names, fmt.Sprintf("col_%d", i))
		kinds = append(kinds, types.KindI64)
	}
	if err := db.CreateContainer("wide", names, kinds); err == nil {
		t.Fatal("expected an error for exceeding max_columns")
	}
}

func TestCreateContainerRejectsDuplicateName(t *testing.T) {
	db := openTestDatabase(t)
	mustCreateContainer(t, db, "people")
	names, kinds := testSchema()
	if err := db.CreateContainer("people", names, kinds); err == nil {
		t.Fatal("expected a duplicate-name error")
	}
}

func TestDispatchCreateRowThenSearchFindsRow(t *testing.T) {
	db := openTestDatabase(t)
	mustCreateContainer(t, db, "people")

	resp := db.Dispatch(CreateRow{
		Container:   "people",
		ColumnNames: []string{"id", "name", "score"},
		Values:      []types.Value{types.I64(1), types.String(types.KindStringSmall, "alice"), types.F64(9.5)},
	})
	if resp.Status != StatusOK {
		t.Fatalf("CreateRow failed: %s", resp.Message)
	}
	if resp := db.Dispatch(Commit{Container: "people"}); resp.Status != StatusOK {
		t.Fatalf("Commit failed: %s", resp.Message)
	}

	resp = db.Dispatch(Search{
		Container:   "people",
		ColumnNames: []string{"id", "name", "score"},
		Conditions:  []predicate.AtomSpec{{Column: "id", Operator: predicate.Equal, Literal: types.I64(1)}},
	})
	if resp.Status != StatusOK {
		t.Fatalf("Search failed: %s", resp.Message)
	}
	if len(resp.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(resp.Rows))
	}
	if resp.Rows[0].Values[1].Str != "alice" {
		t.Fatalf("unexpected row contents: %+v", resp.Rows[0])
	}
}

func TestDispatchEditRowUpdatesValue(t *testing.T) {
	db := openTestDatabase(t)
	mustCreateContainer(t, db, "people")
	db.Dispatch(CreateRow{
		Container:   "people",
		ColumnNames: []string{"id", "name", "score"},
		Values:      []types.Value{types.I64(1), types.String(types.KindStringSmall, "alice"), types.F64(9.5)},
	})
	db.Dispatch(Commit{Container: "people"})

	resp := db.Dispatch(EditRow{
		Container:   "people",
		ColumnNames: []string{"score"},
		Values:      []types.Value{types.F64(10)},
		Conditions:  []predicate.AtomSpec{{Column: "id", Operator: predicate.Equal, Literal: types.I64(1)}},
	})
	if resp.Status != StatusOK {
		t.Fatalf("EditRow failed: %s", resp.Message)
	}
	db.Dispatch(Commit{Container: "people"})

	resp = db.Dispatch(Search{Container: "people", ColumnNames: []string{"id", "name", "score"}})
	if resp.Status != StatusOK || len(resp.Rows) != 1 {
		t.Fatalf("unexpected search result: %+v", resp)
	}
	if resp.Rows[0].Values[2].F64 != 10 {
		t.Fatalf("expected updated score, got %+v", resp.Rows[0].Values[2])
	}
}

func TestDispatchDeleteRowThenDeleteContainer(t *testing.T) {
	db := openTestDatabase(t)
	mustCreateContainer(t, db, "people")
	db.Dispatch(CreateRow{
		Container:   "people",
		ColumnNames: []string{"id", "name", "score"},
		Values:      []types.Value{types.I64(1), types.String(types.KindStringSmall, "alice"), types.F64(9.5)},
	})
	db.Dispatch(Commit{Container: "people"})

	resp := db.Dispatch(DeleteRow{
		Container:  "people",
		Conditions: []predicate.AtomSpec{{Column: "id", Operator: predicate.Equal, Literal: types.I64(1)}},
	})
	if resp.Status != StatusOK {
		t.Fatalf("DeleteRow failed: %s", resp.Message)
	}
	db.Dispatch(Commit{Container: "people"})

	if resp := db.Dispatch(DeleteContainer{Name: "people"}); resp.Status != StatusOK {
		t.Fatalf("DeleteContainer failed: %s", resp.Message)
	}
	if _, err := db.container("people"); err == nil {
		t.Fatal("expected container to be gone after delete")
	}
}

func TestBatchTransactionRollsBackEveryContainerOnFailure(t *testing.T) {
	db := openTestDatabase(t)
	mustCreateContainer(t, db, "people")

	resp := db.Dispatch(Batch{
		Transaction: true,
		Commands: []Command{
			CreateRow{
				Container:   "people",
				ColumnNames: []string{"id", "name", "score"},
				Values:      []types.Value{types.I64(1), types.String(types.KindStringSmall, "alice"), types.F64(9.5)},
			},
			CreateRow{
				Container:   "people",
				ColumnNames: []string{"no_such_column"},
				Values:      []types.Value{types.I64(2)},
			},
		},
	})
	if resp.Status != StatusError {
		t.Fatal("expected the batch to fail on the unknown column")
	}

	// Search reads committed rows only, so commit first: a staged insert
	// that survived the rollback would be materialized here.
	if resp := db.Dispatch(Commit{Container: "people"}); resp.Status != StatusOK {
		t.Fatalf("Commit failed: %s", resp.Message)
	}
	resp = db.Dispatch(Search{Container: "people", ColumnNames: []string{"id", "name", "score"}})
	if resp.Status != StatusOK || len(resp.Rows) != 0 {
		t.Fatalf("expected rollback to discard the staged insert, got %+v", resp)
	}
}

func TestBatchCreateRowsInsertsEveryRow(t *testing.T) {
	db := openTestDatabase(t)
	mustCreateContainer(t, db, "people")

	resp := db.Dispatch(BatchCreateRows{
		Container:   "people",
		ColumnNames: []string{"id", "name", "score"},
		Rows: [][]types.Value{
			{types.I64(1), types.String(types.KindStringSmall, "alice"), types.F64(9.5)},
			{types.I64(2), types.String(types.KindStringSmall, "bob"), types.F64(8.0)},
		},
	})
	if resp.Status != StatusOK {
		t.Fatalf("BatchCreateRows failed: %s", resp.Message)
	}
	db.Dispatch(Commit{Container: "people"})

	resp = db.Dispatch(Search{Container: "people", ColumnNames: []string{"id", "name", "score"}})
	if resp.Status != StatusOK || len(resp.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %+v", resp)
	}
}

func TestCommitAllAndRollbackAllFanOutAcrossContainers(t *testing.T) {
	db := openTestDatabase(t)
	mustCreateContainer(t, db, "people")
	mustCreateContainer(t, db, "pets")

	db.Dispatch(CreateRow{
		Container:   "people",
		ColumnNames: []string{"id", "name", "score"},
		Values:      []types.Value{types.I64(1), types.String(types.KindStringSmall, "alice"), types.F64(9.5)},
	})
	db.Dispatch(CreateRow{
		Container:   "pets",
		ColumnNames: []string{"id", "name", "score"},
		Values:      []types.Value{types.I64(1), types.String(types.KindStringSmall, "rex"), types.F64(1)},
	})

	if resp := db.Dispatch(Rollback{}); resp.Status != StatusOK {
		t.Fatalf("RollbackAll failed: %s", resp.Message)
	}
	// Search reads committed rows only; a CommitAll after the rollback
	// would materialize any staged row the rollback missed.
	if resp := db.Dispatch(Commit{}); resp.Status != StatusOK {
		t.Fatalf("CommitAll failed: %s", resp.Message)
	}

	for _, name := range []string{"people", "pets"} {
		resp := db.Dispatch(Search{Container: name, ColumnNames: []string{"id", "name", "score"}})
		if resp.Status != StatusOK || len(resp.Rows) != 0 {
			t.Fatalf("expected rollback to clear staged rows in %q, got %+v", name, resp)
		}
	}
}
