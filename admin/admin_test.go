package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/FeatheredSystems/TytoDB/database"
	"github.com/FeatheredSystems/TytoDB/types"
)

func testDatabase(t *testing.T) *database.Database {
	t.Helper()
	dir := t.TempDir()
	db, err := database.Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.CreateContainer("people", []string{"id", "name"}, []types.Kind{types.KindI64, types.KindStringSmall}); err != nil {
		t.Fatalf("CreateContainer: %v", err)
	}
	return db
}

func TestHandleStatusListsContainers(t *testing.T) {
	db := testDatabase(t)
	s := NewServer(db)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Containers) != 1 || resp.Containers[0] != "people" {
		t.Fatalf("unexpected containers: %v", resp.Containers)
	}
}

func TestHandleGetContainerReportsSchema(t *testing.T) {
	db := testDatabase(t)
	s := NewServer(db)

	req := httptest.NewRequest(http.MethodGet, "/containers/people", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp containerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Name != "people" || len(resp.ColumnNames) != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHandleGetContainerUnknownNameIs404(t *testing.T) {
	db := testDatabase(t)
	s := NewServer(db)

	req := httptest.NewRequest(http.MethodGet, "/containers/nope", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
