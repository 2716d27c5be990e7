package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// RowStore is a minimal PostgREST-style insert endpoint. Inserted rows get an
// incrementing "id" column and are echoed back.
type RowStore struct {
	*httptest.Server

	APIKey string

	mu     sync.Mutex
	tables map[string][]map[string]any
	bodies [][]map[string]any
	nextID float64
}

// NewRowStore starts a RowStore that accepts apiKey. It is closed with the test.
func NewRowStore(t *testing.T, apiKey string) *RowStore {
	t.Helper()

	store := &RowStore{APIKey: apiKey, tables: map[string][]map[string]any{}}
	store.Server = httptest.NewServer(http.HandlerFunc(store.handle))
	t.Cleanup(store.Close)

	return store
}

// Credential returns the JSON credential value pointing at the store.
func (s *RowStore) Credential() string {
	b, _ := json.Marshal(map[string]string{"endpointUrl": s.URL, "apiKey": s.APIKey})

	return string(b)
}

// Rows returns the rows inserted into table.
func (s *RowStore) Rows(table string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]map[string]any(nil), s.tables[table]...)
}

// Bodies returns every request body received, in order.
func (s *RowStore) Bodies() [][]map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([][]map[string]any(nil), s.bodies...)
}

func (s *RowStore) handle(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("apikey") != s.APIKey || r.Header.Get("Authorization") != "Bearer "+s.APIKey {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Invalid API key"}`))

		return
	}

	table, ok := strings.CutPrefix(r.URL.Path, "/rest/v1/")
	if r.Method != http.MethodPost || !ok || table == "" {
		w.WriteHeader(http.StatusNotFound)

		return
	}

	var rows []map[string]any
	if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"invalid body"}`))

		return
	}

	s.mu.Lock()
	s.bodies = append(s.bodies, rows)

	inserted := make([]map[string]any, 0, len(rows))

	for _, row := range rows {
		s.nextID++

		stored := map[string]any{"id": s.nextID}
		for k, v := range row {
			stored[k] = v
		}

		s.tables[table] = append(s.tables[table], stored)
		inserted = append(inserted, stored)
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(inserted)
}
