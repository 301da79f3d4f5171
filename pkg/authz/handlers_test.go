package authz

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vaultisle/dataroom/pkg/observability"
)

func TestCheckPermissionRejectsUnknownOperation(t *testing.T) {
	db := setupTestDB(t)
	docID := insertDocument(t, db, 1, nil, 42)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	store := NewStore(db)
	resolver := NewResolver(store, &fakeDirectory{}, testLogger(), metrics)
	handlers := NewHandlers(store, resolver, nil, testLogger())

	router := mux.NewRouter()
	handlers.RegisterRoutes(router)

	body := strings.NewReader(`{"operation": "teleport"}`)
	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/resources/document/%d/resolve", docID), body)
	req = req.WithContext(WithActor(req.Context(), Actor{UserID: 42}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d for an unknown operation, want 400", rec.Code)
	}
	// A malformed request is the client's fault, not a store fault
	if got := testutil.ToFloat64(metrics.AuthzStoreErrorsTotal); got != 0 {
		t.Errorf("store error counter = %v after a validation failure, want 0", got)
	}
}

func TestCheckPermissionResolvesKnownOperation(t *testing.T) {
	db := setupTestDB(t)
	docID := insertDocument(t, db, 1, nil, 42)

	store := NewStore(db)
	resolver := NewResolver(store, &fakeDirectory{}, testLogger(), nil)
	handlers := NewHandlers(store, resolver, nil, testLogger())

	router := mux.NewRouter()
	handlers.RegisterRoutes(router)

	body := strings.NewReader(`{"operation": "view"}`)
	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/resources/document/%d/resolve", docID), body)
	req = req.WithContext(WithActor(req.Context(), Actor{UserID: 42}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d for the owner resolving view, want 200: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"allowed":true`) {
		t.Errorf("owner's view resolution not allowed: %s", rec.Body.String())
	}
}
