package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pantry-api/internal/repository"
	"pantry-api/internal/service"
	"pantry-api/internal/store"
)

type brokenStore struct{}

func (brokenStore) Wait(context.Context) error {
	return errors.New("open /srv/secret/pantry.db: permission denied")
}

func TestAdminStatsHidesStoreErrors(t *testing.T) {
	gw, err := store.Open(store.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open gateway: %v", err)
	}
	t.Cleanup(func() { gw.Close() })

	repo := repository.NewSQLiteInventoryRepository(gw, nil)
	svc := service.NewInventoryService(repo, brokenStore{}, nil, service.InventoryOptions{})
	h := NewAdminHandler(svc, "memory")

	rec := httptest.NewRecorder()
	h.GetStats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret") {
		t.Fatalf("store error leaked: %s", rec.Body.String())
	}

	var body struct {
		Data struct {
			Store map[string]interface{} `json:"store"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Data.Store["status"] != "error" {
		t.Fatalf("store = %v", body.Data.Store)
	}
}
