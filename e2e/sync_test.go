package e2e

import (
	"net/http"
	"testing"
)

func TestSyncBindWithoutSession(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/sync/bind", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	body := parseJSON(t, resp)
	errObj := body["error"].(map[string]interface{})
	if errObj["code"] != "SESSION_NOT_READY" {
		t.Errorf("error code = %v", errObj["code"])
	}
}

func TestSyncLifecycle(t *testing.T) {
	ta := setupApp(t)
	songID := ta.seedSong(t, "Synced")
	loadSession(t, ta, songID)

	// Unbound by default.
	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/sync/", "")
	if err != nil {
		t.Fatalf("state failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	if state := parseJSON(t, resp); state["bound"].(bool) {
		t.Fatal("bound before bind")
	}

	// Clock reports are rejected while unbound.
	resp, err = doAuthRequest(t, ta.app, http.MethodPost, "/api/sync/clock",
		`{"position":1.5,"playing":true}`)
	if err != nil {
		t.Fatalf("clock failed: %v", err)
	}
	assertStatus(t, resp, http.StatusConflict)

	// Bind.
	resp, err = doAuthRequest(t, ta.app, http.MethodPost, "/api/sync/bind", "")
	if err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	if state := parseJSON(t, resp); !state["bound"].(bool) {
		t.Fatal("not bound after bind")
	}

	// Reports are accepted now.
	resp, err = doAuthRequest(t, ta.app, http.MethodPost, "/api/sync/clock",
		`{"position":0.1,"playing":false}`)
	if err != nil {
		t.Fatalf("clock failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNoContent)

	// Negative positions fail validation.
	resp, err = doAuthRequest(t, ta.app, http.MethodPost, "/api/sync/clock",
		`{"position":-1,"playing":false}`)
	if err != nil {
		t.Fatalf("clock failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)

	// Unbind.
	resp, err = doAuthRequest(t, ta.app, http.MethodPost, "/api/sync/unbind", "")
	if err != nil {
		t.Fatalf("unbind failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	if state := parseJSON(t, resp); state["bound"].(bool) {
		t.Error("still bound after unbind")
	}
}
