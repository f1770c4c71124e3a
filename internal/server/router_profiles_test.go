package server

import (
	"net/http"
	"testing"

	"github.com/MarcoPoloResearchLab/sustainhub/internal/profiles"
)

func TestProfileRoutes(t *testing.T) {
	harness := newTestHarness(t)
	owner := harness.token(t, "owner@greenbakery.example")

	missing := harness.do(t, http.MethodGet, "/profiles/me", owner, nil)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before first save, got %d", missing.Code)
	}

	saved := harness.do(t, http.MethodPut, "/profiles/me", owner, map[string]any{
		"businessName": "Green Bakery",
		"description":  "Sourdough and solar panels",
	})
	if saved.Code != http.StatusOK {
		t.Fatalf("unexpected save status %d: %s", saved.Code, saved.Body.String())
	}

	loaded := harness.do(t, http.MethodGet, "/profiles/me", owner, nil)
	if loaded.Code != http.StatusOK {
		t.Fatalf("unexpected load status %d", loaded.Code)
	}
	profile := decodeBody[profiles.Profile](t, loaded)
	if profile.Email != "owner@greenbakery.example" || profile.BusinessName != "Green Bakery" {
		t.Fatalf("unexpected profile %#v", profile)
	}
	if profile.SustainabilityScore != nil {
		t.Fatalf("expected no score, got %v", *profile.SustainabilityScore)
	}

	invalid := harness.do(t, http.MethodPut, "/profiles/me", owner, map[string]any{"sustainabilityScore": 500})
	if invalid.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out-of-range score, got %d", invalid.Code)
	}

	if harness.do(t, http.MethodGet, "/profiles/me", "", nil).Code != http.StatusUnauthorized {
		t.Fatal("expected profile routes to require a session")
	}
}
