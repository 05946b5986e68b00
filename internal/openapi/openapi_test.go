package openapi

import (
	"encoding/json"
	"testing"
)

func TestGenerateCoversAllEndpoints(t *testing.T) {
	doc := Generate("http://localhost:8080", "Octopus-API-Key", "1.0.0")

	want := []string{
		"/api/v1/bootstrap",
		"/api/v1/api-keys",
		"/api/v1/api-keys/expiring",
		"/api/v1/api-keys/cleanup-expired",
		"/api/v1/api-keys/{keyID}",
		"/api/v1/api-keys/{keyID}/deactivate",
		"/api/v1/api-keys/{keyID}/rotate",
		"/api/v1/api-keys/audit-logs",
		"/healthz",
		"/readyz",
	}
	for _, path := range want {
		if doc.Paths.Find(path) == nil {
			t.Errorf("missing path %q", path)
		}
	}
}

func TestGenerateSecurityScheme(t *testing.T) {
	doc := Generate("http://localhost:8080", "Custom-Header", "1.0.0")

	scheme, ok := doc.Components.SecuritySchemes["apiKey"]
	if !ok {
		t.Fatal("missing apiKey security scheme")
	}
	if scheme.Value.Name != "Custom-Header" {
		t.Errorf("scheme header: got %q, want %q", scheme.Value.Name, "Custom-Header")
	}

	// Bootstrap must not require authentication.
	boot := doc.Paths.Find("/api/v1/bootstrap")
	if boot.Post.Security == nil || len(*boot.Post.Security) != 0 {
		t.Error("bootstrap should declare empty security requirements")
	}
}

func TestGenerateMarshalsToJSON(t *testing.T) {
	doc := Generate("http://localhost:8080", "Octopus-API-Key", "dev")

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["openapi"] != "3.1.0" {
		t.Errorf("openapi version: got %v", decoded["openapi"])
	}
	if _, ok := decoded["paths"].(map[string]interface{}); !ok {
		t.Error("expected paths object")
	}
}
