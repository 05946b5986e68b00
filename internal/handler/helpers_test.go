package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/octopushq/keygate/internal/model"
	"github.com/octopushq/keygate/internal/service"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) model.ErrorResponse {
	t.Helper()
	var resp model.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp
}

func TestWriteServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"denial", &service.DeniedError{Reason: service.DenialExpired}, http.StatusUnauthorized},
		{"wrapped denial", fmt.Errorf("authenticate: %w", &service.DeniedError{Reason: service.DenialIPNotAllowed}), http.StatusUnauthorized},
		{"not found", service.ErrKeyNotFound, http.StatusNotFound},
		{"self modification", service.ErrSelfModification, http.StatusBadRequest},
		{"already bootstrapped", service.ErrAlreadyBootstrapped, http.StatusBadRequest},
		{"unknown", fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeServiceError(rec, tt.err)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status: got %d, want %d", rec.Code, tt.wantStatus)
			}
			resp := decodeError(t, rec)
			if resp.Error.Code != tt.wantStatus {
				t.Errorf("envelope code: got %d, want %d", resp.Error.Code, tt.wantStatus)
			}
		})
	}
}

func TestWriteServiceErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	writeServiceError(rec, fmt.Errorf("get api key by secret: driver: bad connection"))

	resp := decodeError(t, rec)
	if resp.Error.Message != "internal error" {
		t.Errorf("message: got %q, want %q", resp.Error.Message, "internal error")
	}
	if strings.Contains(rec.Body.String(), "driver") {
		t.Errorf("response leaks internal detail: %s", rec.Body.String())
	}
}

func TestWriteServiceErrorDenialIsUniform(t *testing.T) {
	reasons := []service.DenialReason{
		service.DenialInvalidOrInactive,
		service.DenialExpired,
		service.DenialIPNotAllowed,
		service.DenialInsufficientScope,
	}

	var bodies []string
	for _, reason := range reasons {
		rec := httptest.NewRecorder()
		writeServiceError(rec, &service.DeniedError{Reason: reason})
		bodies = append(bodies, rec.Body.String())
	}

	for i := 1; i < len(bodies); i++ {
		if bodies[i] != bodies[0] {
			t.Errorf("denial body for reason %q differs from %q", reasons[i], reasons[0])
		}
	}

	resp := model.ErrorResponse{}
	if err := json.Unmarshal([]byte(bodies[0]), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error.Message != "invalid credentials" {
		t.Errorf("message: got %q, want %q", resp.Error.Message, "invalid credentials")
	}
}

func TestPaginationClamping(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", 25, 0},
		{"limit=10&offset=5", 10, 5},
		{"limit=0", 1, 0},
		{"limit=99999", 1000, 0},
		{"limit=bogus&offset=-3", 25, 0},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil)
			limit, offset := pagination(r, 25, 1000)
			if limit != tt.wantLimit || offset != tt.wantOffset {
				t.Errorf("pagination: got (%d, %d), want (%d, %d)", limit, offset, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}

func TestQueryBool(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?a=true&b=1&c=false&d=yes", nil)
	if !queryBool(r, "a") || !queryBool(r, "b") {
		t.Error("true/1 should parse as true")
	}
	if queryBool(r, "c") || queryBool(r, "d") || queryBool(r, "missing") {
		t.Error("false/yes/missing should parse as false")
	}
}
