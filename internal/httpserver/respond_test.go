package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRespondErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, http.StatusConflict, "DEVICE_ALREADY_CLAIMED", "device already claimed")

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}

	var envelope ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if envelope.Detail.Code != "DEVICE_ALREADY_CLAIMED" {
		t.Errorf("code = %q", envelope.Detail.Code)
	}
	if envelope.Detail.Message != "device already claimed" {
		t.Errorf("message = %q", envelope.Detail.Message)
	}
}

func TestRespondAPIErrorWithMeta(t *testing.T) {
	rec := httptest.NewRecorder()
	err := NewAPIError(http.StatusConflict, "VAR_VERSION_CONFLICT", "variable version conflict").
		WithMeta("current_version", 2)
	RespondAPIError(rec, nil, err)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}

	var envelope ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if envelope.Detail.Code != "VAR_VERSION_CONFLICT" {
		t.Errorf("code = %q", envelope.Detail.Code)
	}
	if got := envelope.Detail.Meta["current_version"]; got != float64(2) {
		t.Errorf("meta.current_version = %v, want 2", got)
	}
}

func TestRespondAPIErrorWrapsUnknownAs500(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondAPIError(rec, nil, errors.New("boom"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}

	var envelope ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if envelope.Detail.Code != "INTERNAL" {
		t.Errorf("code = %q, want INTERNAL", envelope.Detail.Code)
	}
	if envelope.Detail.Message == "boom" {
		t.Error("internal error details leaked to the client")
	}
}

func TestRespondAPIErrorUnwrapsWrappedAPIError(t *testing.T) {
	rec := httptest.NewRecorder()
	wrapped := errors.Join(errors.New("context"), NewAPIError(http.StatusNotFound, "TASK_NOT_FOUND", "task not found"))
	RespondAPIError(rec, nil, wrapped)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
