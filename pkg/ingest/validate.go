package ingest

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/hubex-fl/hubex/internal/httpserver"
)

// ValidatePayload checks that the telemetry payload is a JSON object whose
// keys (at any depth) stay within MaxPayloadKeyLength and whose compact
// serialization stays within MaxPayloadBytes.
func ValidatePayload(raw json.RawMessage) *httpserver.APIError {
	var root map[string]any
	if err := json.Unmarshal(raw, &root); err != nil || root == nil {
		return httpserver.NewAPIError(http.StatusUnprocessableEntity, "INVALID_PAYLOAD", "payload must be JSON object")
	}

	if err := walkKeys(root); err != nil {
		return err
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return httpserver.NewAPIError(http.StatusUnprocessableEntity, "INVALID_PAYLOAD", "payload must be JSON object")
	}
	if compact.Len() > MaxPayloadBytes {
		return httpserver.NewAPIError(http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "payload too large")
	}
	return nil
}

func walkKeys(v any) *httpserver.APIError {
	switch vv := v.(type) {
	case map[string]any:
		for key, val := range vv {
			if len(key) > MaxPayloadKeyLength {
				return httpserver.NewAPIError(http.StatusUnprocessableEntity, "INVALID_PAYLOAD", "payload key too long")
			}
			if err := walkKeys(val); err != nil {
				return err
			}
		}
	case []any:
		for _, item := range vv {
			if err := walkKeys(item); err != nil {
				return err
			}
		}
	}
	return nil
}
