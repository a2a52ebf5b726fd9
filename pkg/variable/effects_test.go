package variable

import (
	"testing"
)

func TestBackoffSeconds(t *testing.T) {
	tests := []struct {
		attempts int
		want     int
	}{
		{0, 1},
		{1, 2},
		{2, 4},
		{3, 8},
		{4, 16},
		{5, 32},
		{6, 64},
		{7, 64},
		{100, 64},
	}
	for _, tt := range tests {
		if got := BackoffSeconds(tt.attempts); got != tt.want {
			t.Errorf("BackoffSeconds(%d) = %d, want %d", tt.attempts, got, tt.want)
		}
	}
}

func TestDeriveEffectsTelemetryInterval(t *testing.T) {
	def := &Definition{Key: KeyTelemetryIntervalMS, Scope: ScopeDevice}

	effects := DeriveEffects(def, "D1", int64(750))
	if len(effects) != 1 {
		t.Fatalf("derived %d effects, want 1", len(effects))
	}
	e := effects[0]
	if e.Kind != EffectKindTelemetryReschedule {
		t.Errorf("kind = %q, want %q", e.Kind, EffectKindTelemetryReschedule)
	}
	if e.DeviceUID != "D1" {
		t.Errorf("device uid = %q, want D1", e.DeviceUID)
	}
	if interval, ok := e.Payload["interval_ms"].(int64); !ok || interval != 750 {
		t.Errorf("payload = %v, want interval_ms 750", e.Payload)
	}
}

func TestDeriveEffectsTelemetryIntervalNilValue(t *testing.T) {
	def := &Definition{Key: KeyTelemetryIntervalMS, Scope: ScopeDevice}
	if effects := DeriveEffects(def, "D1", nil); len(effects) != 0 {
		t.Errorf("nil value derived %d effects, want 0", len(effects))
	}
}

func TestDeriveEffectsLabelSync(t *testing.T) {
	def := &Definition{Key: KeyDeviceLabel, Scope: ScopeDevice}

	effects := DeriveEffects(def, "D1", "kitchen")
	if len(effects) != 1 {
		t.Fatalf("derived %d effects, want 1", len(effects))
	}
	if effects[0].Kind != EffectKindDeviceLabelSync {
		t.Errorf("kind = %q, want %q", effects[0].Kind, EffectKindDeviceLabelSync)
	}
	if label, _ := effects[0].Payload["label"].(string); label != "kitchen" {
		t.Errorf("label = %q, want kitchen", label)
	}

	// Clearing the label still syncs, with an empty string.
	effects = DeriveEffects(def, "D1", nil)
	if len(effects) != 1 {
		t.Fatalf("nil label derived %d effects, want 1", len(effects))
	}
	if label, _ := effects[0].Payload["label"].(string); label != "" {
		t.Errorf("cleared label = %q, want empty", label)
	}
}

func TestDeriveEffectsIgnoresNonDeviceScope(t *testing.T) {
	def := &Definition{Key: KeyTelemetryIntervalMS, Scope: ScopeGlobal}
	if effects := DeriveEffects(def, "D1", int64(750)); len(effects) != 0 {
		t.Errorf("global scope derived %d effects, want 0", len(effects))
	}
}

func TestDeriveEffectsIgnoresOtherKeys(t *testing.T) {
	def := &Definition{Key: "device.some_other", Scope: ScopeDevice}
	if effects := DeriveEffects(def, "D1", "v"); len(effects) != 0 {
		t.Errorf("unrelated key derived %d effects, want 0", len(effects))
	}
}

func TestVersionsEqual(t *testing.T) {
	one, alsoOne, two := 1, 1, 2
	tests := []struct {
		name string
		a, b *int
		want bool
	}{
		{"both nil", nil, nil, true},
		{"nil vs set", nil, &one, false},
		{"set vs nil", &one, nil, false},
		{"equal", &one, &alsoOne, true},
		{"different", &one, &two, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := versionsEqual(tt.a, tt.b); got != tt.want {
				t.Errorf("versionsEqual = %v, want %v", got, tt.want)
			}
		})
	}
}
