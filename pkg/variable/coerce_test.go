package variable

import (
	"encoding/json"
	"testing"
)

func decode(t *testing.T, raw string) any {
	t.Helper()
	v, err := DecodeValue(json.RawMessage(raw))
	if err != nil {
		t.Fatalf("DecodeValue(%s): %v", raw, err)
	}
	return v
}

func TestCoerceInt(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int64
		wantErr bool
	}{
		{"integer", `42`, 42, false},
		{"integral float", `7.0`, 7, false},
		{"numeric string", `"123"`, 123, false},
		{"negative string", `"-5"`, -5, false},
		{"fractional float", `1.5`, 0, true},
		{"bool rejected", `true`, 0, true},
		{"word rejected", `"abc"`, 0, true},
		{"object rejected", `{"a":1}`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(decode(t, tt.raw), TypeInt)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Coerce(%s) succeeded with %v, want error", tt.raw, got)
				}
				if err.Code != "VAR_INVALID_TYPE" {
					t.Errorf("code = %q, want VAR_INVALID_TYPE", err.Code)
				}
				return
			}
			if err != nil {
				t.Fatalf("Coerce(%s) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("Coerce(%s) = %v, want %d", tt.raw, got, tt.want)
			}
		})
	}
}

func TestCoerceFloat(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    float64
		wantErr bool
	}{
		{"float", `1.5`, 1.5, false},
		{"integer widens", `3`, 3.0, false},
		{"numeric string", `"2.25"`, 2.25, false},
		{"bool rejected", `false`, 0, true},
		{"word rejected", `"abc"`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(decode(t, tt.raw), TypeFloat)
			if tt.wantErr != (err != nil) {
				t.Fatalf("Coerce(%s) err = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("Coerce(%s) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestCoerceBool(t *testing.T) {
	truthy := []string{`true`, `1`, `"true"`, `"1"`, `"yes"`, `"Y"`, `" TRUE "`}
	falsy := []string{`false`, `0`, `"false"`, `"0"`, `"no"`, `"n"`}
	bad := []string{`2`, `1.5`, `"maybe"`, `""`, `[true]`}

	for _, raw := range truthy {
		got, err := Coerce(decode(t, raw), TypeBool)
		if err != nil || got != true {
			t.Errorf("Coerce(%s) = (%v, %v), want true", raw, got, err)
		}
	}
	for _, raw := range falsy {
		got, err := Coerce(decode(t, raw), TypeBool)
		if err != nil || got != false {
			t.Errorf("Coerce(%s) = (%v, %v), want false", raw, got, err)
		}
	}
	for _, raw := range bad {
		if _, err := Coerce(decode(t, raw), TypeBool); err == nil {
			t.Errorf("Coerce(%s) succeeded, want error", raw)
		}
	}
}

func TestCoerceString(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`"hello"`, "hello"},
		{`42`, "42"},
		{`1.5`, "1.5"},
		{`true`, "true"},
	}
	for _, tt := range tests {
		got, err := Coerce(decode(t, tt.raw), TypeString)
		if err != nil || got != tt.want {
			t.Errorf("Coerce(%s) = (%v, %v), want %q", tt.raw, got, err, tt.want)
		}
	}
}

func TestCoerceJSONPreservesDocument(t *testing.T) {
	v := decode(t, `{"a": [1, 2], "b": {"c": true}}`)
	got, err := Coerce(v, TypeJSON)
	if err != nil {
		t.Fatalf("Coerce error: %v", err)
	}
	m, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("got %T, want map", got)
	}
	if _, ok := m["b"]; !ok {
		t.Error("nested document not preserved")
	}
}

func TestCoerceNilPassesThrough(t *testing.T) {
	for _, vt := range []string{TypeString, TypeInt, TypeFloat, TypeBool, TypeJSON} {
		got, err := Coerce(nil, vt)
		if err != nil || got != nil {
			t.Errorf("Coerce(nil, %s) = (%v, %v), want (nil, nil)", vt, got, err)
		}
	}
}

func floatPtr(v float64) *float64 { return &v }
func strPtr(v string) *string     { return &v }

func TestCoerceForDefinitionNumericBounds(t *testing.T) {
	def := &Definition{Key: "k", ValueType: TypeInt, MinValue: floatPtr(10), MaxValue: floatPtr(100)}

	if _, err := CoerceForDefinition(def, decode(t, `50`)); err != nil {
		t.Errorf("in-range value rejected: %v", err)
	}
	if _, err := CoerceForDefinition(def, decode(t, `9`)); err == nil || err.Code != "VAR_CONSTRAINT_VIOLATION" {
		t.Errorf("below-min err = %v, want VAR_CONSTRAINT_VIOLATION", err)
	}
	if _, err := CoerceForDefinition(def, decode(t, `101`)); err == nil || err.Code != "VAR_CONSTRAINT_VIOLATION" {
		t.Errorf("above-max err = %v, want VAR_CONSTRAINT_VIOLATION", err)
	}
	// Boundary values are inclusive.
	if _, err := CoerceForDefinition(def, decode(t, `10`)); err != nil {
		t.Errorf("min boundary rejected: %v", err)
	}
	if _, err := CoerceForDefinition(def, decode(t, `100`)); err != nil {
		t.Errorf("max boundary rejected: %v", err)
	}
}

func TestCoerceForDefinitionEnum(t *testing.T) {
	def := &Definition{Key: "k", ValueType: TypeString, EnumValues: []string{"red", "green"}}

	if _, err := CoerceForDefinition(def, "red"); err != nil {
		t.Errorf("enum member rejected: %v", err)
	}
	if _, err := CoerceForDefinition(def, "blue"); err == nil || err.Code != "VAR_CONSTRAINT_VIOLATION" {
		t.Errorf("non-member err = %v, want VAR_CONSTRAINT_VIOLATION", err)
	}
}

func TestCoerceForDefinitionRegexIsFullMatch(t *testing.T) {
	def := &Definition{Key: "k", ValueType: TypeString, Regex: strPtr(`[a-z]+`)}

	if _, err := CoerceForDefinition(def, "abc"); err != nil {
		t.Errorf("matching value rejected: %v", err)
	}
	// A partial match must not pass.
	if _, err := CoerceForDefinition(def, "abc1"); err == nil {
		t.Error("partial match accepted, want full-match semantics")
	}
}

func TestEffectiveValue(t *testing.T) {
	def := &Definition{Key: "k", DefaultValue: "fallback"}
	if got := EffectiveValue(def, "stored"); got != "stored" {
		t.Errorf("stored value not preferred: %v", got)
	}
	if got := EffectiveValue(def, nil); got != "fallback" {
		t.Errorf("default not applied: %v", got)
	}
}

func TestMaskIfSecret(t *testing.T) {
	secret := &Definition{Key: "k", IsSecret: true}
	plain := &Definition{Key: "k"}

	if got := MaskIfSecret(secret, "s3cret"); got != MaskedValue {
		t.Errorf("secret not masked: %v", got)
	}
	if got := MaskIfSecret(secret, nil); got != nil {
		t.Errorf("nil secret should stay nil, got %v", got)
	}
	if got := MaskIfSecret(plain, "visible"); got != "visible" {
		t.Errorf("non-secret masked: %v", got)
	}
}
