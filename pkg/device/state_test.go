package device

import (
	"testing"
	"time"
)

func timePtr(t time.Time) *time.Time { return &t }

func TestHealth(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		lastSeen *time.Time
		want     string
		wantAge  *int
	}{
		{"never seen", nil, "dead", nil},
		{"fresh", timePtr(now.Add(-10 * time.Second)), "ok", intPtr(10)},
		{"boundary ok", timePtr(now.Add(-30 * time.Second)), "ok", intPtr(30)},
		{"stale", timePtr(now.Add(-90 * time.Second)), "stale", intPtr(90)},
		{"boundary stale", timePtr(now.Add(-120 * time.Second)), "stale", intPtr(120)},
		{"dead", timePtr(now.Add(-10 * time.Minute)), "dead", intPtr(600)},
		{"clock skew clamps to zero", timePtr(now.Add(5 * time.Second)), "ok", intPtr(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			health, age := Health(tt.lastSeen, now)
			if health != tt.want {
				t.Errorf("health = %q, want %q", health, tt.want)
			}
			switch {
			case tt.wantAge == nil && age != nil:
				t.Errorf("age = %d, want nil", *age)
			case tt.wantAge != nil && (age == nil || *age != *tt.wantAge):
				t.Errorf("age = %v, want %d", age, *tt.wantAge)
			}
		})
	}
}

func intPtr(v int) *int { return &v }

func TestLifecycleState(t *testing.T) {
	now := time.Now()
	owner := int64(1)

	tests := []struct {
		name          string
		device        Device
		busy          bool
		pairingActive bool
		want          string
	}{
		{"unprovisioned", Device{}, false, false, StateUnprovisioned},
		{"unprovisioned beats busy", Device{}, true, false, StateUnprovisioned},
		{"busy", Device{LastSeenAt: &now}, true, false, StateBusy},
		{"busy beats claimed", Device{LastSeenAt: &now, OwnerUserID: &owner}, true, false, StateBusy},
		{"claimed", Device{LastSeenAt: &now, OwnerUserID: &owner}, false, false, StateClaimed},
		{"claimed beats pairing", Device{LastSeenAt: &now, OwnerUserID: &owner}, false, true, StateClaimed},
		{"pairing active", Device{LastSeenAt: &now}, false, true, StatePairingActive},
		{"provisioned unclaimed", Device{LastSeenAt: &now}, false, false, StateProvisionedUnclaimed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LifecycleState(&tt.device, tt.busy, tt.pairingActive); got != tt.want {
				t.Errorf("LifecycleState() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDeriveTags(t *testing.T) {
	now := time.Now()
	recent := now.Add(-time.Minute)
	old := now.Add(-time.Hour)
	owner := int64(1)

	tests := []struct {
		name   string
		device Device
		paired bool
		want   []string
	}{
		{"nothing", Device{}, false, nil},
		{"seen and active", Device{LastSeenAt: &recent}, false, []string{"seen", "active"}},
		{"seen but idle", Device{LastSeenAt: &old}, false, []string{"seen"}},
		{"full set", Device{LastSeenAt: &recent, OwnerUserID: &owner}, true, []string{"seen", "active", "paired", "claimed"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveTags(&tt.device, tt.paired, now, 5*time.Minute)
			if len(got) != len(tt.want) {
				t.Fatalf("tags = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("tags = %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

func TestOnline(t *testing.T) {
	now := time.Now()
	recent := now.Add(-10 * time.Second)
	old := now.Add(-2 * time.Minute)

	if !Online(&recent, now) {
		t.Error("recently seen device should be online")
	}
	if Online(&old, now) {
		t.Error("stale device should not be online")
	}
	if Online(nil, now) {
		t.Error("never-seen device should not be online")
	}
}
