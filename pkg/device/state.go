package device

import "time"

// Health freshness thresholds.
const (
	healthOKWindow    = 30 * time.Second
	healthStaleWindow = 120 * time.Second
)

// Lifecycle states derived for listing/detail views, by precedence.
const (
	StateUnprovisioned        = "unprovisioned"
	StateBusy                 = "busy"
	StateClaimed              = "claimed"
	StatePairingActive        = "pairing_active"
	StateProvisionedUnclaimed = "provisioned_unclaimed"
)

// Health returns the freshness tag for a last-seen timestamp: "ok" within
// 30s, "stale" within 120s, else "dead".
func Health(lastSeen *time.Time, now time.Time) (health string, ageSeconds *int) {
	if lastSeen == nil {
		return "dead", nil
	}
	age := int(now.Sub(*lastSeen).Seconds())
	if age < 0 {
		age = 0
	}
	switch {
	case age <= int(healthOKWindow.Seconds()):
		health = "ok"
	case age <= int(healthStaleWindow.Seconds()):
		health = "stale"
	default:
		health = "dead"
	}
	return health, &age
}

// Online reports whether the device was seen within the ok window.
func Online(lastSeen *time.Time, now time.Time) bool {
	return lastSeen != nil && now.Sub(*lastSeen) <= healthOKWindow
}

// LifecycleState derives the single lifecycle state of a device.
func LifecycleState(d *Device, busy, pairingActive bool) string {
	switch {
	case d.LastSeenAt == nil:
		return StateUnprovisioned
	case busy:
		return StateBusy
	case d.Claimed():
		return StateClaimed
	case pairingActive:
		return StatePairingActive
	default:
		return StateProvisionedUnclaimed
	}
}

// DeriveTags returns the overlapping state tags (seen/active/paired/claimed)
// used by detail views. activeWindow bounds the "active" freshness check;
// zero disables it.
func DeriveTags(d *Device, pairingActive bool, now time.Time, activeWindow time.Duration) []string {
	var tags []string
	if d.LastSeenAt != nil {
		tags = append(tags, "seen")
		if activeWindow > 0 && now.Sub(*d.LastSeenAt) <= activeWindow {
			tags = append(tags, "active")
		}
	}
	if pairingActive {
		tags = append(tags, "paired")
	}
	if d.Claimed() {
		tags = append(tags, "claimed")
	}
	return tags
}
