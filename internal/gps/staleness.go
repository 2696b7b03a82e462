package gps

import (
	"fmt"
	"time"
)

// State buckets a device by the age of its last report.
type State string

const (
	StateOnline  State = "online"
	StateRecent  State = "recent"
	StateOffline State = "offline"
)

const (
	onlineWindow = 2 * time.Minute
	recentWindow = 5 * time.Minute
)

// Staleness is derived at read time and never stored.
type Staleness struct {
	State      State  `json:"state"`
	Label      string `json:"label"`
	AgeSeconds *int64 `json:"age_seconds,omitempty"`
}

// Classify buckets last relative to now. A nil last means the device never reported.
func Classify(now time.Time, last *time.Time) Staleness {
	if last == nil || last.IsZero() {
		return Staleness{State: StateOffline, Label: "Never"}
	}

	age := now.Sub(*last)
	if age < 0 {
		age = 0
	}
	seconds := int64(age / time.Second)

	state := StateOffline
	switch {
	case age <= onlineWindow:
		state = StateOnline
	case age <= recentWindow:
		state = StateRecent
	}

	return Staleness{State: state, Label: ageLabel(age), AgeSeconds: &seconds}
}

func ageLabel(age time.Duration) string {
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%d min ago", int(age/time.Minute))
	case age < 24*time.Hour:
		return fmt.Sprintf("%d hr ago", int(age/time.Hour))
	default:
		return fmt.Sprintf("%d days ago", int(age/(24*time.Hour)))
	}
}
