package structures

import "time"

type PresenceState string

const (
	PresenceOnline  PresenceState = "online"
	PresenceOffline PresenceState = "offline"
)

// Presence is the JSON value stored in redis under "presence:{uid}"
type Presence struct {
	UID         string        `json:"uid"`
	State       PresenceState `json:"state"`
	LastChanged time.Time     `json:"lastChanged"`
}
