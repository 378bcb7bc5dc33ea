package registry

import (
	"time"

	"power-backend/internal/models"
)

// refreshLiveness corrects a stale online flag. There is no background sweep;
// offline-ness is a function of time since the last heartbeat, evaluated on
// read. Reports whether the flag changed.
func (r *Registry) refreshLiveness(d *models.Device, now time.Time) bool {
	if d.Online && d.LastSeenTs != nil && now.Sub(*d.LastSeenTs) > r.heartbeatTimeout {
		d.Online = false
		return true
	}
	return false
}

func (r *Registry) isOnline(d *models.Device, now time.Time) bool {
	r.refreshLiveness(d, now)
	return d.Online
}

// markSeen records an accepted heartbeat
func markSeen(d *models.Device, now time.Time) {
	seen := now
	d.LastSeenTs = &seen
	d.Online = true
}
