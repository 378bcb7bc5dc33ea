package registry

import (
	"fmt"
	"time"

	apperrors "power-backend/internal/errors"
	"power-backend/internal/models"
)

// commandPolicy holds the guards for one command kind
type commandPolicy struct {
	// admit rejects device types that cannot receive this kind at all
	admit func(d *models.Device) error
	// manual guards the administrator's "now" request
	manual func(r *Registry, d *models.Device, now time.Time) error
	// scheduled reports whether a timer fire should raise the slot
	scheduled func(r *Registry, d *models.Device, now time.Time) bool
}

var policies = map[models.TaskKind]commandPolicy{
	models.TaskKindShutdown: {
		admit:     anyDevice,
		manual:    requireOnline,
		scheduled: func(*Registry, *models.Device, time.Time) bool { return true },
	},
	models.TaskKindWakeup: {
		admit:  requireDesktop,
		manual: rejectIfPoweredOn,
		scheduled: func(r *Registry, d *models.Device, now time.Time) bool {
			return !r.AppearsPoweredOn(d, now)
		},
	},
}

// AppearsPoweredOn is the single wake-suppression predicate shared by the
// manual and scheduled wake paths. It reads the raw record: a device that
// reported "on" within the freshness window counts as powered on even after
// the heartbeat timeout has marked it offline.
func (r *Registry) AppearsPoweredOn(d *models.Device, now time.Time) bool {
	if d.LastSeenTs == nil || d.PowerState != models.PowerStateOn {
		return false
	}
	return now.Sub(*d.LastSeenTs) <= r.wakeFreshness
}

func anyDevice(*models.Device) error { return nil }

func requireDesktop(d *models.Device) error {
	if d.Type != models.DeviceTypeDesktop {
		return apperrors.InvalidState(fmt.Sprintf("device %s is of type %q; only desktop devices support wakeup", d.ID, d.Type))
	}
	return nil
}

func requireOnline(r *Registry, d *models.Device, now time.Time) error {
	if !r.isOnline(d, now) {
		return apperrors.InvalidState(fmt.Sprintf("device %s is offline", d.ID))
	}
	return nil
}

func rejectIfPoweredOn(r *Registry, d *models.Device, now time.Time) error {
	if r.AppearsPoweredOn(d, now) {
		return apperrors.InvalidState(fmt.Sprintf("device %s is already powered on", d.ID))
	}
	return nil
}
