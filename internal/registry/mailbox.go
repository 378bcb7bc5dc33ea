package registry

import (
	"crypto/subtle"
	"fmt"
	"log"
	"strings"

	apperrors "power-backend/internal/errors"
	"power-backend/internal/models"
)

// raise sets the mailbox slot for kind. Reports whether it was previously clear.
func raise(d *models.Device, kind models.TaskKind) bool {
	switch kind {
	case models.TaskKindShutdown:
		if d.Shutdown {
			return false
		}
		d.Shutdown = true
	case models.TaskKindWakeup:
		if d.Wakeup {
			return false
		}
		d.Wakeup = true
	default:
		return false
	}
	return true
}

// drain reads and clears both slots. Callers hold the device lock, so a
// concurrent raise lands either before or after, never in between.
func drain(d *models.Device) models.Commands {
	cmds := models.Commands{Shutdown: d.Shutdown, Wakeup: d.Wakeup}
	d.Shutdown = false
	d.Wakeup = false
	return cmds
}

// Heartbeat authenticates a device poll, records liveness, accepts an "on"
// power report and hands back whatever commands were pending.
func (r *Registry) Heartbeat(id, token string, reported models.PowerState) (models.Commands, error) {
	reported = models.PowerState(strings.ToLower(strings.TrimSpace(string(reported))))

	var cmds models.Commands
	err := r.Update(id, func(tx *Tx) error {
		d := tx.Device
		if token == "" || subtle.ConstantTimeCompare([]byte(d.Token), []byte(token)) != 1 {
			return apperrors.Unauthorized()
		}

		markSeen(d, tx.Now)
		// A missing or non-"on" report never downgrades: a device about to
		// shut down may still poll once more.
		if reported == models.PowerStateOn {
			d.PowerState = models.PowerStateOn
		}
		cmds = drain(d)

		tx.Emit(models.EventHeartbeat, "", models.SourceDevice, string(reported))
		if cmds.Shutdown {
			tx.Emit(models.EventCommandDelivered, models.TaskKindShutdown, models.SourceDevice, "")
		}
		if cmds.Wakeup {
			tx.Emit(models.EventCommandDelivered, models.TaskKindWakeup, models.SourceDevice, "")
		}
		return nil
	})
	if err != nil {
		return models.Commands{}, err
	}

	if cmds.Shutdown || cmds.Wakeup {
		log.Printf("Registry: Delivered commands to %s: shutdown=%v wakeup=%v", id, cmds.Shutdown, cmds.Wakeup)
	}
	return cmds, nil
}

// RequestCommand is the manual "shutdown now" / "wakeup now" path. It applies
// the kind's guards before raising the slot.
func (r *Registry) RequestCommand(id string, kind models.TaskKind) error {
	policy, ok := policies[kind]
	if !ok {
		return apperrors.InvalidInput("unknown command kind %q", kind)
	}

	err := r.Update(id, func(tx *Tx) error {
		if err := policy.admit(tx.Device); err != nil {
			return err
		}
		if err := policy.manual(r, tx.Device, tx.Now); err != nil {
			return err
		}
		detail := ""
		if !raise(tx.Device, kind) {
			detail = "already pending"
		}
		tx.Emit(models.EventCommandRaised, kind, models.SourceAdmin, detail)
		return nil
	})
	if err != nil {
		return err
	}

	log.Printf("Registry: Queued %s command for %s", kind, id)
	return nil
}

// Raise sets a mailbox slot without any guard. Raising an already raised
// slot is a no-op.
func (r *Registry) Raise(id string, kind models.TaskKind, source string) error {
	if _, ok := policies[kind]; !ok {
		return apperrors.InvalidInput("unknown command kind %q", kind)
	}
	return r.Update(id, func(tx *Tx) error {
		detail := ""
		if !raise(tx.Device, kind) {
			detail = "already pending"
		}
		tx.Emit(models.EventCommandRaised, kind, source, detail)
		return nil
	})
}

// ApplyScheduled is the timer-fire path, called inside an Update. It raises the
// slot unless the kind's scheduled guard says otherwise and reports whether
// the flag was raised.
func (r *Registry) ApplyScheduled(tx *Tx, kind models.TaskKind, taskID string) bool {
	policy, ok := policies[kind]
	if !ok {
		return false
	}

	if policy.admit(tx.Device) != nil || !policy.scheduled(r, tx.Device, tx.Now) {
		tx.Emit(models.EventWakeSuppressed, kind, models.SourceScheduler, fmt.Sprintf("task %s", taskID))
		return false
	}

	raise(tx.Device, kind)
	tx.Emit(models.EventCommandRaised, kind, models.SourceScheduler, fmt.Sprintf("task %s", taskID))
	return true
}

// AdmitTask reports whether a device may own tasks of the given kind
func AdmitTask(d *models.Device, kind models.TaskKind) error {
	policy, ok := policies[kind]
	if !ok {
		return apperrors.InvalidInput("unknown task kind %q", kind)
	}
	return policy.admit(d)
}
