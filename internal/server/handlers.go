package server

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"

	apperrors "power-backend/internal/errors"
	"power-backend/internal/models"
)

type loginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type heartbeatReq struct {
	Token      string `json:"token"`
	PowerState string `json:"powerState"`
}

type registerDeviceReq struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type createTaskReq struct {
	Hour   *int `json:"hour"`
	Minute *int `json:"minute"`
}

// deviceView is a device as shown to administrators, without its token
type deviceView struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Type              models.DeviceType `json:"type"`
	Online            bool              `json:"online"`
	LastSeenTs        *time.Time        `json:"lastSeenTs"`
	PowerState        models.PowerState `json:"powerState"`
	Shutdown          bool              `json:"shutdown"`
	Wakeup            bool              `json:"wakeup"`
	ShutdownTaskCount int               `json:"shutdownTaskCount"`
	WakeupTaskCount   int               `json:"wakeupTaskCount"`
}

func newDeviceView(d models.Device) deviceView {
	return deviceView{
		ID:                d.ID,
		Name:              d.Name,
		Type:              d.Type,
		Online:            d.Online,
		LastSeenTs:        d.LastSeenTs,
		PowerState:        d.PowerState,
		Shutdown:          d.Shutdown,
		Wakeup:            d.Wakeup,
		ShutdownTaskCount: len(d.ShutdownTasks),
		WakeupTaskCount:   len(d.WakeupTasks),
	}
}

// bindJSON decodes an optional JSON body into out
func bindJSON(c fiber.Ctx, out any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.Bind().JSON(out); err != nil {
		return apperrors.InvalidInput("malformed JSON body: %v", err)
	}
	return nil
}

func (s *Server) login(c fiber.Ctx) error {
	req := new(loginReq)
	if err := bindJSON(c, req); err != nil {
		return err
	}

	session, err := s.sessions.Login(req.Username, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"token":     session.Token,
		"expiresAt": session.ExpiresAt,
	})
}

// heartbeat is the device poll: record liveness and hand over pending commands
func (s *Server) heartbeat(c fiber.Ctx) error {
	req := new(heartbeatReq)
	if err := bindJSON(c, req); err != nil {
		return err
	}

	token := deviceToken(c)
	if token == "" {
		token = req.Token
	}

	cmds, err := s.devices.Heartbeat(c.Params("id"), token, models.PowerState(req.PowerState))
	if err != nil {
		return err
	}
	return c.JSON(cmds)
}

func (s *Server) registerDevice(c fiber.Ctx) error {
	req := new(registerDeviceReq)
	if err := bindJSON(c, req); err != nil {
		return err
	}

	dev, err := s.devices.Register(req.ID, req.Name, models.DeviceType(req.Type))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(dev)
}

func (s *Server) listDevices(c fiber.Ctx) error {
	devices := s.devices.List()
	views := make([]deviceView, 0, len(devices))
	for _, dev := range devices {
		views = append(views, newDeviceView(dev))
	}
	return c.JSON(views)
}

func (s *Server) getDevice(c fiber.Ctx) error {
	dev, err := s.devices.Get(c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(newDeviceView(dev))
}

func (s *Server) requestCommand(kind models.TaskKind) fiber.Handler {
	return func(c fiber.Ctx) error {
		id := c.Params("id")
		if err := s.devices.RequestCommand(id, kind); err != nil {
			return err
		}
		return c.JSON(fiber.Map{
			"ok":      true,
			"message": fmt.Sprintf("%s command queued for %s", kind, id),
		})
	}
}

func (s *Server) createTask(c fiber.Ctx) error {
	kind, err := kindParam(c)
	if err != nil {
		return err
	}
	req := new(createTaskReq)
	if err := bindJSON(c, req); err != nil {
		return err
	}
	if req.Hour == nil || req.Minute == nil {
		return apperrors.InvalidInput("hour and minute are required")
	}

	id := c.Params("id")
	task, err := s.tasks.Create(id, kind, *req.Hour, *req.Minute)
	if err != nil {
		return err
	}
	status, err := s.tasks.Status(id, kind, task.ID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(status)
}

func (s *Server) listTasks(c fiber.Ctx) error {
	kind, err := kindParam(c)
	if err != nil {
		return err
	}
	statuses, err := s.tasks.List(c.Params("id"), kind)
	if err != nil {
		return err
	}
	return c.JSON(statuses)
}

func (s *Server) pauseTask(c fiber.Ctx) error {
	return s.toggleTask(c, s.tasks.Pause)
}

func (s *Server) resumeTask(c fiber.Ctx) error {
	return s.toggleTask(c, s.tasks.Resume)
}

func (s *Server) toggleTask(c fiber.Ctx, op func(string, models.TaskKind, string) (models.Task, error)) error {
	kind, err := kindParam(c)
	if err != nil {
		return err
	}
	id, taskID := c.Params("id"), c.Params("taskId")
	if _, err := op(id, kind, taskID); err != nil {
		return err
	}
	status, err := s.tasks.Status(id, kind, taskID)
	if err != nil {
		return err
	}
	return c.JSON(status)
}

func (s *Server) deleteTask(c fiber.Ctx) error {
	kind, err := kindParam(c)
	if err != nil {
		return err
	}
	if err := s.tasks.Delete(c.Params("id"), kind, c.Params("taskId")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true})
}

func kindParam(c fiber.Ctx) (models.TaskKind, error) {
	raw := c.Params("kind")
	kind, ok := models.ParseTaskKind(raw)
	if !ok {
		return "", apperrors.InvalidInput("unknown task kind %q", raw)
	}
	return kind, nil
}
