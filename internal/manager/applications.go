package manager

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/loykin/vpsman/internal/apperr"
	"github.com/loykin/vpsman/internal/history"
	"github.com/loykin/vpsman/internal/metrics"
	"github.com/loykin/vpsman/internal/process"
	"github.com/loykin/vpsman/internal/store"
)

// ApplicationInput registers a new application. Port 0 (or a port already
// listening) is replaced by the lowest free port.
type ApplicationInput struct {
	Name        string            `json:"name"`
	Path        string            `json:"path"`
	Command     string            `json:"command"`
	Port        int               `json:"port"`
	Environment map[string]string `json:"environment,omitempty"`
}

// ApplicationUpdate patches an application; nil fields are left unchanged.
type ApplicationUpdate struct {
	Path        *string           `json:"path,omitempty"`
	Command     *string           `json:"command,omitempty"`
	Port        *int              `json:"port,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
}

// ApplicationStatus pairs the persisted record with what the host shows.
type ApplicationStatus struct {
	Application store.Application `json:"application"`
	Process     process.Status    `json:"process"`
}

func (m *Manager) ListApplications(ctx context.Context) ([]store.Application, error) {
	return m.repo.ListApplications(ctx)
}

func (m *Manager) GetApplication(ctx context.Context, name string) (store.Application, error) {
	return m.repo.GetApplication(ctx, name)
}

func (m *Manager) CreateApplication(ctx context.Context, in ApplicationInput) (store.Application, error) {
	if err := store.ValidateApplicationName(in.Name); err != nil {
		return store.Application{}, err
	}
	unlock := m.locks.Lock(store.ApplicationKey(in.Name))
	defer unlock()

	if _, err := m.repo.GetApplication(ctx, in.Name); err == nil {
		return store.Application{}, apperr.Conflict("manager.create_application", in.Name, "application %s already exists", in.Name)
	} else if !apperr.Is(err, apperr.KindNotFound) {
		return store.Application{}, err
	}
	port, err := m.ports.Resolve(ctx, in.Port)
	if err != nil {
		return store.Application{}, err
	}
	app := store.Application{
		Name:        in.Name,
		Path:        in.Path,
		Command:     in.Command,
		Port:        port,
		Environment: in.Environment,
	}
	if err := m.repo.SaveApplication(ctx, app); err != nil {
		return store.Application{}, err
	}
	if in.Port != 0 && port != in.Port {
		slog.Info("requested port busy, allocated another", "name", in.Name, "requested", in.Port, "port", port)
	}
	m.emit(ctx, history.EventApplicationCreated, app.Name, map[string]string{"port": strconv.Itoa(port)}, nil)
	return m.repo.GetApplication(ctx, in.Name)
}

func (m *Manager) UpdateApplication(ctx context.Context, name string, up ApplicationUpdate) (store.Application, error) {
	unlock := m.locks.Lock(store.ApplicationKey(name))
	defer unlock()

	app, err := m.repo.GetApplication(ctx, name)
	if err != nil {
		return store.Application{}, err
	}
	if up.Path != nil {
		app.Path = *up.Path
	}
	if up.Command != nil {
		app.Command = *up.Command
		app.Imported = false
	}
	if up.Environment != nil {
		app.Environment = up.Environment
	}
	if up.Port != nil && *up.Port != app.Port {
		port, err := m.ports.Resolve(ctx, *up.Port)
		if err != nil {
			return store.Application{}, err
		}
		app.Port = port
	}
	if err := m.repo.SaveApplication(ctx, app); err != nil {
		return store.Application{}, err
	}
	m.emit(ctx, history.EventApplicationUpdated, name, nil, nil)
	return m.repo.GetApplication(ctx, name)
}

// StartApplication spawns the command and records isRunning and the PID.
// A failed start leaves the record untouched. Starting an application whose
// recorded process is still alive is InvalidState; a stale record is
// started again.
func (m *Manager) StartApplication(ctx context.Context, name string) (store.Application, error) {
	unlock := m.locks.Lock(store.ApplicationKey(name))
	defer unlock()

	app, err := m.repo.GetApplication(ctx, name)
	if err != nil {
		return store.Application{}, err
	}
	if app.IsRunning {
		if st := m.procs.Inspect(ctx, specOf(app)); st.Running {
			return store.Application{}, apperr.InvalidState("manager.start", name, "application %s is already running (pid %d)", name, st.PID)
		}
	}
	pid, err := m.procs.Start(ctx, specOf(app))
	if err != nil {
		metrics.IncFailure(name, "start")
		m.emit(ctx, history.EventApplicationStarted, name, nil, err)
		return store.Application{}, err
	}
	app.IsRunning = true
	app.PID = pid
	if err := m.repo.SaveApplication(ctx, app); err != nil {
		return store.Application{}, err
	}
	metrics.IncStart(name)
	m.refreshRunning(ctx)
	m.emit(ctx, history.EventApplicationStarted, name, map[string]string{"pid": strconv.Itoa(pid)}, nil)
	return app, nil
}

// StopApplication terminates the process and clears isRunning. When no
// process is found the record is still marked stopped and the NotFound
// error is returned.
func (m *Manager) StopApplication(ctx context.Context, name string) (store.Application, error) {
	unlock := m.locks.Lock(store.ApplicationKey(name))
	defer unlock()
	return m.stopLocked(ctx, name)
}

func (m *Manager) stopLocked(ctx context.Context, name string) (store.Application, error) {
	app, err := m.repo.GetApplication(ctx, name)
	if err != nil {
		return store.Application{}, err
	}
	stopErr := m.procs.Stop(ctx, specOf(app))
	if stopErr != nil && !apperr.Is(stopErr, apperr.KindNotFound) {
		metrics.IncFailure(name, "stop")
		m.emit(ctx, history.EventApplicationStopped, name, nil, stopErr)
		return store.Application{}, stopErr
	}
	app.IsRunning = false
	app.PID = 0
	if err := m.repo.SaveApplication(ctx, app); err != nil {
		return store.Application{}, err
	}
	m.refreshRunning(ctx)
	if stopErr != nil {
		slog.Warn("stop found no process, record marked stopped", "name", name, "error", stopErr)
		return app, stopErr
	}
	metrics.IncStop(name)
	m.emit(ctx, history.EventApplicationStopped, name, nil, nil)
	return app, nil
}

// RestartApplication stops (tolerating a missing process) then starts.
// The controller waits for the old process to exit before the new spawn.
func (m *Manager) RestartApplication(ctx context.Context, name string) (store.Application, error) {
	unlock := m.locks.Lock(store.ApplicationKey(name))
	defer unlock()

	if _, err := m.stopLocked(ctx, name); err != nil && !apperr.Is(err, apperr.KindNotFound) {
		return store.Application{}, err
	}
	app, err := m.repo.GetApplication(ctx, name)
	if err != nil {
		return store.Application{}, err
	}
	pid, err := m.procs.Start(ctx, specOf(app))
	if err != nil {
		metrics.IncFailure(name, "restart")
		m.emit(ctx, history.EventApplicationStarted, name, nil, err)
		return store.Application{}, err
	}
	app.IsRunning = true
	app.PID = pid
	if err := m.repo.SaveApplication(ctx, app); err != nil {
		return store.Application{}, err
	}
	metrics.IncStart(name)
	m.refreshRunning(ctx)
	m.emit(ctx, history.EventApplicationStarted, name, map[string]string{"pid": strconv.Itoa(pid), "restart": "true"}, nil)
	return app, nil
}

// RemoveApplication stops a running application first, then deletes it.
func (m *Manager) RemoveApplication(ctx context.Context, name string) error {
	unlock := m.locks.Lock(store.ApplicationKey(name))
	defer unlock()

	app, err := m.repo.GetApplication(ctx, name)
	if err != nil {
		return err
	}
	if app.IsRunning {
		if _, err := m.stopLocked(ctx, name); err != nil && !apperr.Is(err, apperr.KindNotFound) {
			return err
		}
	}
	if err := m.repo.DeleteApplication(ctx, name); err != nil {
		return err
	}
	m.refreshRunning(ctx)
	m.emit(ctx, history.EventApplicationRemoved, name, nil, nil)
	return nil
}

// ApplicationStatus reports the record plus a liveness check of its PID
// (or, for an imported record without one, a command-line match).
func (m *Manager) ApplicationStatus(ctx context.Context, name string) (ApplicationStatus, error) {
	app, err := m.repo.GetApplication(ctx, name)
	if err != nil {
		return ApplicationStatus{}, err
	}
	return ApplicationStatus{Application: app, Process: m.procs.Inspect(ctx, specOf(app))}, nil
}

// Resources samples CPU and memory of a running application.
func (m *Manager) Resources(ctx context.Context, name string) (metrics.Usage, error) {
	st, err := m.ApplicationStatus(ctx, name)
	if err != nil {
		return metrics.Usage{}, err
	}
	if !st.Process.Running {
		return metrics.Usage{}, apperr.InvalidState("manager.resources", name, "application %s is not running", name)
	}
	u, err := metrics.Sample(ctx, name, int32(st.Process.PID))
	if err != nil {
		return metrics.Usage{}, apperr.New(apperr.KindExternalCommand, "manager.resources", name, err)
	}
	return u, nil
}

// RunningPIDs maps running application names to recorded PIDs, for the
// resource collector.
func (m *Manager) RunningPIDs(ctx context.Context) map[string]int32 {
	apps, err := m.repo.ListApplications(ctx)
	if err != nil {
		return nil
	}
	out := make(map[string]int32)
	for _, a := range apps {
		if a.IsRunning && a.PID > 0 {
			out[a.Name] = int32(a.PID)
		}
	}
	return out
}

func specOf(a store.Application) process.Spec {
	return process.Spec{
		Name:     a.Name,
		Command:  a.Command,
		WorkDir:  a.Path,
		Env:      a.Environment,
		Port:     a.Port,
		PID:      a.PID,
		Imported: a.Imported,
	}
}
