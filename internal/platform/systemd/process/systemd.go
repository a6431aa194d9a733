package systemd

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-systemd/v22/dbus"
	godbus "github.com/godbus/dbus/v5"
)

// Conn is the subset of the systemd D-Bus API used by the executor.
// *dbus.Conn implements it.
type Conn interface {
	StartTransientUnitContext(ctx context.Context, name string, mode string, properties []dbus.Property, ch chan<- string) (int, error)
	GetUnitPropertiesContext(ctx context.Context, unit string) (map[string]interface{}, error)
	GetUnitTypePropertiesContext(ctx context.Context, unit string, unitType string) (map[string]interface{}, error)
	ResetFailedUnitContext(ctx context.Context, name string) error
	KillUnitContext(ctx context.Context, name string, signal int32)
	Close()
}

var _ Conn = (*dbus.Conn)(nil)

// ConnectUserSystemd connects to the user's systemd instance.
func ConnectUserSystemd(ctx context.Context) (Conn, error) {
	conn, err := dbus.NewUserConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("connecting to user systemd: %w", err)
	}
	return conn, nil
}

// UnitName is a typed systemd unit name.
type UnitName string

// ProgramUnit returns the unit name for a program launched in a run.
// e.g. ("Enpal API Server", "1b4e28ba") -> "launchall-enpal-api-server-1b4e28ba.service"
func ProgramUnit(label, run string) UnitName {
	return UnitName(fmt.Sprintf("launchall-%s-%s.service", sanitize(label), run))
}

// String returns the unit name as a string.
func (u UnitName) String() string {
	return string(u)
}

// sanitize lowercases s and replaces everything outside [a-z0-9_-] with '-',
// collapsing runs.
func sanitize(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "program"
	}
	return out
}

// UnitState represents the systemd active state.
type UnitState string

const (
	UnitStateActive       UnitState = "active"
	UnitStateActivating   UnitState = "activating"
	UnitStateDeactivating UnitState = "deactivating"
	UnitStateInactive     UnitState = "inactive"
	UnitStateFailed       UnitState = "failed"
)

// Terminal reports whether the unit's main process is gone.
func (s UnitState) Terminal() bool {
	return s == UnitStateInactive || s == UnitStateFailed
}

// TransientSpec describes a transient service to start.
type TransientSpec struct {
	Unit        UnitName
	Description string
	Command     []string
	WorkingDir  string
}

// Properties returns the D-Bus properties for StartTransientUnit.
// Output goes to the journal; Type=exec makes the start job fail when the
// program cannot be executed.
func (spec TransientSpec) Properties() []dbus.Property {
	props := []dbus.Property{
		dbus.PropExecStart(spec.Command, false),
		dbus.PropDescription(spec.Description),
		dbus.PropType("exec"),
		{Name: "StandardOutput", Value: godbus.MakeVariant("journal")},
		{Name: "StandardError", Value: godbus.MakeVariant("journal")},
	}
	if spec.WorkingDir != "" {
		props = append(props, dbus.Property{
			Name:  "WorkingDirectory",
			Value: godbus.MakeVariant(spec.WorkingDir),
		})
	}
	return props
}

// startTransient starts the unit and waits for its start job, returning the
// job result.
//
// With Type=exec the job is "done" once the program has been executed and
// "failed" when it never ran. Both are returned without error; the caller
// reads ExecMainStatus to tell the two apart.
func startTransient(ctx context.Context, conn Conn, spec TransientSpec) (string, error) {
	resultChan := make(chan string, 1)
	_, err := conn.StartTransientUnitContext(ctx, spec.Unit.String(), "replace", spec.Properties(), resultChan)
	if err != nil {
		return "", fmt.Errorf("starting transient unit: %w", err)
	}

	select {
	case result := <-resultChan:
		if result != jobDone && result != jobFailed {
			return result, fmt.Errorf("start job failed: %s", result)
		}
		return result, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Start job results.
const (
	jobDone   = "done"
	jobFailed = "failed"
)

// unitStatus is the part of a unit's state the executor cares about.
type unitStatus struct {
	State      UnitState
	MainPID    uint32
	ExitStatus int32
}

func getUnitStatus(ctx context.Context, conn Conn, unit UnitName) (unitStatus, error) {
	props, err := conn.GetUnitPropertiesContext(ctx, unit.String())
	if err != nil {
		return unitStatus{}, fmt.Errorf("getting unit properties: %w", err)
	}
	var st unitStatus
	if s, ok := props["ActiveState"].(string); ok {
		st.State = UnitState(s)
	}

	serviceProps, err := conn.GetUnitTypePropertiesContext(ctx, unit.String(), "Service")
	if err != nil {
		return unitStatus{}, fmt.Errorf("getting service properties: %w", err)
	}
	if pid, ok := serviceProps["MainPID"].(uint32); ok {
		st.MainPID = pid
	}
	if es, ok := serviceProps["ExecMainStatus"].(int32); ok {
		st.ExitStatus = es
	}
	return st, nil
}

// spawnFailure reports whether an exit status is one of systemd's own
// service setup failures (EXIT_CHDIR, EXIT_EXEC, ...). A program may exit
// with the same values itself, so this only means "never ran" together with
// a failed start job.
func spawnFailure(status int32) bool {
	return status >= 200 && status <= 243
}
