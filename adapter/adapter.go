// Package adapter lists physical network adapters and toggles their
// administrative state through the operating system's network utility.
package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"slices"
	"strings"
	"time"

	psnet "github.com/shirou/gopsutil/v3/net"
)

// CommandTimeout bounds a single enable/disable invocation.
const CommandTimeout = 5 * time.Second

var (
	// ErrUnsupported is returned by SetState on platforms without a known utility.
	ErrUnsupported = errors.New("adapter: state changes not supported on this platform")
	// ErrNotFound is returned when no physical adapter has the given name.
	ErrNotFound = errors.New("adapter: not found")
)

// virtualMarkers exclude adapters whose name identifies them as virtual.
var virtualMarkers = []string{"virtual", "vmware", "virtualbox", "hyper-v", "bluetooth", "vethernet"}

// virtualPrefixes exclude Linux bridge, container and tunnel devices.
var virtualPrefixes = []string{"docker", "veth", "br-", "virbr", "vnet", "tun", "tap", "wg", "tailscale", "zt"}

// Adapter is one physical network adapter.
type Adapter struct {
	Name         string
	HardwareAddr string
	Enabled      bool
	Addrs        []string
}

// Provider abstracts adapter enumeration and state changes.
type Provider interface {
	List(ctx context.Context) ([]Adapter, error)
	SetState(ctx context.Context, name string, enabled bool) error
	Enabled(ctx context.Context, name string) (bool, error)
}

// InterfacesFunc lists the host's interfaces.
type InterfacesFunc func(ctx context.Context) (psnet.InterfaceStatList, error)

// RunFunc runs an external command and returns its combined output.
type RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Config holds System configuration. Zero values select the host defaults.
type Config struct {
	Interfaces InterfacesFunc
	Run        RunFunc
	GOOS       string
	Timeout    time.Duration
	Logger     *slog.Logger
}

// System is the Provider backed by the host's interface table.
type System struct {
	interfaces InterfacesFunc
	run        RunFunc
	goos       string
	timeout    time.Duration
	log        *slog.Logger
}

// New creates a System provider.
func New(config Config) *System {
	if config.Interfaces == nil {
		config.Interfaces = psnet.InterfacesWithContext
	}
	if config.Run == nil {
		config.Run = runCommand
	}
	if config.GOOS == "" {
		config.GOOS = runtime.GOOS
	}
	if config.Timeout <= 0 {
		config.Timeout = CommandTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &System{
		interfaces: config.Interfaces,
		run:        config.Run,
		goos:       config.GOOS,
		timeout:    config.Timeout,
		log:        logger.With("component", "adapter"),
	}
}

// List returns the physical adapters, enabled or not, sorted by name.
func (s *System) List(ctx context.Context) ([]Adapter, error) {
	ifaces, err := s.interfaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}

	out := make([]Adapter, 0, len(ifaces))
	for _, iface := range ifaces {
		if !IsPhysical(iface) {
			continue
		}
		addrs := make([]string, 0, len(iface.Addrs))
		for _, a := range iface.Addrs {
			addrs = append(addrs, a.Addr)
		}
		out = append(out, Adapter{
			Name:         iface.Name,
			HardwareAddr: iface.HardwareAddr,
			Enabled:      slices.Contains(iface.Flags, "up"),
			Addrs:        addrs,
		})
	}
	slices.SortFunc(out, func(a, b Adapter) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// Enabled reports whether the named adapter is administratively up.
func (s *System) Enabled(ctx context.Context, name string) (bool, error) {
	adapters, err := s.List(ctx)
	if err != nil {
		return false, err
	}
	for _, a := range adapters {
		if a.Name == name {
			return a.Enabled, nil
		}
	}
	return false, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// SetState enables or disables the named adapter. The utility usually needs
// administrator privileges.
func (s *System) SetState(ctx context.Context, name string, enabled bool) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("adapter name required")
	}

	cmd, args, err := stateCommand(s.goos, name, enabled)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	output, err := s.run(ctx, cmd, args...)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%s timed out after %s", cmd, s.timeout)
		}
		msg := strings.TrimSpace(string(output))
		if msg == "" {
			return fmt.Errorf("%s failed: %w", cmd, err)
		}
		return fmt.Errorf("%s failed: %w: %s", cmd, err, msg)
	}

	s.log.Info("Adapter state changed",
		"adapter", name,
		"enabled", enabled,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// stateCommand returns the utility invocation for the platform.
func stateCommand(goos, name string, enabled bool) (string, []string, error) {
	switch goos {
	case "windows":
		admin := "disable"
		if enabled {
			admin = "enable"
		}
		return "netsh", []string{"interface", "set", "interface", "name=" + name, "admin=" + admin}, nil
	case "linux":
		state := "down"
		if enabled {
			state = "up"
		}
		return "ip", []string{"link", "set", "dev", name, state}, nil
	default:
		return "", nil, ErrUnsupported
	}
}

// IsPhysical reports whether iface looks like a physical Ethernet or
// wireless adapter.
func IsPhysical(iface psnet.InterfaceStat) bool {
	if slices.Contains(iface.Flags, "loopback") || iface.HardwareAddr == "" {
		return false
	}
	lower := strings.ToLower(iface.Name)
	for _, marker := range virtualMarkers {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	for _, prefix := range virtualPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return false
		}
	}
	return true
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}
