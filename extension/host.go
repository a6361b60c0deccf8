package extension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/example/team-chat/client"
)

// Host loads modules and mounts their surfaces against one client.
type Host struct {
	client *client.Client
	logger *slog.Logger

	mu      sync.Mutex
	modules map[string]Definition
	mounted map[*Mounted]struct{}
	closed  bool
}

// NewHost creates a host whose surfaces share c.
func NewHost(c *client.Client, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		client:  c,
		logger:  logger,
		modules: make(map[string]Definition),
		mounted: make(map[*Mounted]struct{}),
	}
}

// Register validates and adds a module.
func (h *Host) Register(def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHostClosed
	}
	if _, exists := h.modules[def.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateModule, def.ID)
	}
	h.modules[def.ID] = def
	h.logger.Info("module registered", "module", def.ID, "routes", len(def.Routes))
	return nil
}

// Modules returns the registered modules ordered by id.
func (h *Host) Modules() []Definition {
	h.mu.Lock()
	defer h.mu.Unlock()
	defs := make([]Definition, 0, len(h.modules))
	for _, def := range h.modules {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

// Mount builds and mounts the surface of a module route. A surface that
// fails to mount is unmounted and its error returned; other mounted
// surfaces are unaffected.
func (h *Host) Mount(ctx context.Context, moduleID, path string) (*Mounted, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHostClosed
	}
	def, ok := h.modules[moduleID]
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, moduleID)
	}
	route, ok := def.Route(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s%q", ErrUnknownRoute, moduleID, path)
	}

	surface := route.Component()
	if surface == nil {
		return nil, fmt.Errorf("%w: %s: component returned no surface", ErrInvalidDefinition, moduleID)
	}
	if err := mountSafely(ctx, surface, h.client); err != nil {
		if uerr := surface.Unmount(); uerr != nil {
			h.logger.Warn("unmount after failed mount", "module", moduleID, "error", uerr)
		}
		h.logger.Error("module failed to mount", "module", moduleID, "path", path, "error", err)
		return nil, fmt.Errorf("mount %s: %w", moduleID, err)
	}

	m := &Mounted{ModuleID: moduleID, Path: path, Surface: surface, host: h}
	h.mu.Lock()
	closed := h.closed
	if !closed {
		h.mounted[m] = struct{}{}
	}
	h.mu.Unlock()
	if closed {
		// Close ran while the surface was mounting and could not see it
		if err := surface.Unmount(); err != nil {
			h.logger.Warn("unmount after host closed", "module", moduleID, "error", err)
		}
		return nil, ErrHostClosed
	}
	h.logger.Info("module mounted", "module", moduleID, "path", path)
	return m, nil
}

func mountSafely(ctx context.Context, s Surface, c *client.Client) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("surface panicked: %v", r)
		}
	}()
	return s.Mount(ctx, c)
}

// MountedCount returns the number of mounted surfaces.
func (h *Host) MountedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.mounted)
}

// Close unmounts every surface and rejects further mounts.
func (h *Host) Close() error {
	h.mu.Lock()
	h.closed = true
	mounted := make([]*Mounted, 0, len(h.mounted))
	for m := range h.mounted {
		mounted = append(mounted, m)
	}
	h.mu.Unlock()

	var errs []error
	for _, m := range mounted {
		if err := m.Unmount(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Mounted is a live surface.
type Mounted struct {
	ModuleID string
	Path     string
	Surface  Surface

	host *Host
	once sync.Once
	err  error
}

// Unmount tears the surface down. Later calls return the first result.
func (m *Mounted) Unmount() error {
	m.once.Do(func() {
		m.err = m.Surface.Unmount()
		m.host.mu.Lock()
		delete(m.host.mounted, m)
		m.host.mu.Unlock()
		m.host.logger.Info("module unmounted", "module", m.ModuleID, "path", m.Path)
	})
	return m.err
}
