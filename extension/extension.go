// Package extension declares UI modules for a host application. A module is
// pure data: an identity, an icon and the routes it contributes, each backed
// by a component that builds a surface on demand.
package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/team-chat/client"
)

var (
	// ErrInvalidDefinition is wrapped by every Validate failure.
	ErrInvalidDefinition = errors.New("invalid module definition")
	// ErrDuplicateModule is returned when a module id is registered twice.
	ErrDuplicateModule = errors.New("module already registered")
	// ErrUnknownModule is returned for an unregistered module id.
	ErrUnknownModule = errors.New("unknown module")
	// ErrUnknownRoute is returned for a path the module does not declare.
	ErrUnknownRoute = errors.New("unknown route")
	// ErrHostClosed is returned by a host after Close.
	ErrHostClosed = errors.New("host closed")
)

// Surface is a mounted UI surface.
type Surface interface {
	Mount(ctx context.Context, c *client.Client) error
	Unmount() error
}

// Component builds a fresh surface for a route.
type Component func() Surface

// Route is a path contributed by a module. The empty path is the module root.
type Route struct {
	Path      string
	Component Component
}

// Definition declares a module.
type Definition struct {
	ID     string
	Name   string
	Icon   string
	Routes []Route
}

// Validate checks that the definition can be registered.
func (d Definition) Validate() error {
	switch {
	case d.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidDefinition)
	case d.Name == "":
		return fmt.Errorf("%w: %s: name is required", ErrInvalidDefinition, d.ID)
	case d.Icon == "":
		return fmt.Errorf("%w: %s: icon is required", ErrInvalidDefinition, d.ID)
	case len(d.Routes) == 0:
		return fmt.Errorf("%w: %s: at least one route is required", ErrInvalidDefinition, d.ID)
	}

	paths := make(map[string]bool, len(d.Routes))
	for _, r := range d.Routes {
		if paths[r.Path] {
			return fmt.Errorf("%w: %s: duplicate route %q", ErrInvalidDefinition, d.ID, r.Path)
		}
		paths[r.Path] = true
		if r.Component == nil {
			return fmt.Errorf("%w: %s: route %q has no component", ErrInvalidDefinition, d.ID, r.Path)
		}
	}
	return nil
}

// Route returns the route declared at path.
func (d Definition) Route(path string) (Route, bool) {
	for _, r := range d.Routes {
		if r.Path == path {
			return r, true
		}
	}
	return Route{}, false
}
