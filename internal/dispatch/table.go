// Package dispatch builds the per-instance table of forwarding targets.
//
// The table is resolved once at instance setup and treated as immutable
// afterwards; every intercepted call reaches the next layer or runtime
// through its saved entry. There is no dynamic dispatch beyond this table.
package dispatch

import (
	"errors"
	"fmt"

	"github.com/vrtools/xrmirror/internal/logging"
	"github.com/vrtools/xrmirror/internal/oxr"
)

var log = logging.L("dispatch")

// ErrResolution means an overridden function has no forwarding target. An
// override that cannot forward cannot be transparent, so table construction
// fails rather than swallowing calls later.
var ErrResolution = errors.New("dispatch resolution failed")

// Table holds the resolved forwarding targets for the override set, plus the
// requested-set functions the layer calls for its own bookkeeping. Override
// entries are always non-nil on a successfully built table. Requested
// entries may be nil: they are used opportunistically, and a missing one
// only disables the feature that needs it.
type Table struct {
	CreateSession            oxr.CreateSessionFunc
	CreateSwapchain          oxr.CreateSwapchainFunc
	DestroySwapchain         oxr.DestroySwapchainFunc
	EnumerateSwapchainImages oxr.EnumerateSwapchainImagesFunc
	AcquireSwapchainImage    oxr.AcquireSwapchainImageFunc
	ReleaseSwapchainImage    oxr.ReleaseSwapchainImageFunc
	LocateViews              oxr.LocateViewsFunc
	BeginFrame               oxr.BeginFrameFunc
	EndFrame                 oxr.EndFrameFunc
	CreateReferenceSpace     oxr.CreateReferenceSpaceFunc

	GetInstanceProperties           oxr.GetInstancePropertiesFunc
	GetSystemProperties             oxr.GetSystemPropertiesFunc
	GetSystem                       oxr.GetSystemFunc
	EnumerateViewConfigurationViews oxr.EnumerateViewConfigurationViewsFunc

	missing []string
}

// Build resolves both function sets through resolve. It returns ErrResolution
// (wrapped with the function name) if any override-set target is missing or
// has the wrong signature; requested-set failures are logged and recorded.
func Build(resolve oxr.ResolveFunc) (*Table, error) {
	t := &Table{}

	if err := resolveInto(resolve, oxr.FnCreateSession, &t.CreateSession); err != nil {
		return nil, err
	}
	if err := resolveInto(resolve, oxr.FnCreateSwapchain, &t.CreateSwapchain); err != nil {
		return nil, err
	}
	if err := resolveInto(resolve, oxr.FnDestroySwapchain, &t.DestroySwapchain); err != nil {
		return nil, err
	}
	if err := resolveInto(resolve, oxr.FnEnumerateSwapchainImages, &t.EnumerateSwapchainImages); err != nil {
		return nil, err
	}
	if err := resolveInto(resolve, oxr.FnAcquireSwapchainImage, &t.AcquireSwapchainImage); err != nil {
		return nil, err
	}
	if err := resolveInto(resolve, oxr.FnReleaseSwapchainImage, &t.ReleaseSwapchainImage); err != nil {
		return nil, err
	}
	if err := resolveInto(resolve, oxr.FnLocateViews, &t.LocateViews); err != nil {
		return nil, err
	}
	if err := resolveInto(resolve, oxr.FnBeginFrame, &t.BeginFrame); err != nil {
		return nil, err
	}
	if err := resolveInto(resolve, oxr.FnEndFrame, &t.EndFrame); err != nil {
		return nil, err
	}
	if err := resolveInto(resolve, oxr.FnCreateReferenceSpace, &t.CreateReferenceSpace); err != nil {
		return nil, err
	}

	resolveOptional(resolve, oxr.FnGetInstanceProperties, &t.GetInstanceProperties, &t.missing)
	resolveOptional(resolve, oxr.FnGetSystemProperties, &t.GetSystemProperties, &t.missing)
	resolveOptional(resolve, oxr.FnGetSystem, &t.GetSystem, &t.missing)
	resolveOptional(resolve, oxr.FnEnumerateViewConfigurationViews, &t.EnumerateViewConfigurationViews, &t.missing)

	return t, nil
}

// Missing lists the requested-set functions that did not resolve.
func (t *Table) Missing() []string {
	out := make([]string, len(t.missing))
	copy(out, t.missing)
	return out
}

func resolveInto[F any](resolve oxr.ResolveFunc, name string, dst *F) error {
	fn, err := resolve(name)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrResolution, name, err)
	}
	typed, ok := fn.(F)
	if !ok {
		return fmt.Errorf("%w: %s: resolver returned %T", ErrResolution, name, fn)
	}
	*dst = typed
	return nil
}

func resolveOptional[F any](resolve oxr.ResolveFunc, name string, dst *F, missing *[]string) {
	fn, err := resolve(name)
	if err != nil {
		log.Warn("requested function unavailable, dependent features disabled",
			logging.KeyFunction, name, logging.KeyError, err)
		*missing = append(*missing, name)
		return
	}
	typed, ok := fn.(F)
	if !ok {
		log.Warn("requested function has unexpected signature, ignoring",
			logging.KeyFunction, name, "got", fmt.Sprintf("%T", fn))
		*missing = append(*missing, name)
		return
	}
	*dst = typed
}
