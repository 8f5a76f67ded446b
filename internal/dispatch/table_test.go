package dispatch

import (
	"errors"
	"slices"
	"testing"

	"github.com/vrtools/xrmirror/internal/oxr"
)

// stubRuntime satisfies oxr.Runtime with inert implementations.
type stubRuntime struct{}

func (stubRuntime) CreateSession(oxr.Handle, *oxr.SessionCreateInfo) (oxr.Handle, oxr.Result) {
	return 1, oxr.Success
}
func (stubRuntime) CreateSwapchain(oxr.Handle, *oxr.SwapchainCreateInfo) (oxr.Handle, oxr.Result) {
	return 2, oxr.Success
}
func (stubRuntime) DestroySwapchain(oxr.Handle) oxr.Result { return oxr.Success }
func (stubRuntime) EnumerateSwapchainImages(oxr.Handle) ([]oxr.SwapchainImage, oxr.Result) {
	return nil, oxr.Success
}
func (stubRuntime) AcquireSwapchainImage(oxr.Handle) (uint32, oxr.Result) { return 0, oxr.Success }
func (stubRuntime) ReleaseSwapchainImage(oxr.Handle) oxr.Result           { return oxr.Success }
func (stubRuntime) LocateViews(oxr.Handle, *oxr.ViewLocateInfo) (oxr.ViewState, []oxr.View, oxr.Result) {
	return oxr.ViewState{}, nil, oxr.Success
}
func (stubRuntime) BeginFrame(oxr.Handle, *oxr.FrameBeginInfo) oxr.Result { return oxr.Success }
func (stubRuntime) EndFrame(oxr.Handle, *oxr.FrameEndInfo) oxr.Result     { return oxr.Success }
func (stubRuntime) CreateReferenceSpace(oxr.Handle, *oxr.ReferenceSpaceCreateInfo) (oxr.Handle, oxr.Result) {
	return 3, oxr.Success
}
func (stubRuntime) GetInstanceProperties(oxr.Handle) (oxr.InstanceProperties, oxr.Result) {
	return oxr.InstanceProperties{RuntimeName: "stub"}, oxr.Success
}
func (stubRuntime) GetSystemProperties(oxr.Handle, oxr.SystemID) (oxr.SystemProperties, oxr.Result) {
	return oxr.SystemProperties{}, oxr.Success
}
func (stubRuntime) GetSystem(oxr.Handle, *oxr.SystemGetInfo) (oxr.SystemID, oxr.Result) {
	return 1, oxr.Success
}
func (stubRuntime) EnumerateViewConfigurationViews(oxr.Handle, oxr.SystemID, oxr.ViewConfigurationType) ([]oxr.ViewConfigurationView, oxr.Result) {
	return nil, oxr.Success
}

func TestBuildResolvesFullSurface(t *testing.T) {
	tbl, err := Build(oxr.ResolverFor(stubRuntime{}))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if tbl.CreateSession == nil || tbl.EndFrame == nil || tbl.CreateReferenceSpace == nil {
		t.Fatal("override entries must be non-nil on a built table")
	}
	if len(tbl.Missing()) != 0 {
		t.Fatalf("Missing = %v, want none", tbl.Missing())
	}

	props, res := tbl.GetInstanceProperties(1)
	if res.Failed() || props.RuntimeName != "stub" {
		t.Fatalf("forwarded GetInstanceProperties = %+v/%v", props, res)
	}
}

func TestBuildFailsOnMissingOverride(t *testing.T) {
	base := oxr.ResolverFor(stubRuntime{})
	resolve := func(name string) (any, error) {
		if name == oxr.FnEndFrame {
			return nil, &oxr.UnknownFunctionError{Name: name}
		}
		return base(name)
	}

	_, err := Build(resolve)
	if !errors.Is(err, ErrResolution) {
		t.Fatalf("Build error = %v, want ErrResolution", err)
	}
}

func TestBuildFailsOnWrongSignature(t *testing.T) {
	base := oxr.ResolverFor(stubRuntime{})
	resolve := func(name string) (any, error) {
		if name == oxr.FnBeginFrame {
			return func() {}, nil
		}
		return base(name)
	}

	_, err := Build(resolve)
	if !errors.Is(err, ErrResolution) {
		t.Fatalf("Build error = %v, want ErrResolution", err)
	}
}

func TestMissingRequestedIsRecordedNotFatal(t *testing.T) {
	base := oxr.ResolverFor(stubRuntime{})
	resolve := func(name string) (any, error) {
		if name == oxr.FnGetSystemProperties {
			return nil, &oxr.UnknownFunctionError{Name: name}
		}
		return base(name)
	}

	tbl, err := Build(resolve)
	if err != nil {
		t.Fatalf("Build should tolerate missing requested functions: %v", err)
	}
	if tbl.GetSystemProperties != nil {
		t.Fatal("missing requested entry should stay nil")
	}
	if !slices.Contains(tbl.Missing(), oxr.FnGetSystemProperties) {
		t.Fatalf("Missing = %v, want to contain %s", tbl.Missing(), oxr.FnGetSystemProperties)
	}
}
