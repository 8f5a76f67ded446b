package oxr

// Function names as they appear on the wire of the loader's resolution call.
// The override set is every entry point the layer wraps; the requested set is
// what the layer calls for its own bookkeeping. The two sets are data, not
// structure: an extension adds names here and typed fields in the dispatch
// table without touching the interception machinery.
const (
	FnCreateSession            = "xrCreateSession"
	FnCreateSwapchain          = "xrCreateSwapchain"
	FnDestroySwapchain         = "xrDestroySwapchain"
	FnEnumerateSwapchainImages = "xrEnumerateSwapchainImages"
	FnAcquireSwapchainImage    = "xrAcquireSwapchainImage"
	FnReleaseSwapchainImage    = "xrReleaseSwapchainImage"
	FnLocateViews              = "xrLocateViews"
	FnBeginFrame               = "xrBeginFrame"
	FnEndFrame                 = "xrEndFrame"
	FnCreateReferenceSpace     = "xrCreateReferenceSpace"

	FnGetInstanceProperties           = "xrGetInstanceProperties"
	FnGetSystemProperties             = "xrGetSystemProperties"
	FnGetSystem                       = "xrGetSystem"
	FnEnumerateViewConfigurationViews = "xrEnumerateViewConfigurationViews"
)

// OverrideFunctions lists every entry point the layer forwards and augments.
func OverrideFunctions() []string {
	return []string{
		FnCreateSession,
		FnCreateSwapchain,
		FnDestroySwapchain,
		FnEnumerateSwapchainImages,
		FnAcquireSwapchainImage,
		FnReleaseSwapchainImage,
		FnLocateViews,
		FnBeginFrame,
		FnEndFrame,
		FnCreateReferenceSpace,
	}
}

// RequestedFunctions lists the entry points the layer calls for itself.
func RequestedFunctions() []string {
	return []string{
		FnGetInstanceProperties,
		FnGetSystemProperties,
		FnGetSystem,
		FnEnumerateViewConfigurationViews,
	}
}

// Typed signatures of the entry points. A resolver hands these back as `any`
// values; the dispatch table asserts them to the right type at build time.
type (
	CreateSessionFunc            func(instance Handle, info *SessionCreateInfo) (Handle, Result)
	CreateSwapchainFunc          func(session Handle, info *SwapchainCreateInfo) (Handle, Result)
	DestroySwapchainFunc         func(swapchain Handle) Result
	EnumerateSwapchainImagesFunc func(swapchain Handle) ([]SwapchainImage, Result)
	AcquireSwapchainImageFunc    func(swapchain Handle) (uint32, Result)
	ReleaseSwapchainImageFunc    func(swapchain Handle) Result
	LocateViewsFunc              func(session Handle, info *ViewLocateInfo) (ViewState, []View, Result)
	BeginFrameFunc               func(session Handle, info *FrameBeginInfo) Result
	EndFrameFunc                 func(session Handle, info *FrameEndInfo) Result
	CreateReferenceSpaceFunc     func(session Handle, info *ReferenceSpaceCreateInfo) (Handle, Result)

	GetInstancePropertiesFunc           func(instance Handle) (InstanceProperties, Result)
	GetSystemPropertiesFunc             func(instance Handle, system SystemID) (SystemProperties, Result)
	GetSystemFunc                       func(instance Handle, info *SystemGetInfo) (SystemID, Result)
	EnumerateViewConfigurationViewsFunc func(instance Handle, system SystemID, viewConfig ViewConfigurationType) ([]ViewConfigurationView, Result)
)

// Runtime is the full entry-point surface this layer knows about. The
// upstream runtime implements it, and so does the layer itself, which is what
// lets layers chain: a transparency test can sandwich the layer between an
// application driver and a recording runtime and compare both sides.
type Runtime interface {
	CreateSession(instance Handle, info *SessionCreateInfo) (Handle, Result)
	CreateSwapchain(session Handle, info *SwapchainCreateInfo) (Handle, Result)
	DestroySwapchain(swapchain Handle) Result
	EnumerateSwapchainImages(swapchain Handle) ([]SwapchainImage, Result)
	AcquireSwapchainImage(swapchain Handle) (uint32, Result)
	ReleaseSwapchainImage(swapchain Handle) Result
	LocateViews(session Handle, info *ViewLocateInfo) (ViewState, []View, Result)
	BeginFrame(session Handle, info *FrameBeginInfo) Result
	EndFrame(session Handle, info *FrameEndInfo) Result
	CreateReferenceSpace(session Handle, info *ReferenceSpaceCreateInfo) (Handle, Result)

	GetInstanceProperties(instance Handle) (InstanceProperties, Result)
	GetSystemProperties(instance Handle, system SystemID) (SystemProperties, Result)
	GetSystem(instance Handle, info *SystemGetInfo) (SystemID, Result)
	EnumerateViewConfigurationViews(instance Handle, system SystemID, viewConfig ViewConfigurationType) ([]ViewConfigurationView, Result)
}

// ResolveFunc is the layer-facing shape of xrGetInstanceProcAddr: given a
// function name, return a callable with the matching Fn signature, or an
// error if the next layer/runtime does not provide it.
type ResolveFunc func(name string) (any, error)

// ResolverFor adapts a Runtime into a ResolveFunc covering both function
// sets. Unknown names resolve to an error, as a conformant loader would.
func ResolverFor(rt Runtime) ResolveFunc {
	return func(name string) (any, error) {
		switch name {
		case FnCreateSession:
			return CreateSessionFunc(rt.CreateSession), nil
		case FnCreateSwapchain:
			return CreateSwapchainFunc(rt.CreateSwapchain), nil
		case FnDestroySwapchain:
			return DestroySwapchainFunc(rt.DestroySwapchain), nil
		case FnEnumerateSwapchainImages:
			return EnumerateSwapchainImagesFunc(rt.EnumerateSwapchainImages), nil
		case FnAcquireSwapchainImage:
			return AcquireSwapchainImageFunc(rt.AcquireSwapchainImage), nil
		case FnReleaseSwapchainImage:
			return ReleaseSwapchainImageFunc(rt.ReleaseSwapchainImage), nil
		case FnLocateViews:
			return LocateViewsFunc(rt.LocateViews), nil
		case FnBeginFrame:
			return BeginFrameFunc(rt.BeginFrame), nil
		case FnEndFrame:
			return EndFrameFunc(rt.EndFrame), nil
		case FnCreateReferenceSpace:
			return CreateReferenceSpaceFunc(rt.CreateReferenceSpace), nil
		case FnGetInstanceProperties:
			return GetInstancePropertiesFunc(rt.GetInstanceProperties), nil
		case FnGetSystemProperties:
			return GetSystemPropertiesFunc(rt.GetSystemProperties), nil
		case FnGetSystem:
			return GetSystemFunc(rt.GetSystem), nil
		case FnEnumerateViewConfigurationViews:
			return EnumerateViewConfigurationViewsFunc(rt.EnumerateViewConfigurationViews), nil
		}
		return nil, &UnknownFunctionError{Name: name}
	}
}

// UnknownFunctionError reports a name the resolver does not export.
type UnknownFunctionError struct {
	Name string
}

func (e *UnknownFunctionError) Error() string {
	return "unknown function: " + e.Name
}
