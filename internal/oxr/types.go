// Package oxr models the slice of the OpenXR surface this layer intercepts:
// opaque handles, result codes, and the value types that cross the boundary
// between an application, the layer, and the upstream runtime. Handles are
// plain integers and are never dereferenced; only the runtime that issued a
// handle knows what is behind it.
package oxr

// Handle is an opaque runtime object identifier (session, swapchain, space,
// instance). The zero value is the null handle.
type Handle uint64

// NullHandle is never a valid object.
const NullHandle Handle = 0

// SystemID identifies a system (HMD + controllers) within an instance.
type SystemID uint64

const NullSystemID SystemID = 0

// Result is an OpenXR result code. Zero and positive values are success
// codes, negative values are errors.
type Result int32

const (
	Success Result = 0

	ErrorValidationFailure   Result = -1
	ErrorRuntimeFailure      Result = -2
	ErrorFunctionUnsupported Result = -7
	ErrorLimitReached        Result = -10
	ErrorHandleInvalid       Result = -12
	ErrorCallOrderInvalid    Result = -37
)

// Succeeded reports whether r is a success code (XR_SUCCEEDED).
func (r Result) Succeeded() bool { return r >= 0 }

// Failed reports whether r is an error code (XR_FAILED).
func (r Result) Failed() bool { return r < 0 }

func (r Result) String() string {
	switch r {
	case Success:
		return "SUCCESS"
	case ErrorValidationFailure:
		return "ERROR_VALIDATION_FAILURE"
	case ErrorRuntimeFailure:
		return "ERROR_RUNTIME_FAILURE"
	case ErrorFunctionUnsupported:
		return "ERROR_FUNCTION_UNSUPPORTED"
	case ErrorLimitReached:
		return "ERROR_LIMIT_REACHED"
	case ErrorHandleInvalid:
		return "ERROR_HANDLE_INVALID"
	case ErrorCallOrderInvalid:
		return "ERROR_CALL_ORDER_INVALID"
	}
	return "UNKNOWN"
}

// Vector3f is a 3D position in meters.
type Vector3f struct {
	X, Y, Z float32
}

// Quaternionf is a rotation. Identity is {0,0,0,1}.
type Quaternionf struct {
	X, Y, Z, W float32
}

// IdentityQuaternion returns the no-rotation orientation.
func IdentityQuaternion() Quaternionf { return Quaternionf{W: 1} }

// Posef combines orientation and position.
type Posef struct {
	Orientation Quaternionf
	Position    Vector3f
}

// IdentityPose returns a pose at the origin with no rotation.
func IdentityPose() Posef { return Posef{Orientation: IdentityQuaternion()} }

// Fovf holds the four half-angles (radians) of an asymmetric view frustum.
type Fovf struct {
	AngleLeft, AngleRight, AngleUp, AngleDown float32
}

// Offset2Di / Extent2Di / Rect2Di mirror the OpenXR 2D integer geometry types.
type Offset2Di struct {
	X, Y int32
}

type Extent2Di struct {
	Width, Height int32
}

type Rect2Di struct {
	Offset Offset2Di
	Extent Extent2Di
}

// View is one located eye view: where it is and what it sees.
type View struct {
	Pose Posef
	FOV  Fovf
}

// ViewStateFlags indicate which parts of a located pose are valid.
type ViewStateFlags uint64

const (
	ViewStateOrientationValid   ViewStateFlags = 1 << 0
	ViewStatePositionValid      ViewStateFlags = 1 << 1
	ViewStateOrientationTracked ViewStateFlags = 1 << 2
	ViewStatePositionTracked    ViewStateFlags = 1 << 3
)

// ViewState accompanies the views returned by LocateViews.
type ViewState struct {
	Flags ViewStateFlags
}

// ViewConfigurationType selects the view arrangement (mono, stereo, ...).
type ViewConfigurationType int32

const (
	ViewConfigurationPrimaryMono   ViewConfigurationType = 1
	ViewConfigurationPrimaryStereo ViewConfigurationType = 2
)

// ReferenceSpaceType identifies the origin convention of a reference space.
type ReferenceSpaceType int32

const (
	ReferenceSpaceView  ReferenceSpaceType = 1
	ReferenceSpaceLocal ReferenceSpaceType = 2
	ReferenceSpaceStage ReferenceSpaceType = 3
)

// FormFactor for GetSystem.
type FormFactor int32

const (
	FormFactorHeadMountedDisplay FormFactor = 1
	FormFactorHandheldDisplay    FormFactor = 2
)

// Format identifies a swapchain pixel format. The values are opaque to the
// layer; it only needs enough format awareness to size pixel copies.
type Format int64

const (
	FormatUnknown   Format = 0
	FormatRGBA8     Format = 28 // DXGI_FORMAT_R8G8B8A8_UNORM
	FormatRGBA8Srgb Format = 29
	FormatBGRA8     Format = 87
	FormatRGBA16F   Format = 10
)

// BytesPerPixel returns the pixel stride for the formats the mirror can
// capture, or 0 for formats it leaves alone.
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatRGBA8, FormatRGBA8Srgb, FormatBGRA8:
		return 4
	case FormatRGBA16F:
		return 8
	}
	return 0
}

// SwapchainUsageFlags mirror XrSwapchainUsageFlags.
type SwapchainUsageFlags uint64

const (
	SwapchainUsageColorAttachment SwapchainUsageFlags = 1 << 0
	SwapchainUsageDepthStencil    SwapchainUsageFlags = 1 << 1
	SwapchainUsageSampled         SwapchainUsageFlags = 1 << 5
)

// GraphicsBinding describes the graphics device a session renders with. The
// device itself stays opaque; the layer records the description for
// diagnostics and capture-compatibility checks.
type GraphicsBinding struct {
	API    string // "d3d11", "d3d12", "vulkan", "opengl", "headless"
	Device uint64 // opaque device identifier, 0 if not applicable
}

// SessionCreateInfo parameterizes CreateSession.
type SessionCreateInfo struct {
	SystemID SystemID
	Binding  GraphicsBinding
}

// SwapchainCreateInfo parameterizes CreateSwapchain.
type SwapchainCreateInfo struct {
	UsageFlags  SwapchainUsageFlags
	Format      Format
	SampleCount uint32
	Width       uint32
	Height      uint32
	FaceCount   uint32
	ArraySize   uint32
	MipCount    uint32
}

// SwapchainImage is one slot of a swapchain as enumerated from the runtime.
// Resource is the native image handle (texture pointer on a real runtime).
// Pixels, when non-nil, is the runtime-owned backing store of the image; it
// is only valid while the image is not owned by the compositor, so anything
// that must survive a frame boundary has to copy it.
type SwapchainImage struct {
	Resource uint64
	Pixels   []byte
}

// ReferenceSpaceCreateInfo parameterizes CreateReferenceSpace.
type ReferenceSpaceCreateInfo struct {
	Type                 ReferenceSpaceType
	PoseInReferenceSpace Posef
}

// ViewLocateInfo parameterizes LocateViews.
type ViewLocateInfo struct {
	ViewConfigurationType ViewConfigurationType
	DisplayTime           int64
	Space                 Handle
}

// FrameBeginInfo parameterizes BeginFrame. It carries no fields in core
// OpenXR; it exists so the call shape matches the upstream contract.
type FrameBeginInfo struct{}

// EnvironmentBlendMode for FrameEndInfo.
type EnvironmentBlendMode int32

const (
	BlendModeOpaque     EnvironmentBlendMode = 1
	BlendModeAdditive   EnvironmentBlendMode = 2
	BlendModeAlphaBlend EnvironmentBlendMode = 3
)

// SwapchainSubImage selects the portion of a swapchain image a layer samples.
type SwapchainSubImage struct {
	Swapchain       Handle
	ImageRect       Rect2Di
	ImageArrayIndex uint32
}

// CompositionLayer is implemented by every layer type an application can
// submit in FrameEndInfo. The type switch in the mirror pipeline mirrors the
// XrCompositionLayerBaseHeader chain walk of a C layer.
type CompositionLayer interface {
	LayerSpace() Handle
}

// CompositionLayerProjection is a head-locked stereo (or mono) projection.
type CompositionLayerProjection struct {
	Space Handle
	Views []CompositionLayerProjectionView
}

func (l *CompositionLayerProjection) LayerSpace() Handle { return l.Space }

// CompositionLayerProjectionView is one eye of a projection layer.
type CompositionLayerProjectionView struct {
	Pose     Posef
	FOV      Fovf
	SubImage SwapchainSubImage
}

// CompositionLayerQuad is a world- or view-locked textured quad.
type CompositionLayerQuad struct {
	Space    Handle
	Pose     Posef
	Size     Extent2Df
	SubImage SwapchainSubImage
}

func (l *CompositionLayerQuad) LayerSpace() Handle { return l.Space }

// Extent2Df is a floating-point 2D size in meters.
type Extent2Df struct {
	Width, Height float32
}

// FrameEndInfo parameterizes EndFrame.
type FrameEndInfo struct {
	DisplayTime          int64
	EnvironmentBlendMode EnvironmentBlendMode
	Layers               []CompositionLayer
}

// InstanceProperties identify the runtime behind an instance.
type InstanceProperties struct {
	RuntimeName    string
	RuntimeVersion string
}

// SystemGetInfo parameterizes GetSystem.
type SystemGetInfo struct {
	FormFactor FormFactor
}

// SystemGraphicsProperties are the graphics limits of a system.
type SystemGraphicsProperties struct {
	MaxSwapchainImageWidth  uint32
	MaxSwapchainImageHeight uint32
	MaxLayerCount           uint32
}

// SystemProperties describe a system's identity and limits.
type SystemProperties struct {
	SystemID   SystemID
	VendorID   uint32
	SystemName string
	Graphics   SystemGraphicsProperties
}

// ViewConfigurationView is the recommended/maximum image geometry for one
// view of a view configuration.
type ViewConfigurationView struct {
	RecommendedImageRectWidth       uint32
	RecommendedImageRectHeight      uint32
	MaxImageRectWidth               uint32
	MaxImageRectHeight              uint32
	RecommendedSwapchainSampleCount uint32
}
