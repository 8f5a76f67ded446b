package layer

import (
	"context"
	"testing"
	"time"

	"github.com/vrtools/xrmirror/internal/mirror"
	"github.com/vrtools/xrmirror/internal/oxr"
	"github.com/vrtools/xrmirror/internal/simrt"
	"github.com/vrtools/xrmirror/internal/sink"
)

func testProfile() simrt.Profile {
	p := simrt.DefaultProfile()
	p.ViewCount = 2
	p.ViewWidth = 4
	p.ViewHeight = 2
	p.ImageCount = 2
	return p
}

func testMirrorConfig() mirror.Config {
	return mirror.Config{QueueDepth: 4, RejectThreshold: 10, ProbeInterval: 30}
}

func newTestLayer(t *testing.T, profile simrt.Profile) (*simrt.Runtime, *Layer) {
	t.Helper()
	rt := simrt.New(profile)
	l, err := New(0x1, rt.Resolver(), testMirrorConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		l.Close(ctx)
	})
	return rt, l
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBootstrapIdentifiesRuntime(t *testing.T) {
	_, l := newTestLayer(t, testProfile())
	if l.RuntimeName() != "xrmirror-simrt" {
		t.Fatalf("RuntimeName = %q", l.RuntimeName())
	}
	if len(l.ViewGeometry()) != 2 {
		t.Fatalf("ViewGeometry count = %d, want 2", len(l.ViewGeometry()))
	}
}

func TestMirrorsPaintedFrame(t *testing.T) {
	rt, l := newTestLayer(t, testProfile())

	got := make(chan *sink.Frame, 4)
	l.AttachSink(sink.Func(func(f *sink.Frame) bool {
		select {
		case got <- f:
		default:
		}
		return true
	}))

	driver := simrt.NewDriver(l, rt, l.Instance(), testProfile())
	if err := driver.Setup(); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if err := driver.RenderFrame(time.Now().UnixNano()); err != nil {
		t.Fatalf("RenderFrame failed: %v", err)
	}

	select {
	case f := <-got:
		if len(f.Views) != 2 {
			t.Fatalf("views = %d, want 2", len(f.Views))
		}
		for vi, v := range f.Views {
			if v.Pixels == nil {
				t.Fatalf("view %d has no pixels", vi)
			}
			if len(v.Pixels) != 4*2*4 {
				t.Fatalf("view %d pixel size = %d, want 32", vi, len(v.Pixels))
			}
			// Driver paints frame 1 as R=7, G=vi*120, B=3, A=255.
			want := [4]byte{7, byte(vi * 120), 3, 0xff}
			for i := 0; i < 4; i++ {
				if v.Pixels[i] != want[i] {
					t.Fatalf("view %d pixel byte %d = %d, want %d", vi, i, v.Pixels[i], want[i])
				}
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("mirrored frame never arrived")
	}
}

func TestFrameLoopSurvivesRejectingSink(t *testing.T) {
	rt, l := newTestLayer(t, testProfile())
	l.AttachSink(sink.Func(func(*sink.Frame) bool { return false }))

	driver := simrt.NewDriver(l, rt, l.Instance(), testProfile())
	if err := driver.Setup(); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	// Every application call must keep succeeding while the sink refuses
	// 1000 frames in a row.
	for i := 0; i < 1000; i++ {
		if err := driver.RenderFrame(int64(i) * 1_000_000); err != nil {
			t.Fatalf("frame %d failed with rejecting sink: %v", i, err)
		}
	}

	waitFor(t, "watchdog disable", func() bool { return !l.MirrorEnabled() })
	if v := l.Metrics().Snapshot().ProtocolViolations; v != 0 {
		t.Fatalf("violations = %d, want 0", v)
	}
}

func TestDegradesWithoutSystemProperties(t *testing.T) {
	profile := testProfile()
	profile.MissingFunctions = []string{
		oxr.FnGetSystemProperties,
		oxr.FnEnumerateViewConfigurationViews,
	}
	rt, l := newTestLayer(t, profile)

	if l.ViewGeometry() != nil {
		t.Fatal("view geometry should be absent when enumeration is withheld")
	}

	// Mirroring still works end to end.
	got := make(chan *sink.Frame, 1)
	l.AttachSink(sink.Func(func(f *sink.Frame) bool {
		select {
		case got <- f:
		default:
		}
		return true
	}))

	driver := simrt.NewDriver(l, rt, l.Instance(), profile)
	if err := driver.Setup(); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if err := driver.RenderFrame(1); err != nil {
		t.Fatalf("RenderFrame failed: %v", err)
	}

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("no frame mirrored despite degraded bootstrap")
	}
}

func TestForwardedFailuresAreUnmodified(t *testing.T) {
	rt, l := newTestLayer(t, testProfile())

	rt.InjectFailure(oxr.FnCreateSwapchain, oxr.ErrorLimitReached)
	session, res := l.CreateSession(l.Instance(), &oxr.SessionCreateInfo{SystemID: 1})
	if res.Failed() {
		t.Fatalf("CreateSession failed: %v", res)
	}
	if _, res := l.CreateSwapchain(session, &oxr.SwapchainCreateInfo{
		Format: oxr.FormatRGBA8, Width: 4, Height: 2,
	}); res != oxr.ErrorLimitReached {
		t.Fatalf("CreateSwapchain result = %v, want injected ERROR_LIMIT_REACHED", res)
	}
	if l.SwapchainCount() != 0 {
		t.Fatal("failed create must not register a shadow")
	}

	// Unknown handles forward and come back as the runtime decides.
	if res := l.DestroySwapchain(0xdead); res != oxr.ErrorHandleInvalid {
		t.Fatalf("DestroySwapchain(bogus) = %v, want ERROR_HANDLE_INVALID", res)
	}
}

func TestUntrackedSwapchainPassesThrough(t *testing.T) {
	rt, l := newTestLayer(t, testProfile())

	// Created behind the layer's back, as if before attach.
	session, res := rt.CreateSession(0x1, &oxr.SessionCreateInfo{SystemID: 1})
	if res.Failed() {
		t.Fatalf("direct CreateSession failed: %v", res)
	}
	sc, res := rt.CreateSwapchain(session, &oxr.SwapchainCreateInfo{
		Format: oxr.FormatRGBA8, Width: 4, Height: 2,
	})
	if res.Failed() {
		t.Fatalf("direct CreateSwapchain failed: %v", res)
	}

	images, res := l.EnumerateSwapchainImages(sc)
	if res.Failed() {
		t.Fatalf("pass-through enumerate failed: %v", res)
	}
	if len(images) == 0 {
		t.Fatal("pass-through enumerate returned no images")
	}
	if l.SwapchainCount() != 0 {
		t.Fatal("pass-through must not create tracking state")
	}
	if _, res := l.AcquireSwapchainImage(sc); res.Failed() {
		t.Fatalf("pass-through acquire failed: %v", res)
	}
	if res := l.ReleaseSwapchainImage(sc); res.Failed() {
		t.Fatalf("pass-through release failed: %v", res)
	}
}

func TestDestroySwapchainDropsShadow(t *testing.T) {
	_, l := newTestLayer(t, testProfile())

	session, res := l.CreateSession(l.Instance(), &oxr.SessionCreateInfo{SystemID: 1})
	if res.Failed() {
		t.Fatalf("CreateSession failed: %v", res)
	}
	sc, res := l.CreateSwapchain(session, &oxr.SwapchainCreateInfo{
		Format: oxr.FormatRGBA8, Width: 4, Height: 2,
	})
	if res.Failed() {
		t.Fatalf("CreateSwapchain failed: %v", res)
	}
	if l.SwapchainCount() != 1 {
		t.Fatalf("SwapchainCount = %d, want 1", l.SwapchainCount())
	}

	if res := l.DestroySwapchain(sc); res.Failed() {
		t.Fatalf("DestroySwapchain failed: %v", res)
	}
	if l.SwapchainCount() != 0 {
		t.Fatalf("SwapchainCount = %d after destroy, want 0", l.SwapchainCount())
	}
}

func TestTwoSessionsMirrorConcurrently(t *testing.T) {
	profile := testProfile()
	rt, l := newTestLayer(t, profile)

	frames := make(chan oxr.Handle, 256)
	l.AttachSink(sink.Func(func(f *sink.Frame) bool {
		select {
		case frames <- f.Session:
		default:
		}
		return true
	}))

	const perSession = 50
	errs := make(chan error, 2)
	run := func() {
		driver := simrt.NewDriver(l, rt, l.Instance(), profile)
		if err := driver.Setup(); err != nil {
			errs <- err
			return
		}
		for i := 0; i < perSession; i++ {
			if err := driver.RenderFrame(int64(i) * 1_000_000); err != nil {
				errs <- err
				return
			}
		}
		errs <- nil
	}
	go run()
	go run()

	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("session driver failed: %v", err)
		}
	}
	if l.SessionCount() != 2 {
		t.Fatalf("SessionCount = %d, want 2", l.SessionCount())
	}

	seen := make(map[oxr.Handle]bool)
	waitFor(t, "frames from both sessions", func() bool {
		for {
			select {
			case s := <-frames:
				seen[s] = true
			default:
				return len(seen) == 2
			}
		}
	})
}

func TestAttachDetachRegistry(t *testing.T) {
	rt := simrt.New(testProfile())

	l, err := Attach(0x77, rt.Resolver(), testMirrorConfig())
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if _, err := Attach(0x77, rt.Resolver(), testMirrorConfig()); err == nil {
		t.Fatal("second Attach on same instance should fail")
	}

	got, ok := Active(0x77)
	if !ok || got != l {
		t.Fatal("Active should return the attached layer")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	Detach(ctx, 0x77)
	if _, ok := Active(0x77); ok {
		t.Fatal("layer still active after Detach")
	}
	// Detaching again is a no-op.
	Detach(ctx, 0x77)
}

func TestFirstFrameWalkthrough(t *testing.T) {
	_, l := newTestLayer(t, testProfile())

	got := make(chan *sink.Frame, 1)
	l.AttachSink(sink.Func(func(f *sink.Frame) bool {
		select {
		case got <- f:
		default:
		}
		return true
	}))

	session, res := l.CreateSession(l.Instance(), &oxr.SessionCreateInfo{SystemID: 1})
	if res.Failed() {
		t.Fatalf("CreateSession failed: %v", res)
	}
	space, res := l.CreateReferenceSpace(session, &oxr.ReferenceSpaceCreateInfo{
		Type:                 oxr.ReferenceSpaceLocal,
		PoseInReferenceSpace: oxr.IdentityPose(),
	})
	if res.Failed() {
		t.Fatalf("CreateReferenceSpace failed: %v", res)
	}
	sc, res := l.CreateSwapchain(session, &oxr.SwapchainCreateInfo{
		UsageFlags: oxr.SwapchainUsageColorAttachment,
		Format:     oxr.FormatRGBA8,
		Width:      4,
		Height:     2,
	})
	if res.Failed() {
		t.Fatalf("CreateSwapchain failed: %v", res)
	}

	first, res := l.EnumerateSwapchainImages(sc)
	if res.Failed() || len(first) != 2 {
		t.Fatalf("enumerate = %d images/%v, want 2", len(first), res)
	}
	second, res := l.EnumerateSwapchainImages(sc)
	if res.Failed() || len(second) != 2 {
		t.Fatalf("re-enumerate = %d images/%v, want 2", len(second), res)
	}
	for i := range first {
		if first[i].Resource != second[i].Resource {
			t.Fatalf("image %d identity changed across enumerations", i)
		}
	}

	index, res := l.AcquireSwapchainImage(sc)
	if res.Failed() || index != 0 {
		t.Fatalf("acquire = %d/%v, want index 0", index, res)
	}

	if res := l.BeginFrame(session, &oxr.FrameBeginInfo{}); res.Failed() {
		t.Fatalf("BeginFrame failed: %v", res)
	}
	if _, _, res := l.LocateViews(session, &oxr.ViewLocateInfo{
		ViewConfigurationType: oxr.ViewConfigurationPrimaryStereo,
		DisplayTime:           1000,
		Space:                 space,
	}); res.Failed() {
		t.Fatalf("LocateViews failed: %v", res)
	}

	res = l.EndFrame(session, &oxr.FrameEndInfo{
		DisplayTime:          1000,
		EnvironmentBlendMode: oxr.BlendModeOpaque,
		Layers: []oxr.CompositionLayer{
			&oxr.CompositionLayerProjection{
				Space: space,
				Views: []oxr.CompositionLayerProjectionView{
					{SubImage: oxr.SwapchainSubImage{Swapchain: sc}},
					{SubImage: oxr.SwapchainSubImage{Swapchain: sc}},
				},
			},
		},
	})
	if res.Failed() {
		t.Fatalf("EndFrame failed: %v", res)
	}

	select {
	case f := <-got:
		if f.FrameIndex != 1 {
			t.Fatalf("FrameIndex = %d, want 1", f.FrameIndex)
		}
		if len(f.Views) != 2 {
			t.Fatalf("views = %d, want 2", len(f.Views))
		}
		for i, v := range f.Views {
			if v.Swapchain != sc {
				t.Fatalf("view %d references %#x, want %#x", i, uint64(v.Swapchain), uint64(sc))
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered for the first end frame")
	}

	if res := l.ReleaseSwapchainImage(sc); res.Failed() {
		t.Fatalf("ReleaseSwapchainImage failed: %v", res)
	}
}

func TestQuadOverlayDelivered(t *testing.T) {
	rt, l := newTestLayer(t, testProfile())

	got := make(chan *sink.Frame, 4)
	l.AttachSink(sink.Func(func(f *sink.Frame) bool {
		select {
		case got <- f:
		default:
		}
		return true
	}))

	driver := simrt.NewDriver(l, rt, l.Instance(), testProfile())
	if err := driver.Setup(); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	// HUD swapchain rendered once, then submitted as a quad every frame.
	hud, res := l.CreateSwapchain(driver.Session(), &oxr.SwapchainCreateInfo{
		UsageFlags: oxr.SwapchainUsageColorAttachment,
		Format:     oxr.FormatRGBA8,
		Width:      4,
		Height:     2,
	})
	if res.Failed() {
		t.Fatalf("CreateSwapchain failed: %v", res)
	}
	if _, res := l.EnumerateSwapchainImages(hud); res.Failed() {
		t.Fatalf("enumerate failed: %v", res)
	}
	if _, res := l.AcquireSwapchainImage(hud); res.Failed() {
		t.Fatalf("acquire failed: %v", res)
	}
	rt.Paint(hud, 0, [4]byte{0xaa, 0xbb, 0xcc, 0xff})
	if res := l.ReleaseSwapchainImage(hud); res.Failed() {
		t.Fatalf("release failed: %v", res)
	}

	if res := l.BeginFrame(driver.Session(), &oxr.FrameBeginInfo{}); res.Failed() {
		t.Fatalf("BeginFrame failed: %v", res)
	}
	res = l.EndFrame(driver.Session(), &oxr.FrameEndInfo{
		DisplayTime: 1000,
		Layers: []oxr.CompositionLayer{
			&oxr.CompositionLayerQuad{
				Pose:     oxr.IdentityPose(),
				Size:     oxr.Extent2Df{Width: 1, Height: 0.5},
				SubImage: oxr.SwapchainSubImage{Swapchain: hud},
			},
		},
	})
	if res.Failed() {
		t.Fatalf("EndFrame failed: %v", res)
	}

	select {
	case f := <-got:
		if len(f.Overlays) != 1 {
			t.Fatalf("overlays = %d, want 1", len(f.Overlays))
		}
		ov := f.Overlays[0]
		if len(ov.Pixels) == 0 || ov.Pixels[0] != 0xaa {
			t.Fatalf("overlay pixels = %v, want painted HUD content", ov.Pixels)
		}
		if ov.Size.Width != 1 {
			t.Fatalf("overlay size = %+v", ov.Size)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("quad frame never delivered")
	}
}

func TestAttachFailsWhenOverrideMissing(t *testing.T) {
	profile := testProfile()
	profile.MissingFunctions = []string{oxr.FnEndFrame}
	rt := simrt.New(profile)

	if _, err := New(0x1, rt.Resolver(), testMirrorConfig()); err == nil {
		t.Fatal("New should fail when an override function is unresolvable")
	}
}
