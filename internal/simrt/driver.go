package simrt

import (
	"fmt"
	"time"

	"github.com/vrtools/xrmirror/internal/oxr"
)

// Driver plays the application role against any oxr.Runtime. Pointing it at
// a layer whose dispatch table resolves to a simulated Runtime exercises the
// whole interception path with real frame traffic.
type Driver struct {
	front   oxr.Runtime // what the application calls
	back    *Runtime    // backdoor for painting into image buffers
	profile Profile

	instance   oxr.Handle
	session    oxr.Handle
	space      oxr.Handle
	swapchains []oxr.Handle
	frame      uint64
}

// NewDriver builds a driver calling front, rendering through back's buffers.
func NewDriver(front oxr.Runtime, back *Runtime, instance oxr.Handle, profile Profile) *Driver {
	return &Driver{
		front:    front,
		back:     back,
		profile:  profile,
		instance: instance,
	}
}

// Setup performs the application's session bring-up: session, LOCAL
// reference space, and one swapchain per view, enumerated.
func (d *Driver) Setup() error {
	session, res := d.front.CreateSession(d.instance, &oxr.SessionCreateInfo{
		SystemID: simSystemID,
		Binding:  oxr.GraphicsBinding{API: "headless"},
	})
	if res.Failed() {
		return fmt.Errorf("create session: %s", res)
	}
	d.session = session

	space, res := d.front.CreateReferenceSpace(session, &oxr.ReferenceSpaceCreateInfo{
		Type:                 oxr.ReferenceSpaceLocal,
		PoseInReferenceSpace: oxr.IdentityPose(),
	})
	if res.Failed() {
		return fmt.Errorf("create reference space: %s", res)
	}
	d.space = space

	for i := 0; i < d.profile.ViewCount; i++ {
		sc, res := d.front.CreateSwapchain(session, &oxr.SwapchainCreateInfo{
			UsageFlags:  oxr.SwapchainUsageColorAttachment | oxr.SwapchainUsageSampled,
			Format:      oxr.FormatRGBA8,
			SampleCount: 1,
			Width:       d.profile.ViewWidth,
			Height:      d.profile.ViewHeight,
			FaceCount:   1,
			ArraySize:   1,
			MipCount:    1,
		})
		if res.Failed() {
			return fmt.Errorf("create swapchain %d: %s", i, res)
		}
		if _, res := d.front.EnumerateSwapchainImages(sc); res.Failed() {
			return fmt.Errorf("enumerate swapchain %d: %s", i, res)
		}
		d.swapchains = append(d.swapchains, sc)
	}
	return nil
}

// Session returns the driver's session handle.
func (d *Driver) Session() oxr.Handle { return d.session }

// Swapchains returns the per-view swapchain handles.
func (d *Driver) Swapchains() []oxr.Handle { return d.swapchains }

// RenderFrame runs one full frame: locate, begin, acquire-paint-release each
// view, end with a projection layer referencing the released images.
func (d *Driver) RenderFrame(displayTime int64) error {
	d.frame++

	_, _, res := d.front.LocateViews(d.session, &oxr.ViewLocateInfo{
		ViewConfigurationType: oxr.ViewConfigurationPrimaryStereo,
		DisplayTime:           displayTime,
		Space:                 d.space,
	})
	if res.Failed() {
		return fmt.Errorf("locate views: %s", res)
	}

	if res := d.front.BeginFrame(d.session, &oxr.FrameBeginInfo{}); res.Failed() {
		return fmt.Errorf("begin frame: %s", res)
	}

	proj := &oxr.CompositionLayerProjection{Space: d.space}
	for vi, sc := range d.swapchains {
		index, res := d.front.AcquireSwapchainImage(sc)
		if res.Failed() {
			return fmt.Errorf("acquire view %d: %s", vi, res)
		}
		// Flat color cycling with the frame counter stands in for rendering.
		d.back.Paint(sc, index, [4]byte{
			byte(d.frame * 7), byte(vi * 120), byte(d.frame * 3), 0xff,
		})
		if res := d.front.ReleaseSwapchainImage(sc); res.Failed() {
			return fmt.Errorf("release view %d: %s", vi, res)
		}

		proj.Views = append(proj.Views, oxr.CompositionLayerProjectionView{
			SubImage: oxr.SwapchainSubImage{
				Swapchain: sc,
				ImageRect: oxr.Rect2Di{Extent: oxr.Extent2Di{
					Width:  int32(d.profile.ViewWidth),
					Height: int32(d.profile.ViewHeight),
				}},
			},
		})
	}

	res = d.front.EndFrame(d.session, &oxr.FrameEndInfo{
		DisplayTime:          displayTime,
		EnvironmentBlendMode: oxr.BlendModeOpaque,
		Layers:               []oxr.CompositionLayer{proj},
	})
	if res.Failed() {
		return fmt.Errorf("end frame: %s", res)
	}
	return nil
}

// Run renders frames at the given rate until stop closes.
func (d *Driver) Run(fps int, stop <-chan struct{}) error {
	if fps <= 0 {
		fps = 72
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return nil
		case t := <-ticker.C:
			if err := d.RenderFrame(t.UnixNano()); err != nil {
				return err
			}
		}
	}
}
