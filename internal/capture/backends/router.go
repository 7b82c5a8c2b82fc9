// Package backends selects and opens capture sources by driver name.
package backends

import (
	"errors"
	"fmt"
	"time"

	"github.com/bryanchriswhite/MixedView/internal/capture"
	"github.com/bryanchriswhite/MixedView/internal/capture/hmd"
	"github.com/bryanchriswhite/MixedView/internal/capture/webcam"
	"github.com/bryanchriswhite/MixedView/internal/config"
	"github.com/bryanchriswhite/MixedView/internal/logger"
	"github.com/bryanchriswhite/MixedView/internal/openvr"
)

// Opener opens one driver. rt is nil when no OpenVR runtime is connected.
type Opener func(cfg config.CameraConfig, rt openvr.Runtime) (capture.Source, error)

// Info describes a driver for listings.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// autoOrder is the fallback chain tried by the auto driver.
var autoOrder = []string{config.DriverHMD, config.DriverWebcam, config.DriverDummy}

// Router routes a driver name to the opener that builds it.
type Router struct {
	cfg     config.CameraConfig
	runtime openvr.Runtime
	openers map[string]Opener
}

// NewRouter creates a router for the camera configuration. rt may be nil.
func NewRouter(cfg config.CameraConfig, rt openvr.Runtime) *Router {
	return &Router{
		cfg:     cfg,
		runtime: rt,
		openers: map[string]Opener{
			config.DriverDummy:  openDummy,
			config.DriverWebcam: openWebcam,
			config.DriverHMD:    openHMD,
		},
	}
}

// Register replaces the opener for a driver.
func (r *Router) Register(driver string, open Opener) {
	r.openers[driver] = open
}

// Open opens the configured driver. auto tries hmd, then webcam, then dummy, and logs
// each failed attempt.
func (r *Router) Open() (capture.Source, error) {
	return r.OpenDriver(r.cfg.Driver)
}

// OpenDriver opens driver by name, ignoring the configured one.
func (r *Router) OpenDriver(driver string) (capture.Source, error) {
	log := logger.WithComponent("capture-router")

	if driver == "" || driver == config.DriverAuto {
		var errs []error
		for _, name := range autoOrder {
			src, err := r.open(name)
			if err != nil {
				log.Warn().Err(err).Str("driver", name).Msg("Capture driver not available")
				errs = append(errs, err)
				continue
			}
			log.Info().Str("driver", name).Msg("Using capture driver")
			return src, nil
		}
		return nil, fmt.Errorf("no capture driver available: %w", errors.Join(errs...))
	}

	src, err := r.open(driver)
	if err != nil {
		return nil, err
	}
	log.Info().Str("driver", driver).Msg("Using capture driver")
	return src, nil
}

func (r *Router) open(driver string) (capture.Source, error) {
	open, ok := r.openers[driver]
	if !ok {
		return nil, fmt.Errorf("unknown capture driver %q", driver)
	}
	return open(r.cfg, r.runtime)
}

// List returns every driver in the order auto tries them, auto first.
func List() []Info {
	return []Info{
		{Name: config.DriverAuto, Description: "try hmd, then webcam, then dummy"},
		{Name: config.DriverHMD, Description: "OpenVR tracked camera of the headset"},
		{Name: config.DriverWebcam, Description: "USB stereo webcam through OpenCV or GStreamer"},
		{Name: config.DriverDummy, Description: "constant frame paced to the capture rate"},
	}
}

func openDummy(config.CameraConfig, openvr.Runtime) (capture.Source, error) {
	return capture.NewDummy(), nil
}

func openWebcam(cfg config.CameraConfig, _ openvr.Runtime) (capture.Source, error) {
	return webcam.Open(webcam.Options{
		Backend:     cfg.WebcamBackend,
		DeviceIndex: cfg.DeviceIndex,
		Device:      cfg.GstDevice,
	})
}

func openHMD(cfg config.CameraConfig, rt openvr.Runtime) (capture.Source, error) {
	if rt == nil {
		return nil, capture.Fatal("hmd", openvr.ErrRuntimeUnavailable)
	}
	frameType, err := openvr.ParseFrameType(cfg.FrameType)
	if err != nil {
		return nil, capture.Fatal("hmd", err)
	}
	src, err := hmd.Open(rt, openvr.DeviceIndex(cfg.HMDDevice), frameType)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// ProbeResult is what one probing capture observed.
type ProbeResult struct {
	Source       string        `json:"source"`
	Bytes        int           `json:"bytes"`
	HasPose      bool          `json:"has_pose"`
	Timeouts     int           `json:"timeouts"`
	FirstFrameIn time.Duration `json:"first_frame_in"`
}

// Probe captures one frame from src, retrying timeouts until wait elapses. It does not
// close src.
func Probe(src capture.Source, wait time.Duration) (ProbeResult, error) {
	res := ProbeResult{Source: src.Name()}
	start := time.Now()
	for {
		frame, p, err := src.Capture()
		switch {
		case err == nil:
			res.Bytes = len(frame)
			res.HasPose = p != nil
			res.FirstFrameIn = time.Since(start)
			return res, nil
		case capture.IsTimeout(err):
			res.Timeouts++
			if time.Since(start) >= wait {
				return res, fmt.Errorf("no frame from %s within %s: %w", src.Name(), wait, err)
			}
		default:
			return res, err
		}
	}
}
