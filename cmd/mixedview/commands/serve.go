package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanchriswhite/MixedView/internal/api"
	"github.com/bryanchriswhite/MixedView/internal/capture"
	"github.com/bryanchriswhite/MixedView/internal/capture/backends"
	"github.com/bryanchriswhite/MixedView/internal/config"
	"github.com/bryanchriswhite/MixedView/internal/display"
	"github.com/bryanchriswhite/MixedView/internal/flags"
	"github.com/bryanchriswhite/MixedView/internal/gpu/vulkan"
	"github.com/bryanchriswhite/MixedView/internal/logger"
	"github.com/bryanchriswhite/MixedView/internal/openvr"
	"github.com/bryanchriswhite/MixedView/internal/output"
	"github.com/bryanchriswhite/MixedView/internal/overlay"
	"github.com/bryanchriswhite/MixedView/internal/pipeline"
	"github.com/bryanchriswhite/MixedView/internal/viewer"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// stagingSlots is how many uploads may be in flight at once.
const stagingSlots = 3

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the camera passthrough",
	Long: `Open the configured camera, upload its frames to the GPU and hand them to the
VR compositor. The HTTP API, the browser mirror and the X11 mirror run alongside.`,
	Example: `  # Start with the configured camera driver
  mixedview serve

  # Force the dummy camera
  mixedview serve --camera dummy

  # Start server on custom port with debug logging
  mixedview serve --port 9090 --debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// mirrors are the optional frame outputs fed by the pipeline tap.
type mirrors struct {
	mjpeg   *output.MJPEGOutput
	display *display.Manager
	outputs []output.Output
	fps     int
}

func startMirrors(cfg config.MirrorConfig) *mirrors {
	log := logger.WithComponent("serve")
	m := &mirrors{}

	if cfg.MJPEG.Enabled {
		m.mjpeg = output.NewMJPEGOutput(output.Config{
			Width:   cfg.MJPEG.Width,
			Height:  cfg.MJPEG.Height,
			FPS:     cfg.MJPEG.FPS,
			Quality: cfg.MJPEG.Quality,
		})
		if err := m.mjpeg.Start(); err != nil {
			log.Warn().Err(err).Msg("MJPEG mirror disabled")
			m.mjpeg = nil
		} else {
			m.outputs = append(m.outputs, m.mjpeg)
			m.fps = max(m.fps, cfg.MJPEG.FPS)
		}
	}

	if cfg.X11.Enabled {
		d, err := display.NewManager(output.Config{
			Width:  cfg.X11.Width,
			Height: cfg.X11.Height,
			FPS:    cfg.X11.FPS,
		})
		if err == nil {
			err = d.Start()
		}
		if err != nil {
			log.Warn().Err(err).Msg("X11 mirror disabled")
		} else {
			m.display = d
			m.outputs = append(m.outputs, d)
			m.fps = max(m.fps, cfg.X11.FPS)
		}
	}
	return m
}

func (m *mirrors) stop() {
	for _, out := range m.outputs {
		if err := out.Stop(); err != nil {
			logger.WithComponent("serve").Warn().Err(err).Str("output", out.Name()).Msg("Failed to stop mirror")
		}
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()
	setupLogging(cfg)

	log := logger.WithComponent("serve")
	log.Info().
		Str("config", configMgr.GetConfigPath()).
		Str("camera", cfg.Camera.Driver).
		Bool("novr", cfg.NoVR.Enabled).
		Msg("Starting MixedView")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// set when the producer outlives shutdown; it may still hold the device
	var producerStuck bool

	var rt openvr.Runtime
	if !cfg.NoVR.Enabled {
		rt, err = openvr.Init()
		if err != nil {
			log.Warn().Err(err).Msg("OpenVR runtime not available, running without headset")
			rt = nil
		} else {
			defer func() {
				if !producerStuck {
					rt.Shutdown()
				}
			}()
		}
	}

	src, err := backends.NewRouter(cfg.Camera, rt).Open()
	if err != nil {
		return err
	}

	dev, err := vulkan.Open(vulkan.Options{
		AppName:         "MixedView",
		Validation:      cfg.Validation,
		GPUID:           cfg.GPUID,
		StagingSlots:    stagingSlots,
		StagingSlotSize: capture.FrameSize,
	})
	if err != nil {
		src.Close()
		return fmt.Errorf("failed to initialize GPU: %w", err)
	}
	defer func() {
		if producerStuck {
			log.Warn().Msg("Leaving GPU device and OpenVR runtime open, capture producer still running")
			return
		}
		if err := dev.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close GPU device")
		}
	}()

	producerCmds, err := dev.CommandAllocator()
	if err != nil {
		src.Close()
		return fmt.Errorf("failed to create producer command pool: %w", err)
	}
	rendererCmds, err := dev.CommandAllocator()
	if err != nil {
		src.Close()
		return fmt.Errorf("failed to create renderer command pool: %w", err)
	}

	mir := startMirrors(cfg.Mirror)
	defer mir.stop()

	var pipelineOpts []pipeline.Option
	var tap *output.Tap
	if len(mir.outputs) > 0 {
		tap = output.NewTap(mir.fps, mir.outputs...)
		if cfg.Mirror.Overlay {
			hud := overlay.NewManager()
			hud.AddWidget(overlay.NewTextWidget("title", "MixedView", 8, 8))
			hud.AddWidget(overlay.NewFlagsWidget("status", flags.Global(), 8, 32))
			tap.SetOverlay(hud)
		}
		tap.Start()
		defer tap.Stop()
		pipelineOpts = append(pipelineOpts, pipeline.WithTap(tap))
	}

	image, recv, err := pipeline.Start(ctx, src, dev.Queue(), dev.MemoryAllocator(), producerCmds, pipelineOpts...)
	if err != nil {
		src.Close()
		return fmt.Errorf("failed to start capture pipeline: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := recv.Stop(sctx); err != nil {
			log.Warn().Err(err).Msg("Capture producer did not exit in time")
			producerStuck = true
		}
	}()

	viewerOpts := []viewer.Option{viewer.WithMaxFPS(cfg.WindowMaxFPS)}
	if rt != nil {
		viewerOpts = append(viewerOpts, viewer.WithCompositor(rt.Compositor(), dev.Texture))
	}
	renderer, err := viewer.New(dev.Queue(), rendererCmds, image, recv, viewerOpts...)
	if err != nil {
		return fmt.Errorf("failed to create renderer: %w", err)
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := renderer.Close(cctx); err != nil {
			log.Warn().Err(err).Msg("Renderer did not drain")
		}
	}()

	apiOpts := []api.Option{api.WithStatus(renderer)}
	if mir.mjpeg != nil {
		apiOpts = append(apiOpts, api.WithMJPEG(mir.mjpeg))
	}
	if mir.display != nil {
		apiOpts = append(apiOpts, api.WithDisplay(mir.display))
	}
	server := api.NewServer(configMgr, flags.Global(), apiOpts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(cfg.ServerPort)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(sctx)
	})
	g.Go(func() error {
		err := renderer.Run(gctx)
		if errors.Is(err, pipeline.ErrReceiverClosed) {
			return nil
		}
		return err
	})

	log.Info().
		Int("port", cfg.ServerPort).
		Str("source", recv.Source()).
		Str("session", recv.ID().String()).
		Msg("MixedView is running, press Ctrl+C to stop")

	err = g.Wait()
	log.Info().Msg("Shutting down gracefully")
	return err
}
