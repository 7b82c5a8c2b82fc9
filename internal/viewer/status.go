package viewer

import (
	"github.com/bryanchriswhite/MixedView/internal/flags"
	"github.com/bryanchriswhite/MixedView/internal/pose"
)

// Status is a snapshot of the capture session as seen by the renderer.
type Status struct {
	Session    string     `json:"session"`
	Source     string     `json:"source"`
	Running    bool       `json:"running"`
	Delivered  uint64     `json:"delivered"`
	Dropped    uint64     `json:"dropped"`
	Timeouts   uint64     `json:"timeouts"`
	Submitted  uint64     `json:"submitted"`
	Frames     uint64     `json:"frames"`
	CameraFPS  float64    `json:"camera_fps"`
	RenderFPS  float64    `json:"render_fps"`
	Pose       *pose.Pose `json:"pose,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	Compositor bool       `json:"compositor"`
}

// Status returns the current snapshot.
func (r *Renderer) Status() Status {
	stats := r.recv.Stats()
	cameraFPS, _ := flags.Lookup[float64](r.flags, flags.CameraFPS)

	r.mu.Lock()
	defer r.mu.Unlock()

	s := Status{
		Session:    r.recv.ID().String(),
		Source:     r.recv.Source(),
		Running:    !r.cameraGone,
		Delivered:  stats.Delivered,
		Dropped:    stats.Dropped,
		Timeouts:   stats.Timeouts,
		Submitted:  r.submitted,
		Frames:     r.frames,
		CameraFPS:  cameraFPS,
		RenderFPS:  r.renderFPS,
		Pose:       r.lastPose,
		Compositor: r.comp != nil,
	}
	if r.lastErr != nil {
		s.LastError = r.lastErr.Error()
	}
	return s
}
