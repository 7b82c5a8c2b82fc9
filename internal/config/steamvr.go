package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// CameraCalibration is the per-eye layout and lens model of a stereo camera frame.
type CameraCalibration struct {
	SerialNumber      string         `json:"serial_number" yaml:"serial_number" toml:"serial_number"`
	FrameBufferWidth  int            `json:"frame_buffer_width" yaml:"frame_buffer_width" toml:"frame_buffer_width"`
	FrameBufferHeight int            `json:"frame_buffer_height" yaml:"frame_buffer_height" toml:"frame_buffer_height"`
	Left              EyeCalibration `json:"left" yaml:"left" toml:"left"`
	Right             EyeCalibration `json:"right" yaml:"right" toml:"right"`
}

// EyeCalibration describes one eye's region of the frame.
type EyeCalibration struct {
	Name         string     `json:"name" yaml:"name" toml:"name"`
	CalMethod    string     `json:"cal_method" yaml:"cal_method" toml:"cal_method"`
	Offset       [2]int     `json:"offset" yaml:"offset" toml:"offset"`
	Size         [2]int     `json:"size" yaml:"size" toml:"size"`
	FocalLength  [2]float64 `json:"focal_length" yaml:"focal_length" toml:"focal_length"`
	Center       [2]float64 `json:"center" yaml:"center" toml:"center"`
	Coeffs       [4]float64 `json:"coeffs" yaml:"coeffs" toml:"coeffs"`
	Position     [3]float64 `json:"position" yaml:"position" toml:"position"`
	Right        [3]float64 `json:"right" yaml:"right" toml:"right"`
	Back         [3]float64 `json:"back" yaml:"back" toml:"back"`
	WhiteBalance [4]float64 `json:"white_balance" yaml:"white_balance" toml:"white_balance"`
}

// steamVRConfig mirrors the LighthouseConfig JSON SteamVR stores per headset.
type steamVRConfig struct {
	DeviceSerialNumber string          `json:"device_serial_number"`
	TrackedCameras     []steamVRCamera `json:"tracked_cameras"`
}

type steamVRCamera struct {
	CalMethod  string `json:"cal_method"`
	Name       string `json:"name"`
	Extrinsics struct {
		PlusX    [3]float64 `json:"plus_x"`
		PlusZ    [3]float64 `json:"plus_z"`
		Position [3]float64 `json:"position"`
	} `json:"extrinsics"`
	Intrinsics struct {
		CenterX float64 `json:"center_x"`
		CenterY float64 `json:"center_y"`
		Distort struct {
			Coeffs [4]float64 `json:"coeffs"`
			Type   string     `json:"type"`
		} `json:"distort"`
		FocalX    float64 `json:"focal_x"`
		FocalY    float64 `json:"focal_y"`
		Height    int     `json:"height"`
		Width     int     `json:"width"`
		Interface string  `json:"interface"`
	} `json:"intrinsics"`
	WhiteBalance [4]float64 `json:"white_balance"`
}

// LoadSteamVRCalibration reads a SteamVR headset config and lays both tracked cameras
// side by side in a 1920x960 frame, left eye first.
func LoadSteamVRCalibration(path string) (*CameraCalibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration: %w", err)
	}

	var raw steamVRConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse calibration %s: %w", path, err)
	}
	if len(raw.TrackedCameras) != 2 {
		return nil, fmt.Errorf("calibration %s has %d tracked cameras, need 2", path, len(raw.TrackedCameras))
	}

	left := eyeFromSteamVR(raw.TrackedCameras[0], [2]int{0, 0})
	right := eyeFromSteamVR(raw.TrackedCameras[1], [2]int{raw.TrackedCameras[0].Intrinsics.Width, 0})

	return &CameraCalibration{
		SerialNumber:      raw.DeviceSerialNumber,
		FrameBufferWidth:  1920,
		FrameBufferHeight: 960,
		Left:              left,
		Right:             right,
	}, nil
}

func eyeFromSteamVR(cam steamVRCamera, offset [2]int) EyeCalibration {
	in := cam.Intrinsics
	return EyeCalibration{
		Name:         cam.Name,
		CalMethod:    cam.CalMethod,
		Offset:       offset,
		Size:         [2]int{in.Width, in.Height},
		FocalLength:  [2]float64{in.FocalX, in.FocalY},
		Center:       [2]float64{in.CenterX, in.CenterY},
		Coeffs:       in.Distort.Coeffs,
		Position:     cam.Extrinsics.Position,
		Right:        cam.Extrinsics.PlusX,
		Back:         cam.Extrinsics.PlusZ,
		WhiteBalance: cam.WhiteBalance,
	}
}
