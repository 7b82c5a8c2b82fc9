package commands

import (
	"fmt"
	"os"

	"github.com/bryanchriswhite/MixedView/internal/config"
	"github.com/spf13/cobra"
)

var calibrationCmd = &cobra.Command{
	Use:   "calibration",
	Short: "Manage the stereo camera calibration",
}

var calibrationImportCmd = &cobra.Command{
	Use:   "import PATH",
	Short: "Import a SteamVR camera calibration",
	Long: `Read the tracked camera intrinsics and extrinsics from a SteamVR headset
config file and store them under camera.calibration.`,
	Example: `  # Import the Index calibration SteamVR wrote for this headset
  mixedview calibration import ~/.steam/steam/config/lighthouse/lhr-1234abcd/config.json`,
	Args: cobra.ExactArgs(1),
	RunE: runCalibrationImport,
}

var calibrationShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the stored calibration",
	RunE:  runCalibrationShow,
}

var calibrationFormat string

func init() {
	rootCmd.AddCommand(calibrationCmd)
	calibrationCmd.AddCommand(calibrationImportCmd)
	calibrationCmd.AddCommand(calibrationShowCmd)

	calibrationShowCmd.Flags().StringVarP(&calibrationFormat, "format", "f", "yaml", "output format (yaml, json or toml)")
}

func runCalibrationImport(cmd *cobra.Command, args []string) error {
	cal, err := config.LoadSteamVRCalibration(args[0])
	if err != nil {
		return err
	}

	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := configMgr.SetCalibration(cal); err != nil {
		return fmt.Errorf("failed to save calibration: %w", err)
	}

	fmt.Printf("✅ Imported calibration for %s (%s, %s)\n", cal.SerialNumber, cal.Left.Name, cal.Right.Name)
	return nil
}

func runCalibrationShow(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cfg := configMgr.Get()
	if cfg.Camera.Calibration == nil {
		fmt.Println("No calibration stored, run 'mixedview calibration import PATH'")
		return nil
	}
	return encodeValue(os.Stdout, calibrationFormat, cfg.Camera.Calibration)
}
