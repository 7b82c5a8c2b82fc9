package commands

import (
	"fmt"
	"os"

	"github.com/bryanchriswhite/MixedView/internal/config"
	"github.com/bryanchriswhite/MixedView/internal/flags"
	"github.com/bryanchriswhite/MixedView/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// overrideKeys are the config keys command-line flags may override for one run.
var overrideKeys = []string{"server_port", "log_level", "debug", "camera.driver"}

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "mixedview",
		Short: "MixedView - camera passthrough for VR headsets",
		Long: `MixedView streams a stereo camera into the VR compositor so you can see
your surroundings without taking the headset off.

Features:
  • Headset tracked camera through OpenVR
  • USB stereo webcams through OpenCV or GStreamer
  • Dummy camera for testing without hardware
  • Automatic fallback between camera drivers
  • Browser and X11 mirrors of the camera feed
  • REST API and live observability feed`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/mixedview/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging and the DEBUG flag")
	rootCmd.PersistentFlags().String("camera", "", "camera driver (auto, hmd, webcam, dummy)")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("camera.driver", rootCmd.PersistentFlags().Lookup("camera"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig opens the config file and applies flag overrides for this run.
func loadConfig() (*config.Manager, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := configMgr.ApplyOverrides(viper.GetViper(), overrideKeys...); err != nil {
		return nil, fmt.Errorf("invalid command-line override: %w", err)
	}
	return configMgr, nil
}

// setupLogging applies the configured level. --debug wins over log_level.
func setupLogging(cfg *config.Config) {
	level := cfg.LogLevel
	if cfg.Debug {
		level = "debug"
		flags.Set(flags.Debug, true)
	}
	logger.Init(level, true)
}
