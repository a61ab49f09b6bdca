package main

import (
	"fmt"

	abcc "github.com/samsamfire/goabcc"
	"github.com/samsamfire/goabcc/pkg/config"
	"github.com/samsamfire/goabcc/pkg/setup"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	mapPath    string
)

var rootCmd = &cobra.Command{
	Use:   "abcc",
	Short: "Anybus CompactCom host driver",
	Long: `abcc drives an Anybus CompactCom module from the host side.

The driver configuration is read from an ini file (--config), the
application data instances and the default process data map from a yaml
file (--map).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "driver ini configuration")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level, overrides the configuration")
	rootCmd.PersistentFlags().StringVarP(&mapPath, "map", "m", "", "ADI and default map yaml file")
}

// loadConfig reads the configuration file if any and sets the log level
func loadConfig() (*config.DriverConfig, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load %v : %w", configPath, err)
		}
	}
	if logLevel != "" {
		cfg.Driver.LogLevel = logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	log.SetLevel(cfg.LogLevel())
	return cfg, nil
}

// loadAdiMap returns the mapping callback of the driver, nil without map
// file
func loadAdiMap(path string) (setup.AdiMappingFunc, error) {
	if path == "" {
		return nil, nil
	}
	adiMap, err := config.LoadAdiMap(path)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(adiMap); err != nil {
		return nil, fmt.Errorf("invalid map %v : %w", path, err)
	}
	config.Normalize(adiMap)
	adis, mapping := adiMap.Entries()
	log.Infof("loaded %v ADIs, %v map entries from %v", len(adis), len(mapping), path)
	return func() ([]abcc.AdiEntry, []abcc.MapEntry) {
		return adis, mapping
	}, nil
}
