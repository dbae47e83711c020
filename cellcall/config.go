package cellcall

import (
	"github.com/grailbio/base/errors"
	"github.com/spf13/viper"
)

// ConfigSpec is the serialized cell-calling configuration, as read from a
// JSON, YAML or TOML file.
type ConfigSpec struct {
	RecoveredCells        *ParamSpec `mapstructure:"recovered_cells"`
	ForceCells            *ParamSpec `mapstructure:"force_cells"`
	EmptyDropsMinimumUMIs *ParamSpec `mapstructure:"emptydrops_minimum_umis"`
	// CellBarcodes, if present, lists the barcodes to call as cells.
	CellBarcodes         []string `mapstructure:"cell_barcodes"`
	OverrideMode         string   `mapstructure:"override_mode"`
	OverrideLibraryTypes []string `mapstructure:"override_library_types"`

	DisableAggregateDetection     bool `mapstructure:"disable_ab_aggregate_detection"`
	DisableHighOccupancyDetection bool `mapstructure:"disable_high_occupancy_gem_detection"`
}

// Config is the validated cell-calling configuration of a run.
type Config struct {
	RecoveredCells        Param
	ForceCells            Param
	EmptyDropsMinimumUMIs Param
	// CellBarcodes is nil unless a manual barcode list was supplied.
	CellBarcodes []string
	// OverrideMethod is set when the configuration names a method.
	OverrideMethod       *Method
	OverrideLibraryTypes []string

	DisableAggregateDetection     bool
	DisableHighOccupancyDetection bool
}

// NewConfig validates spec.
func NewConfig(spec ConfigSpec) (Config, error) {
	var (
		c   Config
		err error
	)
	if c.RecoveredCells, err = NewParam(spec.RecoveredCells); err != nil {
		return Config{}, errors.E(err, "recovered_cells")
	}
	if c.ForceCells, err = NewParam(spec.ForceCells); err != nil {
		return Config{}, errors.E(err, "force_cells")
	}
	if c.EmptyDropsMinimumUMIs, err = NewParam(spec.EmptyDropsMinimumUMIs); err != nil {
		return Config{}, errors.E(err, "emptydrops_minimum_umis")
	}
	if spec.OverrideMode != "" {
		m, err := ParseMethod(spec.OverrideMode)
		if err != nil {
			return Config{}, errors.E(err, "override_mode")
		}
		c.OverrideMethod = &m
	}
	c.CellBarcodes = spec.CellBarcodes
	c.OverrideLibraryTypes = spec.OverrideLibraryTypes
	c.DisableAggregateDetection = spec.DisableAggregateDetection
	c.DisableHighOccupancyDetection = spec.DisableHighOccupancyDetection
	return c, nil
}

// LoadConfig reads a configuration file. The format is inferred from the
// file extension.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, errors.E(err, "reading cell-calling config", path)
	}
	var spec ConfigSpec
	if err := v.Unmarshal(&spec); err != nil {
		return Config{}, errors.E(errors.Invalid, err, "decoding cell-calling config", path)
	}
	return NewConfig(spec)
}
