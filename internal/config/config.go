package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"simsweep/internal/units"
)

// StateDir is the per-workdir directory holding config, logs, ledger and scripts.
const StateDir = ".simsweep"

// Config holds all simsweep configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// External CASA installation
	Casa CasaConfig `yaml:"casa"`

	// Default sweep inputs (overridden by CLI flags)
	Sweep SweepConfig `yaml:"sweep"`

	// Task parameters handed to the host application
	Simobserve SimobserveConfig `yaml:"simobserve"`
	Clean      CleanConfig      `yaml:"clean"`

	// Filesystem layout of products
	Output OutputConfig `yaml:"output"`

	Units  UnitsConfig  `yaml:"units"`
	Ledger LedgerConfig `yaml:"ledger"`
	Watch  WatchConfig  `yaml:"watch"`

	// Execution settings
	Execution ExecutionConfig `yaml:"execution"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// CasaConfig configures how the host application is launched.
type CasaConfig struct {
	Binary    string   `yaml:"binary"`
	Args      []string `yaml:"args"`       // placed before the script path
	Timeout   string   `yaml:"timeout"`    // per task
	ScriptDir string   `yaml:"script_dir"` // relative to the workdir

	// KeepScripts keeps the rendered script of every successful task.
	// Scripts of failed tasks are always kept in ScriptDir.
	KeepScripts bool `yaml:"keep_scripts"`

	// LogDir receives one casa --logfile per task instead of the workdir.
	// Empty leaves CASA's own default.
	LogDir string `yaml:"log_dir"`
}

// SweepConfig holds default sweep inputs. Values are decoded loosely so that
// a scalar and a list are both accepted; sweep.Normalize checks their shape.
type SweepConfig struct {
	BeamSizes          interface{} `yaml:"beam_sizes"`        // arcsec, float or list of floats
	IntegrationTimes   interface{} `yaml:"integration_times"` // minutes, float or list of floats
	Files              interface{} `yaml:"files"`             // null, path, or list of paths
	MinIntegrationTime float64     `yaml:"min_integration_time"`
}

// SimobserveConfig holds fixed simobserve settings.
type SimobserveConfig struct {
	Observatory  string `yaml:"observatory"` // antennalist prefix
	ThermalNoise string `yaml:"thermal_noise"`
	Graphics     string `yaml:"graphics"`
}

// CleanConfig holds the image reconstruction settings.
type CleanConfig struct {
	ImageName   string  `yaml:"image_name"`
	Mode        string  `yaml:"mode"`
	NChan       int     `yaml:"nchan"`
	NIter       int     `yaml:"niter"`
	Threshold   string  `yaml:"threshold"`
	ImSize      int     `yaml:"imsize"`
	CellFactor  float64 `yaml:"cell_factor"` // clean cell = input cell * factor
	Weighting   string  `yaml:"weighting"`
	Robust      float64 `yaml:"robust"`
	PBCor       bool    `yaml:"pbcor"`
	PhaseCenter int     `yaml:"phase_center"`
	OutFrame    string  `yaml:"outframe"`
}

// OutputConfig describes where products end up.
type OutputConfig struct {
	ProductSuffix string   `yaml:"product_suffix"`
	OutputsSuffix string   `yaml:"outputs_suffix"`
	SimObsPrefix  string   `yaml:"simobs_prefix"`
	KeepProjects  bool     `yaml:"keep_projects"`
	AuxPatterns   []string `yaml:"aux_patterns"` // removed from each project dir after clean

	// RootAuxPatterns are removed from the workdir after each file, before
	// its outputs are organized.
	RootAuxPatterns []string `yaml:"root_aux_patterns"`
}

// UnitsConfig selects the brightness conversion kernel.
type UnitsConfig struct {
	SolidAngle string `yaml:"solid_angle"` // gaussian, pixel
}

// LedgerConfig configures the SQLite run ledger.
type LedgerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// WatchConfig configures watch mode.
type WatchConfig struct {
	Debounce string `yaml:"debounce"`
}

// ValidWeightings lists the weighting schemes clean accepts.
var ValidWeightings = []string{"natural", "uniform", "briggs"}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "simsweep",
		Version: "1.0.0",

		Casa: CasaConfig{
			Binary:    "casa",
			Args:      []string{"--nologger", "--nogui", "--log2term", "-c"},
			Timeout:   "6h",
			ScriptDir: filepath.Join(StateDir, "scripts"),
			LogDir:    filepath.Join(StateDir, "logs", "casa"),
		},

		Sweep: SweepConfig{
			MinIntegrationTime: 100,
		},

		Simobserve: SimobserveConfig{
			Observatory:  "alma",
			ThermalNoise: "tsys-atm",
			Graphics:     "file",
		},

		Clean: CleanConfig{
			ImageName:   "CLEANed",
			Mode:        "velocity",
			NChan:       -1,
			NIter:       10000,
			Threshold:   "0.1mJy",
			ImSize:      256,
			CellFactor:  2.5,
			Weighting:   "briggs",
			Robust:      0.5,
			PBCor:       false,
			PhaseCenter: 0,
			OutFrame:    "LSRK",
		},

		Output: OutputConfig{
			ProductSuffix: "_simobs.fits",
			OutputsSuffix: "_Outputs",
			SimObsPrefix:  "SimObs_",
			AuxPatterns:   []string{"*.txt", "*.png", "*.last"},

			RootAuxPatterns: []string{"*.last"},
		},

		Units: UnitsConfig{
			SolidAngle: string(units.SolidAngleGaussian),
		},

		Ledger: LedgerConfig{
			Enabled: true,
			Path:    filepath.Join(StateDir, "ledger.db"),
		},

		Watch: WatchConfig{
			Debounce: "2s",
		},

		Execution: ExecutionConfig{
			AllowedEnvVars: []string{"PATH", "HOME", "USER", "LANG", "LC_ALL", "DISPLAY", "CASAPATH", "PYTHONPATH", "TMPDIR"},
			MaxOutputBytes: 10 * 1024 * 1024,
			AuditFile:      filepath.Join(StateDir, "audit.jsonl"),
		},

		Logging: LoggingConfig{
			Level:     "info",
			Format:    "text",
			DebugMode: false,
			Dir:       filepath.Join(StateDir, "logs"),
		},
	}
}

// DefaultPath returns the config file location for a workdir.
func DefaultPath(workdir string) string {
	return filepath.Join(workdir, StateDir, "config.yaml")
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if bin := os.Getenv("SIMSWEEP_CASA_BIN"); bin != "" {
		c.Casa.Binary = bin
	}
	if timeout := os.Getenv("SIMSWEEP_CASA_TIMEOUT"); timeout != "" {
		c.Casa.Timeout = timeout
	}
	if path := os.Getenv("SIMSWEEP_LEDGER"); path != "" {
		c.Ledger.Path = path
	}
	if level := os.Getenv("SIMSWEEP_LOG_LEVEL"); level != "" {
		c.Logging.Level = strings.ToLower(level)
	}
	if debug := os.Getenv("SIMSWEEP_DEBUG"); debug != "" {
		if on, err := strconv.ParseBool(debug); err == nil {
			c.Logging.DebugMode = on
		}
	}
}

// GetCasaTimeout returns the per-task timeout as a duration.
func (c *Config) GetCasaTimeout() time.Duration {
	d, err := time.ParseDuration(c.Casa.Timeout)
	if err != nil || d <= 0 {
		return 6 * time.Hour
	}
	return d
}

// GetWatchDebounce returns the watch debounce as a duration.
func (c *Config) GetWatchDebounce() time.Duration {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil || d < 0 {
		return 2 * time.Second
	}
	return d
}

// GetSolidAngle returns the configured conversion kernel.
func (c *Config) GetSolidAngle() units.SolidAngle {
	k, err := units.ParseSolidAngle(c.Units.SolidAngle)
	if err != nil {
		return units.SolidAngleGaussian
	}
	return k
}

// Resolve makes a config-relative path absolute against workdir.
func Resolve(workdir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workdir, path)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Casa.Binary) == "" {
		return fmt.Errorf("casa.binary is empty (set it in the config or SIMSWEEP_CASA_BIN)")
	}
	if _, err := time.ParseDuration(c.Casa.Timeout); err != nil {
		return fmt.Errorf("invalid casa.timeout %q: %w", c.Casa.Timeout, err)
	}
	if c.Sweep.MinIntegrationTime <= 0 {
		return fmt.Errorf("sweep.min_integration_time must be positive, got %g", c.Sweep.MinIntegrationTime)
	}
	if c.Clean.NIter <= 0 {
		return fmt.Errorf("clean.niter must be positive, got %d", c.Clean.NIter)
	}
	if c.Clean.ImSize <= 0 {
		return fmt.Errorf("clean.imsize must be positive, got %d", c.Clean.ImSize)
	}
	if c.Clean.CellFactor <= 0 {
		return fmt.Errorf("clean.cell_factor must be positive, got %g", c.Clean.CellFactor)
	}

	validWeighting := false
	for _, w := range ValidWeightings {
		if c.Clean.Weighting == w {
			validWeighting = true
			break
		}
	}
	if !validWeighting {
		return fmt.Errorf("invalid clean.weighting: %s (valid: %v)", c.Clean.Weighting, ValidWeightings)
	}
	if c.Clean.Weighting == "briggs" && (c.Clean.Robust < -2 || c.Clean.Robust > 2) {
		return fmt.Errorf("clean.robust must be within [-2, 2], got %g", c.Clean.Robust)
	}

	if _, err := units.ParseSolidAngle(c.Units.SolidAngle); err != nil {
		return err
	}
	if c.Output.OutputsSuffix == "" && c.Output.SimObsPrefix == "" {
		return fmt.Errorf("output.outputs_suffix and output.simobs_prefix cannot both be empty")
	}

	return nil
}
