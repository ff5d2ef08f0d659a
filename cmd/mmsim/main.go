package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"time"

	json5 "github.com/KevinWang15/go-json5"

	"github.com/rjboer/GoMSim/internal/logging"
	"github.com/rjboer/GoMSim/internal/telescope"
)

func main() {
	configPath := envString(os.LookupEnv, "MMSIM_CONFIG", "mmsim.json5")

	persistentCfg, err := loadOrCreateConfig(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	cfg, err := parseConfig(os.Args[1:], os.LookupEnv, persistentCfg)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("parse config: %v", err)
	}
	if err := saveConfig(configPath, cfg.persistentConfig); err != nil {
		log.Fatalf("save config: %v", err)
	}

	logger := logging.New(cfg.level, cfg.format, os.Stderr)
	logging.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		log.Fatalf("run: %v", err)
	}
}

const (
	modeSingle = "single"
	modeMap    = "map"
)

// persistentConfig is the on-disk configuration. The file may be JSON5.
type persistentConfig struct {
	Workers   int    `json:"workers"`
	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
	Mode      string `json:"mode"`

	Telescope telescope.Config `json:"telescope"`

	Ell           *int     `json:"ell,omitempty"`
	M             *int     `json:"m,omitempty"`
	Kperp         *float64 `json:"kperp,omitempty"`
	Kpar          *float64 `json:"kpar,omitempty"`
	KparAsKfMult  bool     `json:"kpar_as_kf_multiple"`
	UnitAmplitude bool     `json:"unit_amplitude"`

	MapDir    string `json:"map_dir"`
	MapName   string `json:"map_name"`
	MapNTheta int    `json:"map_ntheta"`
	MapNPhi   int    `json:"map_nphi"`
	MapSeed   uint64 `json:"map_seed"`

	Stacked    bool `json:"stacked"`
	Expand     bool `json:"expand"`
	TimeStream bool `json:"timestream"`
	Days       bool `json:"sidereal_days"`

	Start           string  `json:"start"`
	End             string  `json:"end"`
	IntegrationTime float64 `json:"integration_time"`
	FrameExp        int     `json:"frame_exp"`
	SamplesPerFile  int     `json:"samples_per_file"`

	OutDir       string `json:"out_dir"`
	Plot         bool   `json:"plot"`
	MetricsAddr  string `json:"metrics_addr"`
	HistoryLimit int    `json:"history_limit"`
}

// cliConfig is the validated configuration of one run.
type cliConfig struct {
	persistentConfig

	level  logging.Level
	format logging.Format
	start  time.Time
	end    time.Time
}

func parseConfig(args []string, lookup func(string) (string, bool), defaults persistentConfig) (cliConfig, error) {
	cfg := cliConfig{}
	p := &cfg.persistentConfig
	tel := &p.Telescope
	fs := flag.NewFlagSet("mmsim", flag.ContinueOnError)
	fs.IntVar(&p.Workers, "workers", envInt(lookup, "MMSIM_WORKERS", defaults.Workers), "Number of workers in the group")
	fs.StringVar(&p.LogLevel, "log-level", envString(lookup, "MMSIM_LOG_LEVEL", defaults.LogLevel), "Log level (debug|info|warn|error)")
	fs.StringVar(&p.LogFormat, "log-format", envString(lookup, "MMSIM_LOG_FORMAT", defaults.LogFormat), "Log format (text|json)")
	fs.StringVar(&p.Mode, "mode", envString(lookup, "MMSIM_MODE", defaults.Mode), "Sky input (single|map)")

	fs.IntVar(&tel.Feeds, "feeds", envInt(lookup, "MMSIM_FEEDS", defaults.Telescope.Feeds), "Number of feeds")
	fs.Float64Var(&tel.Spacing, "spacing", envFloat(lookup, "MMSIM_SPACING", defaults.Telescope.Spacing), "Feed spacing in metres")
	fs.Float64Var(&tel.FreqStart, "freq-start", envFloat(lookup, "MMSIM_FREQ_START", defaults.Telescope.FreqStart), "First channel centre in MHz")
	fs.Float64Var(&tel.FreqEnd, "freq-end", envFloat(lookup, "MMSIM_FREQ_END", defaults.Telescope.FreqEnd), "Last channel centre in MHz")
	fs.IntVar(&tel.Channels, "channels", envInt(lookup, "MMSIM_CHANNELS", defaults.Telescope.Channels), "Number of frequency channels")
	fs.IntVar(&tel.LMax, "lmax", envInt(lookup, "MMSIM_LMAX", defaults.Telescope.LMax), "Maximum harmonic degree")
	fs.IntVar(&tel.MMax, "mmax", envInt(lookup, "MMSIM_MMAX", defaults.Telescope.MMax), "Maximum harmonic order")
	fs.IntVar(&tel.NumPol, "npol", envInt(lookup, "MMSIM_NPOL", defaults.Telescope.NumPol), "Sky polarisations")
	fs.BoolVar(&tel.Redundant, "redundant", envBool(lookup, "MMSIM_REDUNDANT", defaults.Telescope.Redundant), "Collate redundant baselines")
	fs.Float64Var(&tel.Longitude, "longitude", envFloat(lookup, "MMSIM_LONGITUDE", defaults.Telescope.Longitude), "Site longitude in degrees east")
	tel.Masked = defaults.Telescope.Masked
	tel.Epoch = defaults.Telescope.Epoch

	p.Ell = envOptInt(lookup, "MMSIM_ELL", defaults.Ell)
	p.M = envOptInt(lookup, "MMSIM_M", defaults.M)
	p.Kperp = envOptFloat(lookup, "MMSIM_KPERP", defaults.Kperp)
	p.Kpar = envOptFloat(lookup, "MMSIM_KPAR", defaults.Kpar)
	fs.Var(optInt{&p.Ell}, "ell", "Single harmonic degree")
	fs.Var(optInt{&p.M}, "m", "Single harmonic order (all orders when unset)")
	fs.Var(optFloat{&p.Kperp}, "kperp", "Transverse wavenumber in h/Mpc, overrides -ell")
	fs.Var(optFloat{&p.Kpar}, "kpar", "Radial wavenumber in h/Mpc")
	fs.BoolVar(&p.KparAsKfMult, "kpar-kf", envBool(lookup, "MMSIM_KPAR_KF", defaults.KparAsKfMult), "Interpret -kpar as a multiple of the fundamental mode")
	fs.BoolVar(&p.UnitAmplitude, "unit-amplitude", envBool(lookup, "MMSIM_UNIT_AMPLITUDE", defaults.UnitAmplitude), "Normalise the radial mode to unit amplitude")

	fs.StringVar(&p.MapDir, "map-dir", envString(lookup, "MMSIM_MAP_DIR", defaults.MapDir), "Directory of a stored sky map")
	fs.StringVar(&p.MapName, "map-name", envString(lookup, "MMSIM_MAP_NAME", defaults.MapName), "Name of a stored sky map; a synthetic sky is used when empty")
	fs.IntVar(&p.MapNTheta, "map-ntheta", envInt(lookup, "MMSIM_MAP_NTHETA", defaults.MapNTheta), "Synthetic sky rings (0 for lmax+1)")
	fs.IntVar(&p.MapNPhi, "map-nphi", envInt(lookup, "MMSIM_MAP_NPHI", defaults.MapNPhi), "Synthetic sky pixels per ring (0 for 2*lmax+2)")
	fs.Func("map-seed", "Synthetic sky seed", uintSetter(&p.MapSeed))
	p.MapSeed = envUint(lookup, "MMSIM_MAP_SEED", defaults.MapSeed)

	fs.BoolVar(&p.Stacked, "stacked", envBool(lookup, "MMSIM_STACKED", defaults.Stacked), "Emit stacked product maps")
	fs.BoolVar(&p.Expand, "expand", envBool(lookup, "MMSIM_EXPAND", defaults.Expand), "Expand to the full product triangle")
	fs.BoolVar(&p.TimeStream, "timestream", envBool(lookup, "MMSIM_TIMESTREAM", defaults.TimeStream), "Resample onto UTC time chunks")
	fs.BoolVar(&p.Days, "sidereal-days", envBool(lookup, "MMSIM_SIDEREAL_DAYS", defaults.Days), "Emit one copy per sidereal day")

	fs.StringVar(&p.Start, "start", envString(lookup, "MMSIM_START", defaults.Start), "Start time (RFC 3339)")
	fs.StringVar(&p.End, "end", envString(lookup, "MMSIM_END", defaults.End), "End time (RFC 3339)")
	fs.Float64Var(&p.IntegrationTime, "int-time", envFloat(lookup, "MMSIM_INT_TIME", defaults.IntegrationTime), "Integration time in seconds (0 uses -frame-exp)")
	fs.IntVar(&p.FrameExp, "frame-exp", envInt(lookup, "MMSIM_FRAME_EXP", defaults.FrameExp), "Integration of 2^n correlator frames")
	fs.IntVar(&p.SamplesPerFile, "samples-per-file", envInt(lookup, "MMSIM_SAMPLES_PER_FILE", defaults.SamplesPerFile), "Samples per time stream chunk")

	fs.StringVar(&p.OutDir, "out", envString(lookup, "MMSIM_OUT", defaults.OutDir), "Output directory")
	fs.BoolVar(&p.Plot, "plot", envBool(lookup, "MMSIM_PLOT", defaults.Plot), "Write a quick-look PNG of the first baseline")
	fs.StringVar(&p.MetricsAddr, "metrics-addr", envString(lookup, "MMSIM_METRICS_ADDR", defaults.MetricsAddr), "Optional metrics and telemetry listen address (e.g. :9090)")
	fs.IntVar(&p.HistoryLimit, "history-limit", envInt(lookup, "MMSIM_HISTORY_LIMIT", defaults.HistoryLimit), "Progress events kept in telemetry history")

	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}
	if err := cfg.validate(); err != nil {
		return cliConfig{}, err
	}
	return cfg, nil
}

func (c *cliConfig) validate() error {
	var err error
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.level, err = logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.format, err = logging.ParseFormat(c.LogFormat); err != nil {
		return err
	}
	switch c.Mode {
	case modeSingle:
		if c.Ell == nil && c.Kperp == nil {
			return fmt.Errorf("single mode needs -ell or -kperp")
		}
	case modeMap:
		if c.MapName != "" && c.MapDir == "" {
			return fmt.Errorf("-map-name needs -map-dir")
		}
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.OutDir == "" {
		return fmt.Errorf("output directory must be set")
	}
	if !c.TimeStream && !c.Days {
		return nil
	}
	if c.start, err = time.Parse(time.RFC3339, c.Start); err != nil {
		return fmt.Errorf("start time: %w", err)
	}
	if c.end, err = time.Parse(time.RFC3339, c.End); err != nil {
		return fmt.Errorf("end time: %w", err)
	}
	if c.end.Before(c.start) {
		return fmt.Errorf("end time %s precedes start time %s", c.End, c.Start)
	}
	return nil
}

func loadOrCreateConfig(path string) (persistentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := defaultPersistentConfig()
			if saveErr := saveConfig(path, cfg); saveErr != nil {
				return persistentConfig{}, saveErr
			}
			return cfg, nil
		}
		return persistentConfig{}, err
	}

	cfg := defaultPersistentConfig()
	if err := decodeJSON5(data, &cfg); err != nil {
		return persistentConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// decodeJSON5 parses data as JSON5 into a generic tree and decodes that with
// encoding/json, which fills pointer fields and json.Unmarshaler values the
// JSON5 decoder rejects.
func decodeJSON5(data []byte, v any) error {
	var tree any
	if err := json5.Unmarshal(data, &tree); err != nil {
		return err
	}
	plain, err := json.Marshal(tree)
	if err != nil {
		return err
	}
	return json.Unmarshal(plain, v)
}

func saveConfig(path string, cfg persistentConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func defaultPersistentConfig() persistentConfig {
	return persistentConfig{
		Workers:   4,
		LogLevel:  "info",
		LogFormat: "text",
		Mode:      modeSingle,
		Telescope: telescope.Config{
			Feeds:     8,
			Spacing:   10,
			FreqStart: 800,
			FreqEnd:   700,
			Channels:  16,
			LMax:      30,
			MMax:      30,
			NumPol:    1,
			Longitude: -119.6,
		},
		Ell:            intPtr(10),
		KparAsKfMult:   true,
		UnitAmplitude:  true,
		Stacked:        true,
		Start:          "2014-01-01T00:00:00Z",
		End:            "2014-01-01T01:00:00Z",
		FrameExp:       23,
		SamplesPerFile: 1024,
		OutDir:         "out",
		HistoryLimit:   500,
	}
}

func intPtr(v int) *int { return &v }

func envFloat(lookup func(string) (string, bool), key string, def float64) float64 {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envInt(lookup func(string) (string, bool), key string, def int) int {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envUint(lookup func(string) (string, bool), key string, def uint64) uint64 {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseUint(val, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envBool(lookup func(string) (string, bool), key string, def bool) bool {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return def
}

func envString(lookup func(string) (string, bool), key, def string) string {
	if val, ok := lookup(key); ok {
		return val
	}
	return def
}

func envOptInt(lookup func(string) (string, bool), key string, def *int) *int {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return &parsed
		}
	}
	return def
}

func envOptFloat(lookup func(string) (string, bool), key string, def *float64) *float64 {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return &parsed
		}
	}
	return def
}

func uintSetter(dst *uint64) func(string) error {
	return func(s string) error {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return err
		}
		*dst = v
		return nil
	}
}

// optInt is a flag whose absence leaves the target nil.
type optInt struct{ p **int }

func (o optInt) String() string {
	if o.p == nil || *o.p == nil {
		return ""
	}
	return strconv.Itoa(**o.p)
}

func (o optInt) Set(s string) error {
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*o.p = &v
	return nil
}

// optFloat is a flag whose absence leaves the target nil.
type optFloat struct{ p **float64 }

func (o optFloat) String() string {
	if o.p == nil || *o.p == nil {
		return ""
	}
	return strconv.FormatFloat(**o.p, 'g', -1, 64)
}

func (o optFloat) Set(s string) error {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*o.p = &v
	return nil
}
