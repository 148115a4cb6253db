package imgview

import (
	"fmt"
	"os"

	"github.com/gogpu/gputypes"
	"gopkg.in/yaml.v3"

	"github.com/gogpu/imgview/internal/compute"
	"github.com/gogpu/imgview/internal/status"
	"github.com/gogpu/imgview/transform"
)

// Config is the file form of the viewer options.
//
//	bin_count: 1024
//	clear_color: [0.1, 0.1, 0.1, 1]
//	histogram_clear_color: [0, 0, 0, 1]
//	filter: true
//	fit: false
//	zoom_preset: 4
//	shader_dir: ./shaders
//	software_only: false
//	workers: 0
type Config struct {
	BinCount            int       `yaml:"bin_count"`
	ClearColor          []float64 `yaml:"clear_color"`
	HistogramClearColor []float64 `yaml:"histogram_clear_color"`
	Filter              bool      `yaml:"filter"`
	Fit                 bool      `yaml:"fit"`
	ZoomPreset          *int      `yaml:"zoom_preset"`
	CustomZoom          float64   `yaml:"custom_zoom"`
	ShaderDir           string    `yaml:"shader_dir"`
	SoftwareOnly        bool      `yaml:"software_only"`
	Workers             int       `yaml:"workers"`
}

// DefaultConfig returns the configuration matching the default options.
func DefaultConfig() Config {
	zoom := transform.DefaultZoomIndex
	return Config{
		BinCount:            compute.DefaultBinCount,
		ClearColor:          []float64{0, 0, 0, 1},
		HistogramClearColor: []float64{0, 0, 0, 1},
		ZoomPreset:          &zoom,
		CustomZoom:          1,
	}
}

// LoadConfig reads a YAML config file. Fields missing from the file keep
// their DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("imgview: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes and validates a YAML config.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, status.Wrap(status.KindInvalidArgument, "imgview.ParseConfig", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and color lengths.
func (c Config) Validate() error {
	const op = "imgview.Config"
	if c.BinCount < compute.MinBinCount || c.BinCount > compute.MaxBinCount {
		return status.Newf(status.KindInvalidArgument, op, "bin_count %d outside [%d, %d]",
			c.BinCount, compute.MinBinCount, compute.MaxBinCount)
	}
	for name, col := range map[string][]float64{"clear_color": c.ClearColor, "histogram_clear_color": c.HistogramClearColor} {
		if len(col) != 3 && len(col) != 4 {
			return status.Newf(status.KindInvalidArgument, op, "%s needs 3 or 4 components, got %d", name, len(col))
		}
	}
	return validateView(c.view())
}

func (c Config) view() transform.View {
	v := transform.DefaultView(0, 0, 0, 0)
	v.Fit = c.Fit
	v.CustomZoom = c.CustomZoom
	if c.ZoomPreset != nil {
		v.ZoomIndex = *c.ZoomPreset
	}
	return v
}

// ImageClearColor returns the image view background.
func (c Config) ImageClearColor() gputypes.Color { return toColor(c.ClearColor) }

// HistogramColor returns the histogram view background.
func (c Config) HistogramColor() gputypes.Color { return toColor(c.HistogramClearColor) }

func toColor(v []float64) gputypes.Color {
	col := gputypes.Color{A: 1}
	if len(v) >= 3 {
		col.R, col.G, col.B = v[0], v[1], v[2]
	}
	if len(v) == 4 {
		col.A = v[3]
	}
	return col
}

// Options converts c to viewer options.
func (c Config) Options() []Option {
	opts := []Option{
		WithBinCount(c.BinCount),
		WithShaderDir(c.ShaderDir),
		WithWorkers(c.Workers),
		WithViewParams(paramsOf(c.view())),
		WithClearColors(c.ImageClearColor(), c.HistogramColor()),
	}
	if c.SoftwareOnly {
		opts = append(opts, WithSoftwareOnly())
	}
	return opts
}
