// Command imgview is a headless host for the imgview core. It decodes
// 16-bit grayscale images, shows them on the selected device, and prints
// the device list, the intensity range and a histogram summary. With
// -watch it keeps showing every image written to a directory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/gogpu/imgview"
	"github.com/gogpu/imgview/internal/raster"
)

type flags struct {
	config   string
	bins     int
	device   int
	list     bool
	software bool
	fit      bool
	zoom     int
	filter   bool
	preview  bool
	out      string
	watch    string
	logFile  string
	verbose  bool
	width    int
	height   int
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.config, "config", "", "YAML config file")
	flag.IntVar(&f.bins, "bins", 0, "histogram bin count (default from config, else 2048)")
	flag.IntVar(&f.device, "device", -1, "device index (default: preferred device)")
	flag.BoolVar(&f.list, "list-devices", false, "print the device list and exit")
	flag.BoolVar(&f.software, "software", false, "use only the software device")
	flag.BoolVar(&f.fit, "fit", false, "fit the image to the view")
	flag.IntVar(&f.zoom, "zoom", -2, "zoom preset index (default from config)")
	flag.BoolVar(&f.filter, "filter", false, "bilinear filtering")
	flag.BoolVar(&f.preview, "preview", false, "print a terminal preview of the image view")
	flag.StringVar(&f.out, "out", "", "write the rendered image view to a PNG file")
	flag.StringVar(&f.watch, "watch", "", "show every image written to this directory")
	flag.StringVar(&f.logFile, "log-file", "", "write logs to a rotated file instead of stderr")
	flag.BoolVar(&f.verbose, "v", false, "debug logging")
	flag.IntVar(&f.width, "width", 800, "image view width")
	flag.IntVar(&f.height, "height", 600, "image view height")
	flag.Parse()
	return f
}

func main() {
	f := parseFlags()
	closeLog := setupLogging(f)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, f, flag.Args())
	stop()
	_ = closeLog()
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "imgview:", err)
		os.Exit(1)
	}
}

// setupLogging installs one logger for the library and for the command's
// own messages. The returned function closes the log file, if any.
func setupLogging(f flags) (closeLog func() error) {
	var w io.Writer = os.Stderr
	closeLog = func() error { return nil }
	if f.logFile != "" {
		lj := &lumberjack.Logger{
			Filename:   f.logFile,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
		}
		w, closeLog = lj, lj.Close
	}
	level := slog.LevelInfo
	if f.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	imgview.SetLogger(logger)
	slog.SetDefault(logger)
	return closeLog
}

func loadConfig(f flags) (imgview.Config, error) {
	cfg := imgview.DefaultConfig()
	if f.config != "" {
		var err error
		if cfg, err = imgview.LoadConfig(f.config); err != nil {
			return cfg, err
		}
	}
	if f.bins != 0 {
		cfg.BinCount = f.bins
	}
	if f.software {
		cfg.SoftwareOnly = true
	}
	if f.fit {
		cfg.Fit = true
	}
	if f.zoom != -2 {
		cfg.ZoomPreset = &f.zoom
	}
	if f.filter {
		cfg.Filter = true
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, f flags, files []string) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	imageSurface := raster.NewImageSurface(f.width, f.height, cfg.ImageClearColor(), nil)
	histSurface := raster.NewImageSurface(f.width, f.height/4, cfg.HistogramColor(), nil)
	v, err := imgview.New(imageSurface, histSurface, cfg.Options()...)
	if err != nil {
		return err
	}
	defer v.Close()

	if f.device >= 0 {
		if err := v.SetCurrentDeviceIndex(f.device); err != nil {
			return err
		}
		if err := v.Sync(); err != nil {
			return err
		}
	}
	printDevices(os.Stdout, v.DeviceList(), v.CurrentDeviceIndex())
	if f.list {
		return nil
	}

	show := func(path string) error {
		img, err := decodeGray16(path)
		if err != nil {
			return err
		}
		if err := v.ShowImage(img.pixels, img.width, img.height, cfg.Filter); err != nil {
			return err
		}
		if err := v.Sync(); err != nil {
			return err
		}
		report(os.Stdout, path, v)
		if f.preview {
			printPreview(os.Stdout, imageSurface.Front())
		}
		if f.out != "" {
			if err := writePNG(f.out, imageSurface); err != nil {
				return err
			}
		}
		return nil
	}

	for _, path := range files {
		if err := show(path); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	if f.watch != "" {
		return watch(ctx, f.watch, show)
	}
	if len(files) == 0 {
		return errors.New("no input images (give files or -watch)")
	}
	return nil
}

func writePNG(path string, s *raster.ImageSurface) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(out, s.Front()); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
