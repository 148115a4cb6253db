package main

import (
	"fmt"
	"image"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/imgview"
)

var printer = message.NewPrinter(language.English)

func printDevices(w io.Writer, devices []string, current int) {
	header := color.New(color.FgCyan, color.Bold)
	selected := color.New(color.FgGreen, color.Bold)
	header.Fprintln(w, "Devices:")
	for i, d := range devices {
		if i == current {
			selected.Fprintf(w, "* %d  %s\n", i, d)
			continue
		}
		fmt.Fprintf(w, "  %d  %s\n", i, d)
	}
}

// peak is one histogram bin and its count.
type peak struct {
	bin   int
	count uint32
}

func topBins(counts []uint32, n int) []peak {
	peaks := make([]peak, 0, len(counts))
	for i, c := range counts {
		if c > 0 {
			peaks = append(peaks, peak{i, c})
		}
	}
	slices.SortStableFunc(peaks, func(a, b peak) int {
		switch {
		case a.count > b.count:
			return -1
		case a.count < b.count:
			return 1
		}
		return 0
	})
	return peaks[:min(n, len(peaks))]
}

func report(w io.Writer, path string, v *imgview.Viewer) {
	_, width, height := v.Image()
	color.New(color.FgCyan, color.Bold).Fprintf(w, "%s\n", path)
	printer.Fprintf(w, "  size     %d x %d (%d pixels)\n", width, height, width*height)
	if lo, hi, ok := v.Extrema(); ok {
		printer.Fprintf(w, "  range    %d .. %d\n", lo, hi)
	} else {
		fmt.Fprintln(w, "  range    pending")
	}

	ref := v.Histogram()
	defer ref.Close()
	counts := ref.Counts()
	var total uint64
	for _, c := range counts {
		total += uint64(c)
	}
	printer.Fprintf(w, "  bins     %d (%d counted)\n", len(counts), total)
	binWidth := 65536 / max(len(counts), 1)
	for _, p := range topBins(counts, 5) {
		share := float64(p.count) / float64(max(total, 1)) * 100
		printer.Fprintf(w, "  peak     bin %d [%d..%d)  %d  %.1f%%\n",
			p.bin, p.bin*binWidth, (p.bin+1)*binWidth, p.count, share)
	}
}

// ramp maps luminance to characters, dark to bright.
const ramp = " .:-=+*#%@"

// printPreview prints img scaled to the terminal, two image rows per
// character row.
func printPreview(w io.Writer, img *image.RGBA) {
	cols, rows := 80, 24
	if c, r, err := term.GetSize(int(os.Stdout.Fd())); err == nil && c > 0 && r > 0 {
		cols, rows = c, r
	}
	b := img.Bounds()
	if b.Empty() {
		return
	}
	// Keep the aspect ratio with character cells twice as tall as wide.
	cols = min(cols, b.Dx())
	rows = min(rows-1, cols*b.Dy()/b.Dx()/2)
	if rows <= 0 {
		return
	}
	var sb strings.Builder
	for r := range rows {
		for c := range cols {
			x := b.Min.X + c*b.Dx()/cols
			y := b.Min.Y + r*b.Dy()/rows
			px := img.RGBAAt(x, y)
			lum := (int(px.R)*299 + int(px.G)*587 + int(px.B)*114) / 1000
			sb.WriteByte(ramp[lum*(len(ramp)-1)/255])
		}
		sb.WriteByte('\n')
	}
	io.WriteString(w, sb.String())
}
