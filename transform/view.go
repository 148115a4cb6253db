// Package transform computes the vertex and fragment transforms used to draw
// an image into a view with fit-to-view, preset or custom zoom, and pan.
//
// Two matrices are produced for each draw. The projection-model-view matrix
// (PMV) positions the unit quad in normalized device coordinates. The
// fragment-to-texture matrix maps a window-space fragment coordinate
// (origin bottom-left, pixel centers at +0.5) to normalized texture
// coordinates; its third row carries the zoom factor, so the consumer must
// divide by the third component (see Mat3.Apply).
package transform

import (
	"math"

	"github.com/gogpu/imgview/internal/status"
)

// ZoomPresets are the selectable zoom factors, largest first.
var ZoomPresets = [...]float64{10, 5, 2, 1.5, 1, .75, .5, .25, .1}

const (
	// DefaultZoomIndex selects 100% zoom.
	DefaultZoomIndex = 4
	// CustomZoomIndex selects View.CustomZoom instead of a preset.
	CustomZoomIndex = -1

	// MinCustomZoom and MaxCustomZoom bound View.CustomZoom.
	MinCustomZoom = 0.01
	MaxCustomZoom = 10000
)

// View describes one image draw.
type View struct {
	ImageWidth, ImageHeight int
	ViewWidth, ViewHeight   int

	// Fit scales the image to fill the view while keeping its aspect ratio.
	// When set, ZoomIndex, CustomZoom and Pan are ignored.
	Fit bool

	// ZoomIndex indexes ZoomPresets, or is CustomZoomIndex.
	ZoomIndex  int
	CustomZoom float64

	// PanX and PanY offset the image in view pixels. PanY is y-up.
	PanX, PanY float64
}

// DefaultView returns a 100% zoom, unpanned view of the given sizes.
func DefaultView(imageW, imageH, viewW, viewH int) View {
	return View{
		ImageWidth:  imageW,
		ImageHeight: imageH,
		ViewWidth:   viewW,
		ViewHeight:  viewH,
		ZoomIndex:   DefaultZoomIndex,
		CustomZoom:  1,
	}
}

// Result holds the matrices for one draw.
type Result struct {
	PMV       Mat4
	FragToTex Mat3
	// Zoom is the effective zoom factor, also in fit mode.
	Zoom float64
}

// ZoomFactor resolves a preset index or the custom zoom to a factor.
func ZoomFactor(index int, custom float64) (float64, error) {
	if index == CustomZoomIndex {
		if !(custom >= MinCustomZoom && custom <= MaxCustomZoom) {
			return 0, status.Newf(status.KindInvalidArgument, "transform.ZoomFactor",
				"custom zoom %g outside [%g, %g]", custom, float64(MinCustomZoom), float64(MaxCustomZoom))
		}
		return custom, nil
	}
	if index < 0 || index >= len(ZoomPresets) {
		return 0, status.Newf(status.KindInvalidArgument, "transform.ZoomFactor",
			"zoom index %d outside [0, %d)", index, len(ZoomPresets))
	}
	return ZoomPresets[index], nil
}

// Compute returns the PMV and fragment-to-texture matrices for v.
func Compute(v View) (Result, error) {
	if v.ImageWidth <= 0 || v.ImageHeight <= 0 {
		return Result{}, status.Newf(status.KindInvalidArgument, "transform.Compute",
			"image size %dx%d", v.ImageWidth, v.ImageHeight)
	}
	if v.ViewWidth <= 0 || v.ViewHeight <= 0 {
		return Result{}, status.Newf(status.KindInvalidArgument, "transform.Compute",
			"view size %dx%d", v.ViewWidth, v.ViewHeight)
	}

	imgW, imgH := float64(v.ImageWidth), float64(v.ImageHeight)
	viewW, viewH := float64(v.ViewWidth), float64(v.ViewHeight)
	correction := (imgW / imgH) / (viewW / viewH)

	var res Result
	if v.Fit {
		res = fit(imgW, imgH, viewW, viewH, correction)
	} else {
		zoom, err := ZoomFactor(v.ZoomIndex, v.CustomZoom)
		if err != nil {
			return Result{}, err
		}
		res = manual(imgW, imgH, viewW, viewH, correction, zoom, v.PanX, v.PanY)
	}
	res.FragToTex = Diag3(1/imgW, 1/imgH, 1).Mul(res.FragToTex)
	return res, nil
}

func fit(imgW, imgH, viewW, viewH, correction float64) Result {
	var r Result
	var tex Mat3
	if correction <= 1 {
		r.PMV = Identity4().Mul(Scale4(correction, 1, 1))
		r.Zoom = viewH / imgH
		tex = Translate3(-(viewW-r.Zoom*imgW)/2, 0)
	} else {
		r.PMV = Identity4().Mul(Scale4(1, 1/correction, 1))
		r.Zoom = viewW / imgW
		tex = Translate3(0, -(viewH-r.Zoom*imgH)/2)
	}
	r.FragToTex = Diag3(1, 1, r.Zoom).Mul(tex)
	return r
}

func manual(imgW, imgH, viewW, viewH, correction, zoom, panX, panY float64) Result {
	sizeRatio := imgH / viewH * zoom
	panNX := panX / viewW * 2
	panNY := panY / viewH * 2

	pmv := Identity4().Mul(Scale4(correction, 1, 1))
	// Vertical pan is y-up while fragment rows run y-down, hence no negation.
	pmv = pmv.Mul(Translate4(-(panNX / correction), panNY, 0))
	pmv = pmv.Mul(Scale4(sizeRatio, sizeRatio, 1))

	offset := func(img, view, pan float64) float64 {
		if img > view {
			return -(view-img)/2 + pan
		}
		return -(view - img) / 2
	}

	var tx, ty float64
	var tex Mat3
	switch {
	case zoom == 1:
		// Screen and texture pixels line up exactly at 100%.
		tx = math.Floor(offset(imgW, viewW, panX))
		ty = math.Floor(offset(imgH, viewH, -panY))
		tex = Translate3(tx, ty)
	case zoom < 1:
		// Flooring keeps zoomed-out detail from crawling while the view resizes.
		zw, zh := imgW*zoom, imgH*zoom
		tx = math.Floor(offset(zw, viewW, panX))
		ty = math.Floor(offset(zh, viewH, -panY))
		tex = Diag3(1, 1, zoom).Mul(Translate3(tx, ty))
	default:
		zw, zh := imgW*zoom, imgH*zoom
		tx = offset(zw, viewW, panX)
		ty = offset(zh, viewH, -panY)
		tex = Diag3(1, 1, zoom).Mul(Translate3(tx, ty))
	}
	return Result{PMV: pmv, FragToTex: tex, Zoom: zoom}
}
