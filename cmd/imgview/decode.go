package main

import (
	"fmt"
	"image"
	"image/color"
	_ "image/png"
	"os"

	_ "golang.org/x/image/tiff"
)

type grayImage struct {
	pixels        []uint16
	width, height int
}

// decodeGray16 decodes a TIFF or PNG file into row-major 16-bit samples.
// Color images are converted to luminance.
func decodeGray16(path string) (grayImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return grayImage{}, err
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return grayImage{}, fmt.Errorf("decode: %w", err)
	}
	b := img.Bounds()
	out := grayImage{pixels: make([]uint16, b.Dx()*b.Dy()), width: b.Dx(), height: b.Dy()}
	if len(out.pixels) == 0 {
		return grayImage{}, fmt.Errorf("decode %s: empty image", format)
	}

	if g, ok := img.(*image.Gray16); ok {
		for y := range b.Dy() {
			for x := range b.Dx() {
				out.pixels[y*b.Dx()+x] = g.Gray16At(b.Min.X+x, b.Min.Y+y).Y
			}
		}
		return out, nil
	}
	for y := range b.Dy() {
		for x := range b.Dx() {
			c := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
			out.pixels[y*b.Dx()+x] = c.Y
		}
	}
	return out, nil
}
