package orb

import (
	"image"

	"golang.org/x/image/draw"
)

// FrameFromImage packs img into the RGBA8 frame layout expected by
// Pipeline.WriteFrame: width*height pixels, four bytes each, rows top to
// bottom. Images of a different size are rescaled bilinearly.
func FrameFromImage(img image.Image, width, height int) []byte {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	src := img.Bounds()
	if src.Dx() == width && src.Dy() == height {
		draw.Draw(dst, dst.Bounds(), img, src.Min, draw.Src)
	} else {
		draw.BiLinear.Scale(dst, dst.Bounds(), img, src, draw.Src, nil)
	}
	return dst.Pix
}
