package render

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"

	"triggeredcamera/msgs"
)

// ToImage unpacks an image message into an image.Image.
func ToImage(img msgs.Image) (image.Image, error) {
	bpp := img.PixelFormat.BytesPerPixel()
	if bpp == 0 {
		return nil, fmt.Errorf("unsupported pixel format %s", img.PixelFormat)
	}
	step := int(img.Step)
	if step == 0 {
		step = int(img.Width) * bpp
	}
	w, h := int(img.Width), int(img.Height)
	if len(img.Data) < step*h || step < w*bpp {
		return nil, fmt.Errorf("image data too short for %dx%d %s", w, h, img.PixelFormat)
	}

	if img.PixelFormat == msgs.L8 {
		gray := image.NewGray(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			copy(gray.Pix[y*gray.Stride:y*gray.Stride+w], img.Data[y*step:])
		}
		return gray, nil
	}

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		row := img.Data[y*step:]
		for x := 0; x < w; x++ {
			px := row[x*bpp:]
			c := color.RGBA{R: px[0], G: px[1], B: px[2], A: 255}
			if bpp == 4 {
				c.A = px[3]
			}
			out.SetRGBA(x, y, c)
		}
	}
	return out, nil
}

// SavePNG writes an image message to path.
func SavePNG(path string, img msgs.Image) error {
	decoded, err := ToImage(img)
	if err != nil {
		return err
	}
	return gg.SavePNG(path, decoded)
}
