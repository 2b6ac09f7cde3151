package thumbnail

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"image/png"
	"path/filepath"

	"github.com/spf13/afero"
	xdraw "golang.org/x/image/draw"

	_ "image/jpeg"
)

// Deriver renders the display files of a pack from the raw provider images.
type Deriver interface {
	Static(src, dst string) error
	Animated(src, dst string) error
	Tab(src, dst string) error
}

type Config struct {
	Size    int
	TabSize int
}

// ImageDeriver scales images in process. Animated output keeps every frame of
// GIF sources, APNG sources only contribute their default image.
type ImageDeriver struct {
	fs     afero.Fs
	config Config
}

func NewImageDeriver(fs afero.Fs, config Config) *ImageDeriver {
	if config.Size <= 0 {
		config.Size = 256
	}
	if config.TabSize <= 0 {
		config.TabSize = 96
	}
	return &ImageDeriver{fs: fs, config: config}
}

func (v *ImageDeriver) Static(src, dst string) error {
	return v.still(src, dst, v.config.Size)
}

func (v *ImageDeriver) Tab(src, dst string) error {
	return v.still(src, dst, v.config.TabSize)
}

func (v *ImageDeriver) still(src, dst string, size int) error {
	raw, err := afero.ReadFile(v.fs, src)
	if err != nil {
		return fmt.Errorf("unable to read %s: %v", src, err)
	}
	im, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("unable to decode %s as an image: %v", src, err)
	}

	var out bytes.Buffer
	if err := png.Encode(&out, scale(im, size)); err != nil {
		return fmt.Errorf("unable to encode thumbnail: %v", err)
	}
	return v.write(dst, out.Bytes())
}

func (v *ImageDeriver) Animated(src, dst string) error {
	raw, err := afero.ReadFile(v.fs, src)
	if err != nil {
		return fmt.Errorf("unable to read %s: %v", src, err)
	}

	var anim *gif.GIF
	if decoded, err := gif.DecodeAll(bytes.NewReader(raw)); err == nil {
		anim = scaleGIF(decoded, v.config.Size)
	} else {
		im, _, err := image.Decode(bytes.NewReader(raw))
		if err != nil {
			return fmt.Errorf("unable to decode %s as an image: %v", src, err)
		}
		anim = &gif.GIF{
			Image: []*image.Paletted{quantize(scale(im, v.config.Size))},
			Delay: []int{0},
		}
	}

	var out bytes.Buffer
	if err := gif.EncodeAll(&out, anim); err != nil {
		return fmt.Errorf("unable to encode animated thumbnail: %v", err)
	}
	return v.write(dst, out.Bytes())
}

func (v *ImageDeriver) write(dst string, data []byte) error {
	if err := v.fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("unable to create %s: %v", filepath.Dir(dst), err)
	}
	if err := afero.WriteFile(v.fs, dst, data, 0644); err != nil {
		return fmt.Errorf("unable to write %s: %v", dst, err)
	}
	return nil
}

// Fit returns the bounds of an image scaled down to fit in a limit x limit box.
// Images already inside the box keep their size.
func Fit(bounds image.Rectangle, limit int) image.Rectangle {
	w, h := bounds.Dx(), bounds.Dy()
	if limit <= 0 || (w <= limit && h <= limit) {
		return image.Rect(0, 0, w, h)
	}
	if w >= h {
		return image.Rect(0, 0, limit, max(1, h*limit/w))
	}
	return image.Rect(0, 0, max(1, w*limit/h), limit)
}

func scale(im image.Image, limit int) *image.RGBA {
	rect := Fit(im.Bounds(), limit)
	out := image.NewRGBA(rect)
	xdraw.CatmullRom.Scale(out, rect, im, im.Bounds(), xdraw.Over, nil)
	return out
}

var gifPalette = append(color.Palette{color.Transparent}, palette.WebSafe...)

func quantize(im image.Image) *image.Paletted {
	out := image.NewPaletted(im.Bounds(), gifPalette)
	xdraw.FloydSteinberg.Draw(out, im.Bounds(), im, image.Point{})
	return out
}

// scaleGIF composes every frame on a full canvas before scaling,
// frames in a GIF may only cover part of the logical screen.
func scaleGIF(in *gif.GIF, limit int) *gif.GIF {
	canvasRect := image.Rect(0, 0, in.Config.Width, in.Config.Height)
	if canvasRect.Empty() && len(in.Image) > 0 {
		canvasRect = in.Image[0].Bounds()
	}
	canvas := image.NewRGBA(canvasRect)

	out := &gif.GIF{
		LoopCount: in.LoopCount,
		Delay:     make([]int, 0, len(in.Image)),
		Image:     make([]*image.Paletted, 0, len(in.Image)),
	}
	for idx, frame := range in.Image {
		xdraw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, xdraw.Over)
		out.Image = append(out.Image, quantize(scale(canvas, limit)))
		out.Delay = append(out.Delay, in.Delay[idx])

		if idx < len(in.Disposal) && in.Disposal[idx] == gif.DisposalBackground {
			xdraw.Draw(canvas, frame.Bounds(), image.Transparent, image.Point{}, xdraw.Src)
		}
	}
	return out
}
