package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
)

// JPEG is the lossy codec. The standard encoder always uses 4:2:0 chroma
// subsampling, see AppliedSubsampling.
type JPEG struct{}

func (JPEG) Kind() Kind { return KindJPEG }

func (JPEG) Encode(dst []byte, img Image, p Params) ([]byte, error) {
	if err := img.Validate(); err != nil {
		return dst, err
	}
	src, err := toImage(img)
	if err != nil {
		return dst, err
	}

	q := p.Quality
	if q < 1 || q > 100 {
		q = jpeg.DefaultQuality
	}
	buf := bytes.NewBuffer(dst)
	if err := jpeg.Encode(buf, src, &jpeg.Options{Quality: q}); err != nil {
		return dst, fmt.Errorf("jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (JPEG) Decode(payload []byte, width, height, pixelSize int) ([]byte, error) {
	decoded, err := jpeg.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("jpeg decode: %w", err)
	}
	b := decoded.Bounds()
	if b.Dx() != width || b.Dy() != height {
		return nil, fmt.Errorf("%w: jpeg is %dx%d, header says %dx%d",
			ErrGeometry, b.Dx(), b.Dy(), width, height)
	}

	rgba := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(rgba, rgba.Bounds(), decoded, b.Min, draw.Src)
	return fromRGBA(rgba, pixelSize)
}

func toImage(img Image) (image.Image, error) {
	r := image.Rect(0, 0, img.Width, img.Height)
	switch img.PixelSize {
	case 1:
		return &image.Gray{Pix: img.Pixels, Stride: img.Width, Rect: r}, nil
	case 4:
		return &image.RGBA{Pix: img.Pixels, Stride: img.Width * 4, Rect: r}, nil
	case 3:
		rgba := image.NewRGBA(r)
		for i, j := 0, 0; i < len(img.Pixels); i, j = i+3, j+4 {
			rgba.Pix[j] = img.Pixels[i]
			rgba.Pix[j+1] = img.Pixels[i+1]
			rgba.Pix[j+2] = img.Pixels[i+2]
			rgba.Pix[j+3] = 0xff
		}
		return rgba, nil
	default:
		return nil, fmt.Errorf("%w: jpeg can't encode %d bytes per pixel", ErrGeometry, img.PixelSize)
	}
}

func fromRGBA(rgba *image.RGBA, pixelSize int) ([]byte, error) {
	switch pixelSize {
	case 4:
		return rgba.Pix, nil
	case 3:
		out := make([]byte, len(rgba.Pix)/4*3)
		for i, j := 0, 0; i < len(rgba.Pix); i, j = i+4, j+3 {
			out[j] = rgba.Pix[i]
			out[j+1] = rgba.Pix[i+1]
			out[j+2] = rgba.Pix[i+2]
		}
		return out, nil
	case 1:
		out := make([]byte, len(rgba.Pix)/4)
		for i := range out {
			// gray images decode with equal channels
			out[i] = rgba.Pix[i*4]
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: jpeg can't decode into %d bytes per pixel", ErrGeometry, pixelSize)
	}
}
