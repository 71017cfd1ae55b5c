package viewer

import (
	"fmt"
	"image"

	"github.com/ozontech/rrelay/frameheader"
)

// Canvas holds the reconstructed full frame in top-down row order.
type Canvas struct {
	Pixels    []byte
	Width     int
	Height    int
	PixelSize int
}

func (c *Canvas) Pitch() int { return c.Width * c.PixelSize }

// Resize prepares the canvas for a frame of the given geometry. Content is kept
// when the geometry did not change and cleared otherwise.
func (c *Canvas) Resize(width, height, pixelSize int) bool {
	if c.Width == width && c.Height == height && c.PixelSize == pixelSize {
		return false
	}
	c.Width, c.Height, c.PixelSize = width, height, pixelSize

	n := width * height * pixelSize
	if cap(c.Pixels) < n {
		c.Pixels = make([]byte, n)
		return true
	}
	c.Pixels = c.Pixels[:n]
	clear(c.Pixels)
	return true
}

// Blit copies a decoded rectangle described by h into the canvas. Rows of a
// bottom-up rectangle are flipped.
func (c *Canvas) Blit(h frameheader.FrameHeader, pixels []byte) error {
	x, y, w, rows := h.X(), h.Y(), h.Width(), h.Height()
	if x < 0 || y < 0 || x+w > c.Width || y+rows > c.Height {
		return fmt.Errorf("rectangle %s outside of %dx%d canvas", h, c.Width, c.Height)
	}
	rowLen := w * c.PixelSize
	if len(pixels) != rowLen*rows {
		return fmt.Errorf("rectangle %s: %d bytes of pixels, want %d", h, len(pixels), rowLen*rows)
	}

	bottomUp := h.Flags().Has(frameheader.FlagBottomUp)
	pitch := c.Pitch()
	for r := 0; r < rows; r++ {
		dy := y + r
		if bottomUp {
			dy = y + rows - 1 - r
		}
		off := dy*pitch + x*c.PixelSize
		copy(c.Pixels[off:off+rowLen], pixels[r*rowLen:(r+1)*rowLen])
	}
	return nil
}

// Image returns a copy of the canvas as an image for snapshots.
func (c *Canvas) Image() (image.Image, error) {
	r := image.Rect(0, 0, c.Width, c.Height)
	switch c.PixelSize {
	case 1:
		img := image.NewGray(r)
		copy(img.Pix, c.Pixels)
		return img, nil
	case 3:
		img := image.NewRGBA(r)
		for i, j := 0, 0; i < len(c.Pixels); i, j = i+3, j+4 {
			img.Pix[j] = c.Pixels[i]
			img.Pix[j+1] = c.Pixels[i+1]
			img.Pix[j+2] = c.Pixels[i+2]
			img.Pix[j+3] = 0xff
		}
		return img, nil
	case 4:
		img := image.NewRGBA(r)
		copy(img.Pix, c.Pixels)
		return img, nil
	default:
		return nil, fmt.Errorf("no image layout for %d bytes per pixel", c.PixelSize)
	}
}
