package codec_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ozontech/rrelay/codec"
)

func testImage(w, h, ps int) codec.Image {
	pix := make([]byte, w*h*ps)
	r := rand.New(rand.NewSource(int64(w*h + ps)))
	for i := range pix {
		// smooth gradient with a little noise compresses like real content
		pix[i] = byte(i/ps%w) + byte(r.Intn(4))
	}
	return codec.Image{Pixels: pix, Width: w, Height: h, PixelSize: ps}
}

func TestLosslessRoundTrip(t *testing.T) {
	t.Parallel()

	for _, kind := range []codec.Kind{codec.KindRaw, codec.KindZstd} {
		kind := kind
		t.Run(kind.String(), func(t *testing.T) {
			t.Parallel()
			a := assert.New(t)

			c, err := codec.New(kind)
			a.NoError(err)
			a.Equal(kind, c.Kind())
			a.True(codec.Lossless(kind))

			img := testImage(64, 16, 3)
			for _, q := range []int{10, 75, 90, 100} {
				payload, err := c.Encode(nil, img, codec.Params{Quality: q, Subsampling: 1})
				a.NoError(err)
				a.NotEmpty(payload)

				decoded, err := c.Decode(payload, 64, 16, 3)
				a.NoError(err)
				a.Equal(img.Pixels, decoded)
			}

			_, err = c.Decode([]byte{1, 2, 3}, 64, 16, 3)
			a.Error(err)
		})
	}
}

func TestJPEG(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	c, err := codec.New(codec.KindJPEG)
	a.NoError(err)
	a.False(codec.Lossless(codec.KindJPEG))

	for _, ps := range []int{1, 3, 4} {
		img := testImage(32, 8, ps)
		prefix := []byte("prefix")
		payload, err := c.Encode(prefix, img, codec.Params{Quality: 95})
		a.NoError(err)
		a.Equal(prefix, payload[:len(prefix)])

		decoded, err := c.Decode(payload[len(prefix):], 32, 8, ps)
		a.NoError(err)
		a.Len(decoded, len(img.Pixels))

		_, err = c.Decode(payload[len(prefix):], 16, 8, ps)
		a.ErrorIs(err, codec.ErrGeometry)
	}
}

func TestEncodeRejectsBadGeometry(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	for _, kind := range []codec.Kind{codec.KindRaw, codec.KindJPEG, codec.KindZstd} {
		c, err := codec.New(kind)
		a.NoError(err)
		_, err = c.Encode(nil, codec.Image{Pixels: make([]byte, 10), Width: 4, Height: 4, PixelSize: 3}, codec.Params{})
		a.ErrorIs(err, codec.ErrGeometry, kind.String())
	}
}

func TestParseKind(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	k, err := codec.ParseKind("zstd")
	a.NoError(err)
	a.Equal(codec.KindZstd, k)

	_, err = codec.ParseKind("png")
	a.Error(err)
	a.Equal("kind(9)", codec.Kind(9).String())
}

func TestAppliedSubsampling(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	a.Equal(4, codec.AppliedSubsampling(codec.KindJPEG, 1))
	a.Equal(4, codec.AppliedSubsampling(codec.KindJPEG, 4))
	a.Equal(1, codec.AppliedSubsampling(codec.KindZstd, 1))
	a.Equal(2, codec.AppliedSubsampling(codec.KindRaw, 2))
}
