package codec

import "fmt"

type Raw struct{}

func (Raw) Kind() Kind { return KindRaw }

func (Raw) Encode(dst []byte, img Image, _ Params) ([]byte, error) {
	if err := img.Validate(); err != nil {
		return dst, err
	}
	return append(dst, img.Pixels...), nil
}

func (Raw) Decode(payload []byte, width, height, pixelSize int) ([]byte, error) {
	if len(payload) != width*height*pixelSize {
		return nil, fmt.Errorf("%w: raw payload %d bytes for %dx%d*%d",
			ErrGeometry, len(payload), width, height, pixelSize)
	}
	return payload, nil
}
