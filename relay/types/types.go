package types

import "github.com/ozontech/rrelay/frameheader"

// Sink accepts one wire message: a header and the payload it describes.
type Sink interface {
	SendFrame(h frameheader.FrameHeader, payload []byte) error
}

type FrameReporter interface {
	Acquire(seq uint64) FrameState
}

type Reporter interface {
	FrameReporter
	Run() error
	Close() error
}

type FrameState interface {
	SetSize(width, height int) // геометрия кадра в пикселях
	OnStrip(payloadSize int)   // полоса ушла в сокет
	Spoiled(strips int)        // полосы, пропущенные как неизменившиеся
	IoError(err error)         // кадр не доставлен
	End()                      // кадр подтвержден, отправляет результат в отчет
}
