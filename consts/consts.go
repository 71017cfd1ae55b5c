package consts

import "time"

const (
	HeaderLen      = 33
	AckClearToSend = 1

	DefaultStripHeight = 64
	DefaultPoolSize    = 3
	DefaultWorkers     = 1
	DefaultQuality     = 95 // high quality preset
	DefaultSubsampling = 1  // 4:4:4

	LowQuality     = 90
	LowSubsampling = 4 // 4:1:1

	MinPoolSize    = 2
	MaxPayloadSize = 64 << 20
	MaxFrameSize   = 256 << 20 // full frame in the viewer canvas, 8K RGBA fits

	RecieveBufferSize = 64 << 10
	DefaultTimeout    = 11 * time.Second
)
