package imgview

import (
	"sync"

	"github.com/gogpu/gputypes"
)

// DefaultSurfaceFormat is the color format of hal surface targets unless
// InitOnce chose another.
const DefaultSurfaceFormat = gputypes.TextureFormatRGBA8Unorm

var (
	initOnce      sync.Once
	surfaceFormat = DefaultSurfaceFormat
)

// InitOnce fixes the process-wide surface format. Only the first call has
// an effect; later calls, including the implicit one made by New, return
// the format chosen first. The format lives for the whole process.
func InitOnce(format gputypes.TextureFormat) gputypes.TextureFormat {
	initOnce.Do(func() {
		if format != gputypes.TextureFormatUndefined {
			surfaceFormat = format
		}
		slogger().Debug("imgview: surface format fixed", "format", surfaceFormat)
	})
	return surfaceFormat
}

// SurfaceFormat returns the process-wide surface format.
func SurfaceFormat() gputypes.TextureFormat {
	return InitOnce(gputypes.TextureFormatUndefined)
}
