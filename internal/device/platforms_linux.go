//go:build linux

package device

import (
	"github.com/gogpu/gputypes"

	_ "github.com/gogpu/wgpu/hal/gles"
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

var nativeBackends = []gputypes.Backend{gputypes.BackendVulkan, gputypes.BackendGL}
