//go:build darwin

package device

import (
	"github.com/gogpu/gputypes"

	_ "github.com/gogpu/wgpu/hal/metal"
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

var nativeBackends = []gputypes.Backend{gputypes.BackendMetal, gputypes.BackendVulkan}
