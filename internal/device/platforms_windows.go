//go:build windows

package device

import (
	"github.com/gogpu/gputypes"

	_ "github.com/gogpu/wgpu/hal/dx12"
	_ "github.com/gogpu/wgpu/hal/gles"
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

var nativeBackends = []gputypes.Backend{gputypes.BackendDX12, gputypes.BackendVulkan, gputypes.BackendGL}
