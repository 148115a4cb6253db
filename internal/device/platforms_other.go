//go:build !linux && !darwin && !windows

package device

import "github.com/gogpu/gputypes"

// Only the software platform is available here.
var nativeBackends []gputypes.Backend
