//go:build !linux

package radio

import (
	"errors"

	"go.uber.org/zap"
)

func newLinuxDriver(LinuxConfig, *zap.Logger) (Driver, error) {
	return nil, &Error{Kind: KindConfig, Message: "linux radio driver unavailable on this platform", Err: errors.ErrUnsupported}
}
