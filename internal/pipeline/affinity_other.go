//go:build !linux

package pipeline

import "errors"

func pinToCore(int) error {
	return errors.New("core pinning is only supported on linux")
}
