//go:build !windows

package autostart

func setRunValue(name, command string) error {
	return ErrUnsupported
}

func deleteRunValue(name string) error {
	return ErrUnsupported
}
