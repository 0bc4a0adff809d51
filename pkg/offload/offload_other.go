//go:build !linux

package offload

// EnableULP is only available on Linux.
func EnableULP(fd int) error {
	return &Error{Op: "enable ulp", Err: ErrUnsupportedPlatform}
}

func installTX(fd int, info []byte) error {
	return &Error{Op: "install tx", Err: ErrUnsupportedPlatform}
}

// Transfer is only available on Linux.
func Transfer(outFD, inFD int, offset, count int64) (int64, error) {
	return 0, &Error{Op: "sendfile", Err: ErrUnsupportedPlatform}
}

func probe() error {
	return &Error{Op: "probe", Err: ErrUnsupportedPlatform}
}
