//go:build !linux && !darwin && !freebsd && !openbsd && !netbsd && !dragonfly

package mem

func lockPlatform() (ProtectionLevel, error) {
	// No mlockall equivalent wired up; enclaves still wipe on free.
	return ProtectionPartial, nil
}

func unlockPlatform() error {
	return nil
}
