//go:build unix

package checkpoint

import (
	"fmt"
	"os"
)

// fileMode returns the low 9 permission bits as an unpadded octal string.
func fileMode(path string) (string, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%o", info.Mode().Perm()), nil
}

// restoreMode applies an octal mode string previously captured by fileMode.
func restoreMode(path, mode string) error {
	var perm uint32
	if _, err := fmt.Sscanf(mode, "%o", &perm); err != nil {
		return fmt.Errorf("checkpoint: invalid mode %q: %w", mode, err)
	}
	return os.Chmod(path, os.FileMode(perm))
}
