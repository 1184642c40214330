package skill

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Remove deletes an installed skill by name from the install root.
func Remove(root, name string) error {
	path := filepath.Join(root, name)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return errors.Errorf("skill '%s' not found", name)
	}

	if err := os.RemoveAll(path); err != nil {
		return errors.Wrap(err, "failed to remove skill")
	}

	return nil
}
