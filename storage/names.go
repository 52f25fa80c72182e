package storage

import (
	"fmt"
	"strings"
)

// validateName rejects names that could escape the backend's namespace.
func validateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("invalid blob name %q", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("invalid blob name %q: path separators are not allowed", name)
	}
	return nil
}
