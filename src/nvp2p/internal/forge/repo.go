package forge

import (
	"fmt"
	"strings"
)

// ParseRepo parses an "owner/name" repository reference.
func ParseRepo(s string) (Repo, error) {
	parts := strings.Split(strings.TrimSuffix(strings.TrimSpace(s), "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Repo{}, fmt.Errorf("invalid repository reference %q, want owner/name", s)
	}
	return Repo{Owner: parts[0], Name: strings.TrimSuffix(parts[1], ".git")}, nil
}
