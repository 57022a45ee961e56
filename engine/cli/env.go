package cli

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
)

// validateEnv rejects keys that would corrupt the child's environment block.
func validateEnv(env map[string]string) error {
	for k, v := range env {
		if k == "" {
			return fmt.Errorf("cli: env: empty key")
		}
		if strings.ContainsAny(k, "=\x00") {
			return fmt.Errorf("cli: env: invalid key %q", k)
		}
		if strings.ContainsRune(v, '\x00') {
			return fmt.Errorf("cli: env: value of %s contains null bytes", k)
		}
	}
	return nil
}

// buildEnv merges the current process environment with extra key-value
// pairs. Extra vars override inherited entries with the same key and are
// appended in key order.
func buildEnv(extra map[string]string) []string {
	base := os.Environ()
	if len(extra) == 0 {
		return base
	}
	env := make([]string, 0, len(base)+len(extra))
	for _, entry := range base {
		key, _, _ := strings.Cut(entry, "=")
		if _, ok := extra[key]; ok {
			continue
		}
		env = append(env, entry)
	}
	for _, k := range slices.Sorted(maps.Keys(extra)) {
		env = append(env, k+"="+extra[k])
	}
	return env
}
