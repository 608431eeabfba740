package config

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// ParseBool parses a boolean option: 1, yes, on and true are true; 0, no,
// off and false are false, in any case.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "yes", "on", "true":
		return true, nil
	case "0", "no", "off", "false":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean option value: %s", s)
}

var env3Line = regexp.MustCompile(`^\s*(\w+)(?:\s+|\s*=\s*)['"]?([^'"\n]*)['"]?\s*$`)

// ParseEnv3 reads an iRODS v3 environment file. Lines are "name value" or
// "name=value" with an optionally quoted value; other lines are skipped.
func ParseEnv3(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open environment file %s: %w", path, err)
	}
	defer f.Close()

	env := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if m := env3Line.FindStringSubmatch(scanner.Text()); m != nil {
			env[m[1]] = m[2]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read environment file %s: %w", path, err)
	}
	return env, nil
}
