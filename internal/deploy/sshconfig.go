package deploy

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// SSHConfig holds the connection settings parsed from an ssh_config block for
// a single host alias.
type SSHConfig struct {
	Host          string
	HostName      string
	User          string
	IdentityFile  string
	IdentityAgent string
	Port          string
}

// ParseSSHConfig reads ~/.ssh/config and returns the settings for host, or
// nil when the file or host entry does not exist.
func ParseSSHConfig(host string) (*SSHConfig, error) {
	return ParseSSHConfigFrom(host, "")
}

// ParseSSHConfigFrom parses an SSH config file for the given host. An empty
// configPath means ~/.ssh/config.
func ParseSSHConfigFrom(host, configPath string) (*SSHConfig, error) {
	// HOME takes priority over os.UserHomeDir so tests can point at a
	// scratch directory.
	homeDir := os.Getenv("HOME")
	if homeDir == "" {
		var err error
		homeDir, err = os.UserHomeDir()
		if err != nil && configPath == "" {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
	}
	if configPath == "" {
		configPath = filepath.Join(homeDir, ".ssh", "config")
	}

	file, err := os.Open(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file means no host entry; not an error.
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open SSH config: %w", err)
	}
	defer file.Close()

	return parseSSHConfigReader(host, file, homeDir)
}

// parseSSHConfigReader scans ssh_config content for the first block matching
// host. homeDir is used to expand ~ in IdentityFile and IdentityAgent values.
func parseSSHConfigReader(host string, r io.Reader, homeDir string) (*SSHConfig, error) {
	config := &SSHConfig{Host: host}
	inMatchingHost := false
	foundMatch := false

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}

		keyword := strings.ToLower(parts[0])
		value := strings.Join(parts[1:], " ")

		switch keyword {
		case "host":
			// A new Host line ends the matching block.
			if inMatchingHost {
				return config, nil
			}
			inMatchingHost = MatchHost(host, parts[1])
			if inMatchingHost {
				foundMatch = true
			}

		case "hostname":
			if inMatchingHost {
				config.HostName = value
			}

		case "user":
			if inMatchingHost {
				config.User = value
			}

		case "identityfile":
			if inMatchingHost {
				config.IdentityFile = expandHome(value, homeDir)
			}

		case "port":
			if inMatchingHost {
				config.Port = value
			}

		case "identityagent":
			if inMatchingHost {
				config.IdentityAgent = expandHome(strings.Trim(value, `"`), homeDir)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading SSH config: %w", err)
	}

	if !foundMatch {
		return nil, nil
	}

	return config, nil
}

// expandHome replaces a leading ~/ with the home directory.
func expandHome(path, homeDir string) string {
	if strings.HasPrefix(path, "~/") && homeDir != "" {
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// MatchHost checks if the target host matches the SSH config host pattern.
// TODO: support * and ? wildcard patterns.
func MatchHost(target, pattern string) bool {
	return target == pattern
}

// ResolveSSHTarget resolves connection details for target, layering
// ~/.ssh/config under any explicitly provided user and key.
// Returns: hostname, user, keyPath, identityAgent, error.
func ResolveSSHTarget(target, user, keyPath string) (string, string, string, string, error) {
	// A user@host target carries its own user.
	targetHost := target
	targetUser := user
	if strings.Contains(target, "@") {
		parts := strings.SplitN(target, "@", 2)
		targetUser = parts[0]
		targetHost = parts[1]
	}

	config, err := ParseSSHConfig(targetHost)
	if err != nil {
		return "", "", "", "", fmt.Errorf("failed to parse SSH config: %w", err)
	}

	// No config entry: use what the caller gave us.
	if config == nil {
		return targetHost, targetUser, keyPath, "", nil
	}

	finalHost := targetHost
	if config.HostName != "" {
		finalHost = config.HostName
	}

	finalUser := targetUser
	if finalUser == "" && config.User != "" {
		finalUser = config.User
	}

	finalKey := keyPath
	if finalKey == "" && config.IdentityFile != "" {
		finalKey = config.IdentityFile
	}

	return finalHost, finalUser, finalKey, config.IdentityAgent, nil
}
