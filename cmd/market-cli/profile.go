package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	profileEnv      = "MARKET_CLI_PROFILE"
	defaultEndpoint = "http://127.0.0.1:8545/rpc"
)

// Profile is the CLI state persisted between invocations.
type Profile struct {
	Endpoint string `yaml:"endpoint"`
	Keystore string `yaml:"keystore"`
	Token    string `yaml:"token,omitempty"`
}

func defaultProfilePath() string {
	if path := strings.TrimSpace(os.Getenv(profileEnv)); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".market-cli.yaml"
	}
	return filepath.Join(home, ".market-cli.yaml")
}

func defaultProfile() *Profile {
	keystore := filepath.Join(".market", "key.json")
	if home, err := os.UserHomeDir(); err == nil {
		keystore = filepath.Join(home, ".market", "key.json")
	}
	return &Profile{Endpoint: defaultEndpoint, Keystore: keystore}
}

// loadProfile reads path. A missing file yields the defaults.
func loadProfile(path string) (*Profile, error) {
	profile := defaultProfile()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return profile, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, profile); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if strings.TrimSpace(profile.Endpoint) == "" {
		profile.Endpoint = defaultEndpoint
	}
	return profile, nil
}

// save writes the profile readable by the owner only.
func (p *Profile) save(path string) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o600)
}
