package client

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	URL    string `yaml:"url"`
	Name   string `yaml:"name"`
	APIKey string `yaml:"api_key,omitempty"`
}

type ConfigFile struct {
	DefaultServer string                  `yaml:"default_server,omitempty"`
	Servers       map[string]ServerConfig `yaml:"servers,omitempty"`

	ServerURL string `yaml:"server_url,omitempty"`
	APIKey    string `yaml:"api_key,omitempty"`
	Timeout   int    `yaml:"timeout,omitempty"`
	JSON      bool   `yaml:"json,omitempty"`
	Plain     bool   `yaml:"plain,omitempty"`
	NoColor   bool   `yaml:"no_color,omitempty"`
}

// Config is the merged view of defaults, config file, environment and flags,
// in increasing precedence.
type Config struct {
	ServerURL string
	Server    string
	APIKey    string
	Timeout   int
	JSON      bool
	Plain     bool
	Verbose   bool
	Quiet     bool
	NoColor   bool
}

func getConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "mstress", "config.yaml")
}

// loadConfigFile returns nil without error when the file does not exist.
func loadConfigFile(configPath string) (*ConfigFile, error) {
	if configPath == "" {
		return nil, nil
	}
	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := validateConfigFile(&config); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}
	return &config, nil
}

func resolveServer(configFile *ConfigFile, alias string) (string, string) {
	if configFile == nil {
		return "", ""
	}
	if alias == "" {
		alias = configFile.DefaultServer
	}
	if alias != "" {
		if server, ok := configFile.Servers[alias]; ok {
			return server.URL, server.APIKey
		}
	}
	return configFile.ServerURL, configFile.APIKey
}

func mergeConfig(flagConfig *Config, configFile *ConfigFile, flagsSet map[string]bool, warn func(string, ...interface{})) *Config {
	result := &Config{
		ServerURL: defaultServerURL,
		Timeout:   defaultTimeout,
	}

	if configFile != nil {
		serverURL, apiKey := resolveServer(configFile, "")
		if serverURL != "" {
			result.ServerURL = serverURL
		}
		if apiKey != "" {
			result.APIKey = apiKey
		}
		if configFile.Timeout > 0 {
			result.Timeout = configFile.Timeout
		}
		result.JSON = configFile.JSON
		result.Plain = configFile.Plain
		result.NoColor = configFile.NoColor
	}

	if val := os.Getenv("MSTRESS_SERVER_URL"); val != "" {
		result.ServerURL = val
	}
	if val := os.Getenv("MSTRESS_API_KEY"); val != "" {
		result.APIKey = val
	}
	if val := os.Getenv("MSTRESS_TIMEOUT"); val != "" {
		if t, err := strconv.Atoi(val); err == nil && t > 0 {
			result.Timeout = t
		} else {
			warn("invalid MSTRESS_TIMEOUT value '%s' (must be a positive integer), ignoring", val)
		}
	}
	if os.Getenv("NO_COLOR") != "" {
		result.NoColor = true
	}

	if flagsSet["server"] && flagConfig.Server != "" {
		result.ServerURL = flagConfig.Server
		if configFile != nil {
			if server, ok := configFile.Servers[flagConfig.Server]; ok {
				result.ServerURL = server.URL
				if server.APIKey != "" {
					result.APIKey = server.APIKey
				}
			}
		}
	}
	if flagsSet["server-url"] && flagConfig.ServerURL != "" {
		result.ServerURL = flagConfig.ServerURL
	}
	if flagsSet["api-key"] && flagConfig.APIKey != "" {
		result.APIKey = flagConfig.APIKey
	}
	if flagsSet["timeout"] && flagConfig.Timeout > 0 {
		result.Timeout = flagConfig.Timeout
	}
	if flagsSet["json"] {
		result.JSON = flagConfig.JSON
	}
	if flagsSet["plain"] {
		result.Plain = flagConfig.Plain
	}
	if flagsSet["no-color"] {
		result.NoColor = flagConfig.NoColor
	}
	result.Verbose = flagConfig.Verbose
	result.Quiet = flagConfig.Quiet

	return result
}

func validateServerURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid server URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid server URL %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid server URL %q: missing host", raw)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("invalid server URL %q: query and fragment are not allowed", raw)
	}
	return nil
}

func validateConfigFile(config *ConfigFile) error {
	if config.ServerURL != "" {
		if err := validateServerURL(config.ServerURL); err != nil {
			return err
		}
	}
	for alias, server := range config.Servers {
		if err := validateServerURL(server.URL); err != nil {
			return fmt.Errorf("server %s: %w", alias, err)
		}
	}
	if config.DefaultServer != "" {
		if _, ok := config.Servers[config.DefaultServer]; !ok {
			return fmt.Errorf("default_server %q is not defined under servers", config.DefaultServer)
		}
	}
	if config.Timeout < 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", config.Timeout)
	}
	return nil
}
