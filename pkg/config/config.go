package config

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Config holds process-wide configuration for the video analysis server,
// loaded from a flat .env-style file: key=value lines, URL-unescaped
// values, validated once after the whole file is scanned.
type Config struct {
	Server ServerConfig
}

// ServerConfig bundles the defaults a fresh server process needs before
// any track is subscribed: the default RTSP source, the default analyzer
// model/task, and the transport's signaling/ICE policy.
type ServerConfig struct {
	DefaultSourceURI  string
	DefaultModelID    string
	DefaultModelPath  string
	DefaultTask       string
	SignalingPort     int
	BindAddress       string
	ICEPortMin        int
	ICEPortMax        int
	IdleReapSeconds   int
}

// Load reads configuration from a .env file.
func Load(envPath string) (*Config, error) {
	file, err := os.Open(envPath)
	if err != nil {
		return nil, fmt.Errorf("open env file: %w", err)
	}
	defer file.Close()

	cfg := &Config{Server: defaultServerConfig()}
	scanner := bufio.NewScanner(file)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse key=value
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// URL decode values that might be encoded
		decodedValue, err := url.QueryUnescape(value)
		if err != nil {
			// If decode fails, use original value
			decodedValue = value
		}

		switch key {
		case "default_source_uri":
			cfg.Server.DefaultSourceURI = decodedValue
		case "default_model_id":
			cfg.Server.DefaultModelID = decodedValue
		case "default_model_path":
			cfg.Server.DefaultModelPath = decodedValue
		case "default_task":
			cfg.Server.DefaultTask = decodedValue
		case "bind_address":
			cfg.Server.BindAddress = decodedValue
		case "signaling_port":
			if n, err := strconv.Atoi(decodedValue); err == nil {
				cfg.Server.SignalingPort = n
			}
		case "ice_port_min":
			if n, err := strconv.Atoi(decodedValue); err == nil {
				cfg.Server.ICEPortMin = n
			}
		case "ice_port_max":
			if n, err := strconv.Atoi(decodedValue); err == nil {
				cfg.Server.ICEPortMax = n
			}
		case "idle_reap_seconds":
			if n, err := strconv.Atoi(decodedValue); err == nil {
				cfg.Server.IdleReapSeconds = n
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan env file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultServerConfig mirrors the PeerConnection policy defaults from
// §4.3: signaling on 8083, bind address 127.0.0.1, ICE ports 10000-10100.
func defaultServerConfig() ServerConfig {
	return ServerConfig{
		DefaultTask:     "det",
		SignalingPort:   8083,
		BindAddress:     "127.0.0.1",
		ICEPortMin:      10000,
		ICEPortMax:      10100,
		IdleReapSeconds: 300,
	}
}

// Validate checks that all required configuration fields are present.
func (c *Config) Validate() error {
	if c.Server.DefaultSourceURI == "" {
		return fmt.Errorf("missing default_source_uri")
	}
	if c.Server.DefaultModelID == "" {
		return fmt.Errorf("missing default_model_id")
	}
	if c.Server.DefaultModelPath == "" {
		return fmt.Errorf("missing default_model_path")
	}
	if c.Server.ICEPortMin <= 0 || c.Server.ICEPortMax <= c.Server.ICEPortMin {
		return fmt.Errorf("invalid ice port range [%d, %d]", c.Server.ICEPortMin, c.Server.ICEPortMax)
	}
	return nil
}
