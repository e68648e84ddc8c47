// Package config loads the Listener's environment-variable configuration,
// the Connector's JSON settings file, and the optional supplementary YAML
// limits file shared by both processes.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// GetEnv returns the environment variable named key, or def if unset,
// grounded on original_source/sw_listener/src/utils.rs's get_env.
func GetEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("env %s: invalid integer %q: %w", key, raw, err)
	}
	return v, nil
}

// ListenerConfig is the Listener's environment-derived configuration
// (spec.md §6).
type ListenerConfig struct {
	CertPath    string
	KeyPath     string
	CAPath      string
	Addrs       string
	Port        int
	SCEPURL     string
	APIsAddrs   string
	APIsPort    int
	LogLevel    string
	LimitsPath  string // SWL_LIMITS_PATH, optional supplement
}

// LoadListenerConfig reads the Listener configuration from the environment,
// applying the defaults spec.md §6 names.
func LoadListenerConfig() (ListenerConfig, error) {
	port, err := getEnvInt("SWL_PORT", 11443)
	if err != nil {
		return ListenerConfig{}, err
	}
	apiPort, err := getEnvInt("APIS_PORT", 8080)
	if err != nil {
		return ListenerConfig{}, err
	}
	return ListenerConfig{
		CertPath:   GetEnv("SWL_CERT_PATH", "certs/server.crt"),
		KeyPath:    GetEnv("SWL_KEY_PATH", "certs/server.key"),
		CAPath:     GetEnv("SWL_CA_PATH", "certs/ca.crt"),
		Addrs:      GetEnv("SWL_ADDRS", "0.0.0.0"),
		Port:       port,
		SCEPURL:    GetEnv("SWL_SCEP_URL", "http://127.0.0.1:3000/api/cert/verify"),
		APIsAddrs:  GetEnv("APIS_ADDRS", "0.0.0.0"),
		APIsPort:   apiPort,
		LogLevel:   GetEnv("SWL_LOG_LEVEL", "info"),
		LimitsPath: GetEnv("SWL_LIMITS_PATH", ""),
	}, nil
}

// ConnectorSettings is the JSON settings file schema spec.md §6 names for
// the Connector.
type ConnectorSettings struct {
	ClientCertPath string `json:"client_cert_path"`
	ClientKeyPath  string `json:"client_key_path"`
	CACertPath     string `json:"ca_cert_path"`
	ServerName     string `json:"server_name"`
	ServicePort    int    `json:"service_port"`
}

// LoadConnectorSettings reads and parses the Connector's JSON settings file.
func LoadConnectorSettings(path string) (ConnectorSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ConnectorSettings{}, fmt.Errorf("read settings file %s: %w", path, err)
	}
	var s ConnectorSettings
	if err := json.Unmarshal(data, &s); err != nil {
		return ConnectorSettings{}, fmt.Errorf("parse settings file %s: %w", path, err)
	}
	if s.ServerName == "" || s.ServicePort == 0 {
		return ConnectorSettings{}, fmt.Errorf("settings file %s missing server_name or service_port", path)
	}
	return s, nil
}
