package main

import (
	"os"

	"gopkg.in/yaml.v3"
)

// config holds the optional YAML-loaded settings that supplement the CLI
// flags (spec.md §6 expansion): seed values for the in-memory variable
// server, letting a .sm file run standalone without a live variable
// server process.
type config struct {
	Verbose     bool              `yaml:"verbose"`
	MetricsAddr string            `yaml:"metrics_addr"`
	NATSURL     string            `yaml:"nats_url"`
	Seed        map[string]string `yaml:"seed"`
}

func loadConfig(path string) (*config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
