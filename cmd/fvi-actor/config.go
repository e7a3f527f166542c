package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/salespaulo/fvi-actor-system/core/system"
)

// fileConfig is the YAML file read from $FVI_CONFIG.
//
//	system:
//	  listenAddr: 0.0.0.0:6161
//	  requestTimeout: 30s
//	  remoteHostMode: forked
//	  log:
//	    logLevel: debug
//	metricsAddr: :9090
//	natsURL: nats://localhost:4222
//	natsNode: node-a
//	demo: true
type fileConfig struct {
	System      system.Config `yaml:"system"`
	MetricsAddr string        `yaml:"metricsAddr,omitempty"`
	NatsURL     string        `yaml:"natsURL,omitempty"`
	NatsNode    string        `yaml:"natsNode,omitempty"`
	Demo        bool          `yaml:"demo,omitempty"`
}

func loadConfig() (fileConfig, error) {
	var cfg fileConfig
	if path := os.Getenv("FVI_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// env wins over the file
	if v := os.Getenv("FVI_LISTEN"); v != "" {
		cfg.System.ListenAddr = v
	}
	if v := os.Getenv("FVI_LOG_LEVEL"); v != "" {
		cfg.System.Log.Level = v
		cfg.System.Log.Actors = nil
	}
	if v := os.Getenv("FVI_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NatsURL = v
	}
	if v := os.Getenv("FVI_NATS_NODE"); v != "" {
		cfg.NatsNode = v
	}
	if v := os.Getenv("FVI_DEMO"); v != "" {
		cfg.Demo = getBool(v)
	}
	return cfg, nil
}

func getBool(v string) bool {
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return strings.EqualFold(v, "yes")
}
