package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all sagaflow CLI configuration.
// Priority: flags > env vars > settings.json > defaults.
type Config struct {
	DBPath             string `json:"db_path"`
	LogLevel           string `json:"log_level"`
	MaxConcurrentTasks int    `json:"max_concurrent_tasks"`
	CheckpointInterval int    `json:"checkpoint_interval"`
}

func defaultConfig() Config {
	return Config{
		DBPath:             filepath.Join(sagaflowDir(), "sagaflow.db"),
		LogLevel:           "info",
		MaxConcurrentTasks: 10,
		CheckpointInterval: 1,
	}
}

func sagaflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sagaflow"
	}
	return filepath.Join(home, ".sagaflow")
}

func settingsPath() string {
	return filepath.Join(sagaflowDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("SAGAFLOW_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("SAGAFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SAGAFLOW_MAX_CONCURRENT_TASKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrentTasks = n
		}
	}
	if v := os.Getenv("SAGAFLOW_CHECKPOINT_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CheckpointInterval = n
		}
	}

	return cfg
}
