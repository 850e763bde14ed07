package main

import (
	"os"
	"strconv"
	"time"
)

// config holds every environment-sourced setting from spec §6.5. Both
// the api and worker subcommands load one of these; each only wires up
// the fields its own components need.
type config struct {
	APIHost string
	APIPort int

	StoreHost     string
	StorePort     int
	StorePassword string

	WorkerConcurrency   int
	MaxSessionsPerWorker int
	SessionTimeout      time.Duration

	DesktopPortStart int
	DesktopPortEnd   int
	ToolPortStart    int
	ToolPortEnd      int

	ContainerMemoryLimit int64
	ContainerCPUShares   uint64
	ContainerNetwork     string
	AgentImage           string
	AgentImageProfiles   string

	ContainerdSocket string
	DataDir          string
}

func loadConfig() config {
	return config{
		APIHost: getEnv("API_HOST", "0.0.0.0"),
		APIPort: getEnvInt("API_PORT", 8000),

		StoreHost:     getEnv("STORE_HOST", "127.0.0.1"),
		StorePort:     getEnvInt("STORE_PORT", 6379),
		StorePassword: getEnv("STORE_PASSWORD", ""),

		WorkerConcurrency:    getEnvInt("WORKER_CONCURRENCY", 2),
		MaxSessionsPerWorker: getEnvInt("MAX_SESSIONS_PER_WORKER", 10),
		SessionTimeout:       time.Duration(getEnvInt("SESSION_TIMEOUT", 3600)) * time.Second,

		DesktopPortStart: getEnvInt("DESKTOP_PORT_RANGE_START", 6080),
		DesktopPortEnd:   getEnvInt("DESKTOP_PORT_RANGE_END", 6200),
		ToolPortStart:    getEnvInt("TOOL_PORT_RANGE_START", 8080),
		ToolPortEnd:      getEnvInt("TOOL_PORT_RANGE_END", 8200),

		ContainerMemoryLimit: getEnvInt64("CONTAINER_MEMORY_LIMIT", 2*1024*1024*1024),
		ContainerCPUShares:   uint64(getEnvInt64("CONTAINER_CPU_LIMIT", 1024)),
		ContainerNetwork:     getEnv("CONTAINER_NETWORK", "bridge"),
		AgentImage:           getEnv("AGENT_IMAGE", "ottobot/agent-sandbox:latest"),
		AgentImageProfiles:   getEnv("AGENT_IMAGE_PROFILES", ""),

		ContainerdSocket: getEnv("CONTAINERD_SOCKET", ""),
		DataDir:          getEnv("DATA_DIR", "./ottobot-data"),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
