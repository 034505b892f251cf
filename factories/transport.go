package factories

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"kioskagent/core"
	"kioskagent/transports/livekit"
)

// LiveKitSettings configures the worker. Credentials are injected from
// the environment and are never read from settings files.
type LiveKitSettings struct {
	URL       string `json:"-"`
	APIKey    string `json:"-"`
	APISecret string `json:"-"`

	AgentName           string `json:"agent_name,omitempty"`
	Version             string `json:"version,omitempty"`
	MaxJobs             uint32 `json:"max_jobs,omitempty"`
	HTTPPort            int    `json:"http_port,omitempty"`
	DrainTimeoutSeconds int    `json:"drain_timeout_seconds,omitempty"`
	LogDir              string `json:"log_dir,omitempty"`
	// ResetRoomOnDone removes the remaining participants after a session
	// so the kiosk is ready for the next visitor.
	ResetRoomOnDone bool `json:"reset_room_on_done,omitempty"`
}

// InjectEnv fills credentials and overrides from the environment.
func (s *LiveKitSettings) InjectEnv() {
	s.URL = getEnv("LIVEKIT_URL", s.URL)
	s.APIKey = getEnv("LIVEKIT_API_KEY", s.APIKey)
	s.APISecret = getEnv("LIVEKIT_API_SECRET", s.APISecret)
	s.AgentName = getEnv("AGENT_NAME", s.AgentName)
	s.LogDir = getEnv("LOG_DIR", s.LogDir)
	s.HTTPPort = getEnvAsInt("WORKER_HTTP_PORT", s.HTTPPort)
}

func (s LiveKitSettings) Validate() error {
	var errs []error
	for env, v := range map[string]string{
		"LIVEKIT_URL":        s.URL,
		"LIVEKIT_API_KEY":    s.APIKey,
		"LIVEKIT_API_SECRET": s.APISecret,
	} {
		if v == "" {
			errs = append(errs, fmt.Errorf("%s is not set", env))
		}
	}
	return errors.Join(errs...)
}

// WorkerConfig applies the settings over the worker defaults.
func (s LiveKitSettings) WorkerConfig(variant string, devMode bool, logger *core.Logger) livekit.WorkerConfig {
	cfg := livekit.DefaultWorkerConfig()
	cfg.URL = s.URL
	cfg.APIKey = s.APIKey
	cfg.APISecret = s.APISecret
	cfg.AgentName = s.AgentName
	if s.Version != "" {
		cfg.Version = s.Version
	}
	if s.MaxJobs != 0 {
		cfg.MaxJobs = s.MaxJobs
	}
	if s.HTTPPort != 0 {
		cfg.HTTPPort = s.HTTPPort
	}
	if s.DrainTimeoutSeconds != 0 {
		cfg.DrainTimeout = time.Duration(s.DrainTimeoutSeconds) * time.Second
	}
	if s.LogDir != "" {
		cfg.LogDir = s.LogDir
	}
	cfg.RemoveParticipantsOnDone = s.ResetRoomOnDone
	cfg.DevMode = devMode
	cfg.Variant = variant
	cfg.Logger = logger
	return cfg
}

// RoomConfig is the template each job's room connection starts from.
func (s LiveKitSettings) RoomConfig() livekit.RoomConfig {
	cfg := livekit.DefaultRoomConfig()
	cfg.URL = s.URL
	cfg.APIKey = s.APIKey
	cfg.APISecret = s.APISecret
	if s.AgentName != "" {
		cfg.AgentName = s.AgentName
	}
	return cfg
}

// getEnv gets an environment variable with a default fallback
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as integer with a default fallback
func getEnvAsInt(key string, defaultValue int) int {
	valStr := getEnv(key, "")
	if valStr == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultValue
	}
	return val
}
