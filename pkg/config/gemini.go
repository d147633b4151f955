package config

import "time"

// GeminiConfig is the immutable process-level configuration snapshot for
// the Gemini client, read once at startup from the environment. Per-request
// overrides (backend, model, generation parameters; see geminiclient.Options)
// are applied on top of this snapshot and never mutate it; credentials,
// project and location are not overridable per request.
type GeminiConfig struct {
	// Direct backend.
	APIKey string

	// Platform (Vertex AI) backend.
	ProjectID          string
	Location           string
	ServiceAccountKey  string // path to a service-account JSON key file
	ServiceAccountData string // inline service-account JSON key material
	AccessToken        string // pre-obtained bearer token, bypasses JWT exchange

	DefaultModel         string
	TimeoutMillis        int
	MaxRetries           int
	TelemetryEnabled     bool
	MaxStreams           int
	StreamCleanupDelayMs int
	SafetyMarginSeconds  int
}

// LoadGeminiConfig reads the process-level configuration from the
// environment, the way loadJobxConfig/loadNotifxConfig did in the original
// configuration package.
func LoadGeminiConfig() GeminiConfig {
	return GeminiConfig{
		APIKey: getEnv("GEMINI_API_KEY", ""),

		ProjectID:          getEnv("GOOGLE_CLOUD_PROJECT", getEnv("GEMINI_PROJECT_ID", "")),
		Location:           getEnv("GOOGLE_CLOUD_LOCATION", getEnv("GEMINI_LOCATION", "us-central1")),
		ServiceAccountKey:  getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		ServiceAccountData: getEnv("GEMINI_SERVICE_ACCOUNT_DATA", ""),
		AccessToken:        getEnv("GEMINI_ACCESS_TOKEN", ""),

		DefaultModel:         getEnv("GEMINI_DEFAULT_MODEL", "gemini-2.0-flash"),
		TimeoutMillis:        getEnvInt("GEMINI_TIMEOUT_MS", 30_000),
		MaxRetries:           getEnvInt("GEMINI_MAX_RETRIES", 3),
		TelemetryEnabled:     getEnvBool("GEMINI_TELEMETRY_ENABLED", false),
		MaxStreams:           getEnvInt("GEMINI_MAX_STREAMS", 100),
		StreamCleanupDelayMs: getEnvInt("GEMINI_STREAM_CLEANUP_DELAY_MS", 5_000),
		SafetyMarginSeconds:  getEnvInt("GEMINI_TOKEN_SAFETY_MARGIN_S", 300),
	}
}

// Timeout returns TimeoutMillis as a time.Duration.
func (c GeminiConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}

// StreamCleanupDelay returns StreamCleanupDelayMs as a time.Duration.
func (c GeminiConfig) StreamCleanupDelay() time.Duration {
	return time.Duration(c.StreamCleanupDelayMs) * time.Millisecond
}

// SafetyMargin returns SafetyMarginSeconds as a time.Duration.
func (c GeminiConfig) SafetyMargin() time.Duration {
	return time.Duration(c.SafetyMarginSeconds) * time.Second
}

// HasDirectCredentials reports whether the direct (API-key) backend can be used.
func (c GeminiConfig) HasDirectCredentials() bool {
	return c.APIKey != ""
}

// HasPlatformCredentials reports whether the platform (Vertex AI) backend can be used.
func (c GeminiConfig) HasPlatformCredentials() bool {
	if c.ProjectID == "" || c.Location == "" {
		return false
	}
	return c.AccessToken != "" || c.ServiceAccountKey != "" || c.ServiceAccountData != ""
}
