package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"

	// Import godotenv for loading .env files
	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	JWT        JWTConfig        `json:"jwt"`
	Agent      AgentConfig      `json:"agent"`
	Screenshot ScreenshotConfig `json:"screenshot"`
	Recording  RecordingConfig  `json:"recording"`
	Idle       IdleConfig       `json:"idle"`
	Network    NetworkConfig    `json:"network"`
	Security   SecurityConfig   `json:"security"`
}

type ServerConfig struct {
	Port         int           `json:"port"`
	Host         string        `json:"host"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

type DatabaseConfig struct {
	Host           string        `json:"host"`
	Port           string        `json:"port"`
	Name           string        `json:"name"`
	Username       string        `json:"username"`
	Password       string        `json:"password"`
	URI            string        `json:"uri"` // Full connection URI
	ConnectTimeout time.Duration `json:"connect_timeout"`
}

type JWTConfig struct {
	SecretKey  string        `json:"secret_key"`
	Expiration time.Duration `json:"expiration"`
	// AdminPasswordHash is a bcrypt hash checked by /auth/login.
	AdminPasswordHash string `json:"-"`
}

type AgentConfig struct {
	UserID           string `json:"user_id"`
	DataDir          string `json:"data_dir"`
	AdminWindowTitle string `json:"admin_window_title"`
	AutoStartIdle    bool   `json:"auto_start_idle"`
	AutoStartNetwork bool   `json:"auto_start_network"`
}

type ScreenshotConfig struct {
	MinInterval time.Duration `json:"min_interval"`
	MaxInterval time.Duration `json:"max_interval"`
	KeepLocal   bool          `json:"keep_local"`
}

type RecordingConfig struct {
	FrameRate   int    `json:"frame_rate"`
	Codec       string `json:"codec"`
	Preset      string `json:"preset"`
	CRF         int    `json:"crf"`
	Display     string `json:"display"`
	EncoderURL  string `json:"encoder_url"`
	EncoderName string `json:"encoder_name"`
}

type IdleConfig struct {
	PollInterval    time.Duration `json:"poll_interval"`
	IdleThreshold   time.Duration `json:"idle_threshold"`
	DeepThreshold   time.Duration `json:"deep_threshold"`
	PersistInterval time.Duration `json:"persist_interval"`
	SampleInterval  time.Duration `json:"sample_interval"`
}

type NetworkConfig struct {
	SampleInterval time.Duration `json:"sample_interval"`
}

type SecurityConfig struct {
	CORSOrigins []string      `json:"cors_origins"`
	RateLimit   int           `json:"rate_limit"`
	RateWindow  time.Duration `json:"rate_window"`
}

// Load reads config from environment variables and the .env file.
func Load() (*Config, error) {
	return load(true)
}

// LoadLocal is Load for offline commands that never serve the API, so
// JWT_SECRET is optional.
func LoadLocal() (*Config, error) {
	return load(false)
}

func load(requireSecret bool) (*Config, error) {
	config := &Config{}

	if err := config.loadServerConfig(); err != nil {
		return nil, fmt.Errorf("failed to load server config: %w", err)
	}

	if err := config.loadDatabaseConfig(); err != nil {
		return nil, fmt.Errorf("failed to load database config: %w", err)
	}

	if err := config.loadJWTConfig(requireSecret); err != nil {
		return nil, fmt.Errorf("failed to load jwt config: %w", err)
	}

	if err := config.loadAgentConfig(); err != nil {
		return nil, fmt.Errorf("failed to load agent config: %w", err)
	}

	config.loadScreenshotConfig()
	config.loadRecordingConfig()
	config.loadIdleConfig()
	config.loadSecurityConfig()

	config.Network = NetworkConfig{
		SampleInterval: getDurationEnv("NETWORK_SAMPLE_INTERVAL", time.Minute),
	}

	return config, nil
}

func (c *Config) loadServerConfig() error {
	portStr := getEnv("PORT", "7345")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port: %w", err)
	}

	c.Server = ServerConfig{
		Port:         port,
		Host:         getEnv("HOST", "127.0.0.1"),
		ReadTimeout:  getDurationEnv("READ_TIMEOUT", 10*time.Second),
		WriteTimeout: getDurationEnv("WRITE_TIMEOUT", 10*time.Second),
		IdleTimeout:  getDurationEnv("IDLE_TIMEOUT", 60*time.Second),
	}
	return nil
}

func (c *Config) loadDatabaseConfig() error {
	c.Database = DatabaseConfig{
		Host:           getEnv("DB_HOST", "localhost"),
		Port:           getEnv("DB_PORT", "27017"),
		Name:           getEnv("DB_NAME", "deskwatch"),
		Username:       getEnv("DB_USERNAME", ""),
		Password:       getEnv("DB_PASSWORD", ""),
		URI:            getEnv("DB_URI", ""),
		ConnectTimeout: getDurationEnv("DB_CONNECT_TIMEOUT", 10*time.Second),
	}

	if c.Database.URI != "" {
		return nil
	}
	if c.Database.Username != "" && c.Database.Password != "" {
		c.Database.URI = fmt.Sprintf("mongodb://%s:%s@%s:%s", c.Database.Username, c.Database.Password, c.Database.Host, c.Database.Port)
	} else {
		c.Database.URI = fmt.Sprintf("mongodb://%s:%s", c.Database.Host, c.Database.Port)
	}

	return nil
}

func (c *Config) loadJWTConfig(required bool) error {
	secretKey := getEnv("JWT_SECRET", "")
	if secretKey == "" && required {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}

	c.JWT = JWTConfig{
		SecretKey:         secretKey,
		Expiration:        getDurationEnv("JWT_EXPIRATION", 12*time.Hour),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
	}

	return nil
}

func (c *Config) loadAgentConfig() error {
	dataDir := getEnv("DESKWATCH_DATA_DIR", "")
	if dataDir == "" {
		home, err := homedir.Dir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".deskwatch")
	} else {
		expanded, err := homedir.Expand(dataDir)
		if err == nil {
			dataDir = expanded
		}
	}

	c.Agent = AgentConfig{
		UserID:           getEnv("AGENT_USER_ID", defaultUserID()),
		DataDir:          dataDir,
		AdminWindowTitle: getEnv("ADMIN_WINDOW_TITLE", "Deskwatch Admin"),
		AutoStartIdle:    getBoolEnv("AUTO_START_IDLE", true),
		AutoStartNetwork: getBoolEnv("AUTO_START_NETWORK", true),
	}
	return nil
}

func (c *Config) loadScreenshotConfig() {
	c.Screenshot = ScreenshotConfig{
		MinInterval: time.Duration(getIntEnv("SCREENSHOT_MIN_MINUTES", 5)) * time.Minute,
		MaxInterval: time.Duration(getIntEnv("SCREENSHOT_MAX_MINUTES", 30)) * time.Minute,
		KeepLocal:   getBoolEnv("SCREENSHOT_KEEP_LOCAL", false),
	}
}

func (c *Config) loadRecordingConfig() {
	c.Recording = RecordingConfig{
		FrameRate:   getIntEnv("RECORDING_FRAME_RATE", 15),
		Codec:       getEnv("RECORDING_CODEC", "libx264"),
		Preset:      getEnv("RECORDING_PRESET", "ultrafast"),
		CRF:         getIntEnv("RECORDING_CRF", 28),
		Display:     getEnv("DISPLAY", ":0.0"),
		EncoderURL:  getEnv("ENCODER_DOWNLOAD_URL", ""),
		EncoderName: getEnv("ENCODER_BINARY", "ffmpeg"),
	}
}

func (c *Config) loadIdleConfig() {
	c.Idle = IdleConfig{
		PollInterval:    getDurationEnv("IDLE_POLL_INTERVAL", 5*time.Second),
		IdleThreshold:   getDurationEnv("IDLE_THRESHOLD", 30*time.Second),
		DeepThreshold:   getDurationEnv("IDLE_DEEP_THRESHOLD", 300*time.Second),
		PersistInterval: getDurationEnv("IDLE_PERSIST_INTERVAL", 1800*time.Second),
		SampleInterval:  getDurationEnv("IDLE_SAMPLE_INTERVAL", 900*time.Second),
	}
}

func (c *Config) loadSecurityConfig() {
	corsOriginsStr := getEnv("CORS_ORIGINS", "*")
	var corsOrigins []string
	if corsOriginsStr != "*" {
		for _, origin := range strings.Split(corsOriginsStr, ",") {
			corsOrigins = append(corsOrigins, strings.TrimSpace(origin))
		}
	} else {
		corsOrigins = []string{"*"}
	}
	c.Security = SecurityConfig{
		CORSOrigins: corsOrigins,
		RateLimit:   getIntEnv("RATE_LIMIT", 120),
		RateWindow:  getDurationEnv("RATE_WINDOW", 1*time.Minute),
	}
}

// RecordingsDir is where segment files and final recordings are written.
func (c *Config) RecordingsDir() string {
	return filepath.Join(c.Agent.DataDir, "recordings")
}

// ScreenshotsDir holds local screenshot copies when KeepLocal is set.
func (c *Config) ScreenshotsDir() string {
	return filepath.Join(c.Agent.DataDir, "screenshots")
}

// BinDir caches downloaded encoder binaries.
func (c *Config) BinDir() string {
	return filepath.Join(c.Agent.DataDir, "bin")
}

func defaultUserID() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}

func getEnv(key string, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Database.URI == "" {
		return fmt.Errorf("database uri is required")
	}
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("jwt secret key is required")
	}
	if c.Agent.DataDir == "" {
		return fmt.Errorf("data directory is required")
	}
	if c.Screenshot.MinInterval < time.Minute || c.Screenshot.MaxInterval > 120*time.Minute {
		return fmt.Errorf("screenshot interval must be between 1 and 120 minutes")
	}
	if c.Screenshot.MinInterval >= c.Screenshot.MaxInterval {
		return fmt.Errorf("screenshot min interval must be less than max interval")
	}
	if c.Recording.FrameRate <= 0 {
		return fmt.Errorf("invalid frame rate: %d", c.Recording.FrameRate)
	}

	return nil
}
