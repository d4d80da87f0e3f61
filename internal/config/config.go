package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Upstream API
	AttendanceAPIURL  string
	DeliveryTransport string
	DeliveryTimeout   time.Duration

	// Devices
	DevicesFile      string
	DevicePort       int
	ConnectTimeout   time.Duration
	CaptureTimeout   time.Duration
	IdleBackoff      time.Duration
	PollInterval     time.Duration
	ReconnectBackoff time.Duration
	RecentLogLimit   int

	// Failed-event queue
	FailedLogsFile string
	SweepInterval  time.Duration

	// Database (optional status history)
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis (optional recent-log mirror)
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MQTT (used when DeliveryTransport is "mqtt")
	MQTTBroker   string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string
	MQTTTopic    string

	// Application
	LogLevel string
	LogDir   string
	HTTPAddr string
}

// Load reads envFile (when present) into the environment and builds the
// configuration. A missing env file is not an error.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	logDir := getEnv("LOG_DIR", "logs")
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	devicePort, _ := strconv.Atoi(getEnv("DEVICE_PORT", "4370"))
	recentLogLimit, _ := strconv.Atoi(getEnv("RECENT_LOG_LIMIT", "1000"))

	return &Config{
		AttendanceAPIURL:  getEnv("ATTENDANCE_API_URL", "http://127.0.0.1:8000/api/attendances"),
		DeliveryTransport: getEnv("DELIVERY_TRANSPORT", "http"),
		DeliveryTimeout:   getSeconds("DELIVERY_TIMEOUT_SECONDS", 5),

		DevicesFile:      getEnv("DEVICES_FILE", filepath.Join("configs", "devices.json")),
		DevicePort:       devicePort,
		ConnectTimeout:   getSeconds("CONNECT_TIMEOUT_SECONDS", 5),
		CaptureTimeout:   getSeconds("CAPTURE_TIMEOUT_SECONDS", 10),
		IdleBackoff:      getSeconds("IDLE_BACKOFF_SECONDS", 1),
		PollInterval:     getSeconds("POLL_INTERVAL_SECONDS", 1),
		ReconnectBackoff: getSeconds("RECONNECT_BACKOFF_SECONDS", 10),
		RecentLogLimit:   recentLogLimit,

		FailedLogsFile: getEnv("FAILED_LOGS_FILE", filepath.Join(logDir, "failed_logs.json")),
		SweepInterval:  getSeconds("SWEEP_INTERVAL_SECONDS", 3600),

		DBHost:     getEnv("DB_HOST", ""),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "attendance_relay"),

		RedisHost:     getEnv("REDIS_HOST", ""),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       redisDB,

		MQTTBroker:   getEnv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "attendance-relay"),
		MQTTUsername: getEnv("MQTT_USERNAME", ""),
		MQTTPassword: getEnv("MQTT_PASSWORD", ""),
		MQTTTopic:    getEnv("MQTT_TOPIC", "attendance/events"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogDir:   logDir,
		HTTPAddr: getEnv("HTTP_ADDR", ""),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getSeconds(key string, defaultValue int) time.Duration {
	seconds, err := strconv.Atoi(getEnv(key, ""))
	if err != nil || seconds <= 0 {
		seconds = defaultValue
	}
	return time.Duration(seconds) * time.Second
}
