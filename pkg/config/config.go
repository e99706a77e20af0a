package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Configuration defines the structure for storing application configuration
type Configuration struct {
	// HTTP server configuration
	HTTPPort          int
	HTTPEnableMetrics bool
	HTTPReadTimeout   time.Duration
	HTTPWriteTimeout  time.Duration

	// Recording configuration
	RecordingDir string
	SampleRate   int
	Channels     int

	// Telephony platform configuration
	PlatformEventURL string
	PlatformSourceID string

	// Resource limits
	MaxConcurrentCalls int

	// Logging
	LogLevel logrus.Level

	// AMQP configuration
	AMQPUrl       string
	AMQPQueueName string

	// Shutdown
	ShutdownTimeout time.Duration
}

// LoadConfig loads the application configuration from environment variables
func LoadConfig(logger *logrus.Logger) (*Configuration, error) {
	// A missing .env file is fine; the environment may be set by the runtime.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.WithError(err).Debug("No .env file loaded")
	}

	config := &Configuration{}

	// Load logging configuration
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logger.WithField("log_level", logLevel).Warn("Invalid LOG_LEVEL; defaulting to info")
		level = logrus.InfoLevel
	}
	config.LogLevel = level

	// Load HTTP configuration
	httpPort := os.Getenv("HTTP_PORT")
	if httpPort != "" {
		config.HTTPPort, err = strconv.Atoi(httpPort)
		if err != nil || config.HTTPPort <= 0 {
			return nil, fmt.Errorf("invalid HTTP_PORT: %q", httpPort)
		}
	} else {
		config.HTTPPort = 8080
	}
	config.HTTPEnableMetrics = os.Getenv("HTTP_ENABLE_METRICS") != "false"
	config.HTTPReadTimeout = durationFromEnv(logger, "HTTP_READ_TIMEOUT_SECONDS", 10*time.Second)
	config.HTTPWriteTimeout = durationFromEnv(logger, "HTTP_WRITE_TIMEOUT_SECONDS", 30*time.Second)

	// Load recording directory
	config.RecordingDir = os.Getenv("RECORDING_DIR")
	if config.RecordingDir == "" {
		logger.Warn("RECORDING_DIR not set; using ./recordings")
		config.RecordingDir = "./recordings"
	}

	// Load audio format configuration
	sampleRate := os.Getenv("AUDIO_SAMPLE_RATE")
	if sampleRate != "" {
		config.SampleRate, err = strconv.Atoi(sampleRate)
		if err != nil || config.SampleRate <= 0 {
			logger.Warn("Invalid AUDIO_SAMPLE_RATE; setting default to 16000")
			config.SampleRate = 16000
		}
	} else {
		config.SampleRate = 16000
	}

	channels := os.Getenv("AUDIO_CHANNELS")
	if channels != "" {
		config.Channels, err = strconv.Atoi(channels)
		if err != nil || config.Channels <= 0 {
			logger.Warn("Invalid AUDIO_CHANNELS; setting default to 1")
			config.Channels = 1
		}
	} else {
		config.Channels = 1
	}

	// Load platform configuration
	config.PlatformEventURL = os.Getenv("PLATFORM_EVENT_URL")
	if config.PlatformEventURL == "" {
		logger.Warn("PLATFORM_EVENT_URL not set; platform event feed will be disabled")
	}
	config.PlatformSourceID = os.Getenv("PLATFORM_SOURCE_ID")
	if config.PlatformSourceID == "" {
		config.PlatformSourceID = "callrec-bot"
	}

	// Resource limits
	maxCalls := os.Getenv("MAX_CONCURRENT_CALLS")
	if maxCalls != "" {
		config.MaxConcurrentCalls, _ = strconv.Atoi(maxCalls)
	}
	if config.MaxConcurrentCalls <= 0 {
		config.MaxConcurrentCalls = 500
	}

	// Load AMQP configuration
	config.AMQPUrl = os.Getenv("AMQP_URL")
	config.AMQPQueueName = os.Getenv("AMQP_QUEUE_NAME")
	if config.AMQPUrl == "" || config.AMQPQueueName == "" {
		logger.Warn("AMQP_URL or AMQP_QUEUE_NAME not set, recording notifications will be disabled")
	}

	config.ShutdownTimeout = durationFromEnv(logger, "SHUTDOWN_TIMEOUT_SECONDS", 30*time.Second)

	logger.WithFields(logrus.Fields{
		"http_port":     config.HTTPPort,
		"recording_dir": config.RecordingDir,
		"sample_rate":   config.SampleRate,
		"channels":      config.Channels,
		"max_calls":     config.MaxConcurrentCalls,
	}).Info("Configuration loaded")

	return config, nil
}

func durationFromEnv(logger *logrus.Logger, key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		logger.WithField("key", key).Warn("Invalid duration value; using default")
		return def
	}
	return time.Duration(seconds) * time.Second
}
