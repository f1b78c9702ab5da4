package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all settings the server needs at startup.
type Config struct {
	HTTPPort string

	StoreDriver string
	StoreDSN    string

	SerialPort string
	SerialBaud int

	IngressQueueDepth int

	ADCPeriod    time.Duration
	ADCGPIODelay time.Duration
}

// Load reads a .env file if present and resolves settings from the
// environment, falling back to sane defaults.
func Load() *Config {
	envFile := ".env"

	if err := godotenv.Load(envFile); err != nil {
		log.Println("⚠️  No .env file found or failed to load, using system environment variables or defaults")
	} else {
		log.Println("✅ Loaded configuration from .env")
	}

	return &Config{
		HTTPPort: getEnv("HTTP_PORT", "8000"),

		StoreDriver: getEnv("STORE_DRIVER", "sqlite"),
		StoreDSN:    getEnv("STORE_DSN", "meter.db"),

		SerialPort: getEnv("SERIAL_PORT", "/dev/ttyUSB0"),
		SerialBaud: getEnvInt("SERIAL_BAUD", 115200),

		IngressQueueDepth: getEnvInt("INGRESS_QUEUE_DEPTH", 64),

		ADCPeriod:    time.Duration(getEnvInt("ADC_PERIOD_MS", 1000)) * time.Millisecond,
		ADCGPIODelay: time.Duration(getEnvInt("ADC_GPIO_DELAY_MS", 100)) * time.Millisecond,
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		log.Printf("invalid integer env var %s=%q, using default %d", key, value, fallback)
	}
	return fallback
}
