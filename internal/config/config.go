package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Capture source kinds accepted by CAPTURE_SOURCE.
const (
	SourceUDP    = "udp"
	SourceCamera = "camera"
	SourceFile   = "file"
)

type Config struct {
	Port     int
	Password string

	InferenceURL        string
	TransmissionWidth   int
	TransmissionHeight  int
	ConfidenceThreshold float64
	RequestTimeout      time.Duration
	JPEGQuality         int

	CaptureSource   string
	CameraDevice    string
	VideoFile       string
	CamerasPort     int
	CaptureInterval time.Duration // pause between pull-loop reads
	MinSendInterval time.Duration // minimum gap between transmitted frames
	RenderQueueSize int

	Latitude    float64
	Longitude   float64
	HasLocation bool

	ImageDirectory           string
	DatabasePath             string
	LogDirectory             string
	ReportPath               string
	ImageBufferLimit         int
	ImageBufferFlushInterval int // seconds
}

// Load reads the configuration from the environment. A .env file in the
// working directory, when present, seeds variables that are not already set.
func Load() *Config {
	_ = godotenv.Load()

	hasLat := os.Getenv("LATITUDE") != ""
	hasLon := os.Getenv("LONGITUDE") != ""

	return &Config{
		Port:     getEnvAsInt("PORT", 8080),
		Password: getEnv("PASSWORD", "pothole"),

		InferenceURL:        getEnv("INFERENCE_URL", "http://localhost:8000"),
		TransmissionWidth:   getEnvAsInt("TRANSMISSION_WIDTH", 320),
		TransmissionHeight:  getEnvAsInt("TRANSMISSION_HEIGHT", 320),
		ConfidenceThreshold: getEnvAsFloat("CONFIDENCE_THRESHOLD", 0.5),
		RequestTimeout:      getEnvAsMillis("REQUEST_TIMEOUT_MS", 10000),
		JPEGQuality:         getEnvAsInt("JPEG_QUALITY", 90),

		CaptureSource:   getEnv("CAPTURE_SOURCE", SourceUDP),
		CameraDevice:    getEnv("CAMERA_DEVICE", "0"),
		VideoFile:       getEnv("VIDEO_FILE", ""),
		CamerasPort:     getEnvAsInt("CAMERAS_PORT", 12345),
		CaptureInterval: getEnvAsMillis("CAPTURE_INTERVAL_MS", 100),
		MinSendInterval: getEnvAsMillis("MIN_SEND_INTERVAL_MS", 500),
		RenderQueueSize: getEnvAsInt("RENDER_QUEUE_SIZE", 1),

		Latitude:    getEnvAsFloat("LATITUDE", 0),
		Longitude:   getEnvAsFloat("LONGITUDE", 0),
		HasLocation: hasLat && hasLon,

		ImageDirectory:           getEnv("IMAGE_DIR", filepath.Join(".", "images")),
		DatabasePath:             getEnv("DB_PATH", filepath.Join(".", "data", "potholes.db")),
		LogDirectory:             getEnv("LOG_DIR", filepath.Join(".", "logs")),
		ReportPath:               getEnv("REPORT_PATH", filepath.Join(".", "pothole_report.pdf")),
		ImageBufferLimit:         getEnvAsInt("BUFFER_LIMIT", 10),
		ImageBufferFlushInterval: getEnvAsInt("FLUSH_INTERVAL", 30),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvAsMillis reads an integer number of milliseconds.
func getEnvAsMillis(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultValue)) * time.Millisecond
}
