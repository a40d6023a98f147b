package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Logging is shared by the node and the collector.
type Logging struct {
	AppEnv   string
	LogLevel slog.Level
	// LogFile, when set, receives a copy of the log with size-based rotation.
	LogFile string
}

type Node struct {
	Logging

	NodeID        string
	Variant       string
	CollectorHost string
	CollectorPort int
	DeliveryMode  string
	MQTTClientID  string

	CycleInterval  time.Duration
	ConnectTimeout time.Duration

	LinkInterface    string
	LinkPollInterval time.Duration
	LinkMaxAttempts  int
	LinkMaxBackoff   time.Duration

	Display    string
	LCDAddress uint16
	I2CBus     string

	BME280Address  uint16
	ADS1115Address uint16
	TrigPin        string
	EchoPin        string
	EchoTimeout    time.Duration
	MaxRangeCM     float64

	// MetricsAddr empty disables the metrics listener.
	MetricsAddr string
}

type Collector struct {
	Logging

	ListenAddr string
	HTTPAddr   string
	SQLitePath string
	// SQLTrace logs every statement at debug level.
	SQLTrace bool

	// MQTTBroker empty disables the broker subscription.
	MQTTBroker   string
	MQTTPort     int
	MQTTTopic    string
	MQTTClientID string
}

func loadLogging() (Logging, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Logging{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Logging{}, err
	}

	return Logging{
		AppEnv:   appEnv,
		LogLevel: level,
		LogFile:  strings.TrimSpace(os.Getenv("LOG_FILE")),
	}, nil
}

func LoadFromEnv() (Node, error) {
	lg, err := loadLogging()
	if err != nil {
		return Node{}, err
	}

	nodeID := strings.TrimSpace(os.Getenv("NODE_ID"))
	if nodeID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "edgenode"
		}
		nodeID = host
	}

	variant := strings.ToLower(strings.TrimSpace(os.Getenv("NODE_VARIANT")))
	if variant == "" {
		variant = "climate"
	}
	switch variant {
	case "moisture", "climate", "distance":
	default:
		return Node{}, fmt.Errorf("invalid NODE_VARIANT %q (allowed: moisture, climate, distance)", variant)
	}

	collectorHost := strings.TrimSpace(os.Getenv("COLLECTOR_HOST"))
	if collectorHost == "" {
		return Node{}, fmt.Errorf("COLLECTOR_HOST is required")
	}

	collectorPort, err := portFromEnv("COLLECTOR_PORT", "8889")
	if err != nil {
		return Node{}, err
	}

	deliveryMode := strings.ToLower(strings.TrimSpace(os.Getenv("DELIVERY_MODE")))
	if deliveryMode == "" {
		deliveryMode = "udp"
	}
	switch deliveryMode {
	case "udp", "tcp", "mqtt":
	default:
		return Node{}, fmt.Errorf("invalid DELIVERY_MODE %q (allowed: udp, tcp, mqtt)", deliveryMode)
	}

	mqttClientID := strings.TrimSpace(os.Getenv("MQTT_CLIENT_ID"))
	if mqttClientID == "" {
		mqttClientID = "edgenode-" + nodeID
	}

	cycleInterval, err := positiveDurationFromEnv("CYCLE_INTERVAL", "5s")
	if err != nil {
		return Node{}, err
	}
	connectTimeout, err := positiveDurationFromEnv("CONNECT_TIMEOUT", "3s")
	if err != nil {
		return Node{}, err
	}
	linkPollInterval, err := positiveDurationFromEnv("LINK_POLL_INTERVAL", "500ms")
	if err != nil {
		return Node{}, err
	}
	linkMaxBackoff, err := positiveDurationFromEnv("LINK_MAX_BACKOFF", "30s")
	if err != nil {
		return Node{}, err
	}

	linkMaxAttemptsStr := strings.TrimSpace(os.Getenv("LINK_MAX_ATTEMPTS"))
	if linkMaxAttemptsStr == "" {
		linkMaxAttemptsStr = "0"
	}
	linkMaxAttempts, err := strconv.Atoi(linkMaxAttemptsStr)
	if err != nil {
		return Node{}, fmt.Errorf("invalid LINK_MAX_ATTEMPTS %q: %w", linkMaxAttemptsStr, err)
	}
	if linkMaxAttempts < 0 {
		return Node{}, fmt.Errorf("LINK_MAX_ATTEMPTS must not be negative, got %d", linkMaxAttempts)
	}

	display := strings.ToLower(strings.TrimSpace(os.Getenv("NODE_DISPLAY")))
	if display == "" {
		display = "log"
	}
	switch display {
	case "lcd", "log":
	default:
		return Node{}, fmt.Errorf("invalid NODE_DISPLAY %q (allowed: lcd, log)", display)
	}

	lcdAddress, err := i2cAddressFromEnv("LCD_ADDRESS", "0x27")
	if err != nil {
		return Node{}, err
	}
	bme280Address, err := i2cAddressFromEnv("BME280_ADDRESS", "0x76")
	if err != nil {
		return Node{}, err
	}
	ads1115Address, err := i2cAddressFromEnv("ADS1115_ADDRESS", "0x48")
	if err != nil {
		return Node{}, err
	}

	trigPin := strings.TrimSpace(os.Getenv("TRIG_PIN"))
	if trigPin == "" {
		trigPin = "GPIO14"
	}
	echoPin := strings.TrimSpace(os.Getenv("ECHO_PIN"))
	if echoPin == "" {
		echoPin = "GPIO12"
	}
	echoTimeout, err := positiveDurationFromEnv("ECHO_TIMEOUT", "1s")
	if err != nil {
		return Node{}, err
	}

	maxRangeStr := strings.TrimSpace(os.Getenv("MAX_RANGE_CM"))
	if maxRangeStr == "" {
		maxRangeStr = "400"
	}
	maxRange, err := strconv.ParseFloat(maxRangeStr, 64)
	if err != nil {
		return Node{}, fmt.Errorf("invalid MAX_RANGE_CM %q: %w", maxRangeStr, err)
	}
	if maxRange <= 0 {
		return Node{}, fmt.Errorf("MAX_RANGE_CM must be positive, got %v", maxRange)
	}

	return Node{
		Logging:          lg,
		NodeID:           nodeID,
		Variant:          variant,
		CollectorHost:    collectorHost,
		CollectorPort:    collectorPort,
		DeliveryMode:     deliveryMode,
		MQTTClientID:     mqttClientID,
		CycleInterval:    cycleInterval,
		ConnectTimeout:   connectTimeout,
		LinkInterface:    strings.TrimSpace(os.Getenv("LINK_INTERFACE")),
		LinkPollInterval: linkPollInterval,
		LinkMaxAttempts:  linkMaxAttempts,
		LinkMaxBackoff:   linkMaxBackoff,
		Display:          display,
		LCDAddress:       lcdAddress,
		I2CBus:           strings.TrimSpace(os.Getenv("I2C_BUS")),
		BME280Address:    bme280Address,
		ADS1115Address:   ads1115Address,
		TrigPin:          trigPin,
		EchoPin:          echoPin,
		EchoTimeout:      echoTimeout,
		MaxRangeCM:       maxRange,
		MetricsAddr:      strings.TrimSpace(os.Getenv("METRICS_ADDR")),
	}, nil
}

func LoadCollectorFromEnv() (Collector, error) {
	lg, err := loadLogging()
	if err != nil {
		return Collector{}, err
	}

	listenAddr := strings.TrimSpace(os.Getenv("LISTEN_ADDR"))
	if listenAddr == "" {
		listenAddr = ":8889"
	}

	httpAddr := strings.TrimSpace(os.Getenv("HTTP_ADDR"))
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	sqlitePath := strings.TrimSpace(os.Getenv("SQLITE_PATH"))
	if sqlitePath == "" {
		sqlitePath = "collector.db"
	}

	mqttPort, err := portFromEnv("MQTT_PORT", "1883")
	if err != nil {
		return Collector{}, err
	}

	mqttTopic := strings.TrimSpace(os.Getenv("MQTT_TOPIC"))
	if mqttTopic == "" {
		mqttTopic = "nodes/+/telemetry"
	}

	mqttClientID := strings.TrimSpace(os.Getenv("MQTT_CLIENT_ID"))
	if mqttClientID == "" {
		mqttClientID = "edgenode-collector"
	}

	sqlTrace := false
	if v := strings.TrimSpace(os.Getenv("SQL_TRACE")); v != "" {
		sqlTrace, err = strconv.ParseBool(v)
		if err != nil {
			return Collector{}, fmt.Errorf("invalid SQL_TRACE %q: %w", v, err)
		}
	}

	return Collector{
		Logging:      lg,
		SQLTrace:     sqlTrace,
		ListenAddr:   listenAddr,
		HTTPAddr:     httpAddr,
		SQLitePath:   sqlitePath,
		MQTTBroker:   strings.TrimSpace(os.Getenv("MQTT_BROKER")),
		MQTTPort:     mqttPort,
		MQTTTopic:    mqttTopic,
		MQTTClientID: mqttClientID,
	}, nil
}

func portFromEnv(name, def string) (int, error) {
	s := strings.TrimSpace(os.Getenv(name))
	if s == "" {
		s = def
	}
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	if port <= 0 || port > 65535 {
		return 0, fmt.Errorf("%s must be in 1..65535, got %d", name, port)
	}
	return port, nil
}

func positiveDurationFromEnv(name, def string) (time.Duration, error) {
	s := strings.TrimSpace(os.Getenv(name))
	if s == "" {
		s = def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", name, d)
	}
	return d, nil
}

func i2cAddressFromEnv(name, def string) (uint16, error) {
	s := strings.TrimSpace(os.Getenv(name))
	if s == "" {
		s = def
	}
	addr, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	if addr > 0x7f {
		return 0, fmt.Errorf("%s must be a 7-bit I2C address, got %s", name, s)
	}
	return uint16(addr), nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
