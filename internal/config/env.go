package config

import "os"

// Environment variables that override file settings.
const (
	EnvRobotIP  = "ROBOT_IP"
	EnvWebAddr  = "SEER_WEB_ADDR"
	EnvLogLevel = "SEER_LOG_LEVEL"
)

// RobotIP returns the robot IP from ROBOT_IP.
// Falls back to the provided default if not set.
func RobotIP(defaultIP string) string {
	return envOr(EnvRobotIP, defaultIP)
}

// WebAddr returns the listen address from SEER_WEB_ADDR or the default.
func WebAddr(defaultAddr string) string {
	return envOr(EnvWebAddr, defaultAddr)
}

// LogLevel returns the level from SEER_LOG_LEVEL or the default.
func LogLevel(defaultLevel string) string {
	return envOr(EnvLogLevel, defaultLevel)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
