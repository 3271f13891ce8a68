package config

import "time"

// Database connection pool settings (event history store)
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// WebSocket transport settings
const (
	WSWriteWait      = 10 * time.Second
	WSPongWait       = 60 * time.Second
	WSPingPeriod     = (WSPongWait * 9) / 10
	WSMaxMessageSize = 1 << 20 // 1 MiB, audio chunks included
	WSSendBufferSize = 64
)

// Event history retention swept by the supervisor
const EventHistoryRetention = 7 * 24 * time.Hour

// Default rate limiting
const DefaultRateLimitPerMin = 30
