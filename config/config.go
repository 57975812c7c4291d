package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr         string
	WSAddr       string // empty disables the WebSocket transport
	DBPath       string
	QueueBacklog int
	MaxFrameSize int
}

// Load reads configuration from the environment, seeded from a .env
// file when one is present next to the binary.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:         ":1666",
		WSAddr:       "",
		DBPath:       "chatserv.db",
		QueueBacklog: 512,
		MaxFrameSize: 8 << 20,
	}

	if addr := os.Getenv("CHATSERV_ADDR"); addr != "" {
		cfg.Addr = addr
	}

	if addr := os.Getenv("CHATSERV_WS_ADDR"); addr != "" {
		cfg.WSAddr = addr
	}

	if dbPath := os.Getenv("CHATSERV_DB_PATH"); dbPath != "" {
		cfg.DBPath = dbPath
	}

	if backlogStr := os.Getenv("CHATSERV_QUEUE_BACKLOG"); backlogStr != "" {
		if backlog, err := strconv.Atoi(backlogStr); err == nil && backlog > 0 {
			cfg.QueueBacklog = backlog
		}
	}

	if sizeStr := os.Getenv("CHATSERV_MAX_FRAME"); sizeStr != "" {
		if size, err := strconv.Atoi(sizeStr); err == nil && size > 0 {
			cfg.MaxFrameSize = size
		}
	}

	return cfg
}
