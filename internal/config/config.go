package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 应用配置
type Config struct {
	Port      string
	DBPath    string
	JWTSecret string

	// ActiveWindow is how long after its last activity a session still counts as active
	ActiveWindow time.Duration
	// RateLimit is the number of requests allowed per client per minute
	RateLimit int
	// AllowedOrigins limits CORS and the map websocket to these origins; empty allows all
	AllowedOrigins []string
}

// Load 加载配置
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = ":8080"
	}

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "./data/sessions.db"
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "your-secret-key-change-in-production"
	}

	activeWindow := 5 * time.Minute
	if v := os.Getenv("SESSIONMAP_ACTIVE_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Printf("[Config] ignoring invalid SESSIONMAP_ACTIVE_WINDOW %q", v)
		} else {
			activeWindow = d
		}
	}

	rateLimit := 600
	if v := os.Getenv("SESSIONMAP_RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			log.Printf("[Config] ignoring invalid SESSIONMAP_RATE_LIMIT %q", v)
		} else {
			rateLimit = n
		}
	}

	var origins []string
	for _, o := range strings.Split(os.Getenv("SESSIONMAP_ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	return &Config{
		Port:           port,
		DBPath:         dbPath,
		JWTSecret:      jwtSecret,
		ActiveWindow:   activeWindow,
		RateLimit:      rateLimit,
		AllowedOrigins: origins,
	}
}
