package main

import (
	"crypto/tls"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

type config struct {
	Port     string
	Debug    bool
	JSONLogs bool

	Backend      string
	StorageConn  string
	RoomsTable   string
	RedisConn    string
	RoomCacheTTL time.Duration

	EventsQueue          string
	EventsWorkers        int
	EventsBuffer         int
	EventsHandoffTimeout time.Duration
	EventsEnqueueTimeout time.Duration

	RoomIdleTTL time.Duration
	RoomInbox   int

	SendBuffer   int
	SessionRate  float64
	SessionBurst int

	CORSOrigins   []string
	TemplatesFile string

	IdentitySecret string
	IdentityTTL    time.Duration

	TraceSpans bool
}

func loadConfig() config {
	cfg := config{
		Port:     envString("PORT", "8080"),
		Debug:    envBool("DEBUG"),
		JSONLogs: strings.EqualFold(os.Getenv("LOG_FORMAT"), "json"),

		Backend:      strings.ToLower(envString("STORAGE_BACKEND", "memory")),
		StorageConn:  os.Getenv("STORAGE_CONNECTION_STRING"),
		RoomsTable:   envString("ROOMS_TABLE", "rooms"),
		RedisConn:    os.Getenv("REDIS_CONNECTION_STRING"),
		RoomCacheTTL: envDur("ROOM_CACHE_TTL", time.Minute),

		EventsQueue:          os.Getenv("EVENTS_QUEUE"),
		EventsWorkers:        envInt("EVENTS_WORKERS", 4),
		EventsBuffer:         envInt("EVENTS_BUFFER", 1024),
		EventsHandoffTimeout: envDur("EVENTS_HANDOFF_TIMEOUT", 10*time.Millisecond),
		EventsEnqueueTimeout: envDur("EVENTS_ENQUEUE_TIMEOUT", 30*time.Second),

		RoomIdleTTL: envDur("ROOM_IDLE_TTL", 10*time.Minute),
		RoomInbox:   envInt("ROOM_INBOX", 256),

		SendBuffer:   envInt("SESSION_SEND_BUFFER", 32),
		SessionRate:  envFloat("SESSION_RATE", 20),
		SessionBurst: envInt("SESSION_BURST", 40),

		CORSOrigins:   envList("CORS_ORIGINS", []string{"*"}),
		TemplatesFile: os.Getenv("TEMPLATES_FILE"),

		IdentitySecret: os.Getenv("IDENTITY_SECRET"),
		IdentityTTL:    envDur("IDENTITY_TTL", 24*time.Hour),

		TraceSpans: envBool("TRACE_SPANS"),
	}

	switch cfg.Backend {
	case "memory":
	case "redis":
		if cfg.RedisConn == "" {
			log.Fatal("missing redis config")
		}
	case "tables":
		if cfg.StorageConn == "" {
			log.Fatal("missing storage config")
		}
	default:
		log.Fatalf("invalid STORAGE_BACKEND: %q", cfg.Backend)
	}
	if cfg.EventsQueue != "" && cfg.StorageConn == "" {
		log.Fatal("EVENTS_QUEUE requires STORAGE_CONNECTION_STRING")
	}
	return cfg
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	if n <= 0 {
		log.Fatalf("invalid %s: must be greater than zero", key)
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		log.Fatalf("invalid %s: %v", key, v)
	}
	return f
}

func envDur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Fatalf("invalid %s: %v", key, v)
	}
	return d
}

func envList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// redisOptions accepts a redis:// URL or an Azure-style
// "host:port,password=...,ssl=True" connection string.
func redisOptions(conn string) *redis.Options {
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
