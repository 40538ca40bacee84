package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type HTTP struct {
	Addr        string
	CORSOrigins []string
	// Depth queries are served from the cached snapshot, so handler
	// timeouts can stay tight.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Book struct {
	// DepthLimit is the maximum number of raw levels per side pulled from
	// the engine on each aggregation cycle. Memory/latency trade-off, not
	// a correctness bound.
	DepthLimit int
}

type WS struct {
	// SendBuffer is the per-client outbound queue. A client that cannot
	// drain this many messages is dropped rather than back-pressuring
	// the fan-out path.
	SendBuffer int
	PingPeriod time.Duration
}

type Config struct {
	HTTP    HTTP
	Book    Book
	WS      WS
	LogFile string
	// Markets seeds the symbol registry: "SYMBOL:BASE:QUOTE" triples.
	Markets []string
}

func Default() Config {
	return Config{
		HTTP: HTTP{
			Addr:         ":8080",
			CORSOrigins:  []string{"http://localhost:3000", "http://localhost:3001"},
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Book: Book{
			DepthLimit: 50,
		},
		WS: WS{
			SendBuffer: 256,
			PingPeriod: 54 * time.Second,
		},
		LogFile: "",
		Markets: []string{"BTC-USDT:BTC:USDT", "ETH-USDT:ETH:USDT"},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	if addr := os.Getenv("HTTP_ADDR"); addr != "" {
		cfg.HTTP.Addr = addr
	}

	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.HTTP.CORSOrigins = splitCSV(origins)
	}

	if depth := os.Getenv("DEPTH_LIMIT"); depth != "" {
		if n, err := strconv.Atoi(depth); err == nil && n > 0 {
			cfg.Book.DepthLimit = n
		}
	}

	if buf := os.Getenv("WS_SEND_BUFFER"); buf != "" {
		if n, err := strconv.Atoi(buf); err == nil && n > 0 {
			cfg.WS.SendBuffer = n
		}
	}

	if lf := os.Getenv("LOG_FILE"); lf != "" {
		cfg.LogFile = lf
	}

	if markets := os.Getenv("MARKETS"); markets != "" {
		cfg.Markets = splitCSV(markets)
	}

	return cfg
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
