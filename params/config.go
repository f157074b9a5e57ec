package params

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Book holds per-book capacities and fee policy. Capacities are fixed at book
// creation; a full structure rejects further entries rather than growing.
type Book struct {
	Depth         int   // max resting orders per side
	MakerCapacity int   // market maker slot table size
	FeeBps        int64 // taker fee in basis points of proceeds
	// TwapEpoch bounds the TWAP accumulator: the averaging window restarts
	// once this much time has passed.
	TwapEpoch time.Duration
}

type Node struct {
	APIAddr string
	DBPath  string
	LogFile string
}

type Config struct {
	Book Book
	Node Node
}

func Default() Config {
	return Config{
		Book: Book{
			Depth:         128,
			MakerCapacity: 64,
			FeeBps:        15,
			TwapEpoch:     24 * time.Hour,
		},
		Node: Node{
			APIAddr: ":8080",
			DBPath:  "data/clob",
			LogFile: "data/clob.log",
		},
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

	if v := os.Getenv("BOOK_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Book.Depth = n
		}
	}
	if v := os.Getenv("BOOK_MAKER_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Book.MakerCapacity = n
		}
	}
	if v := os.Getenv("BOOK_FEE_BPS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			cfg.Book.FeeBps = n
		}
	}
	if v := os.Getenv("BOOK_TWAP_EPOCH_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Book.TwapEpoch = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.Node.APIAddr = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Node.DBPath = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Node.LogFile = v
	}

	return cfg
}
