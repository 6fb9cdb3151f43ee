package params

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Chain holds the Soroban connection parameters. An empty AdminSecretKey
// selects the mock submitter.
type Chain struct {
	ContractID        string
	RPCURL            string
	NetworkPassphrase string
	AdminSecretKey    string
	StartLedger       uint32
	PollInterval      time.Duration
	SubmitTimeout     time.Duration
	InitialNonce      uint64
}

type API struct {
	Listen string
}

type Config struct {
	Chain   Chain
	API     API
	LogFile string
}

func Default() Config {
	return Config{
		Chain: Chain{
			ContractID:        "CDNTW7OWJF7LYWERWLQMUUCUIR5Q4XMFSXCHALRS3V3SN5KRDSCJT2DY",
			RPCURL:            "https://soroban-testnet.stellar.org",
			NetworkPassphrase: "Test SDF Network ; September 2015",
			PollInterval:      5 * time.Second,
			SubmitTimeout:     60 * time.Second,
		},
		API: API{
			Listen: ":8000",
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
		_ = godotenv.Load()
	}

	if v := os.Getenv("ORDERBOOK_CONTRACT_ID"); v != "" {
		cfg.Chain.ContractID = v
	}
	if v := os.Getenv("SOROBAN_RPC_URL"); v != "" {
		cfg.Chain.RPCURL = v
	}
	if v := os.Getenv("NETWORK_PASSPHRASE"); v != "" {
		cfg.Chain.NetworkPassphrase = v
	}
	if v := os.Getenv("ADMIN_SECRET_KEY"); v != "" {
		cfg.Chain.AdminSecretKey = v
	}
	if v := os.Getenv("START_LEDGER"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Chain.StartLedger = uint32(n)
		}
	}
	if v := os.Getenv("EVENT_POLL_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Chain.PollInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("SUBMIT_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Chain.SubmitTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("INITIAL_NONCE"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Chain.InitialNonce = n
		}
	}
	if v := os.Getenv("API_LISTEN"); v != "" {
		cfg.API.Listen = v
	}
	cfg.LogFile = os.Getenv("LOG_FILE")

	return cfg
}
