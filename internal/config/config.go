package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Screening policies.
const (
	// PolicyChallengeUnknown screens callers missing from the customer directory.
	PolicyChallengeUnknown = "challenge-unknown"
	// PolicyVerifyAll treats every caller as verified.
	PolicyVerifyAll = "verify-all"
)

// Record backends.
const (
	RecordsMemory   = "memory"
	RecordsSQLite   = "sqlite"
	RecordsPostgres = "postgres"
)

// Config holds the service configuration
type Config struct {
	// SIP settings
	Port          int
	BindAddr      string // Address to bind for listening
	AdvertiseAddr string // Address to advertise in SIP headers and SDP
	Domain        string // Domain used for transfer targets
	LogLevel      string
	NodeID        string

	// Registrar settings; registration is skipped when Registrar is empty
	Registrar      string
	SIPUser        string
	SIPPassword    string
	RegisterExpiry time.Duration

	// RTP port range
	RTPPortMin int
	RTPPortMax int

	// Realtime AI
	RealtimeURL   string
	RealtimeModel string
	RealtimeVoice string
	RealtimeKey   string

	// Call handling
	ScreeningPolicy   string
	FlushThreshold    int
	FlushDelay        time.Duration
	TransferDelay     time.Duration
	MaxCallDuration   time.Duration
	ApologyPromptPath string

	// Admission: calls per minute per caller number
	AdmissionPerMinute float64
	AdmissionBurst     int

	// Directories
	CustomersPath   string
	AgentsPath      string
	BlocklistPath   string
	DepartmentsPath string

	// Records backend
	RecordsBackend string
	RecordsDSN     string
	RecordsLatency time.Duration

	// Operations
	APIAddr       string
	GRPCAddr      string
	JWTSecret     string
	RedisAddr     string
	RedisPassword string
	OTLPEndpoint  string
}

// Load loads configuration from command line flags and environment variables
func Load() (*Config, error) {
	return LoadFrom(flag.CommandLine, os.Args[1:], os.Getenv)
}

// LoadFrom parses args into fs and applies overrides from getenv.
func LoadFrom(fs *flag.FlagSet, args []string, getenv func(string) string) (*Config, error) {
	cfg := &Config{}

	fs.IntVar(&cfg.Port, "port", 5060, "SIP listening port")
	fs.StringVar(&cfg.BindAddr, "bind", "0.0.0.0", "SIP bind address")
	fs.StringVar(&cfg.AdvertiseAddr, "advertise", "", "Address to advertise in SIP headers (auto-detected if not set)")
	fs.StringVar(&cfg.Domain, "domain", "", "SIP domain for transfer targets (defaults to the advertise address)")
	fs.StringVar(&cfg.LogLevel, "loglevel", "debug", "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.NodeID, "node", "", "Node identifier used in events (defaults to hostname)")

	fs.StringVar(&cfg.Registrar, "registrar", "", "SIP registrar host:port (empty disables registration)")
	fs.StringVar(&cfg.SIPUser, "sip-user", "frontdesk", "SIP user for registration")
	fs.StringVar(&cfg.SIPPassword, "sip-password", "", "SIP password for registration")
	fs.DurationVar(&cfg.RegisterExpiry, "register-expiry", time.Hour, "Requested registration expiry")

	fs.IntVar(&cfg.RTPPortMin, "rtp-min", 10000, "First RTP port")
	fs.IntVar(&cfg.RTPPortMax, "rtp-max", 20000, "Last RTP port")

	fs.StringVar(&cfg.RealtimeURL, "realtime-url", "wss://api.openai.com/v1/realtime", "Realtime AI websocket endpoint")
	fs.StringVar(&cfg.RealtimeModel, "realtime-model", "gpt-4o-realtime-preview-2024-10-01", "Realtime AI model")
	fs.StringVar(&cfg.RealtimeVoice, "realtime-voice", "alloy", "Realtime AI voice")

	fs.StringVar(&cfg.ScreeningPolicy, "screening", PolicyChallengeUnknown, "Screening policy (challenge-unknown, verify-all)")
	fs.IntVar(&cfg.FlushThreshold, "flush-threshold", 5, "AI audio fragments accumulated before playback")
	fs.DurationVar(&cfg.FlushDelay, "flush-delay", 500*time.Millisecond, "Maximum wait before flushing AI audio")
	fs.DurationVar(&cfg.TransferDelay, "transfer-delay", 2*time.Second, "Delay between transfer acknowledgement and REFER")
	fs.DurationVar(&cfg.MaxCallDuration, "max-call-duration", time.Hour, "Calls older than this are hung up")
	fs.StringVar(&cfg.ApologyPromptPath, "apology-prompt", "resources/prompts/apology.wav", "WAV prompt played when the AI session is lost")

	fs.Float64Var(&cfg.AdmissionPerMinute, "admission-rate", 6, "Calls per minute allowed per caller number (0 disables)")
	fs.IntVar(&cfg.AdmissionBurst, "admission-burst", 3, "Burst of calls allowed per caller number")

	fs.StringVar(&cfg.CustomersPath, "customers", "resources/config/customers.json", "Customer directory file (.json, .yaml, .xlsx)")
	fs.StringVar(&cfg.AgentsPath, "agents", "resources/config/agents.json", "Agent directory file (.json, .yaml, .xlsx)")
	fs.StringVar(&cfg.BlocklistPath, "blocklist", "", "Blocked numbers file (built-in list when empty)")
	fs.StringVar(&cfg.DepartmentsPath, "departments", "", "Department extensions file (built-in map when empty)")

	fs.StringVar(&cfg.RecordsBackend, "records", RecordsMemory, "Record backend (memory, sqlite, postgres)")
	fs.StringVar(&cfg.RecordsDSN, "records-dsn", "", "Record backend DSN")
	fs.DurationVar(&cfg.RecordsLatency, "records-latency", 0, "Simulated latency for the memory backend")

	fs.StringVar(&cfg.APIAddr, "api", ":8080", "HTTP API listen address (empty disables)")
	fs.StringVar(&cfg.GRPCAddr, "grpc", ":9090", "gRPC health listen address (empty disables)")
	fs.StringVar(&cfg.RedisAddr, "redis", "", "Redis address for event publishing (empty disables)")
	fs.StringVar(&cfg.OTLPEndpoint, "otlp", "", "OTLP gRPC endpoint for metrics and traces (empty disables)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Override with environment variables if set
	envInt(getenv, "PORT", &cfg.Port)
	envString(getenv, "BIND", &cfg.BindAddr)
	envString(getenv, "ADVERTISE", &cfg.AdvertiseAddr)
	envString(getenv, "SIP_DOMAIN", &cfg.Domain)
	envString(getenv, "LOGLEVEL", &cfg.LogLevel)
	envString(getenv, "NODE_ID", &cfg.NodeID)
	envString(getenv, "SIP_REGISTRAR", &cfg.Registrar)
	envString(getenv, "SIP_USER", &cfg.SIPUser)
	envString(getenv, "SIP_PASSWORD", &cfg.SIPPassword)
	envInt(getenv, "RTP_PORT_MIN", &cfg.RTPPortMin)
	envInt(getenv, "RTP_PORT_MAX", &cfg.RTPPortMax)
	envString(getenv, "REALTIME_URL", &cfg.RealtimeURL)
	envString(getenv, "REALTIME_MODEL", &cfg.RealtimeModel)
	envString(getenv, "REALTIME_VOICE", &cfg.RealtimeVoice)
	envString(getenv, "OPENAI_API_KEY", &cfg.RealtimeKey)
	envString(getenv, "GPT_API_KEY", &cfg.RealtimeKey)
	envString(getenv, "SCREENING_POLICY", &cfg.ScreeningPolicy)
	envDuration(getenv, "TRANSFER_DELAY", &cfg.TransferDelay)
	envDuration(getenv, "MAX_CALL_DURATION", &cfg.MaxCallDuration)
	envString(getenv, "APOLOGY_PROMPT", &cfg.ApologyPromptPath)
	envString(getenv, "CUSTOMERS_PATH", &cfg.CustomersPath)
	envString(getenv, "AGENTS_PATH", &cfg.AgentsPath)
	envString(getenv, "BLOCKLIST_PATH", &cfg.BlocklistPath)
	envString(getenv, "DEPARTMENTS_PATH", &cfg.DepartmentsPath)
	envString(getenv, "RECORDS_BACKEND", &cfg.RecordsBackend)
	envString(getenv, "RECORDS_DSN", &cfg.RecordsDSN)
	envString(getenv, "API_ADDR", &cfg.APIAddr)
	envString(getenv, "GRPC_ADDR", &cfg.GRPCAddr)
	envString(getenv, "JWT_SECRET", &cfg.JWTSecret)
	envString(getenv, "REDIS_ADDR", &cfg.RedisAddr)
	envString(getenv, "REDIS_PASSWORD", &cfg.RedisPassword)
	envString(getenv, "OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.OTLPEndpoint)

	// Validate and fallback to auto-detection if invalid
	if cfg.AdvertiseAddr == "" || !isValidAddress(cfg.AdvertiseAddr) {
		cfg.AdvertiseAddr = getPrimaryInterfaceIP()
	}
	if cfg.Domain == "" {
		cfg.Domain = cfg.AdvertiseAddr
	}
	if cfg.NodeID == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.NodeID = host
		} else {
			cfg.NodeID = "frontdesk"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports configuration values that cannot work together.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid SIP port %d", c.Port))
	}
	if c.RTPPortMin <= 0 || c.RTPPortMax > 65535 || c.RTPPortMin >= c.RTPPortMax {
		errs = append(errs, fmt.Errorf("invalid RTP port range %d-%d", c.RTPPortMin, c.RTPPortMax))
	}
	switch c.ScreeningPolicy {
	case PolicyChallengeUnknown, PolicyVerifyAll:
	default:
		errs = append(errs, fmt.Errorf("unknown screening policy %q", c.ScreeningPolicy))
	}
	switch c.RecordsBackend {
	case RecordsMemory:
	case RecordsSQLite, RecordsPostgres:
		if c.RecordsDSN == "" {
			errs = append(errs, fmt.Errorf("records backend %q requires a DSN", c.RecordsBackend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown records backend %q", c.RecordsBackend))
	}
	if c.FlushThreshold < 1 {
		errs = append(errs, fmt.Errorf("flush threshold must be positive, got %d", c.FlushThreshold))
	}
	if c.Registrar != "" && c.SIPUser == "" {
		errs = append(errs, errors.New("registration requires a SIP user"))
	}
	return errors.Join(errs...)
}

func envString(getenv func(string) string, key string, dst *string) {
	if v := getenv(key); v != "" {
		*dst = v
	}
}

func envInt(getenv func(string) string, key string, dst *int) {
	if v := getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func envDuration(getenv func(string) string, key string, dst *time.Duration) {
	if v := getenv(key); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			*dst = d
		}
	}
}

// isValidAddress checks if the address is a valid IP or resolvable hostname
func isValidAddress(addr string) bool {
	if ip := net.ParseIP(addr); ip != nil {
		return true
	}
	if ips, err := net.LookupIP(addr); err == nil && len(ips) > 0 {
		return true
	}
	return false
}

// getPrimaryInterfaceIP detects the primary network interface IP address
func getPrimaryInterfaceIP() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "127.0.0.1"
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}

	return "127.0.0.1"
}
