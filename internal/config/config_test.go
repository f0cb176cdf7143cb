package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load("", envMap(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Backend != BackendMemory || cfg.Events.Broker != BrokerNone {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Transfer.MaxRetries != 5 || cfg.Transfer.CompensationAttempts != 10 {
		t.Fatalf("transfer defaults = %+v", cfg.Transfer)
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlDoc := `
http:
  addr: ":9090"
store:
  backend: postgres
events:
  broker: kafka
  kafka_brokers: ["k1:9092"]
transfer:
  max_retries: 2
  retry_backoff: 10ms
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := load(path, envMap(map[string]string{
		"HTTP_ADDR":     ":7070",
		"KAFKA_BROKERS": "a:9092, b:9092",
		"DB_USER":       "ledger",
		"DB_PASSWORD":   "pw",
		"DB_HOST":       "db",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.HTTP.Addr != ":7070" {
		t.Errorf("env should override yaml, addr = %q", cfg.HTTP.Addr)
	}
	if cfg.Store.Backend != BackendPostgres {
		t.Errorf("backend = %q", cfg.Store.Backend)
	}
	if got := strings.Join(cfg.Events.KafkaBrokers, ","); got != "a:9092,b:9092" {
		t.Errorf("brokers = %q", got)
	}
	if cfg.Transfer.MaxRetries != 2 || cfg.Transfer.RetryBackoff != 10*time.Millisecond {
		t.Errorf("transfer = %+v", cfg.Transfer)
	}
	if want := "postgres://ledger:pw@db:5432/ledgerflow?sslmode=disable"; cfg.Store.DatabaseURL != want {
		t.Errorf("database url = %q, want %q", cfg.Store.DatabaseURL, want)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown backend", map[string]string{"STORE_BACKEND": "sqlite"}},
		{"unknown broker", map[string]string{"EVENT_BROKER": "nats"}},
		{"kafka without brokers", map[string]string{"EVENT_BROKER": "kafka"}},
		{"bad retries", map[string]string{"TRANSFER_MAX_RETRIES": "many"}},
		{"negative retries", map[string]string{"TRANSFER_MAX_RETRIES": "-1"}},
		{"bad backoff", map[string]string{"TRANSFER_RETRY_BACKOFF": "soon"}},
		{"zero compensation", map[string]string{"COMPENSATION_ATTEMPTS": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := load("", envMap(tt.env)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := load(filepath.Join(t.TempDir(), "nope.yaml"), envMap(nil)); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestTransferOptions(t *testing.T) {
	tc := TransferConfig{MaxRetries: 3, RetryBackoff: time.Millisecond, CompensationAttempts: 4}
	opts := tc.Options(zerolog.Nop())
	if opts.MaxRetries != 3 || opts.RetryBackoff != time.Millisecond || opts.CompensationAttempts != 4 {
		t.Fatalf("options = %+v", opts)
	}
	if opts.Clock == nil || opts.PublishTimeout <= 0 {
		t.Fatal("defaults not carried over")
	}
}

func TestSetupLogger(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	logger := setupLogger(LogConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"message":"shown"`) {
		t.Fatalf("log output = %q", out)
	}
}
