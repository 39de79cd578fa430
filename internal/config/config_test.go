package config

import (
	"testing"
	"time"
)

// clearEnv blanks every variable the loader reads so host environment
// cannot leak into assertions.
func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"PORT", "READ_TIMEOUT", "READ_HEADER_TIMEOUT", "WRITE_TIMEOUT", "IDLE_TIMEOUT",
		"MAX_HEADER_BYTES", "GIN_MODE", "LOG_LEVEL", "LOG_PRETTY", "DB_PATH",
		"NODE_URL", "WALLET_ID", "WORK_BACKOFF", "BOT_ID", "MIN_TIP",
		"DISPATCH_WORKERS", "DISPATCH_QUEUE", "NOTIFY_URL", "NOTIFY_TOKEN",
		"RATE_RPS", "RATE_BURST", "CORS_ALLOWED_ORIGINS",
		"OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_INSECURE",
		"OTEL_SERVICE_NAME", "OTEL_TRACES_SAMPLER_ARG",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.GinMode != "release" {
		t.Errorf("GinMode = %q", cfg.GinMode)
	}
	if cfg.DBPath != "tipbot.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.NodeURL != "http://localhost:9076" {
		t.Errorf("NodeURL = %q", cfg.NodeURL)
	}
	if cfg.WorkBackoff != 2*time.Second {
		t.Errorf("WorkBackoff = %v", cfg.WorkBackoff)
	}
	if cfg.MinTip.String() != "0.01" {
		t.Errorf("MinTip = %s", cfg.MinTip)
	}
	if cfg.Workers != 8 || cfg.QueueSize != 256 {
		t.Errorf("Workers/QueueSize = %d/%d", cfg.Workers, cfg.QueueSize)
	}
	if !cfg.OTEL.Insecure || cfg.OTEL.Enabled {
		t.Errorf("OTEL = %+v", cfg.OTEL)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9999")
	t.Setenv("LOG_LEVEL", "warning") // normalized to warn
	t.Setenv("GIN_MODE", "bogus")    // normalized to release
	t.Setenv("MIN_TIP", "0.5")
	t.Setenv("BOT_ID", "123456")
	t.Setenv("WORK_BACKOFF", "250ms")
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9999" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.GinMode != "release" {
		t.Errorf("GinMode = %q", cfg.GinMode)
	}
	if cfg.MinTip.String() != "0.5" {
		t.Errorf("MinTip = %s", cfg.MinTip)
	}
	if cfg.BotID != 123456 {
		t.Errorf("BotID = %d", cfg.BotID)
	}
	if cfg.WorkBackoff != 250*time.Millisecond {
		t.Errorf("WorkBackoff = %v", cfg.WorkBackoff)
	}
	if !cfg.LogPretty {
		t.Error("LogPretty = false")
	}
	if len(cfg.CORS.AllowedOrigins) != 2 || cfg.CORS.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("AllowedOrigins = %v", cfg.CORS.AllowedOrigins)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		key  string
		val  string
	}{
		{"bad log level", "LOG_LEVEL", "loud"},
		{"negative rps", "RATE_RPS", "-1"},
		{"zero burst", "RATE_BURST", "0"},
		{"negative min tip", "MIN_TIP", "-0.5"},
		{"min tip below one raw unit", "MIN_TIP", "0.001"},
		{"zero workers", "DISPATCH_WORKERS", "0"},
		{"zero queue", "DISPATCH_QUEUE", "0"},
		{"sampler out of range", "OTEL_TRACES_SAMPLER_ARG", "1.5"},
		{"bad read timeout", "READ_TIMEOUT", "-1s"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.key, tc.val)
			if _, err := Load(); err == nil {
				t.Fatalf("%s=%s: want validation error", tc.key, tc.val)
			}
		})
	}
}

func TestBadValuesFallBackToDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_HEADER_BYTES", "not-a-number")
	t.Setenv("MIN_TIP", "not-a-decimal")
	t.Setenv("LOG_PRETTY", "maybe")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxHeaderBytes != 1<<20 {
		t.Errorf("MaxHeaderBytes = %d", cfg.MaxHeaderBytes)
	}
	if cfg.MinTip.String() != "0.01" {
		t.Errorf("MinTip = %s", cfg.MinTip)
	}
	if cfg.LogPretty {
		t.Error("unparsable bool must keep the default")
	}
}

func TestMustLoadPanicsOnInvalid(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "loud")
	defer func() {
		if recover() == nil {
			t.Fatal("MustLoad did not panic")
		}
	}()
	MustLoad()
}
