package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultTargetURL   = "https://www.plugshare.com/"
	DefaultEndpoint    = "/locations/region"
	DefaultIdleTimeout = 5 * time.Second
	DefaultOutputDir   = "responses"
)

// Config contains the session configuration provided via flags. It is built
// once by ParseFlags and passed around by value.
type Config struct {
	TargetURL   string
	Endpoint    string
	IdleTimeout time.Duration
	OutputDir   string
	// Timeout bounds the whole session. Zero means no limit.
	Timeout   time.Duration
	Headless  bool
	Proxy     string
	Insecure  bool
	Cookies   string
	UserAgent string
	ExecPath  string
	LogLevel  string
	LogFile   string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		TargetURL:   DefaultTargetURL,
		Endpoint:    DefaultEndpoint,
		IdleTimeout: DefaultIdleTimeout,
		OutputDir:   DefaultOutputDir,
		Headless:    true,
		LogLevel:    "info",
	}
}

// Validate reports the first problem with cfg.
func (c Config) Validate() error {
	if strings.TrimSpace(c.TargetURL) == "" {
		return errors.New("-u/--url is required")
	}
	u, err := url.Parse(c.TargetURL)
	if err != nil {
		return fmt.Errorf("invalid --url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("--url must be an http or https URL, got %q", c.TargetURL)
	}
	if c.Endpoint == "" {
		return errors.New("-e/--endpoint must not be empty")
	}
	if c.IdleTimeout <= 0 {
		return errors.New("--idle must be positive")
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return errors.New("-o/--output-dir must not be empty")
	}
	if c.Timeout < 0 {
		return errors.New("--timeout must be at least 0")
	}
	return nil
}

// ParseFlags parses CLI flags into a Config value.
func ParseFlags() (Config, error) {
	cfg := Default()

	flag.Usage = func() {
		out := flag.CommandLine.Output()
		fmt.Fprintf(out, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintln(out, "Options:")

		printOption(out, "url", "u", "string", "Page to load in the browser.", cfg.TargetURL)
		printOption(out, "endpoint", "e", "string", "Capture responses whose request URL contains this substring.", cfg.Endpoint)
		printOption(out, "idle", "", "duration", "Network quiet period that ends the session (e.g. 5s, or 5000 for milliseconds).", cfg.IdleTimeout.String())
		printOption(out, "output-dir", "o", "string", "Directory receiving captured responses. Its contents are removed on start.", cfg.OutputDir)
		printOption(out, "timeout", "t", "duration", "Abort the whole session after this long (0 disables the limit).", "")
		printOption(out, "headless", "", "", "Run the browser without a window.", strconv.FormatBool(cfg.Headless))
		printOption(out, "proxy", "", "string", "Route browser traffic through the provided proxy (e.g. http://127.0.0.1:8080).", "")
		printOption(out, "insecure", "", "", "Ignore TLS certificate errors in the browser.", "")
		printOption(out, "cookies", "c", "string", "Cookie header sent with every browser request.", "")
		printOption(out, "user-agent", "", "string", "User-Agent header sent with every browser request.", "")
		printOption(out, "exec-path", "", "string", "Browser executable. Defaults to CHROMEDP_EXEC_PATH or a Chromium found in PATH.", "")
		printOption(out, "log-level", "", "string", "Log level (debug, info, warn, error).", cfg.LogLevel)
		printOption(out, "log-file", "", "string", "Also write logs to this file, rotated by size.", "")
	}

	flag.StringVar(&cfg.TargetURL, "url", cfg.TargetURL, "Page to load in the browser.")
	registerStringAlias("u", "url", &cfg.TargetURL)

	flag.StringVar(&cfg.Endpoint, "endpoint", cfg.Endpoint, "Capture responses whose request URL contains this substring.")
	registerStringAlias("e", "endpoint", &cfg.Endpoint)

	flag.Var(&durationValue{target: &cfg.IdleTimeout, unit: time.Millisecond}, "idle", "Network quiet period that ends the session (e.g. 5s, or 5000 for milliseconds).")

	flag.StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "Directory receiving captured responses. Its contents are removed on start.")
	registerStringAlias("o", "output-dir", &cfg.OutputDir)

	flag.Var(&durationValue{target: &cfg.Timeout, unit: time.Second}, "timeout", "Abort the whole session after this long (0 disables the limit).")
	registerDurationAlias("t", "timeout", &cfg.Timeout, time.Second)

	flag.BoolVar(&cfg.Headless, "headless", cfg.Headless, "Run the browser without a window.")

	flag.StringVar(&cfg.Proxy, "proxy", "", "Route browser traffic through the provided proxy (e.g. http://127.0.0.1:8080).")

	flag.BoolVar(&cfg.Insecure, "insecure", false, "Ignore TLS certificate errors in the browser.")

	flag.StringVar(&cfg.Cookies, "cookies", "", "Cookie header sent with every browser request.")
	registerStringAlias("c", "cookies", &cfg.Cookies)

	flag.StringVar(&cfg.UserAgent, "user-agent", "", "User-Agent header sent with every browser request.")
	flag.StringVar(&cfg.ExecPath, "exec-path", "", "Browser executable. Defaults to CHROMEDP_EXEC_PATH or a Chromium found in PATH.")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error).")
	flag.StringVar(&cfg.LogFile, "log-file", "", "Also write logs to this file, rotated by size.")

	if err := flag.CommandLine.Parse(os.Args[1:]); err != nil {
		return cfg, err
	}

	if flag.NArg() > 0 {
		return cfg, fmt.Errorf("unexpected arguments: %s", strings.Join(flag.Args(), " "))
	}

	cfg.TargetURL = strings.TrimSpace(cfg.TargetURL)
	cfg.OutputDir = strings.TrimSpace(cfg.OutputDir)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func registerStringAlias(name, canonical string, target *string) {
	flag.CommandLine.Var(&stringAlias{target: target}, name, fmt.Sprintf("Alias for --%s", canonical))
}

func registerDurationAlias(name, canonical string, target *time.Duration, unit time.Duration) {
	flag.CommandLine.Var(&durationValue{target: target, unit: unit}, name, fmt.Sprintf("Alias for --%s", canonical))
}

func printOption(out io.Writer, primary, alias, value, description, defaultValue string) {
	line := fmt.Sprintf("  -%s", primary)
	if alias != "" {
		line += fmt.Sprintf(" (-%s)", alias)
	}
	if value != "" {
		line += " " + value
	}
	if defaultValue != "" {
		line += fmt.Sprintf(" (default %s)", defaultValue)
	}

	fmt.Fprintln(out, line)
	fmt.Fprintf(out, "        %s\n", description)
}

type stringAlias struct {
	target *string
}

func (s *stringAlias) Set(value string) error {
	*s.target = value
	return nil
}

func (s *stringAlias) String() string {
	if s.target == nil {
		return ""
	}
	return *s.target
}

// durationValue accepts Go duration strings or bare integers counted in unit.
type durationValue struct {
	target *time.Duration
	unit   time.Duration
}

func (d *durationValue) Set(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return errors.New("duration flag requires a value")
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		n, convErr := strconv.Atoi(value)
		if convErr != nil {
			return err
		}
		*d.target = time.Duration(n) * d.unit
		return nil
	}

	*d.target = parsed
	return nil
}

func (d *durationValue) String() string {
	if d.target == nil {
		return ""
	}
	return d.target.String()
}
