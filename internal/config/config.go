package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Host kinds selectable through AWC_HOST.
const (
	HostChrome = "chrome"
	HostSocket = "socket"
)

// RuntimeConfig is the resolved configuration: defaults, overlaid by the
// config file, overlaid by environment variables.
type RuntimeConfig struct {
	WalletURL string
	AppName   string
	AppLogo   string
	Origin    string
	Session   string

	HostKind       string
	RequestTimeout time.Duration
	KeepPopup      bool
	PopupPoll      time.Duration
	AutoCloseDelay time.Duration

	// Chrome host.
	CdpURL           string
	ChromeBinary     string
	ChromeExtraFlags string
	ProfileDir       string
	Headless         bool
	PopupWidth       int
	PopupHeight      int

	// Socket host.
	Bind string
	Port string

	StateDir        string
	ShutdownTimeout time.Duration
}

func (c *RuntimeConfig) ListenAddr() string {
	return c.Bind + ":" + c.Port
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func envBoolOr(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func homeDir() string {
	h, _ := os.UserHomeDir()
	return h
}

// FileConfig is the on-disk shape. Pointer fields distinguish "absent"
// from zero values.
type FileConfig struct {
	WalletURL string `yaml:"walletUrl,omitempty"`
	AppName   string `yaml:"appName,omitempty"`
	AppLogo   string `yaml:"appLogo,omitempty"`
	Origin    string `yaml:"origin,omitempty"`

	Host       string `yaml:"host,omitempty"`
	TimeoutSec int    `yaml:"timeoutSec,omitempty"`
	KeepPopup  *bool  `yaml:"keepPopup,omitempty"`

	CdpURL     string `yaml:"cdpUrl,omitempty"`
	ProfileDir string `yaml:"profileDir,omitempty"`
	Headless   *bool  `yaml:"headless,omitempty"`

	Bind string `yaml:"bind,omitempty"`
	Port string `yaml:"port,omitempty"`

	StateDir string `yaml:"stateDir,omitempty"`
}

// Load resolves the runtime configuration. Environment variables always
// win over the config file; the file wins over built-in defaults.
func Load() *RuntimeConfig {
	cfg := &RuntimeConfig{
		WalletURL: envOr("AWC_WALLET_URL", "https://arweave.app"),
		AppName:   os.Getenv("AWC_APP_NAME"),
		AppLogo:   os.Getenv("AWC_APP_LOGO"),
		Origin:    os.Getenv("AWC_ORIGIN"),
		Session:   os.Getenv("AWC_SESSION"),

		HostKind:       envOr("AWC_HOST", HostChrome),
		RequestTimeout: time.Duration(envIntOr("AWC_TIMEOUT", 60)) * time.Second,
		KeepPopup:      envBoolOr("AWC_KEEP_POPUP", false),
		PopupPoll:      time.Duration(envIntOr("AWC_POPUP_POLL_MS", 200)) * time.Millisecond,
		AutoCloseDelay: time.Duration(envIntOr("AWC_AUTO_CLOSE_MS", 100)) * time.Millisecond,

		CdpURL:           os.Getenv("CDP_URL"),
		ChromeBinary:     os.Getenv("CHROME_BINARY"),
		ChromeExtraFlags: os.Getenv("CHROME_FLAGS"),
		ProfileDir:       envOr("AWC_PROFILE", filepath.Join(homeDir(), ".awc", "chrome-profile")),
		Headless:         envBoolOr("AWC_HEADLESS", true),
		PopupWidth:       envIntOr("AWC_POPUP_WIDTH", 480),
		PopupHeight:      envIntOr("AWC_POPUP_HEIGHT", 720),

		Bind: envOr("AWC_BIND", "127.0.0.1"),
		Port: envOr("AWC_PORT", "9787"),

		StateDir:        envOr("AWC_STATE_DIR", filepath.Join(homeDir(), ".awc")),
		ShutdownTimeout: 10 * time.Second,
	}

	configPath := envOr("AWC_CONFIG", filepath.Join(homeDir(), ".awc", "config.yaml"))

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg
	}

	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return cfg
	}

	if fc.WalletURL != "" && os.Getenv("AWC_WALLET_URL") == "" {
		cfg.WalletURL = fc.WalletURL
	}
	if fc.AppName != "" && os.Getenv("AWC_APP_NAME") == "" {
		cfg.AppName = fc.AppName
	}
	if fc.AppLogo != "" && os.Getenv("AWC_APP_LOGO") == "" {
		cfg.AppLogo = fc.AppLogo
	}
	if fc.Origin != "" && os.Getenv("AWC_ORIGIN") == "" {
		cfg.Origin = fc.Origin
	}
	if fc.Host != "" && os.Getenv("AWC_HOST") == "" {
		cfg.HostKind = fc.Host
	}
	if fc.TimeoutSec > 0 && os.Getenv("AWC_TIMEOUT") == "" {
		cfg.RequestTimeout = time.Duration(fc.TimeoutSec) * time.Second
	}
	if fc.KeepPopup != nil && os.Getenv("AWC_KEEP_POPUP") == "" {
		cfg.KeepPopup = *fc.KeepPopup
	}
	if fc.CdpURL != "" && os.Getenv("CDP_URL") == "" {
		cfg.CdpURL = fc.CdpURL
	}
	if fc.ProfileDir != "" && os.Getenv("AWC_PROFILE") == "" {
		cfg.ProfileDir = fc.ProfileDir
	}
	if fc.Headless != nil && os.Getenv("AWC_HEADLESS") == "" {
		cfg.Headless = *fc.Headless
	}
	if fc.Bind != "" && os.Getenv("AWC_BIND") == "" {
		cfg.Bind = fc.Bind
	}
	if fc.Port != "" && os.Getenv("AWC_PORT") == "" {
		cfg.Port = fc.Port
	}
	if fc.StateDir != "" && os.Getenv("AWC_STATE_DIR") == "" {
		cfg.StateDir = fc.StateDir
	}

	return cfg
}

func DefaultFileConfig() FileConfig {
	h := true
	return FileConfig{
		WalletURL:  "https://arweave.app",
		Host:       HostChrome,
		TimeoutSec: 60,
		ProfileDir: filepath.Join(homeDir(), ".awc", "chrome-profile"),
		Headless:   &h,
		Bind:       "127.0.0.1",
		Port:       "9787",
		StateDir:   filepath.Join(homeDir(), ".awc"),
	}
}

// HandleConfigCommand implements `awc config init|show`.
func HandleConfigCommand(cfg *RuntimeConfig) {
	if len(os.Args) < 3 {
		fmt.Println("Usage: awc config <command>")
		fmt.Println("Commands:")
		fmt.Println("  init    - Create default config file")
		fmt.Println("  show    - Show current configuration")
		return
	}

	switch os.Args[2] {
	case "init":
		configPath := filepath.Join(homeDir(), ".awc", "config.yaml")

		if _, err := os.Stat(configPath); err == nil {
			fmt.Printf("Config file already exists at %s\n", configPath)
			fmt.Print("Overwrite? (y/N): ")
			var response string
			_, _ = fmt.Scanln(&response)
			if response != "y" && response != "Y" {
				return
			}
		}

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			fmt.Printf("Error creating directory: %v\n", err)
			os.Exit(1)
		}

		fc := DefaultFileConfig()
		data, _ := yaml.Marshal(fc)
		if err := os.WriteFile(configPath, data, 0644); err != nil {
			fmt.Printf("Error writing config: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Config file created at %s\n", configPath)

	case "show":
		fmt.Println("Current configuration:")
		fmt.Printf("  Wallet URL:  %s\n", cfg.WalletURL)
		fmt.Printf("  Host:        %s\n", cfg.HostKind)
		fmt.Printf("  Origin:      %s\n", cfg.Origin)
		fmt.Printf("  App:         %s\n", cfg.AppName)
		fmt.Printf("  Timeout:     %v\n", cfg.RequestTimeout)
		fmt.Printf("  Keep Popup:  %v\n", cfg.KeepPopup)
		fmt.Printf("  CDP URL:     %s\n", cfg.CdpURL)
		fmt.Printf("  Profile:     %s\n", cfg.ProfileDir)
		fmt.Printf("  Headless:    %v\n", cfg.Headless)
		fmt.Printf("  Listen:      %s\n", cfg.ListenAddr())
		fmt.Printf("  State Dir:   %s\n", cfg.StateDir)

	default:
		fmt.Printf("Unknown command: %s\n", os.Args[2])
		os.Exit(1)
	}
}
