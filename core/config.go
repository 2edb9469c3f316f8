package core

import (
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host string
		Addr string
	}

	SessionConfig struct {
		// GuardTimeout bounds how long the access guard waits for the
		// session to finish resolving before treating it as expired.
		GuardTimeout time.Duration
		// LoginSettleDelay is applied before reloading the profile on a
		// login broadcast, so the credential write settles first.
		LoginSettleDelay time.Duration
		// LogoutRedirectDelay is applied before an auth failure collapses
		// the session state, so logout listeners run first.
		LogoutRedirectDelay time.Duration
	}

	CreditsConfig struct {
		// SimulatedLatency is applied to client-local top-up flows.
		SimulatedLatency time.Duration
		// BackendMutations routes the simulated membership flows through
		// the backend once their consistency semantics are clarified.
		BackendMutations bool
	}

	CredStoreConfig struct {
		Backend     string // memory | redis | postgres
		RedisAddr   string
		RedisDB     int
		DatabaseURL string
	}

	Config struct {
		AppName  string
		Env      string
		Debug    bool
		TestMode bool
		Build    string

		BackendBaseURL   string
		BackendTimeout   time.Duration
		FrontendBaseURL  string
		LoginPath        string
		UnauthorizedPath string

		RollbarToken string

		Server    ServerConfig
		Session   SessionConfig
		Credits   CreditsConfig
		CredStore CredStoreConfig
	}
)

func NewConfig() *Config {
	conf := viper.New()

	// defaults
	conf.SetTypeByDefaultValue(true)
	conf.SetDefault("appName", "Athena Portal")
	conf.SetDefault("debug", true)
	conf.SetDefault("build", "dev")
	conf.SetDefault("backendBaseURL", "http://localhost:8080")
	conf.SetDefault("backendTimeout", 15*time.Second)
	conf.SetDefault("frontendBaseURL", "http://localhost:3000")
	conf.SetDefault("loginPath", "/login")
	conf.SetDefault("unauthorizedPath", "/unauthorized")
	conf.SetDefault("serverHost", "localhost")
	conf.SetDefault("serverAddr", ":8000")
	conf.SetDefault("guardTimeout", 10*time.Second)
	conf.SetDefault("loginSettleDelay", 500*time.Millisecond)
	conf.SetDefault("logoutRedirectDelay", 150*time.Millisecond)
	conf.SetDefault("creditsSimulatedLatency", time.Second)
	conf.SetDefault("creditsBackendMutations", false)
	conf.SetDefault("credStoreBackend", "memory")
	conf.SetDefault("credStoreRedisAddr", "localhost:6379")
	conf.SetDefault("credStoreRedisDB", 0)
	conf.SetDefault("databaseURL", "")
	conf.SetDefault("rollbarToken", "")

	env := os.Getenv("ENV") // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		conf.SetDefault("testMode", true)
	}
	conf.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(Getwd(), "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	return &Config{
		AppName:  conf.GetString("appName"),
		Env:      env,
		Debug:    conf.GetBool("debug"),
		TestMode: conf.GetBool("testMode"),
		Build:    conf.GetString("build"),

		BackendBaseURL:   conf.GetString("backendBaseURL"),
		BackendTimeout:   conf.GetDuration("backendTimeout"),
		FrontendBaseURL:  conf.GetString("frontendBaseURL"),
		LoginPath:        conf.GetString("loginPath"),
		UnauthorizedPath: conf.GetString("unauthorizedPath"),

		RollbarToken: conf.GetString("rollbarToken"),

		Server: ServerConfig{
			Host: conf.GetString("serverHost"),
			Addr: conf.GetString("serverAddr"),
		},
		Session: SessionConfig{
			GuardTimeout:        conf.GetDuration("guardTimeout"),
			LoginSettleDelay:    conf.GetDuration("loginSettleDelay"),
			LogoutRedirectDelay: conf.GetDuration("logoutRedirectDelay"),
		},
		Credits: CreditsConfig{
			SimulatedLatency: conf.GetDuration("creditsSimulatedLatency"),
			BackendMutations: conf.GetBool("creditsBackendMutations"),
		},
		CredStore: CredStoreConfig{
			Backend:     conf.GetString("credStoreBackend"),
			RedisAddr:   conf.GetString("credStoreRedisAddr"),
			RedisDB:     conf.GetInt("credStoreRedisDB"),
			DatabaseURL: conf.GetString("databaseURL"),
		},
	}
}

// LoginURL builds the frontend login URL with an optional return path and reason.
func (c *Config) LoginURL(next, reason string) string {
	v := make(url.Values)
	if next != "" {
		v.Set("next", next)
	}
	if reason != "" {
		v.Set("reason", reason)
	}
	u := c.FrontendBaseURL + c.LoginPath
	if len(v) > 0 {
		u += "?" + v.Encode()
	}
	return u
}

// UnauthorizedURL points at the frontend page shown on role-check failures.
func (c *Config) UnauthorizedURL() string {
	return c.FrontendBaseURL + c.UnauthorizedPath
}
