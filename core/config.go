package core

import (
	"fmt"
	"log"
	"net/mail"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Debug    bool
		TestMode bool
		Env      string // DEV (default), TEST, QA, PROD
		AppName  string
		Build    string
		WorkDir  string

		Source   SourceConfig
		Webhook  WebhookConfig
		Server   ServerConfig
		Database DatabaseConfig

		ShutdownTimeout  time.Duration
		DefaultFromEmail mail.Address
		NotifyEmail      string
		SendgridApiKey   string
		RollbarToken     string
	}

	// SourceConfig describes the externally-mutated spreadsheet this service watches.
	SourceConfig struct {
		File           string
		ImportEnabled  bool
		PollInterval   time.Duration
		LockRetries    int
		LockRetryDelay time.Duration
		ReadRetries    int
		ReadRetryDelay time.Duration
	}

	WebhookConfig struct {
		URL        string
		APIKey     string
		HMACSecret string
	}

	ServerConfig struct {
		Host string
		Port int
	}

	DatabaseConfig struct {
		Engine     string
		Name       string
		User       string
		Password   string
		Host       string
		Port       string
		DisableTLS bool
	}
)

func (c DatabaseConfig) Address() string {
	return c.Host + ":" + c.Port
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NewConfig loads the application configuration: defaults first, then an
// optional config/.env.<env> file, then ENV-prefixed environment variables.
// It fails fast on anything the service cannot safely start without.
func NewConfig() (*Config, error) {
	conf := viper.New()
	conf.SetTypeByDefaultValue(true)

	// defaults
	conf.SetDefault("debug", true)
	conf.SetDefault("appName", "Orodha")
	conf.SetDefault("build", "")
	conf.SetDefault("defaultFromEmail", "noreply@localhost")
	conf.SetDefault("notifyEmail", "")
	conf.SetDefault("sourceFile", "")
	conf.SetDefault("sourceImportEnabled", true)
	conf.SetDefault("sourcePollInterval", 5*time.Second)
	conf.SetDefault("sourceLockRetries", 5)
	conf.SetDefault("sourceLockRetryDelay", 3*time.Second)
	conf.SetDefault("sourceReadRetries", 3)
	conf.SetDefault("sourceReadRetryDelay", time.Second)
	conf.SetDefault("webhookUrl", "")
	conf.SetDefault("webhookApiKey", "")
	conf.SetDefault("webhookHmacSecret", "")
	conf.SetDefault("serverHost", "")
	conf.SetDefault("serverPort", 8000)
	conf.SetDefault("shutdownTimeout", 5*time.Second)
	conf.SetDefault("dbEngine", "postgres")
	conf.SetDefault("dbName", "orodha")
	conf.SetDefault("dbUser", "")
	conf.SetDefault("dbPassword", "")
	conf.SetDefault("dbHost", "localhost")
	conf.SetDefault("dbPort", "5432")
	conf.SetDefault("dbDisableTLS", true)

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
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

	from, err := mail.ParseAddress(conf.GetString("defaultFromEmail"))
	if err != nil {
		return nil, fmt.Errorf("config: invalid defaultFromEmail: %v", err)
	}

	cfg := &Config{
		Debug:    conf.GetBool("debug"),
		TestMode: env == "TEST",
		Env:      env,
		AppName:  conf.GetString("appName"),
		Build:    conf.GetString("build"),
		WorkDir:  Getwd(),
		Source: SourceConfig{
			File:           conf.GetString("sourceFile"),
			ImportEnabled:  conf.GetBool("sourceImportEnabled"),
			PollInterval:   conf.GetDuration("sourcePollInterval"),
			LockRetries:    conf.GetInt("sourceLockRetries"),
			LockRetryDelay: conf.GetDuration("sourceLockRetryDelay"),
			ReadRetries:    conf.GetInt("sourceReadRetries"),
			ReadRetryDelay: conf.GetDuration("sourceReadRetryDelay"),
		},
		Webhook: WebhookConfig{
			URL:        conf.GetString("webhookUrl"),
			APIKey:     conf.GetString("webhookApiKey"),
			HMACSecret: conf.GetString("webhookHmacSecret"),
		},
		Server: ServerConfig{
			Host: conf.GetString("serverHost"),
			Port: conf.GetInt("serverPort"),
		},
		Database: DatabaseConfig{
			Engine:     conf.GetString("dbEngine"),
			Name:       conf.GetString("dbName"),
			User:       conf.GetString("dbUser"),
			Password:   conf.GetString("dbPassword"),
			Host:       conf.GetString("dbHost"),
			Port:       conf.GetString("dbPort"),
			DisableTLS: conf.GetBool("dbDisableTLS"),
		},
		ShutdownTimeout:  conf.GetDuration("shutdownTimeout"),
		DefaultFromEmail: *from,
		NotifyEmail:      conf.GetString("notifyEmail"),
		SendgridApiKey:   conf.GetString("sendgridApiKey"),
		RollbarToken:     conf.GetString("rollbarToken"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the parts of the configuration that would otherwise leave
// the service in a partially-configured running state. Failures come back as a
// single *ValidationError carrying one FieldError per offending setting.
func (c *Config) Validate() error {
	checks := []struct {
		field   string
		checker vala.Checker
	}{
		{"sourceFile", vala.StringNotEmpty(c.Source.File, "sourceFile")},
		{"sourceLockRetries", vala.GreaterThan(c.Source.LockRetries, 0, "sourceLockRetries")},
		{"sourceReadRetries", vala.GreaterThan(c.Source.ReadRetries, 0, "sourceReadRetries")},
		{"serverPort", vala.GreaterThan(c.Server.Port, 0, "serverPort")},
	}

	var fldErrs []FieldError
	for _, check := range checks {
		if err := vala.BeginValidation().Validate(check.checker).Check(); err != nil {
			fldErrs = append(fldErrs, FieldError{Field: check.field, Error: err.Error()})
		}
	}

	if c.Webhook.URL != "" {
		u, err := url.Parse(c.Webhook.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			fldErrs = append(fldErrs, FieldError{
				Field: "webhookUrl",
				Error: fmt.Sprintf("%q is not an absolute URL", c.Webhook.URL),
			})
		}
	}

	if len(fldErrs) > 0 {
		return NewValidationError(errors.New("invalid configuration"), fldErrs...)
	}
	return nil
}
