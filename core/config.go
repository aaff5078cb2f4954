package core

import (
	"fmt"
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Env              string
		Build            string
		Debug            bool
		TestMode         bool
		AppName          string
		FrontendBaseURL  string
		DefaultFromEmail mail.Address
		RollbarToken     string
		SendgridAPIKey   string
		Server           ServerConfig
		Database         DatabaseConfig
	}

	ServerConfig struct {
		Host            string
		Address         string
		DebugHost       string
		ShutdownTimeout time.Duration
		DisableReqLogs  bool
	}

	DatabaseConfig struct {
		Engine        string // postgres | sqlite3
		Host          string
		Port          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		Name          string
		DisableTLS    bool
		Path          string // sqlite3 only
	}
)

func (dbc DatabaseConfig) Address() string {
	return net.JoinHostPort(dbc.Host, dbc.Port)
}

// NewConfig loads the app configuration from defaults, `config/.env.<env>` and environment variables.
// Environment variables are prefixed with the current env, e.g. DEV_DATABASE_NAME.
func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("build", "develop")
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("appName", "Kazi")
	v.SetDefault("frontendBaseURL", "http://localhost:8080")
	v.SetDefault("defaultFromName", "Kazi")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridAPIKey", "")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.disableReqLogs", false)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "kazi")
	v.SetDefault("database.password", "kazi")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "")
	v.SetDefault("database.name", "kazi")
	v.SetDefault("database.disableTLS", true)
	v.SetDefault("database.path", "kazi.db")

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
		v.SetDefault("database.engine", "sqlite3")
		v.SetDefault("database.path", ":memory:")
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join("config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		Env:             env,
		Build:           v.GetString("build"),
		Debug:           v.GetBool("debug"),
		TestMode:        v.GetBool("testMode"),
		AppName:         v.GetString("appName"),
		FrontendBaseURL: strings.TrimSuffix(v.GetString("frontendBaseURL"), "/"),
		DefaultFromEmail: mail.Address{
			Name:    v.GetString("defaultFromName"),
			Address: v.GetString("defaultFromEmail"),
		},
		RollbarToken:   v.GetString("rollbarToken"),
		SendgridAPIKey: v.GetString("sendgridAPIKey"),
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			Address:         v.GetString("server.address"),
			DebugHost:       v.GetString("server.debugHost"),
			ShutdownTimeout: v.GetDuration("server.shutdownTimeout"),
			DisableReqLogs:  v.GetBool("server.disableReqLogs"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetString("database.port"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			Name:          v.GetString("database.name"),
			DisableTLS:    v.GetBool("database.disableTLS"),
			Path:          v.GetString("database.path"),
		},
	}
}

// NewTestConfig returns a Config suitable for tests: sqlite3 in memory, no external services.
func NewTestConfig() *Config {
	return &Config{
		Env:              "TEST",
		Build:            "test",
		Debug:            false,
		TestMode:         true,
		AppName:          "Kazi",
		FrontendBaseURL:  "http://localhost:8080",
		DefaultFromEmail: mail.Address{Name: "Kazi", Address: "noreply@localhost"},
		Server: ServerConfig{
			Host:            "localhost",
			Address:         ":0",
			ShutdownTimeout: time.Second,
			DisableReqLogs:  true,
		},
		Database: DatabaseConfig{
			Engine: "sqlite3",
			Path:   ":memory:",
		},
	}
}

func (c *Config) String() string {
	return fmt.Sprintf("%s (%s) env=%s db=%s", c.AppName, c.Build, c.Env, c.Database.Engine)
}
