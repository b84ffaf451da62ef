package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
		Mode string
	}
	Log struct {
		Level string
	}
	Auth struct {
		SecretKey    string
		JWTSecretKey string
		TokenTTL     time.Duration
		CookieSecure bool
		BcryptCost   int
	}
	Database struct {
		URL string
	}
	Storage struct {
		Bucket         string
		KeyPrefix      string
		Region         string
		Endpoint       string
		MaxAvatarBytes int64
		URLExpiry      time.Duration
	}
	AWS struct {
		Profile string
	}
}

// Load reads configuration from environment variables, an optional .env file and an optional config file.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// missing files are fine; existing variables win over file values
		_ = godotenv.Load(f)
	}

	v := viper.New()
	v.SetEnvPrefix("PORTAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// names shared with the rest of the deployment keep their historical, unprefixed form
	_ = v.BindEnv("auth.secretkey", "SECRET_KEY")
	_ = v.BindEnv("auth.jwtsecretkey", "JWT_SECRET_KEY")
	_ = v.BindEnv("database.url", "DATABASE_URL")

	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("auth.secretkey", "")
	v.SetDefault("auth.jwtsecretkey", "")
	v.SetDefault("auth.tokenttl", "15m")
	v.SetDefault("auth.cookiesecure", false)
	v.SetDefault("auth.bcryptcost", 10)
	v.SetDefault("database.url", "data/portal.db")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.keyprefix", "avatars")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.maxavatarbytes", 2<<20)
	v.SetDefault("storage.urlexpiry", "15m")
	v.SetDefault("aws.profile", "")

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Validate reports settings the server cannot start without.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Auth.SecretKey) == "" {
		errs = append(errs, errors.New("SECRET_KEY is required"))
	}
	if strings.TrimSpace(c.Auth.JWTSecretKey) == "" {
		errs = append(errs, errors.New("JWT_SECRET_KEY is required"))
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		errs = append(errs, fmt.Errorf("server mode %q must be debug, release or test", c.Server.Mode))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth token ttl must be positive"))
	}
	if strings.TrimSpace(c.Database.URL) == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.Storage.Bucket != "" && c.Storage.MaxAvatarBytes <= 0 {
		errs = append(errs, errors.New("storage max avatar bytes must be positive"))
	}
	return errors.Join(errs...)
}

// AvatarsEnabled reports whether an object storage bucket is configured.
func (c Config) AvatarsEnabled() bool {
	return strings.TrimSpace(c.Storage.Bucket) != ""
}
