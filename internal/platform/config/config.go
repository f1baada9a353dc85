package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPath = "config/config.yaml"

	ModeDev     = "dev"
	ModeRelease = "release"
)

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "mysql"（既定） or "sqlite3"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	// sqlite3 のときのファイルパス
	Path string `yaml:"path"`
}

type Certs struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// LibraryConfig は貸出ルールの設定値
type LibraryConfig struct {
	// 0 または未指定は既定値(14)。返却予定日は常に付く
	DefaultLoanDays int `yaml:"default_loan_days"`
	// 0 は既定値(5)、負数で無制限
	MaxActiveBorrowsPerUser int `yaml:"max_active_borrows_per_user"`
}

type Config struct {
	Version     string         `yaml:"version"`
	Mode        string         `yaml:"mode"`
	Server      ServerConfig   `yaml:"server"`
	DB          DatabaseConfig `yaml:"database"`
	Certificate Certs          `yaml:"certificate"`
	Auth        AuthConfig     `yaml:"auth"`
	Library     LibraryConfig  `yaml:"library"`
}

func Load(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("設定ファイルの読み込み失敗: %w", err)
	}
	return Parse(buf)
}

// Parse は YAML を読み、.env と環境変数で上書きしてから既定値を埋める
func Parse(buf []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("設定ファイルのパース失敗: %w", err)
	}

	// .env が無いのは正常
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf(".env の読み込み失敗: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("LIBRARY_MODE"); v != "" {
		c.Mode = v
	}
	if v := os.Getenv("LIBRARY_DB_PASSWORD"); v != "" {
		c.DB.Password = v
	}
	if v := os.Getenv("LIBRARY_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("LIBRARY_MAX_ACTIVE_BORROWS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LIBRARY_MAX_ACTIVE_BORROWS must be an integer, got %q", v)
		}
		c.Library.MaxActiveBorrowsPerUser = n
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeDev
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8443"
	}
	if c.DB.Driver == "" {
		c.DB.Driver = "mysql"
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Library.DefaultLoanDays == 0 {
		c.Library.DefaultLoanDays = 14
	}
	if c.Library.MaxActiveBorrowsPerUser == 0 {
		c.Library.MaxActiveBorrowsPerUser = 5
	}
}

func (c *Config) Validate() error {
	if c.Mode != ModeDev && c.Mode != ModeRelease {
		return fmt.Errorf("mode must be %q or %q, got %q", ModeDev, ModeRelease, c.Mode)
	}
	switch c.DB.Driver {
	case "mysql", "sqlite3":
	default:
		return fmt.Errorf("unsupported database driver %q", c.DB.Driver)
	}
	if c.Mode == ModeRelease && c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret (or LIBRARY_JWT_SECRET) is required in release mode")
	}
	if c.Library.DefaultLoanDays < 0 {
		return errors.New("library.default_loan_days must be >= 0")
	}
	return nil
}
