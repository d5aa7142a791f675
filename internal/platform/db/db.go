package db

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"gopkg.in/yaml.v3"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite3"
	DriverMemory = "memory"

	DefaultConfigPath = "config/config.yaml"
)

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // mysql | sqlite3 | memory
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	Path     string `yaml:"path"` // sqlite3 のファイルパス
}

type Certs struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type LendingConfig struct {
	LockTimeout  time.Duration `yaml:"lock_timeout"`
	StoreTimeout time.Duration `yaml:"store_timeout"`
}

type StorageConfig struct {
	UploadDir string `yaml:"upload_dir"`
}

type MailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type NotifyConfig struct {
	QueueSize   int `yaml:"queue_size"`
	MaxAttempts int `yaml:"max_attempts"`
}

type Config struct {
	Version     string         `yaml:"version"`
	Mode        string         `yaml:"mode"`
	Listen      string         `yaml:"listen"`
	DB          DatabaseConfig `yaml:"database"`
	Certificate Certs          `yaml:"certificate"`
	Auth        AuthConfig     `yaml:"auth"`
	Lending     LendingConfig  `yaml:"lending"`
	Storage     StorageConfig  `yaml:"storage"`
	Mail        MailConfig     `yaml:"mail"`
	Notify      NotifyConfig   `yaml:"notify"`
}

func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("設定ファイルの読み込み失敗: %w", err)
	}
	return ParseConfig(buf)
}

func ParseConfig(buf []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("設定ファイルのパース失敗: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// 未指定の項目を埋める
func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = "dev"
	}
	if c.Listen == "" {
		c.Listen = ":8443"
	}
	if c.DB.Driver == "" {
		c.DB.Driver = DriverMySQL
	}
	if c.DB.Driver == DriverSQLite && c.DB.Path == "" {
		c.DB.Path = "data/booknet.db"
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Lending.LockTimeout <= 0 {
		c.Lending.LockTimeout = 3 * time.Second
	}
	if c.Lending.StoreTimeout <= 0 {
		c.Lending.StoreTimeout = 5 * time.Second
	}
	if c.Storage.UploadDir == "" {
		c.Storage.UploadDir = "uploads"
	}
	if c.Mail.Port == 0 {
		c.Mail.Port = 587
	}
	if c.Notify.QueueSize <= 0 {
		c.Notify.QueueSize = 256
	}
	if c.Notify.MaxAttempts <= 0 {
		c.Notify.MaxAttempts = 3
	}
}

// Connect は driver に応じて接続を開く。memory の場合は nil を返す。
func Connect(c DatabaseConfig) (*sql.DB, error) {
	switch c.Driver {
	case DriverMemory:
		return nil, nil
	case DriverSQLite:
		return connectSQLite(c)
	case DriverMySQL:
		return connectMySQL(c)
	default:
		return nil, fmt.Errorf("未対応のdriver: %q", c.Driver)
	}
}

func connectMySQL(c DatabaseConfig) (*sql.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&tls=false&timeout=3s&readTimeout=5s&writeTimeout=5s&loc=UTC",
		c.Username, c.Password, c.Host, c.Port, c.DBName)

	db, err := sql.Open(DriverMySQL, dsn)
	if err != nil {
		return nil, fmt.Errorf("接続準備に失敗: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("DB接続に失敗: %w", err)
	}

	// 接続プール（合算がMySQLの max_connections を超えないよう配分する）
	db.SetMaxOpenConns(80)
	db.SetMaxIdleConns(20)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return db, nil
}

func connectSQLite(c DatabaseConfig) (*sql.DB, error) {
	if dir := filepath.Dir(c.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("DBディレクトリ作成に失敗: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1", c.Path)
	db, err := sql.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("接続準備に失敗: %w", err)
	}
	// sqlite は書き込みが直列なので1本で十分
	db.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	log.Printf("[INFO] sqlite schema ready: %s", c.Path)
	return db, nil
}
