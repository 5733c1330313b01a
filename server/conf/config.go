package conf

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml"
)

// Cfg holds the server's resolved configuration. Values are resolved in
// priority order: CLI flag > environment variable > TOML file > built-in
// default.
type Cfg struct {
	Host     string
	Port     int
	DataDir  string
	InitDB   bool
	User     string
	Password string
	Database string
}

func defaults() Cfg {
	return Cfg{
		Host:     "127.0.0.1",
		Port:     5432,
		DataDir:  "./data",
		InitDB:   false,
		User:     "postgres",
		Password: "",
		Database: "postgres",
	}
}

// Load resolves configuration from, in increasing priority: the built-in
// defaults, a TOML file at tomlPath (if it exists), environment variables
// (PG_HOST, PG_PORT, PG_DATA_DIR, PG_INITDB, PG_USER, PG_PASSWORD,
// PG_DATABASE), and finally the CLI flags in args.
func Load(tomlPath string, args []string) (*Cfg, error) {
	cfg := defaults()

	if tomlPath != "" {
		if _, err := os.Stat(tomlPath); err == nil {
			if err := applyTOML(&cfg, tomlPath); err != nil {
				return nil, fmt.Errorf("conf: reading %s: %w", tomlPath, err)
			}
		}
	}

	applyEnv(&cfg)

	if err := applyFlags(&cfg, args); err != nil {
		return nil, err
	}

	cfg.DataDir = filepath.Clean(cfg.DataDir)
	return &cfg, nil
}

func applyTOML(cfg *Cfg, path string) error {
	tree, err := toml.LoadFile(path)
	if err != nil {
		return err
	}
	if v, ok := tree.Get("host").(string); ok {
		cfg.Host = v
	}
	if v, ok := tree.Get("port").(int64); ok {
		cfg.Port = int(v)
	}
	if v, ok := tree.Get("data_dir").(string); ok {
		cfg.DataDir = v
	}
	if v, ok := tree.Get("initdb").(bool); ok {
		cfg.InitDB = v
	}
	if v, ok := tree.Get("user").(string); ok {
		cfg.User = v
	}
	if v, ok := tree.Get("password").(string); ok {
		cfg.Password = v
	}
	if v, ok := tree.Get("database").(string); ok {
		cfg.Database = v
	}
	return nil
}

func applyEnv(cfg *Cfg) {
	if v := os.Getenv("PG_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("PG_PORT"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Port)
	}
	if v := os.Getenv("PG_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("PG_INITDB"); v != "" {
		cfg.InitDB = v == "1" || v == "true"
	}
	if v := os.Getenv("PG_USER"); v != "" {
		cfg.User = v
	}
	if v := os.Getenv("PG_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv("PG_DATABASE"); v != "" {
		cfg.Database = v
	}
}

func applyFlags(cfg *Cfg, args []string) error {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	host := fs.String("host", cfg.Host, "bind address")
	port := fs.Int("port", cfg.Port, "TCP port")
	dataDir := fs.String("data_dir", cfg.DataDir, "storage root")
	initdb := fs.Bool("initdb", cfg.InitDB, "create an empty database on first start")
	user := fs.String("user", cfg.User, "default superuser")
	password := fs.String("password", cfg.Password, "default superuser password")
	database := fs.String("database", cfg.Database, "initial database name")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg.Host = *host
	cfg.Port = *port
	cfg.DataDir = *dataDir
	cfg.InitDB = *initdb
	cfg.User = *user
	cfg.Password = *password
	cfg.Database = *database
	return nil
}
