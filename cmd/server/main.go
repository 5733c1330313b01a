package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/fr3ddy-fryd3/postgrust-sql/logger"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/conf"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/dispatcher"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/basic"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/engine"
	servernet "github.com/fr3ddy-fryd3/postgrust-sql/server/net"
)

const help = `
******************************************************************************************
 postgrust-sql: a PostgreSQL-wire-compatible storage-and-execution engine
******************************************************************************************
*usage:
*  -config_path   path to a TOML config file
*  -host          bind address            (default 127.0.0.1)
*  -port          TCP port                (default 5432)
*  -data_dir      storage root            (default ./data)
*  -initdb        bootstrap an empty database and its superuser role
*  -user          default superuser name  (default postgres)
*  -password      default superuser password
*  -database      initial database name   (default postgres)
******************************************************************************************
`

func main() {
	var configPath string
	var showHelp bool
	flag.StringVar(&configPath, "config_path", "", "path to a TOML config file")
	flag.BoolVar(&showHelp, "help", false, "show usage")
	flag.Parse()

	if showHelp {
		fmt.Println(help)
		return
	}

	cfg, err := conf.Load(configPath, flag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, "postgrust-sql: loading configuration:", err)
		os.Exit(1)
	}

	logger.InitLogger(logger.LogConfig{LogLevel: "info"})
	logger.Infof("starting postgrust-sql, data_dir=%s", cfg.DataDir)

	eng, err := engine.Open(cfg.DataDir)
	if err != nil {
		logger.Fatalf("opening engine at %s: %v", cfg.DataDir, err)
	}
	defer eng.Close()

	if cfg.InitDB {
		if err := bootstrap(eng, cfg); err != nil {
			logger.Fatalf("initdb: %v", err)
		}
		logger.Infof("initdb: bootstrapped superuser %q and database %q", cfg.User, cfg.Database)
	}

	disp := dispatcher.New(eng)
	srv := servernet.New(cfg, eng, disp)

	logger.Infof("listening on %s:%d", cfg.Host, cfg.Port)
	if err := srv.Start(); err != nil {
		logger.Fatalf("server: %v", err)
	}
}

// bootstrap creates cfg.User as a superuser role on first start, per
// spec.md §4.13's role model -- a fresh catalog otherwise has no roles
// at all, so every statement's permission check would fail closed.
func bootstrap(eng *engine.Engine, cfg *conf.Cfg) error {
	if _, err := eng.Catalog.Role(cfg.User); err == nil {
		return nil
	} else if err != basic.ErrUnknownRole {
		return err
	}
	return eng.Catalog.CreateRole(cfg.User, true)
}
