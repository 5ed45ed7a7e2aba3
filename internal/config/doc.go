// Package config loads the settings the pagedb tool opens a database with.
//
// # Overview
//
// Settings come from four layers, later layers winning:
//
//   - built-in defaults (DefaultConfig)
//   - an HCL configuration file
//   - PAGEDB_* environment variables, including those set by .env and
//     .env.local in the working directory
//   - command line flags bound with Loader.BindFlags
//
// # Configuration File
//
// The file is a flat list of HCL assignments. ${VAR} and ${VAR:-default}
// are replaced with environment values before parsing:
//
//	path            = "/var/lib/app/app.db"
//	password        = "${APP_DB_PASSWORD}"
//	page_size       = 8192
//	cache_size      = 4096
//	checkpoint_size = 1000
//	timeout         = "30s"
//	limit_size      = "2GiB"
//	collation       = "en-US/IgnoreCase"
//	auto_rebuild    = true
//
//	log_level  = "debug"
//	log_format = "json"
//	log_output = "/var/log/app/pagedb.log"
//
// Unknown names are an error.
//
// # Environment Variables
//
// Every variable can be set as PAGEDB_<NAME>:
//
//	PAGEDB_PATH=/tmp/test.db
//	PAGEDB_READ_ONLY=true
//	PAGEDB_LOG_LEVEL=debug
//
// # Usage
//
//	l := config.NewLoader()
//	if err := l.BindFlags(cmd.Flags()); err != nil {
//	    return err
//	}
//	cfg, err := l.Load(configPath)
//	if err != nil {
//	    return err
//	}
//	s, logs, err := cfg.Settings()
//	if err != nil {
//	    return err
//	}
//	defer logs.Close()
package config
