// Package logging provides structured logging for PageDB.
//
// # Overview
//
// The Logger interface takes a message plus alternating key/value pairs and
// is backed by logrus. Supported:
//
//   - Levels debug, info, warn and error
//   - Text and JSON output formats
//   - Field-based contextual loggers via WithFields
//
// # Creating a Logger
//
//	logger, closer := logging.New(logging.Config{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "/var/log/pagedb.log",
//	})
//	defer closer.Close()
//
// Or use defaults:
//
//	logger := logging.NewDefault() // Info level, text format, stderr
//
// For tests and embedded use without output:
//
//	logger := logging.NewNop()
//
// # Fields
//
//	log := logger.WithFields("collection", "users")
//	log.Info("index created", "name", "email", "unique", true)
package logging
