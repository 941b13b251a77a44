/*
Package log provides structured logging for mygram-db using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level.

Initializing:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component loggers carry engine context into every line:

	idxLog := log.WithComponent("index")
	idxLog.Debug().Str("term", term).Uint64("count", n).Msg("posting optimized")

	tblLog := log.WithTable("posts")
	tblLog.Info().Uint32("doc_id", id).Msg("document indexed")

Console output is used for development, JSON for production; the choice is
driven by the logging.json config key.
*/
package log
