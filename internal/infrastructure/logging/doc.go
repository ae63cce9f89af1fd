// Package logging builds the zap loggers used across the gateway and the
// execution backend.
//
// Production loggers write JSON; development loggers write colored console
// output at debug level. Components take a named child:
//
//	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level})
//	ch := channel.New(url, channel.Options{Logger: logger.Component("channel")})
//	defer logger.Sync()
package logging
