package cli

import (
	"io"

	"github.com/urfave/cli/v2"

	"go.viam.com/camcal/logging"
)

const (
	loggerKey       = "logger"
	logFileCloseKey = "log-file-closer"
)

func setupLogging(c *cli.Context) error {
	logger := logging.NewBlankLogger("camcal")
	logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	if c.Bool(flagDebug) {
		logger.SetLevel(logging.DEBUG)
	} else {
		logger.SetLevel(logging.INFO)
	}
	if path := c.Path(flagLogFile); path != "" {
		appender, closer := logging.NewFileAppender(path)
		logger.AddAppender(appender)
		c.App.Metadata[logFileCloseKey] = closer
	}
	c.App.Metadata[loggerKey] = logger
	return nil
}

func closeLogging(c *cli.Context) error {
	if logger, ok := c.App.Metadata[loggerKey].(logging.Logger); ok {
		//nolint:errcheck
		logger.Sync()
	}
	if closer, ok := c.App.Metadata[logFileCloseKey].(io.Closer); ok {
		delete(c.App.Metadata, logFileCloseKey)
		return closer.Close()
	}
	return nil
}

// appLogger returns the logger set up for the running command.
func appLogger(c *cli.Context) logging.Logger {
	if logger, ok := c.App.Metadata[loggerKey].(logging.Logger); ok {
		return logger
	}
	return logging.NewBlankLogger("camcal")
}
