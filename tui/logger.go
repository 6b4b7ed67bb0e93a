package tui

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// OpenLogFile returns a logger appending to path, since the terminal
// belongs to the UI while it runs. Close the returned closer when done.
func OpenLogFile(path string, level log.Level) (*log.Logger, io.Closer, error) {
	logFile, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, nil, err
	}

	logger := log.NewWithOptions(logFile, log.Options{
		ReportCaller:    true,
		ReportTimestamp: true,
		Level:           level,
	})
	return logger, logFile, nil
}
