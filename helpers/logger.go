package helpers

import (
	"fmt"
	"os"
	"time"

	"sjsage522/pricewatch/logger"
)

// LoggerInterface defines the interface for per-product failure logging
type LoggerInterface interface {
	LogError(productID string, err error)
}

// Logger writes per-product failures to the structured log and, when errorFile
// is set, appends them to a plain text file that survives between runs
type Logger struct {
	errorFile string
	log       *logger.Logger
}

// NewLogger creates a new logger instance
func NewLogger(errorFile string, log *logger.Logger) *Logger {
	return &Logger{
		errorFile: errorFile,
		log:       log,
	}
}

// LogError logs an error with product id and timestamp
func (l *Logger) LogError(productID string, err error) {
	l.log.WithError(err).Error().Str("product", productID).Msg("product check failed")

	if l.errorFile == "" {
		return
	}

	f, fileErr := os.OpenFile(l.errorFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if fileErr != nil {
		l.log.Warn().Err(fileErr).Str("file", l.errorFile).Msg("cannot open error log")
		return
	}
	defer f.Close()

	timestamp := time.Now().UTC().Format("2006-01-02 15:04:05")
	fmt.Fprintf(f, "[%s] [%s] %s\n", timestamp, productID, err.Error())
}
