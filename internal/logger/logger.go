package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Debug flag to control debug logging
	debugEnabled = false

	base        *zap.SugaredLogger
	telegramLog *zap.SugaredLogger
	llmLog      *zap.SugaredLogger
	ragLog      *zap.SugaredLogger
	pipelineLog *zap.SugaredLogger
)

func init() {
	// A usable logger even before Init runs, so packages can log in tests.
	build(false)
}

// Init initializes the logger
func Init(debug bool) {
	build(debug)

	if debugEnabled {
		Debug("Debug logging enabled")
	}
}

func build(debug bool) {
	debugEnabled = debug

	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		l = zap.NewNop()
	}

	base = l.Sugar()
	telegramLog = base.Named("telegram")
	llmLog = base.Named("llm")
	ragLog = base.Named("rag")
	pipelineLog = base.Named("pipeline")
}

// IsDebugEnabled returns whether debug logging is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// Sync flushes any buffered log entries.
func Sync() {
	_ = base.Sync()
}

// Debug logs a debug message if debug mode is enabled
func Debug(format string, v ...interface{}) {
	base.Debugf(format, v...)
}

// Info logs an info message
func Info(format string, v ...interface{}) {
	base.Infof(format, v...)
}

// Warn logs a warning message
func Warn(format string, v ...interface{}) {
	base.Warnf(format, v...)
}

// Error logs an error message
func Error(format string, v ...interface{}) {
	base.Errorf(format, v...)
}

// Telegram subsystem logging.

func TelegramDebug(format string, v ...interface{}) { telegramLog.Debugf(format, v...) }
func TelegramInfo(format string, v ...interface{})  { telegramLog.Infof(format, v...) }
func TelegramWarn(format string, v ...interface{})  { telegramLog.Warnf(format, v...) }
func TelegramError(format string, v ...interface{}) { telegramLog.Errorf(format, v...) }

// LLM subsystem logging.

func LLMDebug(format string, v ...interface{}) { llmLog.Debugf(format, v...) }
func LLMInfo(format string, v ...interface{})  { llmLog.Infof(format, v...) }
func LLMWarn(format string, v ...interface{})  { llmLog.Warnf(format, v...) }
func LLMError(format string, v ...interface{}) { llmLog.Errorf(format, v...) }

// RAG subsystem logging.

func RagDebug(format string, v ...interface{}) { ragLog.Debugf(format, v...) }
func RagInfo(format string, v ...interface{})  { ragLog.Infof(format, v...) }
func RagWarn(format string, v ...interface{})  { ragLog.Warnf(format, v...) }
func RagError(format string, v ...interface{}) { ragLog.Errorf(format, v...) }

// Pipeline subsystem logging.

func PipelineDebug(format string, v ...interface{}) { pipelineLog.Debugf(format, v...) }
func PipelineInfo(format string, v ...interface{})  { pipelineLog.Infof(format, v...) }
func PipelineWarn(format string, v ...interface{})  { pipelineLog.Warnf(format, v...) }
func PipelineError(format string, v ...interface{}) { pipelineLog.Errorf(format, v...) }
