package logging

import (
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// Level is the minimum severity a record needs to be written.
type Level int

const (
	LevelNone Level = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

// Target selects where records are written.
type Target int

const (
	TargetConsole Target = iota
	TargetFile
)

// TraceLevel is the zap level used for trace records. It sits one step below
// zap's debug level.
const TraceLevel = zapcore.DebugLevel - 1

// disabledLevel is above every level zap emits, so nothing passes the filter.
const disabledLevel = zapcore.FatalLevel + 1

// LogLevelEnvVar is the environment variable consulted by Initialize when no
// level is given.
const LogLevelEnvVar = "EMBEDSRV_LOG_LEVEL"

const timeLayout = "2006-01-02 15:04:05"

var levelNames = [...]string{"NONE", "ERROR", "WARN", "INFO", "DEBUG", "TRACE"}

func (l Level) String() string {
	if l < LevelNone || l > LevelTrace {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return levelNames[l]
}

func (t Target) String() string {
	if t == TargetFile {
		return "file"
	}
	return "console"
}

// state is the process-wide logging configuration. Writers go through mu;
// log calls only load the current logger pointers.
type state struct {
	mu      sync.Mutex
	enabled bool
	level   Level
	target  Target
	file    *os.File
	atom    zap.AtomicLevel
}

var (
	st = &state{
		enabled: true,
		level:   LevelInfo,
		atom:    zap.NewAtomicLevelAt(zapcore.InfoLevel),
	}

	base   atomic.Pointer[zap.Logger] // caller is the log site
	helper atomic.Pointer[zap.Logger] // skips the package helper frame

	// sinkMu orders writes against SetTarget closing the previous file.
	sinkMu  sync.RWMutex
	current atomic.Pointer[coreBox]
)

type coreBox struct {
	zapcore.Core
}

func init() {
	st.mu.Lock()
	st.install(zapcore.Lock(os.Stderr), term.IsTerminal(int(os.Stderr.Fd())))
	st.mu.Unlock()

	l := zap.New(&switchCore{}, zap.AddCaller(), zap.ErrorOutput(zapcore.Lock(os.Stderr)))
	base.Store(l)
	helper.Store(l.WithOptions(zap.AddCallerSkip(1)))
}

// switchCore forwards each record to the sink current at write time, so
// loggers handed out before a SetTarget follow the switch.
type switchCore struct {
	fields []zapcore.Field
}

func (c *switchCore) Enabled(l zapcore.Level) bool {
	return st.atom.Enabled(l)
}

func (c *switchCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(append(merged, c.fields...), fields...)
	return &switchCore{fields: merged}
}

func (c *switchCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *switchCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	sinkMu.RLock()
	defer sinkMu.RUnlock()
	core := current.Load().Core
	if len(c.fields) > 0 {
		core = core.With(c.fields)
	}
	return core.Write(ent, fields)
}

func (c *switchCore) Sync() error {
	sinkMu.RLock()
	defer sinkMu.RUnlock()
	return current.Load().Sync()
}

// debugGate passes records only while debug logging is on.
type debugGate struct {
	zapcore.Core
}

func (g debugGate) Enabled(l zapcore.Level) bool {
	return DebugEnabled() && g.Core.Enabled(l)
}

func (g debugGate) With(fields []zapcore.Field) zapcore.Core {
	return debugGate{g.Core.With(fields)}
}

func (g debugGate) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if g.Enabled(ent.Level) {
		return ce.AddCore(ent, g)
	}
	return ce
}

// install makes ws the active sink. Callers hold st.mu.
func (s *state) install(ws zapcore.WriteSyncer, color bool) {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)
	encCfg.EncodeCaller = zapcore.ShortCallerEncoder
	encCfg.ConsoleSeparator = " "
	if color {
		encCfg.EncodeLevel = levelEncoder(zapcore.CapitalColorLevelEncoder)
	} else {
		encCfg.EncodeLevel = levelEncoder(zapcore.CapitalLevelEncoder)
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), syncEachWrite{ws}, s.atom)
	current.Store(&coreBox{core})
}

func levelEncoder(next zapcore.LevelEncoder) zapcore.LevelEncoder {
	return func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		if l == TraceLevel {
			enc.AppendString("TRACE")
			return
		}
		next(l, enc)
	}
}

// syncEachWrite flushes after every record.
type syncEachWrite struct {
	zapcore.WriteSyncer
}

func (w syncEachWrite) Write(p []byte) (int, error) {
	n, err := w.WriteSyncer.Write(p)
	if err != nil {
		return n, err
	}
	_ = w.WriteSyncer.Sync()
	return n, nil
}

func zapLevel(enabled bool, level Level) zapcore.Level {
	if !enabled {
		return disabledLevel
	}
	switch level {
	case LevelError:
		return zapcore.ErrorLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelTrace:
		return TraceLevel
	default:
		return disabledLevel
	}
}

// SetLevel enables or disables logging and sets the minimum severity.
// Records below the level are dropped before any encoding happens.
func SetLevel(enabled bool, level Level) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.enabled = enabled
	st.level = level
	st.atom.SetLevel(zapLevel(enabled, level))
}

// SetTarget switches the sink. Any previously opened log file is closed
// first. If the file target cannot be opened the console is used instead;
// no error is reported.
func SetTarget(target Target, filename string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	old := st.file
	st.file = nil
	st.target = TargetConsole

	if target == TargetFile && filename != "" {
		f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err == nil {
			st.file = f
			st.target = TargetFile
		}
	}

	sinkMu.Lock()
	defer sinkMu.Unlock()
	if st.file != nil {
		st.install(zapcore.Lock(st.file), false)
	} else {
		st.install(zapcore.Lock(os.Stderr), term.IsTerminal(int(os.Stderr.Fd())))
	}

	if old != nil {
		_ = old.Close()
	}
}

// CurrentLevel reports the enabled flag and level last set.
func CurrentLevel() (bool, Level) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.enabled, st.level
}

// CurrentTarget reports the sink in use. After a failed file open this is
// TargetConsole.
func CurrentTarget() Target {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.target
}

// DebugEnabled reports whether debug records are currently written.
func DebugEnabled() bool {
	return st.atom.Enabled(zapcore.DebugLevel)
}

// ParseLevel maps a level name to a Level.
func ParseLevel(name string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none", "off":
		return LevelNone, nil
	case "error":
		return LevelError, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	case "trace":
		return LevelTrace, nil
	}
	return LevelNone, fmt.Errorf("unknown log level %q", name)
}

// Initialize sets the level by name. If level is empty, EMBEDSRV_LOG_LEVEL is
// consulted; if that is empty too, logging stays at its current setting.
func Initialize(level string) error {
	if level == "" {
		level = os.Getenv(LogLevelEnvVar)
	}
	if level == "" {
		return nil
	}

	lvl, err := ParseLevel(level)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	SetLevel(lvl != LevelNone, lvl)
	return nil
}

// GetLogger returns the global logger instance
func GetLogger() *zap.Logger {
	return base.Load()
}

// EngineLogger returns the logger handed to a network engine manager. The
// engine is only verbose while the level is debug or above; otherwise it is
// silent. Level and target changes apply to loggers already handed out.
func EngineLogger() *zap.Logger {
	return GetLogger().Named("engine").WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return debugGate{c}
	}))
}

// Trace logs a trace message
func Trace(msg string, fields ...zap.Field) {
	if ce := helper.Load().Check(TraceLevel, msg); ce != nil {
		ce.Write(fields...)
	}
}

// Debug logs a debug message
func Debug(msg string, fields ...zap.Field) {
	helper.Load().Debug(msg, fields...)
}

// Info logs an info message
func Info(msg string, fields ...zap.Field) {
	helper.Load().Info(msg, fields...)
}

// Warn logs a warning message
func Warn(msg string, fields ...zap.Field) {
	helper.Load().Warn(msg, fields...)
}

// Error logs an error message
func Error(msg string, fields ...zap.Field) {
	helper.Load().Error(msg, fields...)
}

// LogConnection logs a connection lifecycle event
func LogConnection(connID uint64, remoteAddr string, event string) {
	helper.Load().Debug("Connection event",
		zap.Uint64("conn_id", connID),
		zap.String("remote_addr", remoteAddr),
		zap.String("event", event),
	)
}

// LogTLSHandshake logs TLS handshake details
func LogTLSHandshake(remoteAddr string, version uint16, cipherSuite uint16, serverName string) {
	helper.Load().Debug("TLS handshake completed",
		zap.String("remote_addr", remoteAddr),
		zap.String("tls_version", tls.VersionName(version)),
		zap.String("cipher_suite", tls.CipherSuiteName(cipherSuite)),
		zap.String("server_name", serverName),
	)
}

// LogWebSocketMessage logs a WebSocket message. Text payloads are included
// verbatim; binary payloads only as hex at debug level.
func LogWebSocketMessage(connID uint64, direction string, binary bool, data []byte) {
	l := helper.Load()
	if !l.Core().Enabled(zapcore.DebugLevel) {
		return
	}

	fields := []zap.Field{
		zap.Uint64("conn_id", connID),
		zap.String("direction", direction),
		zap.Bool("binary", binary),
		zap.Int("length", len(data)),
	}
	if binary {
		fields = append(fields, zap.String("hex_dump", hexDump(data)))
	} else {
		fields = append(fields, zap.String("content", asciiDump(data)))
	}
	l.Debug("WebSocket message", fields...)
}

// LogRawBytes logs raw bytes (useful for debugging wire issues)
func LogRawBytes(label string, data []byte) {
	helper.Load().Debug(label,
		zap.Int("length", len(data)),
		zap.String("hex", hexDump(data)),
		zap.String("ascii", asciiDump(data)),
	)
}

func hexDump(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	// Limit to first 256 bytes for logging
	if len(data) > 256 {
		return hex.EncodeToString(data[:256]) + "..."
	}
	return hex.EncodeToString(data)
}

func asciiDump(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	if len(data) > 256 {
		data = data[:256]
	}

	result := make([]byte, len(data))
	for i, b := range data {
		if b >= 32 && b <= 126 {
			result[i] = b
		} else {
			result[i] = '.'
		}
	}
	return string(result)
}

// Sync flushes any buffered log entries
func Sync() {
	if l := base.Load(); l != nil {
		_ = l.Sync()
	}
}
