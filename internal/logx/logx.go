// Package logx builds the zap loggers of a node: either a console logger
// or, when a log directory is configured, a tee of info, error and debug
// files per component.
package logx

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Manager struct {
	basePath string
	debug    bool
	loggers  map[string]*zap.Logger
	files    []*os.File
	mu       sync.Mutex
}

// NewManager writes logs below base. Debug output is only written when
// debug is set.
func NewManager(base string, debug bool) (*Manager, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", base, err)
	}
	return &Manager{basePath: base, debug: debug, loggers: make(map[string]*zap.Logger)}, nil
}

// Logger returns the logger of one component, logging to
// <base>/<name>/{info,error,debug}.log.
func (m *Manager) Logger(name string) (*zap.Logger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lg, ok := m.loggers[name]; ok {
		return lg, nil
	}

	dir := filepath.Join(m.basePath, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", dir, err)
	}

	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())

	infoLv := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l == zapcore.InfoLevel || l == zapcore.WarnLevel })
	errLv := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= zapcore.ErrorLevel })
	dbgLv := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return m.debug && l == zapcore.DebugLevel })

	cores := make([]zapcore.Core, 0, 3)
	for _, out := range []struct {
		file  string
		level zapcore.LevelEnabler
	}{
		{"info.log", infoLv},
		{"error.log", errLv},
		{"debug.log", dbgLv},
	} {
		f, err := os.OpenFile(filepath.Join(dir, out.file), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		m.files = append(m.files, f)
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(f), out.level))
	}

	lg := zap.New(zapcore.NewTee(cores...)).Named(name)
	m.loggers[name] = lg
	return lg, nil
}

// Close flushes and closes every log file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, lg := range m.loggers {
		_ = lg.Sync()
	}
	var err error
	for _, f := range m.files {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	m.files = nil
	m.loggers = make(map[string]*zap.Logger)
	return err
}

// Console returns a human-readable logger on stderr.
func Console(debug bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	return cfg.Build()
}
