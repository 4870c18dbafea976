// Package logging wires the engine's subsystem loggers, following the
// btcd/btcwallet convention: each package owns a package-level `log` var
// created with NewSubsystem from here, so no package needs to import the
// backend directly.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// output is the indirection EnableRotation needs: this pinned btclog binds
// a Backend's writer once at construction with no setter, but subsystem
// loggers are package-level vars (var log = logging.NewSubsystem("NODE"))
// built at import time, long before config.Load picks a log file. Routing
// every logger through one long-lived io.Writer and swapping its target in
// place is what actually gets the rotation file to reach them.
type output struct {
	mu     sync.Mutex
	target io.Writer
}

func (o *output) Write(p []byte) (int, error) {
	o.mu.Lock()
	target := o.target
	o.mu.Unlock()
	return target.Write(p)
}

func (o *output) setTarget(w io.Writer) {
	o.mu.Lock()
	o.target = w
	o.mu.Unlock()
}

var out = &output{target: os.Stdout}

// Backend is the shared btclog backend all subsystem loggers are derived
// from. Constructed once over the swappable out, so EnableRotation can
// redirect already-created loggers by mutating out's target rather than
// reassigning this variable.
var Backend = btclog.NewBackend(out)

var logRotator *rotator.Rotator

var (
	registryMu sync.Mutex
	registry   []btclog.Logger
)

// NewSubsystem returns a leveled logger for the given four-to-six letter
// subsystem tag (e.g. "SCNR", "STOR", "NODE"), matching the fixed-width
// subsystem naming used throughout the btcsuite ecosystem.
func NewSubsystem(tag string) btclog.Logger {
	l := Backend.Logger(tag)
	registryMu.Lock()
	registry = append(registry, l)
	registryMu.Unlock()
	return l
}

// SetLevel sets level on each of the given loggers only. SetLevelAll
// covers every logger created by NewSubsystem.
func SetLevel(loggers []btclog.Logger, level btclog.Level) {
	for _, l := range loggers {
		l.SetLevel(level)
	}
}

// SetLevelAll applies level to every subsystem logger created so far via
// NewSubsystem, for a single top-level LOG_LEVEL configuration knob.
func SetLevelAll(level btclog.Level) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for _, l := range registry {
		l.SetLevel(level)
	}
}

// EnableRotation redirects every subsystem logger's output through a
// size-rotated log file in addition to stdout, mirroring the file-rotation
// setup long-running Bitcoin full nodes use for their debug.log. maxSizeKB
// is the per-file roll threshold; 0 disables rotation. Safe to call after
// NewSubsystem has already handed out loggers: they all write through out,
// whose target this swaps in place.
func EnableRotation(logFile string, maxSizeKB int64) error {
	if maxSizeKB <= 0 {
		return nil
	}
	r, err := rotator.New(logFile, maxSizeKB, false, 3)
	if err != nil {
		return err
	}
	logRotator = r
	out.setTarget(io.MultiWriter(os.Stdout, logRotator))
	return nil
}

// Close flushes and closes the rotator, if one was configured.
func Close() error {
	if logRotator == nil {
		return nil
	}
	return logRotator.Close()
}

// ParseLevel maps a config string ("trace".."off") onto btclog.Level,
// defaulting to Info on an unrecognized value rather than failing startup.
func ParseLevel(s string) btclog.Level {
	lvl, ok := btclog.LevelFromString(s)
	if !ok {
		return btclog.LevelInfo
	}
	return lvl
}
