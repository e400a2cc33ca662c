package logging

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/hypebeast/go-osc/osc"
)

type LogCategory string

const (
	META      LogCategory = "meta" // For logs about logging
	SOURCE_IN LogCategory = "source_in"
	RTP_IN    LogCategory = "rtp_in"
	RTP_OUT   LogCategory = "rtp_out"
	OSC_OUT   LogCategory = "osc_out"
	SESSION   LogCategory = "session"
	VIZ       LogCategory = "viz"
	APP       LogCategory = "app" // For application-specific logs (i.e. business logic)
)

func strToLogCategory(s string) (LogCategory, bool) {
	switch s {
	case "meta":
		return META, true
	case "source_in":
		return SOURCE_IN, true
	case "rtp_in":
		return RTP_IN, true
	case "rtp_out":
		return RTP_OUT, true
	case "osc_out":
		return OSC_OUT, true
	case "session":
		return SESSION, true
	case "viz":
		return VIZ, true
	case "app":
		return APP, true
	default:
		return "", false
	}
}

// Dispatcher is a custom osc.Dispatcher, implementing the osc.Dispatcher interface
type Dispatcher struct{}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Dispatch dispatches OSC packets. Implements the Dispatcher interface.
func (s *Dispatcher) Dispatch(packet osc.Packet) {
	switch p := packet.(type) {
	default:
		return

	case *osc.Message:
		HandleOSCSetCategoryLevel(p)
	}
}

// Internal state for loggers per category
var (
	mu               *sync.RWMutex
	loggers          = map[LogCategory]*slog.Logger{}
	categoryLvls     map[LogCategory]*slog.LevelVar
	defaultLogLevels map[LogCategory]slog.Level
	levelServer      *osc.Server
)

func init() {
	mu = new(sync.RWMutex)
	defaultLogLevels = map[LogCategory]slog.Level{
		META:      slog.LevelInfo,
		SOURCE_IN: slog.LevelWarn,
		RTP_IN:    slog.LevelWarn,
		RTP_OUT:   slog.LevelWarn,
		OSC_OUT:   slog.LevelWarn,
		SESSION:   slog.LevelInfo,
		VIZ:       slog.LevelWarn,
		APP:       slog.LevelInfo,
	}
	categoryLvls = make(map[LogCategory]*slog.LevelVar)
}

// Get returns a slog.Logger that always has the "category" attribute set.
// Each category gets its own logger instance.
func Get(category LogCategory) *slog.Logger {
	mu.RLock()
	l, ok := loggers[category]
	mu.RUnlock()
	if ok {
		return l
	}
	mu.Lock()
	defer mu.Unlock()
	// Double-check after locking
	if l, ok := loggers[category]; ok {
		return l
	}
	// Create a new LevelVar for this category if it doesn't exist
	lvlVar, ok := categoryLvls[category]
	if !ok {
		lvlVar = new(slog.LevelVar)
		lvlVar.Set(defaultLogLevels[category])
		categoryLvls[category] = lvlVar
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: lvlVar,
	})
	catLogger := slog.New(handler).With("category", category)
	loggers[category] = catLogger
	return catLogger
}

func SetCategoryLevel(category LogCategory, level slog.Level) {
	mu.Lock()
	defer mu.Unlock()
	lvlVar, ok := categoryLvls[category]
	if !ok {
		lvlVar = new(slog.LevelVar)
		categoryLvls[category] = lvlVar
	}
	lvlVar.Set(level)
}

// EnableRemoteLevelControl starts an OSC server on addr that accepts runtime
// level changes. Call it once from the host process if live tuning is wanted;
// libraries should not start it themselves.
func EnableRemoteLevelControl(addr string) error {
	mu.Lock()
	defer mu.Unlock()
	if levelServer != nil {
		return fmt.Errorf("remote level control already enabled on %s", levelServer.Addr)
	}
	levelServer = &osc.Server{
		Addr:       addr,
		Dispatcher: NewDispatcher(),
	}
	go func() {
		if err := levelServer.ListenAndServe(); err != nil {
			Get(META).Error("remote level control server exited", "err", err)
		}
	}()
	return nil
}

func splitOscPath(path string) []string {
	return strings.Split(path, "/")[1:]
}

// OSC handler for runtime config
//
// Routes:
// /meta/logging/{category}/level as int where -4 is Debug, 0 is Info, 4 is Warn, 8 is Error
func HandleOSCSetCategoryLevel(msg *osc.Message) {
	pathSegs := splitOscPath(msg.Address)

	if len(pathSegs) < 2 || (pathSegs[0] != "meta") || (pathSegs[1] != "logging") {
		return
	}
	if len(pathSegs) == 4 && pathSegs[3] == "level" {
		cat, ok := strToLogCategory(pathSegs[2])
		if !ok {
			slog.Info("Unrecognized log category in OSC message", "category", pathSegs[2])
			return
		}
		if len(msg.Arguments) == 0 {
			return
		}
		level, ok := msg.Arguments[0].(int32)
		if !ok {
			slog.Error("Invalid level type in OSC message", "expected", "int32", "got", fmt.Sprintf("%T", msg.Arguments[0]))
			return
		}
		Get(META).Info("Setting category level via OSC",
			"category", cat,
			"level", level)
		SetCategoryLevel(cat, slog.Level(level))
	}
}
