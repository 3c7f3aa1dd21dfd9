package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/harrison/steward/internal/config"
	"github.com/harrison/steward/internal/decision"
	"github.com/harrison/steward/internal/filelock"
	"github.com/harrison/steward/internal/llm"
	"github.com/harrison/steward/internal/logger"
	"github.com/harrison/steward/internal/orchestrator"
	"github.com/harrison/steward/internal/persona"
	"github.com/harrison/steward/internal/profile"
	"github.com/harrison/steward/internal/reminder"
	"github.com/harrison/steward/internal/search"
	"github.com/harrison/steward/internal/store"
	"github.com/harrison/steward/internal/tools"
)

// scheduleWindowDays bounds the default schedule listing window of the
// schedule tool.
const scheduleWindowDays = 31

// runtime holds the collaborators shared by the chat and serve commands.
type runtime struct {
	cfg      *config.Config
	log      *logger.ConsoleLogger
	trace    *logger.TraceLogger
	lock     *filelock.DataLock
	store    *store.Store
	client   llm.Client
	gateway  *decision.Gateway
	executor *tools.Executor
	rewriter *persona.Rewriter
}

// newRuntime loads configuration and opens every shared resource. On error
// everything opened so far is closed again.
func newRuntime(configPath string, logWriter io.Writer) (*runtime, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if strings.TrimSpace(cfg.LLM.APIKey) == "" {
		return nil, fmt.Errorf("llm.api_key is required (set STEWARD_API_KEY)")
	}

	rt := &runtime{cfg: cfg, log: logger.NewConsoleLogger(logWriter, cfg.LogLevel)}

	if cfg.LogDir != "" {
		trace, err := logger.NewTraceLogger(cfg.LogDir)
		if err != nil {
			return nil, err
		}
		rt.trace = trace
	}

	if cfg.DBPath != ":memory:" {
		lock, err := filelock.Acquire(filepath.Dir(cfg.DBPath))
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.lock = lock
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.store = st

	rt.client = llm.NewOpenAIClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.Timeout)
	rt.gateway = decision.NewGateway(rt.client, cfg.Planner.RetryCount, rt.trace)

	provider := search.FromConfig(cfg.Search.Provider, cfg.Search.APIKey, cfg.Search.Timeout)
	rt.executor = tools.NewExecutor(st, provider, cfg.Search.TopK, scheduleWindowDays)

	if text := rt.personaText(); text != "" {
		rt.rewriter = persona.NewRewriter(rt.client, text, rt.log)
	}

	return rt, nil
}

// newEngine builds the orchestration engine with the given progress listener.
func (r *runtime) newEngine(listener orchestrator.EventListener) *orchestrator.Engine {
	engCfg := orchestrator.Config{
		MaxSteps:         r.cfg.Planner.MaxSteps,
		FailureLimit:     r.cfg.Planner.FailureLimit,
		CancelPhrase:     r.cfg.Planner.CancelPhrase,
		ObservationChars: r.cfg.Planner.ObservationCharLimit,
		ObservationCount: r.cfg.Planner.ObservationHistoryLimit,
		UserProfile:      r.userProfile(),
	}
	// Only a working rewriter goes into the interface field; a typed nil
	// would make the nil check inside the engine pass vacuously.
	if r.rewriter.Enabled() {
		engCfg.Rewriter = r.rewriter
	}
	return orchestrator.NewEngine(r.gateway, r.executor, r.store, listener, engCfg)
}

// newReminder builds the background reminder poller delivering to sink.
func (r *runtime) newReminder(sink reminder.Sink) *reminder.Service {
	svc := reminder.NewService(r.store, sink, r.log,
		r.cfg.Reminder.PollInterval, r.cfg.Reminder.Lookahead, 0)
	if r.rewriter.Enabled() {
		svc.SetRewriter(r.rewriter)
	}
	return svc
}

// newProfileRefresh builds the daily user-profile regeneration service, or
// nil when it is disabled or no profile file is configured. Refreshed text is
// pushed into the engine so running sessions pick it up.
func (r *runtime) newProfileRefresh(engine *orchestrator.Engine) *profile.RefreshService {
	if !r.cfg.ProfileRefresh.Enabled || strings.TrimSpace(r.cfg.UserProfilePath) == "" {
		return nil
	}
	return profile.NewRefreshService(r.store, r.client, engine.SetUserProfile, r.log, profile.Config{
		Path:          r.cfg.UserProfilePath,
		ScheduledHour: r.cfg.ProfileRefresh.ScheduledHour,
		LookbackDays:  r.cfg.ProfileRefresh.LookbackDays,
		MaxTurns:      r.cfg.ProfileRefresh.MaxTurns,
		PollInterval:  r.cfg.ProfileRefresh.PollInterval,
	})
}

// personaText resolves the persona description from inline config or file.
func (r *runtime) personaText() string {
	if text := strings.TrimSpace(r.cfg.Persona.Text); text != "" {
		return text
	}
	if r.cfg.Persona.Path == "" {
		return ""
	}
	data, err := os.ReadFile(r.cfg.Persona.Path)
	if err != nil {
		r.log.Warnf("read persona file %s: %v", r.cfg.Persona.Path, err)
		return ""
	}
	return strings.TrimSpace(string(data))
}

// userProfile reads the optional profile file. A missing file is logged and
// treated as no profile.
func (r *runtime) userProfile() string {
	if r.cfg.UserProfilePath == "" {
		return ""
	}
	data, err := os.ReadFile(r.cfg.UserProfilePath)
	if err != nil {
		r.log.Warnf("read user profile %s: %v", r.cfg.UserProfilePath, err)
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Close releases the runtime's resources in reverse acquisition order.
func (r *runtime) Close() {
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.log.Warnf("close store: %v", err)
		}
	}
	if r.lock != nil {
		if err := r.lock.Release(); err != nil {
			r.log.Warnf("release data lock: %v", err)
		}
	}
	if r.trace != nil {
		r.trace.Close()
	}
}
