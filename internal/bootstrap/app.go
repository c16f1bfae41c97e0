// Package bootstrap wires settings, engines, diagnostics, and the UI
// runtime into the desktop application.
package bootstrap

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"local-dictation/internal/config"
	"local-dictation/internal/diagnostics"
	"local-dictation/internal/domain"
	"local-dictation/internal/events"
	"local-dictation/internal/llama"
	"local-dictation/internal/logging"
	"local-dictation/internal/models"
	"local-dictation/internal/resolve"
	"local-dictation/internal/whisper"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

var modelDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Engine models",
		Pattern:     "*.bin;*.gguf",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

// engineClient is the shared lifecycle surface of both engine clients.
type engineClient interface {
	Initialize(ctx context.Context) (bool, error)
	Shutdown(ctx context.Context) error
	Status() domain.EngineStatus
}

// App wires configuration, engines, diagnostics, and UI runtime callbacks.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Speech      *whisper.Client
	Language    *llama.Client
	Diagnostics domain.DiagnosticReport

	assets  fs.FS
	checker *diagnostics.Checker
	catalog *models.Catalog
	watcher *models.Watcher
	logger  zerolog.Logger
	events  *events.Bus

	mu         sync.Mutex
	runtimeCtx context.Context
	stream     *whisper.StreamSession
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}
	if err := ensureLocalBinOnPATH(homeDir); err != nil {
		return nil, fmt.Errorf("prepare local tool path: %w", err)
	}

	dataDir := filepath.Join(homeDir, ".local-dictation")
	store := config.NewJSONStore(filepath.Join(dataDir, "settings.json"))
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	settings = config.Normalize(settings)

	logger := logging.New(logging.Config{Level: settings.LogLevel, Console: settings.ConsoleLogs})

	checker := diagnostics.NewChecker()
	report := checker.Run(settings)

	app := &App{
		Settings:    settings,
		Store:       store,
		Diagnostics: report,
		assets:      assets,
		checker:     checker,
		catalog:     models.NewCatalog(settings.ModelDir, logging.ForComponent(logger, "models")),
		logger:      logger,
		events:      events.NewBus(1000),
	}
	app.buildClients(settings, dataDir)
	app.watcher = models.NewWatcher(settings.ModelDir, app.onModelDirChange, logging.ForComponent(logger, "watch"))

	return app, nil
}

// buildClients constructs both engine clients from the given settings.
func (a *App) buildClients(settings domain.Settings, dataDir string) {
	resolver := resolve.NewResolver(resolve.Config{
		PackagedMode: settings.PackagedMode,
		ResourcesDir: packagedResourcesDir(),
		DataDir:      dataDir,
		ModelDir:     settings.ModelDir,
		BinaryOverrides: map[domain.EngineKind]string{
			domain.EngineSpeech:        settings.SpeechBinary,
			domain.EngineLanguageModel: settings.LanguageBinary,
		},
		ModelOverrides: map[domain.EngineKind]string{
			domain.EngineSpeech:        settings.SpeechModel,
			domain.EngineLanguageModel: settings.LanguageModel,
		},
	}, logging.ForComponent(a.logger, "resolve"))

	a.Speech = whisper.NewClient(resolver, whisper.Config{
		Language: settings.Language,
		Threads:  settings.Threads,
	}, logging.ForComponent(a.logger, "speech"))

	llamaCfg := llama.DefaultConfig()
	llamaCfg.Port = settings.ServerPort
	llamaCfg.ContextSize = settings.ContextSize
	llamaCfg.Threads = settings.Threads
	llamaCfg.GPULayers = settings.GPULayers
	a.Language = llama.NewClient(resolver, llamaCfg, logging.ForComponent(a.logger, "language"))
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "Local Dictation",
		Width:       1024,
		Height:      700,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown:  a.OnShutdown,
		Bind:        []interface{}{a},
	})
}

// Startup stores the Wails runtime context and starts the model watcher.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	a.runtimeCtx = ctx
	a.mu.Unlock()

	if err := a.watcher.Start(); err != nil {
		a.logger.Warn().Err(err).Msg("model directory watch unavailable")
		a.watcher = nil
	}
}

// OnShutdown stops both engines and the model watcher.
func (a *App) OnShutdown(ctx context.Context) {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if err := a.StopDictation(); err != nil {
		a.logger.Warn().Err(err).Msg("stop dictation session")
	}
	if err := a.Speech.Shutdown(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("speech engine shutdown")
	}
	if err := a.Language.Shutdown(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("language engine shutdown")
	}

	a.mu.Lock()
	a.runtimeCtx = nil
	a.mu.Unlock()
}

// clientFor maps an engine kind onto its client.
func (a *App) clientFor(kind string) (engineClient, error) {
	switch domain.EngineKind(kind) {
	case domain.EngineSpeech:
		return a.Speech, nil
	case domain.EngineLanguageModel:
		return a.Language, nil
	default:
		return nil, fmt.Errorf("unknown engine kind: %s", kind)
	}
}

// InitializeEngine brings one engine to ready, reporting rather than
// raising failures so the UI can render them.
func (a *App) InitializeEngine(kind string) domain.EngineInitResult {
	client, err := a.clientFor(kind)
	if err != nil {
		return domain.EngineInitResult{Kind: domain.EngineKind(kind), Error: err.Error()}
	}

	ready, err := client.Initialize(context.Background())
	result := domain.EngineInitResult{Kind: domain.EngineKind(kind), Ready: ready}
	if err != nil {
		result.Error = err.Error()
	}
	a.publishEngineStatus(client.Status())
	return result
}

// ShutdownEngine stops one engine and releases its resources.
func (a *App) ShutdownEngine(kind string) error {
	client, err := a.clientFor(kind)
	if err != nil {
		return err
	}
	err = client.Shutdown(context.Background())
	a.publishEngineStatus(client.Status())
	return err
}

// GetEngineStatus returns the lifecycle snapshot for one engine.
func (a *App) GetEngineStatus(kind string) (domain.EngineStatus, error) {
	client, err := a.clientFor(kind)
	if err != nil {
		return domain.EngineStatus{}, err
	}
	return client.Status(), nil
}

// GetEngineStatuses returns snapshots for both engines.
func (a *App) GetEngineStatuses() []domain.EngineStatus {
	return []domain.EngineStatus{a.Speech.Status(), a.Language.Status()}
}

// TranscribeChunk transcribes one in-memory audio chunk. It never
// raises: failures land in the result's Error field.
func (a *App) TranscribeChunk(audio any, sampleRate int) domain.TranscriptResult {
	result := a.Speech.TranscribeChunk(context.Background(), audio, sampleRate)
	if result.Text != "" {
		a.publishEvent(events.Event{
			Type:   events.EventTypeTranscript,
			Engine: domain.EngineSpeech,
			Text:   result.Text,
		})
	}
	return result
}

// TranscribeFile transcribes an audio file on disk.
func (a *App) TranscribeFile(path string) (domain.TranscriptResult, error) {
	return a.Speech.TranscribeFile(context.Background(), path)
}

// StartDictation opens one live incremental transcription session.
// Segments stream to the UI through the event bus.
func (a *App) StartDictation() error {
	a.mu.Lock()
	if a.stream != nil {
		a.mu.Unlock()
		return fmt.Errorf("a dictation session is already running")
	}
	a.mu.Unlock()

	session, err := a.Speech.StartStream(context.Background(), whisper.DefaultStreamOptions(), func(segment domain.TranscriptSegment) {
		a.publishEvent(events.Event{
			Type:   events.EventTypeTranscript,
			Engine: domain.EngineSpeech,
			Text:   segment.Text,
		})
	})
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.stream = session
	a.mu.Unlock()
	return nil
}

// StopDictation ends the live transcription session, if one is running.
func (a *App) StopDictation() error {
	a.mu.Lock()
	session := a.stream
	a.stream = nil
	a.mu.Unlock()

	if session == nil {
		return nil
	}
	return session.Stop()
}

// RefineText cleans up dictated text through the language model.
func (a *App) RefineText(text string) (string, error) {
	return a.Language.Refine(context.Background(), text)
}

// AnswerWithContext answers a question against context documents,
// continuing the conversation identified by conversationID.
func (a *App) AnswerWithContext(question, conversationID string, docs []string) (string, error) {
	return a.Language.AnswerWithContext(context.Background(), question, conversationID, docs)
}

// GenerateContent produces structured content from a free-form request.
// Failures come back as a fallback result, never as an error.
func (a *App) GenerateContent(request string) domain.ContentResult {
	return a.Language.GenerateContent(context.Background(), request)
}

// ClearConversation drops the stored history for one conversation.
func (a *App) ClearConversation(conversationID string) {
	a.Language.ClearHistory(conversationID)
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// RefreshDiagnostics reloads settings and reruns dependency checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}
	settings = config.Normalize(settings)

	report := a.checker.Run(settings)
	a.mu.Lock()
	a.Settings = settings
	a.Diagnostics = report
	a.mu.Unlock()
	return report, nil
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	settings = config.Normalize(settings)

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, refreshes diagnostics,
// and rebuilds engine clients that are not currently running. Running
// engines pick up new settings on their next initialization.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := config.Normalize(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = normalized
	a.Diagnostics = a.checker.Run(normalized)
	a.mu.Unlock()

	if a.enginesIdle() {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			a.buildClients(normalized, filepath.Join(homeDir, ".local-dictation"))
		}
	}

	return normalized, nil
}

// enginesIdle reports whether neither engine is running or starting.
func (a *App) enginesIdle() bool {
	for _, status := range a.GetEngineStatuses() {
		switch status.State {
		case domain.EngineStateInitializing, domain.EngineStateReady, domain.EngineStateShuttingDown:
			return false
		}
	}
	return true
}

// GetModelPresets returns downloadable model presets with local state.
func (a *App) GetModelPresets() []domain.ModelPreset {
	return a.catalog.Presets()
}

// DownloadModel fetches one preset into the model directory and returns
// the refreshed preset list.
func (a *App) DownloadModel(id string) ([]domain.ModelPreset, error) {
	if _, err := a.catalog.Download(context.Background(), id); err != nil {
		return nil, err
	}

	if _, err := a.RefreshDiagnostics(); err != nil {
		a.logger.Warn().Err(err).Msg("refresh diagnostics after model download")
	}
	return a.catalog.Presets(), nil
}

// PickModelFile opens a native file dialog for engine model selection.
func (a *App) PickModelFile() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenFileDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select engine model",
		Filters: modelDialogFilter,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// PickModelDirectory opens a native directory picker for model folders.
func (a *App) PickModelDirectory() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: "Select model directory",
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// Events returns all events with sequence greater than sinceSeq.
func (a *App) Events(sinceSeq int64) []events.Event {
	return a.events.Since(sinceSeq)
}

// onModelDirChange refreshes diagnostics and notifies the UI when model
// files appear or disappear.
func (a *App) onModelDirChange() {
	if _, err := a.RefreshDiagnostics(); err != nil {
		a.logger.Warn().Err(err).Msg("refresh diagnostics after model change")
	}
	a.publishEvent(events.Event{
		Type:    events.EventTypeModels,
		Message: "model directory changed",
	})
}

// publishEngineStatus emits one engine lifecycle event.
func (a *App) publishEngineStatus(status domain.EngineStatus) {
	a.publishEvent(events.Event{
		Type:    events.EventTypeEngineStatus,
		Engine:  status.Kind,
		State:   status.State,
		Message: status.LastError,
	})
}

// publishEvent stores event history and emits runtime push notifications.
func (a *App) publishEvent(event events.Event) {
	published := a.events.Publish(event)

	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		wailsruntime.EventsEmit(ctx, "engine:event", published)
	}
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// packagedResourcesDir locates the resource tree shipped next to the
// executable in packaged builds.
func packagedResourcesDir() string {
	exePath, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Join(filepath.Dir(exePath), "resources")
}
