package bot

import (
	"context"
	"fmt"

	"github.com/pailflow/pailflow/pkg/accounting"
	"github.com/pailflow/pailflow/pkg/llm"
	"github.com/pailflow/pailflow/pkg/persistence"
	"github.com/pailflow/pailflow/pkg/pipeline"
	"github.com/pailflow/pailflow/pkg/placement"
	"github.com/pailflow/pailflow/pkg/speech"
	"github.com/pailflow/pailflow/pkg/usage"
)

// TransportFactory joins a room and returns the Transport the pipeline
// will drive for the session's lifetime. The concrete room-provider client
// is an out-of-scope external collaborator (§1); production wiring supplies
// a real implementation here.
type TransportFactory func(ctx context.Context, req placement.SpawnRequest) (pipeline.Transport, error)

// STTFactory and TTSFactory construct the vendor-backed speech interfaces
// for one session. Concrete vendor SDKs are out of scope (§1); only the
// pkg/speech interfaces are depended on above this boundary.
type STTFactory func() speech.STT
type TTSFactory func() speech.TTS

// SessionLauncher implements placement.Launcher for the InProcess backend:
// for each SpawnRequest it joins the room, wires a Media Pipeline Runtime,
// and runs it inside a bot.Worker, carrying out §4.2's shutdown sequencing
// on every exit path.
type SessionLauncher struct {
	store     persistence.Adapter
	tracker   *usage.Tracker
	ledger    *accounting.Ledger
	llmClient llm.Client

	pipelineCfg  pipeline.Config
	shutdownCfg  ShutdownConfig
	model        string
	systemPrompt string
	animation    pipeline.Animation

	newTransport TransportFactory
	newSTT       STTFactory
	newTTS       TTSFactory

	deregister func(roomName string)
}

// NewSessionLauncher wires a SessionLauncher. deregister is called once the
// session's worker exits, letting the caller evict any external bookkeeping
// keyed by room name (may be nil).
func NewSessionLauncher(
	store persistence.Adapter,
	tracker *usage.Tracker,
	ledger *accounting.Ledger,
	llmClient llm.Client,
	pipelineCfg pipeline.Config,
	shutdownCfg ShutdownConfig,
	model, systemPrompt string,
	animation pipeline.Animation,
	newTransport TransportFactory,
	newSTT STTFactory,
	newTTS TTSFactory,
	deregister func(roomName string),
) *SessionLauncher {
	return &SessionLauncher{
		store:        store,
		tracker:      tracker,
		ledger:       ledger,
		llmClient:    llmClient,
		pipelineCfg:  pipelineCfg,
		shutdownCfg:  shutdownCfg,
		model:        model,
		systemPrompt: systemPrompt,
		animation:    animation,
		newTransport: newTransport,
		newSTT:       newSTT,
		newTTS:       newTTS,
		deregister:   deregister,
	}
}

// Launch implements placement.Launcher. It joins the room synchronously (so
// spawn failures surface to the orchestrator's fallback loop) and then runs
// the worker on its own goroutine.
func (l *SessionLauncher) Launch(ctx context.Context, req placement.SpawnRequest) (context.CancelFunc, <-chan error) {
	sessionCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)

	transport, err := l.newTransport(sessionCtx, req)
	if err != nil {
		cancel()
		done <- fmt.Errorf("bot: launch: join room: %w", err)
		close(done)
		return func() {}, done
	}

	joinOrder := pipeline.NewJoinOrder()
	speakerTracker := pipeline.NewSpeakerTracker(joinOrder)
	roomName := roomNameFromURL(req.RoomURL)
	botName := "Interviewer"
	if name, ok := req.BotConfig["name"].(string); ok && name != "" {
		botName = name
	}
	transcript := pipeline.NewTranscriptHandler(l.store, roomName, botName, joinOrder)
	transcript.SetWorkflowThreadID(req.WorkflowThreadID)

	systemPrompt := l.systemPrompt
	if prompt, ok := req.BotConfig["system_message"].(string); ok && prompt != "" {
		systemPrompt = prompt
	} else if prompt, ok := req.BotConfig["bot_prompt"].(string); ok && prompt != "" {
		systemPrompt = prompt
	}

	p := pipeline.NewPipeline(
		l.pipelineCfg, transport, l.newSTT(), l.newTTS(), l.llmClient,
		speakerTracker, transcript, l.tracker, l.model, systemPrompt, l.animation,
	)
	p.SetWorkflowThreadID(req.WorkflowThreadID)

	deregisterFn := func() {
		if l.deregister != nil {
			l.deregister(roomName)
		}
	}
	worker := NewWorker(l.store, l.tracker, l.ledger, l.shutdownCfg, req.WorkflowThreadID, transport, p, deregisterFn)

	go func() {
		done <- worker.Run(sessionCtx)
		close(done)
	}()

	return cancel, done
}

func roomNameFromURL(roomURL string) string {
	for i := len(roomURL) - 1; i >= 0; i-- {
		if roomURL[i] == '/' {
			return roomURL[i+1:]
		}
	}
	return roomURL
}

var _ placement.Launcher = (*SessionLauncher)(nil)
