package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pailflow/pailflow/pkg/llm"
	"github.com/pailflow/pailflow/pkg/pricing"
	"github.com/pailflow/pailflow/pkg/speech"
	"github.com/pailflow/pailflow/pkg/usage"
)

// InterruptionStrategy decides whether an in-progress assistant reply
// should be cut short by new user speech (§4.2, "llm" node contract).
type InterruptionStrategy func(wordsSpoken int) bool

// InterruptAfterOneWord is the default interruption strategy.
func InterruptAfterOneWord(wordsSpoken int) bool { return wordsSpoken >= 1 }

// Config bundles the tunables the node chain needs, sourced from the
// process-wide bot configuration (pkg/config.BotDefaults).
type Config struct {
	AggregationTimeout       time.Duration
	EmulatedVADTimeout       time.Duration
	AnimationFramesPerSprite int
	BotCallRatePerMinute     float64
}

// Animation holds the quiet/talking visuals rendered by the animation node.
type Animation struct {
	Quiet   Frame // ImageOutput or AnimatedSprite
	Talking Frame
}

// Pipeline runs the transport_in -> ... -> assistant_aggregator node chain
// for one bot session (§4.2). It is single-instance per session; all node
// logic runs on the goroutine that calls Run.
type Pipeline struct {
	cfg Config

	transport Transport
	stt       speech.STT
	tts       speech.TTS
	llmClient llm.Client

	speakerTracker *SpeakerTracker
	transcript     *TranscriptHandler
	tracker        *usage.Tracker

	model          string
	systemPrompt   string
	interruption   InterruptionStrategy
	animation      Animation
	workflowThread string

	mu              sync.Mutex
	pendingPartial  string
	lastPartialAt   time.Time
	botSpeaking     bool
	introduceOnJoin bool
}

// NewPipeline wires one bot session's node chain.
func NewPipeline(
	cfg Config,
	transport Transport,
	stt speech.STT,
	tts speech.TTS,
	llmClient llm.Client,
	speakerTracker *SpeakerTracker,
	transcript *TranscriptHandler,
	tracker *usage.Tracker,
	model, systemPrompt string,
	animation Animation,
) *Pipeline {
	return &Pipeline{
		cfg:            cfg,
		transport:      transport,
		stt:            stt,
		tts:            tts,
		llmClient:      llmClient,
		speakerTracker: speakerTracker,
		transcript:     transcript,
		tracker:        tracker,
		model:          model,
		systemPrompt:   systemPrompt,
		interruption:   InterruptAfterOneWord,
		animation:      animation,
	}
}

// SetWorkflowThreadID caches the owning WorkflowThread id for metrics_tap.
func (p *Pipeline) SetWorkflowThreadID(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.workflowThread = id
}

// Run drives transport_in -> stt -> speaker_tracker -> transcript_user ->
// user_aggregator -> llm -> metrics_tap -> tts -> animation ->
// transport_out -> transcript_assistant -> assistant_aggregator until ctx
// is cancelled or the STT stream closes.
func (p *Pipeline) Run(ctx context.Context) error {
	transcripts, err := p.stt.Start(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: start stt: %w", err)
	}

	runLLM := make(chan struct{}, 1)
	if p.introduceOnJoin {
		runLLM <- struct{}{}
	}

	aggTimer := time.NewTimer(time.Hour)
	if !aggTimer.Stop() {
		<-aggTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case t, ok := <-transcripts:
			if !ok {
				return nil
			}
			p.onTranscript(t, aggTimer)

		case <-aggTimer.C:
			p.flushAggregate(runLLM)

		case <-runLLM:
			if err := p.runLLMTurn(ctx); err != nil {
				slog.Warn("pipeline: llm turn failed", "error", err)
			}
		}
	}
}

// onTranscript implements the stt -> speaker_tracker -> transcript_user ->
// user_aggregator segment. Partial transcripts restart the aggregation
// timer (emulated-VAD); a final transcript is appended immediately but
// still waits for the aggregation window before triggering an LLM run, so
// rapid successive finals get combined into one turn.
func (p *Pipeline) onTranscript(t speech.Transcript, aggTimer *time.Timer) {
	userID := p.speakerTracker.Resolve(t.SpeakerID)

	p.mu.Lock()
	if t.Text != "" {
		if p.pendingPartial != "" {
			p.pendingPartial += " "
		}
		p.pendingPartial += t.Text
	}
	p.lastPartialAt = time.Now()
	p.mu.Unlock()

	if t.IsFinal {
		ctx := context.Background()
		_ = p.transcript.OnTranscriptUpdate(ctx, []TranscriptMessage{{
			Role:      "user",
			Content:   t.Text,
			UserID:    userID,
			Timestamp: time.Now().UTC(),
		}})
	}

	if !aggTimer.Stop() {
		select {
		case <-aggTimer.C:
		default:
		}
	}
	aggTimer.Reset(p.cfg.AggregationTimeout)
}

// flushAggregate implements the user_aggregator's timeout-driven flush:
// once the aggregation window and the emulated-VAD window have both
// elapsed with no new partials, queue an LLMRun.
func (p *Pipeline) flushAggregate(runLLM chan struct{}) {
	p.mu.Lock()
	idle := time.Since(p.lastPartialAt)
	hasPending := p.pendingPartial != ""
	p.mu.Unlock()

	if !hasPending || idle < p.cfg.EmulatedVADTimeout {
		return
	}

	select {
	case runLLM <- struct{}{}:
	default:
	}
}

// runLLMTurn implements llm -> metrics_tap -> tts -> animation ->
// transport_out -> transcript_assistant.
func (p *Pipeline) runLLMTurn(ctx context.Context) error {
	p.mu.Lock()
	userText := p.pendingPartial
	p.pendingPartial = ""
	p.mu.Unlock()

	if userText == "" {
		return nil
	}

	resp, err := p.llmClient.Complete(ctx, llm.CompletionRequest{
		Model:  p.model,
		System: p.systemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: userText},
		},
		Temperature: 0.7,
	})
	if err != nil {
		return fmt.Errorf("llm completion: %w", err)
	}

	p.metricsTap(ctx, resp.Usage)

	if err := p.speak(ctx, resp.Text); err != nil {
		return fmt.Errorf("tts/render: %w", err)
	}

	return p.transcript.OnTranscriptUpdate(ctx, []TranscriptMessage{{
		Role:      "assistant",
		Content:   resp.Text,
		Timestamp: time.Now().UTC(),
	}})
}

// metricsTap computes USD cost for one LLM call and records it via the
// Usage Tracker, per the metrics_tap node contract (§4.2).
func (p *Pipeline) metricsTap(ctx context.Context, u llm.Usage) {
	threadID := func() string {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.workflowThread
	}()
	if threadID == "" {
		return
	}

	cost, err := pricing.CalculateLLMCost(p.model, u.PromptTokens, u.CompletionTokens)
	if err != nil {
		slog.Warn("pipeline: metrics_tap: cost calculation failed", "model", p.model, "error", err)
		return
	}
	if _, err := p.tracker.UpdateWorkflowUsageCost(ctx, threadID, cost, ""); err != nil {
		slog.Warn("pipeline: metrics_tap: usage tracker update failed", "error", err)
	}
}

// speak renders assistant text as audio and brackets it with the
// tts/animation contract: BotStartedSpeaking -> talking visual, audio
// chunks, BotStoppedSpeaking -> quiet visual.
func (p *Pipeline) speak(ctx context.Context, text string) error {
	audio, err := p.tts.Synthesize(ctx, text)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.botSpeaking = true
	p.mu.Unlock()

	if err := p.renderAnimationFrame(ctx, p.animation.Talking); err != nil {
		slog.Warn("pipeline: render talking frame failed", "error", err)
	}

	for chunk := range audio {
		if err := p.transport.RenderAudio(ctx, chunk); err != nil {
			return err
		}
	}

	p.mu.Lock()
	p.botSpeaking = false
	p.mu.Unlock()

	if err := p.renderAnimationFrame(ctx, p.animation.Quiet); err != nil {
		slog.Warn("pipeline: render quiet frame failed", "error", err)
	}
	return nil
}

// renderAnimationFrame implements the animation node: sprite sequences are
// extended with their own reversal for a smooth ping-pong, and each frame
// is duplicated frames_per_sprite times to control playback speed.
func (p *Pipeline) renderAnimationFrame(ctx context.Context, frame Frame) error {
	switch f := frame.(type) {
	case ImageOutput:
		return p.transport.RenderImage(ctx, f.Data)
	case AnimatedSprite:
		sequence := pingPong(f.Frames)
		n := p.cfg.AnimationFramesPerSprite
		if n <= 0 {
			n = 1
		}
		for _, img := range sequence {
			for i := 0; i < n; i++ {
				if err := p.transport.RenderImage(ctx, img); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// pingPong appends the reversed sequence (excluding the endpoints, which
// would otherwise repeat) to frames, for a smooth back-and-forth loop.
func pingPong(frames [][]byte) [][]byte {
	if len(frames) <= 1 {
		return frames
	}
	out := make([][]byte, 0, 2*len(frames)-2)
	out = append(out, frames...)
	for i := len(frames) - 2; i > 0; i-- {
		out = append(out, frames[i])
	}
	return out
}

// IntroduceOnFirstJoin appends introSystemMessage to the system prompt and
// sets the introduction flag. Run reads the flag only when it starts, and a
// queued LLM run with no pending user text makes no LLM call, so no
// introduction reply is produced on its own; the appended message applies
// to the next user-triggered turn.
func (p *Pipeline) IntroduceOnFirstJoin(introSystemMessage string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if introSystemMessage != "" {
		p.systemPrompt = strings.TrimSpace(p.systemPrompt + "\n" + introSystemMessage)
	}
	p.introduceOnJoin = true
}
