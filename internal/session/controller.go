package session

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lexiqai/companion-gateway/internal/observability"
	"github.com/lexiqai/companion-gateway/internal/realtime"
)

// Options configures a Controller. Every field is optional.
type Options struct {
	// OnSessionEnded is invoked once per call when it leaves the active state.
	OnSessionEnded func(companionID string)
	// Observer receives a snapshot after every event that changed the state. It is called
	// with the controller's lock held, in application order, and must not call back into
	// the controller.
	Observer func(State)
	Settings *AssistantSettings // nil uses DefaultAssistantSettings
	Logger   *zerolog.Logger    // nil uses the global logger
	Metrics  *observability.Metrics
}

type subscription struct {
	event realtime.EventName
	id    realtime.ListenerID
}

// Controller drives one live call on a realtime.Client. It subscribes to the client's events
// when created and releases exactly those subscriptions on Close.
type Controller struct {
	client    realtime.Client
	cfg       SessionConfig
	assistant realtime.AssistantConfig
	overrides realtime.Overrides

	onSessionEnded func(string)
	observer       func(State)
	logger         zerolog.Logger
	metrics        *observability.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// muteMu orders mute forwards so the client ends on the latest state.
	muteMu sync.Mutex

	mu          sync.Mutex
	state       State
	closed      bool
	startSeq    uint64
	stopPending uint64 // startSeq of an attempt ended while still connecting
	subs        []subscription
	closeOnce   sync.Once
}

// NewController mounts a controller for cfg on client.
func NewController(client realtime.Client, cfg SessionConfig, opts Options) *Controller {
	settings := DefaultAssistantSettings()
	if opts.Settings != nil {
		settings = *opts.Settings
	}
	logger := observability.GetLogger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	assistant, overrides := BuildAssistant(settings, cfg)
	ctx, cancel := context.WithCancel(context.Background())

	c := &Controller{
		client:         client,
		cfg:            cfg,
		assistant:      assistant,
		overrides:      overrides,
		onSessionEnded: opts.OnSessionEnded,
		observer:       opts.Observer,
		logger:         logger.With().Str("component", "session").Logger(),
		metrics:        opts.Metrics,
		ctx:            ctx,
		cancel:         cancel,
		state:          NewState(),
	}

	for _, name := range realtime.Events {
		id := client.On(name, c.handleEvent)
		c.subs = append(c.subs, subscription{event: name, id: id})
	}

	return c
}

// Config returns the session configuration the controller was mounted with.
func (c *Controller) Config() SessionConfig {
	return c.cfg
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// StartSession begins a call. It returns immediately; the handshake runs in the background.
// It is a no-op while a call is connecting or active.
func (c *Controller) StartSession() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if cs := c.state.CallState; cs == CallConnecting || cs == CallActive {
		c.mu.Unlock()
		c.logger.Debug().Str("call_state", string(cs)).Msg("Ignoring start while a call is in progress")
		return
	}

	fx := c.apply(Event{Kind: EventStartRequested})
	if fx.start {
		c.startSeq++
		c.wg.Add(1)
		go c.runStart(c.startSeq)
	}
	c.mu.Unlock()

	c.run(fx)
}

func (c *Controller) runStart(seq uint64) {
	defer c.wg.Done()

	err := c.client.Start(c.ctx, c.assistant, c.overrides)
	c.metrics.RecordStartRequest(err == nil)

	c.mu.Lock()
	current := !c.closed && seq == c.startSeq
	if err != nil {
		var fx effects
		if current {
			fx = c.apply(Event{Kind: EventStartFailed})
		}
		c.mu.Unlock()

		if current {
			c.logger.Warn().Err(err).Msg("Failed to start call")
			c.metrics.RecordError("start_failed", "session")
		}
		c.run(fx)
		return
	}

	stop := current && c.stopPending == seq
	c.mu.Unlock()

	// The call was ended while the handshake was in flight.
	if stop {
		c.stopClient()
		return
	}
	if current {
		c.forwardMute(true)
	}
}

// EndSession requests the end of the call and moves to finished without waiting for the
// backend to confirm.
func (c *Controller) EndSession() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	connecting := c.state.CallState == CallConnecting
	fx := c.apply(Event{Kind: EventEndRequested})
	if fx.stop && connecting {
		c.stopPending = c.startSeq
	}
	c.mu.Unlock()

	c.run(fx)
}

// ToggleMic flips the mute state and forwards it to the backend. It is valid in any state.
func (c *Controller) ToggleMic() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	fx := c.apply(Event{Kind: EventMuteToggled})
	c.mu.Unlock()

	c.run(fx)
}

// Close releases every subscription registered at mount and waits for an in-flight start.
// It does not stop the call; the owner of the client tears the channel down. Events
// delivered after Close leave the state untouched.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		subs := c.subs
		c.subs = nil
		c.mu.Unlock()

		for _, s := range subs {
			c.client.Off(s.event, s.id)
		}

		c.cancel()
		c.wg.Wait()
		c.metrics.RecordUnmount()
	})
}

func (c *Controller) handleEvent(ev realtime.Event) {
	var sev Event
	switch ev.Name {
	case realtime.EventCallStart:
		sev.Kind = EventCallStarted
	case realtime.EventCallEnd:
		sev.Kind = EventCallEnded
	case realtime.EventSpeechStart:
		sev.Kind = EventSpeechStarted
	case realtime.EventSpeechEnd:
		sev.Kind = EventSpeechEnded
	case realtime.EventMessage:
		frag, ok := FragmentFromMessage(ev.Message)
		if !ok {
			return
		}
		sev = Event{Kind: EventFragment, Fragment: frag}
	case realtime.EventError:
		sev.Kind = EventError
	default:
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	fx := c.apply(sev)
	callState := c.state.CallState
	c.mu.Unlock()

	if sev.Kind == EventError {
		c.logger.Warn().Err(ev.Err).Str("call_state", string(callState)).Msg("Realtime channel error")
		c.metrics.RecordError("channel_error", "realtime")
	}
	c.run(fx)
}

// apply must be called with c.mu held.
func (c *Controller) apply(ev Event) effects {
	before := c.state
	after := Reduce(before, ev)
	c.state = after

	fx := deriveEffects(ev, before, after)
	if !after.Equal(before) {
		if before.CallState != after.CallState {
			c.logger.Debug().
				Str("event", ev.Kind.String()).
				Str("from", string(before.CallState)).
				Str("to", string(after.CallState)).
				Msg("Call state changed")
		}
		if c.observer != nil {
			c.observer(after.Clone())
		}
	}
	return fx
}

// run performs the side effects of a transition. It must be called without c.mu held.
func (c *Controller) run(fx effects) {
	if fx.callActive {
		c.metrics.RecordCallActive()
	}
	if fx.fragment {
		c.metrics.RecordFragment(fx.merged)
	}
	if fx.setMuted != nil {
		c.forwardMute(false)
	}
	if fx.stop {
		c.stopClient()
	}
	if fx.sessionEnded {
		c.metrics.RecordCallFinished()
		if c.onSessionEnded != nil {
			c.onSessionEnded(c.cfg.CompanionID)
		}
	}
}

// forwardMute sends the current mute state to the client. With onlyMuted set, an unmuted
// state is not sent.
func (c *Controller) forwardMute(onlyMuted bool) {
	c.muteMu.Lock()
	defer c.muteMu.Unlock()

	c.mu.Lock()
	muted := c.state.IsMuted
	c.mu.Unlock()

	if onlyMuted && !muted {
		return
	}
	if err := c.client.SetMuted(muted); err != nil {
		c.logControlError(err, "Failed to forward mute state")
	}
}

func (c *Controller) stopClient() {
	if err := c.client.Stop(); err != nil {
		c.logControlError(err, "Failed to stop call")
	}
}

func (c *Controller) logControlError(err error, msg string) {
	if errors.Is(err, realtime.ErrNotConnected) {
		c.logger.Debug().Err(err).Msg(msg)
		return
	}
	c.logger.Warn().Err(err).Msg(msg)
	c.metrics.RecordError("control_failed", "session")
}
