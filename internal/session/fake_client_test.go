package session

import (
	"context"
	"sync"

	"github.com/lexiqai/companion-gateway/internal/realtime"
)

// fakeClient is a realtime.Client that records every control call and subscription.
type fakeClient struct {
	em realtime.Emitter

	mu         sync.Mutex
	ons        []subscription
	offs       []subscription
	starts     int
	stops      int
	muted      []bool
	assistants []realtime.AssistantConfig
	overrides  []realtime.Overrides

	// startErr is returned by Start when block is false.
	startErr error
	// block makes the i-th Start wait for a value on gate(i).
	block bool
	gates map[int]chan error

	setMutedErr error
	// callEndOnStop makes Stop emit call-end synchronously, like a backend that confirms at once.
	callEndOnStop bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{gates: make(map[int]chan error)}
}

func (f *fakeClient) gate(i int) chan error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gateLocked(i)
}

func (f *fakeClient) gateLocked(i int) chan error {
	g, ok := f.gates[i]
	if !ok {
		g = make(chan error, 1)
		f.gates[i] = g
	}
	return g
}

func (f *fakeClient) Start(ctx context.Context, assistant realtime.AssistantConfig, overrides realtime.Overrides) error {
	f.mu.Lock()
	i := f.starts
	f.starts++
	f.assistants = append(f.assistants, assistant)
	f.overrides = append(f.overrides, overrides)
	block, err := f.block, f.startErr
	var g chan error
	if block {
		g = f.gateLocked(i)
	}
	f.mu.Unlock()

	if !block {
		return err
	}
	select {
	case err := <-g:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeClient) Stop() error {
	f.mu.Lock()
	f.stops++
	emit := f.callEndOnStop
	f.mu.Unlock()

	if emit {
		f.em.Emit(realtime.Event{Name: realtime.EventCallEnd})
	}
	return nil
}

func (f *fakeClient) SetMuted(muted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted = append(f.muted, muted)
	return f.setMutedErr
}

func (f *fakeClient) On(name realtime.EventName, h realtime.Handler) realtime.ListenerID {
	id := f.em.On(name, h)
	f.mu.Lock()
	f.ons = append(f.ons, subscription{event: name, id: id})
	f.mu.Unlock()
	return id
}

func (f *fakeClient) Off(name realtime.EventName, id realtime.ListenerID) {
	f.em.Off(name, id)
	f.mu.Lock()
	f.offs = append(f.offs, subscription{event: name, id: id})
	f.mu.Unlock()
}

func (f *fakeClient) emit(name realtime.EventName) {
	f.em.Emit(realtime.Event{Name: name})
}

func (f *fakeClient) say(speaker, text string, final bool) {
	kind := realtime.TranscriptTypePartial
	if final {
		kind = realtime.TranscriptTypeFinal
	}
	f.em.Emit(realtime.Event{Name: realtime.EventMessage, Message: &realtime.Message{
		Type:           realtime.MessageTypeTranscript,
		Role:           speaker,
		TranscriptType: kind,
		Transcript:     text,
	}})
}

func (f *fakeClient) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func (f *fakeClient) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

func (f *fakeClient) mutedCalls() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.muted...)
}

func (f *fakeClient) subscriptions() (ons, offs []subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]subscription(nil), f.ons...), append([]subscription(nil), f.offs...)
}
