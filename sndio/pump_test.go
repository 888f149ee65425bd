package sndio

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/audiowire/audio"
)

// fakeSource scripts a frame sequence and records control calls.
type fakeSource struct {
	mu       sync.Mutex
	value    float32
	frames   int
	state    DeviceState
	paused   int
	resumed  int
	restarts int
	reclocks int
}

func (s *fakeSource) ReadFrame(f *audio.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frames == 0 {
		return false
	}
	s.frames--
	for i := range f.Samples {
		f.Samples[i] = s.value
	}
	f.Flags = audio.FlagHasSignal
	return true
}

func (s *fakeSource) State() DeviceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeSource) setState(st DeviceState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

func (s *fakeSource) Pause() error   { s.mu.Lock(); defer s.mu.Unlock(); s.paused++; return nil }
func (s *fakeSource) Resume() error  { s.mu.Lock(); defer s.mu.Unlock(); s.resumed++; return nil }
func (s *fakeSource) Restart() error { s.mu.Lock(); defer s.mu.Unlock(); s.restarts++; return nil }
func (s *fakeSource) Reclock(time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reclocks++
}

// fakeSink collects written frames.
type fakeSink struct {
	mu     sync.Mutex
	frames [][]float32
	spec   audio.SampleSpec
}

func (s *fakeSink) WriteFrame(f *audio.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]float32, len(f.Samples))
	copy(cp, f.Samples)
	s.frames = append(s.frames, cp)
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *fakeSink) Latency() time.Duration       { return 10 * time.Millisecond }
func (s *fakeSink) SampleSpec() audio.SampleSpec { return s.spec }

func testSpec() audio.SampleSpec {
	return audio.SampleSpec{Rate: 44100, Channels: 2}
}

func newTestPump(t *testing.T, src, backup Source, sink Sink, mode PumpMode) *Pump {
	t.Helper()
	p, err := NewPump(PumpConfig{
		Source:      src,
		Backup:      backup,
		Sink:        sink,
		SampleSpec:  testSpec(),
		FrameLength: 20 * time.Millisecond,
		Mode:        mode,
	})
	require.NoError(t, err)
	return p
}

func TestPumpMovesFramesUntilEOF(t *testing.T) {
	src := &fakeSource{value: 0.5, frames: 7, state: StateActive}
	sink := &fakeSink{spec: testSpec()}

	p := newTestPump(t, src, nil, sink, ModeContinuous)
	assert.True(t, p.Run(), "EOF exit is a clean exit")

	assert.Equal(t, 7, sink.count())
	assert.Equal(t, uint64(7), p.Frames())
	assert.Equal(t, 7, src.reclocks, "every written frame is reclocked")
	assert.Equal(t, float32(0.5), sink.frames[0][0])
}

func TestPumpStop(t *testing.T) {
	src := &fakeSource{value: 0.1, frames: 1 << 30, state: StateActive}
	sink := &fakeSink{spec: testSpec()}

	p := newTestPump(t, src, nil, sink, ModeContinuous)

	done := make(chan bool, 1)
	go func() { done <- p.Run() }()

	for sink.count() == 0 {
		time.Sleep(time.Millisecond)
	}
	p.Stop()

	select {
	case clean := <-done:
		assert.False(t, clean, "stop exit reports interruption")
	case <-time.After(5 * time.Second):
		t.Fatal("pump did not stop")
	}
}

func TestPumpOneshotExitsWhenSourceGoesInactive(t *testing.T) {
	src := &fakeSource{value: 0.2, frames: 1 << 30, state: StateActive}
	sink := &fakeSink{spec: testSpec()}

	p := newTestPump(t, src, nil, sink, ModeOneshot)

	go func() {
		for sink.count() < 3 {
			time.Sleep(time.Millisecond)
		}
		src.setState(StateInactive)
	}()

	assert.True(t, p.Run())
	assert.GreaterOrEqual(t, sink.count(), 3)
}

func TestPumpSwitchesToBackupAndBack(t *testing.T) {
	main := &fakeSource{value: 0.9, frames: 1 << 30, state: StateInactive}
	backup := &fakeSource{value: 0.1, frames: 1 << 30, state: StateActive}
	sink := &fakeSink{spec: testSpec()}

	p := newTestPump(t, main, backup, sink, ModeContinuous)

	go func() {
		for sink.count() < 3 {
			time.Sleep(time.Millisecond)
		}
		main.setState(StateActive)
		for {
			sink.mu.Lock()
			n := len(sink.frames)
			var last float32
			if n > 0 {
				last = sink.frames[n-1][0]
			}
			sink.mu.Unlock()
			if n >= 6 && last == 0.9 {
				break
			}
			time.Sleep(time.Millisecond)
		}
		p.Stop()
	}()

	p.Run()

	// The backup played first, then the main source took over.
	assert.Equal(t, float32(0.1), sink.frames[0][0], "backup fills while main is inactive")
	assert.Equal(t, 1, backup.restarts, "backup restarted when switched in")
	assert.GreaterOrEqual(t, main.paused, 1, "main paused while backup plays")
	assert.GreaterOrEqual(t, main.resumed, 1, "main resumed when it became active")
	assert.GreaterOrEqual(t, backup.paused, 1, "backup paused when main took over")

	sawMain := false
	for _, f := range sink.frames {
		if f[0] == 0.9 {
			sawMain = true
			break
		}
	}
	assert.True(t, sawMain, "main source frames reach the sink after switch")
}

func TestNewPumpValidation(t *testing.T) {
	src := &fakeSource{state: StateActive}
	sink := &fakeSink{spec: testSpec()}

	tests := []struct {
		name   string
		config PumpConfig
	}{
		{name: "Nil source", config: PumpConfig{Sink: sink, SampleSpec: testSpec(), FrameLength: time.Millisecond * 20}},
		{name: "Nil sink", config: PumpConfig{Source: src, SampleSpec: testSpec(), FrameLength: time.Millisecond * 20}},
		{name: "Zero frame", config: PumpConfig{Source: src, Sink: sink, SampleSpec: testSpec()}},
		{name: "Bad spec", config: PumpConfig{Source: src, Sink: sink, SampleSpec: audio.SampleSpec{}, FrameLength: time.Millisecond * 20}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPump(tt.config)
			assert.Error(t, err)
		})
	}
}
