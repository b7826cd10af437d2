package transport

import (
	"io"
	"sync"
	"time"

	"github.com/erparts/reisen"
	"github.com/hajimehoshi/ebiten/v2/audio"

	"github.com/lilluzifer/cinnamon/clock"
	"github.com/lilluzifer/cinnamon/internal/debug"
)

// AudioMixer is the boundary spec.md §4.9 draws around audio: the transport
// drives it with clock state and clip visibility, and never touches a
// decoder or player directly itself.
type AudioMixer interface {
	// Activate starts audio at timelineTime for clips in the set that have
	// no active player and stops players of clips not in the set. Players
	// already active for a clip in the set are left as they are, whatever
	// timelineTime is. playing indicates whether a new player should
	// actually run or merely be primed (e.g. seeking while paused).
	Activate(clipIDs []string, timelineTime, rate float64, playing bool)
	// Reset tears down all active players.
	Reset()
	// SetMuted mutes or unmutes a clip's audio without stopping it.
	SetMuted(clipID string, muted bool)
	// PauseAll freezes every active player in place.
	PauseAll()
	// StopAll halts and releases every active player.
	StopAll()
	// Seek repositions all active players to t, preserving play/pause state.
	Seek(t float64)
	// UpdateClockState is called each tick so the mixer can report drift
	// samples back through clock.Clock.Ingest, closing the audio-as-source
	// feedback loop of spec.md §4.2.
	UpdateClockState(state clock.State)
}

// NoopAudioMixer discards every call; used when a composition or build has
// no audio tracks, or in tests that don't need real playback.
type NoopAudioMixer struct{}

func (NoopAudioMixer) Activate([]string, float64, float64, bool) {}
func (NoopAudioMixer) Reset()                                    {}
func (NoopAudioMixer) SetMuted(string, bool)                     {}
func (NoopAudioMixer) PauseAll()                                 {}
func (NoopAudioMixer) StopAll()                                  {}
func (NoopAudioMixer) Seek(float64)                              {}
func (NoopAudioMixer) UpdateClockState(clock.State)              {}

// AudioOpener resolves a clip ID to its reisen audio stream, deferred so
// this package doesn't own asset path resolution.
type AudioOpener func(clipID string) (*reisen.Media, *reisen.AudioStream, error)

const audioBufferSize = 200 * time.Millisecond

// EbitenAudioMixer is the reference AudioMixer, generalizing
// controller_yes_audio.go's single-stream audioPlayer management to one
// player per currently-visible clip.
type EbitenAudioMixer struct {
	mu      sync.Mutex
	opener  AudioOpener
	clock   *clock.Clock
	players map[string]*audioVoice
}

type audioVoice struct {
	media  *reisen.Media
	stream *reisen.AudioStream
	player *audio.Player

	mu            sync.Mutex
	leftover      []byte
	muted         bool
	needsFirstPTS bool
	firstPTS      time.Duration
}

// NewEbitenAudioMixer creates a mixer that opens audio streams lazily
// through opener, reporting drift back through clk.
func NewEbitenAudioMixer(opener AudioOpener, clk *clock.Clock) *EbitenAudioMixer {
	return &EbitenAudioMixer{opener: opener, clock: clk, players: map[string]*audioVoice{}}
}

func (m *EbitenAudioMixer) Activate(clipIDs []string, timelineTime, rate float64, playing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := make(map[string]bool, len(clipIDs))
	for _, id := range clipIDs {
		want[id] = true
	}
	for id, v := range m.players {
		if !want[id] {
			m.noLockStopVoice(v)
			delete(m.players, id)
		}
	}

	ctx := audio.CurrentContext()
	if ctx == nil {
		return
	}
	for _, id := range clipIDs {
		if _, ok := m.players[id]; ok {
			continue
		}
		media, stream, err := m.opener(id)
		if err != nil {
			debug.Playf("audio: no stream for clip %s: %v", id, err)
			continue
		}
		if err := media.OpenDecode(); err != nil {
			continue
		}
		if err := stream.Open(); err != nil {
			continue
		}
		if err := stream.Rewind(time.Duration(timelineTime * float64(time.Second))); err != nil {
			debug.Playf("audio: rewind failed for clip %s: %v", id, err)
		}
		v := &audioVoice{media: media, stream: stream, needsFirstPTS: true}
		player, err := ctx.NewPlayer(&struct{ io.Reader }{v})
		if err != nil {
			continue
		}
		player.SetBufferSize(audioBufferSize)
		v.player = player
		if playing {
			player.Play()
		}
		m.players[id] = v
	}
}

func (m *EbitenAudioMixer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, v := range m.players {
		m.noLockStopVoice(v)
		delete(m.players, id)
	}
}

func (m *EbitenAudioMixer) SetMuted(clipID string, muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.players[clipID]; ok {
		v.mu.Lock()
		v.muted = muted
		v.mu.Unlock()
		if v.player != nil {
			if muted {
				v.player.SetVolume(0)
			} else {
				v.player.SetVolume(1)
			}
		}
	}
}

func (m *EbitenAudioMixer) PauseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.players {
		if v.player != nil {
			v.player.Pause()
		}
	}
}

func (m *EbitenAudioMixer) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, v := range m.players {
		m.noLockStopVoice(v)
		delete(m.players, id)
	}
}

func (m *EbitenAudioMixer) Seek(t float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, v := range m.players {
		if err := v.stream.Rewind(time.Duration(t * float64(time.Second))); err != nil {
			debug.Playf("audio: seek rewind failed for clip %s: %v", id, err)
		}
		v.mu.Lock()
		v.leftover = v.leftover[:0]
		v.needsFirstPTS = true
		v.mu.Unlock()
	}
}

// UpdateClockState reports each active voice's player position back as a
// drift sample, closing the audio-leads-clock loop of spec.md §4.2.
func (m *EbitenAudioMixer) UpdateClockState(state clock.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.players {
		if v.player == nil {
			continue
		}
		v.mu.Lock()
		offset := v.firstPTS
		v.mu.Unlock()
		observed := offset.Seconds() + v.player.Position().Seconds()
		m.clock.Ingest(observed, clock.SourceAudio, state.HostTime)
	}
}

func (m *EbitenAudioMixer) noLockStopVoice(v *audioVoice) {
	if v.player != nil {
		v.player.Pause()
		v.player.Close()
	}
	v.stream.Close()
	v.media.CloseDecode()
	v.media.Close()
}

// Read implements io.Reader for ebiten's audio.Player, decoding audio
// packets on demand exactly as controller_yes_audio.go's Read does, but
// scoped to this voice's own stream instead of a shared controller.
func (v *audioVoice) Read(buffer []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(buffer)&0b11 != 0 {
		buffer = buffer[:len(buffer)&^0b11]
	}

	var served int
	if len(v.leftover) > 0 {
		n := copy(buffer, v.leftover)
		v.leftover = v.leftover[n:]
		buffer = buffer[n:]
		served += n
	}
	if len(buffer) == 0 {
		return served, nil
	}

	for len(buffer) > 0 {
		if err := v.readOneFrame(); err != nil {
			return served, err
		}
		if len(v.leftover) == 0 {
			return served, io.EOF
		}
		n := copy(buffer, v.leftover)
		v.leftover = v.leftover[n:]
		buffer = buffer[n:]
		served += n
	}
	return served, nil
}

func (v *audioVoice) readOneFrame() error {
	for {
		packet, ok, err := v.media.ReadPacket()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if packet.Type() != reisen.StreamAudio || packet.StreamIndex() != v.stream.Index() {
			continue
		}
		frame, got, err := v.stream.ReadAudioFrame()
		if err != nil {
			return err
		}
		if !got || frame == nil {
			continue
		}
		v.leftover = append(v.leftover, frame.Data()...)
		if v.needsFirstPTS {
			if pts, err := frame.PresentationOffset(); err == nil {
				v.firstPTS = pts
			}
			v.needsFirstPTS = false
		}
		return nil
	}
}
