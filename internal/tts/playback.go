package tts

import (
	"context"
	"os"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

// Player renders a spooled audio file on an output device. Play blocks until
// the audio finishes or ctx is cancelled.
type Player interface {
	Play(ctx context.Context, path string) error
}

// PlaybackCallbacks notify the owner about playback lifecycle edges. Both are
// optional; OnEnded fires exactly once after the spool has been released.
type PlaybackCallbacks struct {
	OnStarted func()
	OnEnded   func()
}

// Playback is one in-flight spoken reply. The spool file stands in for the
// audio buffer handed to the output device; it is removed exactly once,
// whether playback ends naturally, is stopped early, or errors out.
type Playback struct {
	spool   string
	cancel  context.CancelFunc
	done    chan struct{}
	playing atomic.Bool

	stopOnce    sync.Once
	releaseOnce sync.Once

	errMu sync.Mutex
	err   error
}

func startPlayback(player Player, audio []byte, spoolDir string, cb PlaybackCallbacks) (*Playback, error) {
	if spoolDir == "" {
		spoolDir = os.TempDir()
	}
	f, err := os.CreateTemp(spoolDir, "voiceloop-reply-*.pcm")
	if err != nil {
		return nil, err
	}
	spool := f.Name()
	if _, err := f.Write(audio); err != nil {
		_ = f.Close()
		_ = os.Remove(spool)
		return nil, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(spool)
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Playback{
		spool:  spool,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	p.playing.Store(true)

	if cb.OnStarted != nil {
		cb.OnStarted()
	}
	go func() {
		defer close(p.done)
		err := player.Play(ctx, spool)
		p.playing.Store(false)
		if err != nil && ctx.Err() == nil {
			p.setErr(err)
			log.Error("playback failed", "error", err)
		}
		p.release()
		if cb.OnEnded != nil {
			cb.OnEnded()
		}
	}()
	return p, nil
}

// Stop halts playback early. Idempotent, and safe to call after natural end;
// the spool is still released exactly once.
func (p *Playback) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
	})
	<-p.done
}

// Done is closed once playback has fully ended and the spool is released.
func (p *Playback) Done() <-chan struct{} { return p.done }

// IsPlaying reports whether audio is still being rendered.
func (p *Playback) IsPlaying() bool { return p.playing.Load() }

// Err returns the playback error, if any. Cancellation is not an error.
func (p *Playback) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}

func (p *Playback) setErr(err error) {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	if p.err == nil {
		p.err = err
	}
}

func (p *Playback) release() {
	p.releaseOnce.Do(func() {
		p.cancel()
		if err := os.Remove(p.spool); err != nil && !os.IsNotExist(err) {
			log.Warn("failed to remove playback spool", "path", p.spool, "error", err)
		}
	})
}
