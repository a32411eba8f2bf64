// Package qr renders pairing payloads to PNG and keeps the latest one
// available for the HTTP gateway.
package qr

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mdp/qrterminal/v3"
	"github.com/skip2/go-qrcode"
)

const DefaultSize = 256

var ErrNotAvailable = errors.New("qr code not generated yet")

// Artifact is a rendered pairing code.
type Artifact struct {
	Payload     string
	PNG         []byte
	PublishedAt time.Time
}

// Publisher holds the most recently published artifact. The zero path keeps
// artifacts in memory only.
type Publisher struct {
	path     string
	size     int
	terminal io.Writer

	mu     sync.RWMutex
	latest *Artifact
}

type Option func(*Publisher)

// WithTerminal also prints every published code to w as half-block text.
func WithTerminal(w io.Writer) Option {
	return func(p *Publisher) {
		p.terminal = w
	}
}

// New creates a publisher mirroring artifacts to path. A file left there by a
// previous process is removed since its payload has already expired.
func New(path string, size int, opts ...Option) (*Publisher, error) {
	if size <= 0 {
		size = DefaultSize
	}
	if path != "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("remove stale qr image: %w", err)
		}
	}
	p := &Publisher{path: path, size: size}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Publish renders payload and makes it the latest artifact. A failed file
// write still leaves the in-memory artifact in place.
func (p *Publisher) Publish(payload string) error {
	if payload == "" {
		return errors.New("empty qr payload")
	}
	png, err := qrcode.Encode(payload, qrcode.Medium, p.size)
	if err != nil {
		return fmt.Errorf("encode qr: %w", err)
	}

	p.mu.Lock()
	p.latest = &Artifact{Payload: payload, PNG: png, PublishedAt: time.Now()}
	p.mu.Unlock()

	if p.terminal != nil {
		qrterminal.GenerateHalfBlock(payload, qrterminal.L, p.terminal)
	}

	if p.path == "" {
		return nil
	}
	if err := writeFileAtomic(p.path, png); err != nil {
		return fmt.Errorf("write qr image: %w", err)
	}
	return nil
}

// Clear drops the latest artifact and its file once pairing is over.
func (p *Publisher) Clear() error {
	p.mu.Lock()
	p.latest = nil
	p.mu.Unlock()

	if p.path == "" {
		return nil
	}
	if err := os.Remove(p.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove qr image: %w", err)
	}
	return nil
}

// FetchLatest returns the most recent artifact or ErrNotAvailable.
func (p *Publisher) FetchLatest() (Artifact, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.latest == nil {
		return Artifact{}, ErrNotAvailable
	}
	return *p.latest, nil
}

func (p *Publisher) Available() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest != nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".qr-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
