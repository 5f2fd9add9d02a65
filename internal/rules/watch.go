package rules

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Holder publishes the active rule set to concurrent readers.
type Holder struct {
	current atomic.Pointer[Compiled]
	adjust  func(*Rules)
}

func NewHolder(c *Compiled) *Holder {
	h := &Holder{}
	h.current.Store(c)
	return h
}

// Current returns the active rule set. The value must not be modified.
func (h *Holder) Current() *Compiled {
	return h.current.Load()
}

// OnLoad registers fn to patch every reloaded document before it is
// compiled, so environment overrides survive a reload. Call before Watch.
func (h *Holder) OnLoad(fn func(*Rules)) {
	h.adjust = fn
}

// Reload reads path and swaps the active rule set. On any error the
// previous rules stay in effect.
func (h *Holder) Reload(path string) error {
	r, err := Load(path)
	if err != nil {
		return err
	}
	if h.adjust != nil {
		h.adjust(&r)
	}
	c, err := r.Compile()
	if err != nil {
		return err
	}
	h.current.Store(c)
	return nil
}

// Watch reloads path whenever it is written or recreated until ctx ends.
// The parent directory is watched so editors that replace the file on save
// are handled.
func (h *Holder) Watch(ctx context.Context, path string, log *logrus.Entry) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("rules watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		w.Close()
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(evt.Name) != abs || evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := h.Reload(abs); err != nil {
					log.WithField("path", abs).WithField("error", err.Error()).Warn("rules reload rejected, keeping previous rules")
					continue
				}
				log.WithField("path", abs).Info("rules reloaded")
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.WithField("error", err.Error()).Warn("rules watcher error")
			}
		}
	}()
	return nil
}
