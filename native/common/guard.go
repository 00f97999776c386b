package common

import (
	"errors"
	"strings"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// Pauses is a process-local pause registry. The flags are never persisted, so
// a restarted process always comes up unpaused.
type Pauses struct {
	mu      sync.RWMutex
	modules map[string]bool
}

func NewPauses() *Pauses {
	return &Pauses{modules: make(map[string]bool)}
}

func (p *Pauses) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.modules[normaliseModule(module)]
}

// Set flips the pause flag for the module and reports whether it changed.
func (p *Pauses) Set(module string, paused bool) bool {
	if p == nil {
		return false
	}
	key := normaliseModule(module)
	if key == "" {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.modules[key] == paused {
		return false
	}
	if paused {
		p.modules[key] = true
	} else {
		delete(p.modules, key)
	}
	return true
}

func normaliseModule(module string) string {
	return strings.ToLower(strings.TrimSpace(module))
}
