package core

import (
	"strings"
	"sync"
)

type profileKey struct {
	guildID string
	userID  string
}

// profiles maps a user to the alternate identity they record under. It lives in
// memory only; a restart puts everyone back on their default identity.
type profiles struct {
	mu sync.RWMutex
	m  map[profileKey]string
}

func newProfiles() *profiles {
	return &profiles{m: map[profileKey]string{}}
}

func (p *profiles) set(guildID, userID, profile string) {
	profile = strings.TrimSpace(profile)

	p.mu.Lock()
	defer p.mu.Unlock()

	k := profileKey{guildID: guildID, userID: userID}
	if profile == "" {
		delete(p.m, k)
		return
	}
	p.m[k] = profile
}

func (p *profiles) get(guildID, userID string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.m[profileKey{guildID: guildID, userID: userID}]
}
