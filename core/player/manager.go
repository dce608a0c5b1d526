package player

import (
	"sync"

	"Bt1QDJ/core/cache"
	"Bt1QDJ/core/fetch"
	"Bt1QDJ/logger"
	"Bt1QDJ/voice"
)

// Manager owns every guild's player. It is constructed once at startup and
// creates players lazily on first access; players live for the rest of the
// process.
type Manager struct {
	store     *cache.Store
	fetcher   *fetch.Fetcher
	connector voice.Connector

	mu      sync.Mutex
	players map[string]*Player
}

// NewManager creates the registry over the shared store, fetcher and voice
// connector.
func NewManager(store *cache.Store, fetcher *fetch.Fetcher, connector voice.Connector) *Manager {
	return &Manager{
		store:     store,
		fetcher:   fetcher,
		connector: connector,
		players:   make(map[string]*Player),
	}
}

// Get returns the guild's player, creating it on first use.
func (m *Manager) Get(guildID string) *Player {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.players[guildID]; ok {
		return p
	}
	p := NewPlayer(guildID, m.store, m.fetcher, m.connector)
	m.players[guildID] = p

	logger.Debug("player created", logger.String("guildId", guildID))
	return p
}

// Shutdown disconnects every player. Used during process teardown.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for guildID, p := range m.players {
		if err := p.Stop(); err != nil {
			logger.Warn("failed to stop player during shutdown",
				logger.String("guildId", guildID),
				logger.ErrorField(err))
		}
	}
}
