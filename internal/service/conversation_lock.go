package service

import (
	"context"
	"sync"
)

// ConversationLocker serializa turnos concurrentes sobre la misma
// conversacion. Sin el, dos llamadas en vuelo sobre el mismo id pueden leer
// el mismo historial y ambas agregar despues, sin que ninguna generacion vea
// el turno de la otra.
type ConversationLocker interface {
	// Lock bloquea hasta adquirir la exclusion para el id y devuelve la
	// funcion que la libera. Respeta la cancelacion del contexto.
	Lock(ctx context.Context, conversationID string) (func(), error)
}

// KeyedLocker implementa exclusion por conversacion dentro del proceso con
// mutexes por clave, con conteo de referencias para no acumular entradas.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*lockEntry)}
}

func (l *KeyedLocker) Lock(_ context.Context, conversationID string) (func(), error) {
	l.mu.Lock()
	entry := l.locks[conversationID]
	if entry == nil {
		entry = &lockEntry{}
		l.locks[conversationID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	release := func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, conversationID)
		}
		l.mu.Unlock()
	}
	return release, nil
}
