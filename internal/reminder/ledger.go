package reminder

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Ledger persists the device dispatcher's state as one YAML file: the
// monotonic notification-id counter and the live actionID -> notificationID
// bindings. Persisting the counter is what prevents id reuse across restarts,
// which is why the dispatcher does not hash durable ids into 32 bits.
type Ledger struct {
	path string

	mu    sync.Mutex
	state ledgerState
}

type ledgerState struct {
	LastID   int64            `yaml:"last_id"`
	Bindings map[string]int64 `yaml:"bindings"`
}

// OpenLedger loads or creates the ledger file.
func OpenLedger(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	l := &Ledger{path: path, state: ledgerState{Bindings: make(map[string]int64)}}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	if err := yaml.Unmarshal(data, &l.state); err != nil {
		return nil, fmt.Errorf("parse ledger: %w", err)
	}
	if l.state.Bindings == nil {
		l.state.Bindings = make(map[string]int64)
	}
	return l, nil
}

// Bind assigns the next notification id to an action and persists the
// binding. Ids only ever grow.
func (l *Ledger) Bind(actionID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state.LastID++
	id := l.state.LastID
	l.state.Bindings[actionID] = id
	if err := l.saveLocked(); err != nil {
		return 0, err
	}
	return id, nil
}

// Lookup returns the notification id bound to an action.
func (l *Ledger) Lookup(actionID string) (int64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.state.Bindings[actionID]
	return id, ok
}

// ActionFor reverse-maps a notification id to its action, for completion
// callbacks from the native runtime.
func (l *Ledger) ActionFor(notificationID int64) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for actionID, id := range l.state.Bindings {
		if id == notificationID {
			return actionID, true
		}
	}
	return "", false
}

// Release drops an action's binding. The counter never rewinds.
func (l *Ledger) Release(actionID string) (int64, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.state.Bindings[actionID]
	if !ok {
		return 0, false, nil
	}
	delete(l.state.Bindings, actionID)
	if err := l.saveLocked(); err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (l *Ledger) saveLocked() error {
	data, err := yaml.Marshal(&l.state)
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}
	if err := os.WriteFile(l.path, data, 0o644); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return nil
}
