package store

import "sync"

// notifier fans committed-write signals out to watchers. Signals are
// coalescing: each watcher channel has buffer 1, and a publish while the
// buffer is full is dropped (the watcher will re-read anyway). This is
// the signal-channel pattern, one channel per subscription.
type notifier struct {
	mu     sync.Mutex
	closed bool
	// table -> id -> channels; the "" id watches the whole table.
	watchers map[string]map[string][]chan struct{}
}

func newNotifier() *notifier {
	return &notifier{watchers: make(map[string]map[string][]chan struct{})}
}

// Watch returns a channel that receives a signal whenever a write to the
// given table touches the given id, plus a cancel function. The channel
// is closed on cancel or store close.
func (s *Store) Watch(table Table, id string) (<-chan struct{}, func()) {
	return s.notifier.watch(string(table), id)
}

// WatchTable is Watch for every id in a table. Stream watchers use this
// with the streams table; live queries use it to re-run reads.
func (s *Store) WatchTable(table Table) (<-chan struct{}, func()) {
	return s.notifier.watch(string(table), "")
}

func (n *notifier) watch(table, id string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		close(ch)
		return ch, func() {}
	}
	byID, ok := n.watchers[table]
	if !ok {
		byID = make(map[string][]chan struct{})
		n.watchers[table] = byID
	}
	byID[id] = append(byID[id], ch)

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		chans := n.watchers[table][id]
		for i, c := range chans {
			if c == ch {
				n.watchers[table][id] = append(chans[:i:i], chans[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

// publish signals watchers of the specific ids and the table watcher.
func (n *notifier) publish(table string, ids ...string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	byID, ok := n.watchers[table]
	if !ok {
		return
	}
	for _, id := range ids {
		for _, ch := range byID[id] {
			signal(ch)
		}
	}
	for _, ch := range byID[""] {
		signal(ch)
	}
}

// publishTable signals only the whole-table watchers.
func (n *notifier) publishTable(table string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	for _, ch := range n.watchers[table][""] {
		signal(ch)
	}
}

func (n *notifier) closeAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for _, byID := range n.watchers {
		for _, chans := range byID {
			for _, ch := range chans {
				close(ch)
			}
		}
	}
	n.watchers = nil
}

// signal performs a non-blocking send; a full buffer coalesces.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
