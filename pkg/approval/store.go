// Package approval bridges an execute request that needs human confirmation
// to the approve request that arrives later. Entries live in a keyed store
// with a bounded lifetime enforced by a periodic sweep.
package approval

import (
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"

	"github.com/harun/toolbridge/pkg/catalog"
)

const (
	// DefaultTTL bounds how long an unconsumed approval stays pending.
	DefaultTTL = 5 * time.Minute

	// DefaultSweepInterval is how often expired entries are evicted.
	DefaultSweepInterval = time.Minute
)

// Pending holds everything needed to run the tool once it is approved: the
// resolved definition, the original parameters, and the caller envelope.
type Pending struct {
	Tool       *catalog.ToolDefinition
	Parameters map[string]interface{}
	Envelope   map[string]interface{}
	CreatedAt  time.Time
}

// Store is the pending-approval state machine. An entry is Pending from
// Create until it is either consumed by an approve request or evicted by the
// sweep; both terminal states look identical to a later lookup.
type Store struct {
	ttl           time.Duration
	sweepInterval time.Duration

	mu      sync.Mutex
	entries map[string]*Pending

	done     chan struct{}
	stopOnce sync.Once
	onChange func(pending int)
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides the pending entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithSweepInterval overrides the eviction interval.
func WithSweepInterval(interval time.Duration) Option {
	return func(s *Store) { s.sweepInterval = interval }
}

// WithOnChange registers a callback invoked with the pending count after
// every mutation. Used to keep the metrics gauge current.
func WithOnChange(fn func(pending int)) Option {
	return func(s *Store) { s.onChange = fn }
}

// NewStore creates a store and starts its background sweep.
func NewStore(opts ...Option) *Store {
	s := &Store{
		ttl:           DefaultTTL,
		sweepInterval: DefaultSweepInterval,
		entries:       make(map[string]*Pending),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.sweepLoop()

	return s
}

// Create stores a pending approval and returns its generated id: a
// millisecond timestamp plus a random nanoid suffix, regenerated in the
// unlikely case it collides with an in-flight entry.
func (s *Store) Create(tool *catalog.ToolDefinition, parameters, envelope map[string]interface{}) string {
	s.mu.Lock()
	var id string
	for {
		suffix, _ := gonanoid.New(9)
		id = fmt.Sprintf("approval_%d_%s", time.Now().UnixMilli(), suffix)
		if _, exists := s.entries[id]; !exists {
			break
		}
	}
	s.entries[id] = &Pending{
		Tool:       tool,
		Parameters: parameters,
		Envelope:   envelope,
		CreatedAt:  time.Now(),
	}
	count := len(s.entries)
	s.mu.Unlock()

	s.notify(count)

	log.Debug().
		Str("approval_id", id).
		Str("tool", tool.Name).
		Msg("Pending approval created")

	return id
}

// Consume atomically removes and returns the entry for the id. A second
// consume of the same id, or a consume racing the sweep's eviction, observes
// absence.
func (s *Store) Consume(id string) (*Pending, bool) {
	s.mu.Lock()
	pending, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	count := len(s.entries)
	s.mu.Unlock()

	if ok {
		s.notify(count)
	}
	return pending, ok
}

// Len returns the number of pending entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stop halts the sweep and discards every pending entry; all outstanding
// approval ids become unconsumable.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})

	s.mu.Lock()
	clear(s.entries)
	s.mu.Unlock()

	s.notify(0)
}

func (s *Store) sweepLoop() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.done:
			return
		}
	}
}

// sweep evicts every entry older than the TTL. Evicted entries are never
// delivered anywhere; a later approve request simply finds them gone.
func (s *Store) sweep() {
	now := time.Now()

	s.mu.Lock()
	expired := 0
	for id, pending := range s.entries {
		if now.Sub(pending.CreatedAt) > s.ttl {
			delete(s.entries, id)
			expired++
		}
	}
	count := len(s.entries)
	s.mu.Unlock()

	if expired > 0 {
		s.notify(count)
		log.Info().
			Int("expired", expired).
			Int("pending", count).
			Msg("Expired pending approvals evicted")
	}
}

func (s *Store) notify(count int) {
	if s.onChange != nil {
		s.onChange(count)
	}
}
