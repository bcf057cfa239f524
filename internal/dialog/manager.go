package dialog

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

var ErrUnknownCommand = errors.New("dialog: unknown command")

const defaultSessionTTL = 30 * time.Minute

// Flow is one command's conversation. Answer is the only place that moves
// a session between states; it ends the session with Session.End.
type Flow interface {
	Command() string
	Description() string
	Start(ctx context.Context, s *Session) Reply
	Answer(ctx context.Context, s *Session, ev Event) Reply
}

type Options struct {
	TTL time.Duration
	Now func() time.Time
	Log logx.Logger
}

// Manager owns the live sessions and routes events to them. Handle and
// Begin are meant to be called from a single dispatcher goroutine; Prune
// may run concurrently.
type Manager struct {
	mu       sync.Mutex
	flows    map[string]Flow
	order    []Flow
	sessions map[Key]*Session
	ttl      time.Duration
	now      func() time.Time
	log      logx.Logger
}

func NewManager(opt Options, flows ...Flow) *Manager {
	if opt.TTL <= 0 {
		opt.TTL = defaultSessionTTL
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.Log.IsZero() {
		opt.Log = logx.Nop()
	}
	m := &Manager{
		flows:    map[string]Flow{},
		sessions: map[Key]*Session{},
		ttl:      opt.TTL,
		now:      opt.Now,
		log:      opt.Log.With(logx.String("comp", "dialog")),
	}
	for _, f := range flows {
		name := strings.TrimSpace(f.Command())
		if name == "" {
			continue
		}
		if _, dup := m.flows[name]; dup {
			continue
		}
		m.flows[name] = f
		m.order = append(m.order, f)
	}
	return m
}

// Flows returns the registered flows in registration order.
func (m *Manager) Flows() []Flow {
	return append([]Flow(nil), m.order...)
}

// SetTTL changes the idle timeout; it applies from the next Prune.
func (m *Manager) SetTTL(d time.Duration) {
	if d <= 0 {
		d = defaultSessionTTL
	}
	m.mu.Lock()
	m.ttl = d
	m.mu.Unlock()
}

// Begin starts cmd for the sender of ev, replacing a running session of the
// same command in the same chat.
func (m *Manager) Begin(ctx context.Context, cmd string, ev Event) (Reply, error) {
	f, ok := m.flows[cmd]
	if !ok {
		return Reply{}, ErrUnknownCommand
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := Key{Command: cmd, ChatID: ev.ChatID, UserID: ev.UserID}
	if _, ok := m.sessions[key]; ok {
		m.log.Debug("session restarted", logx.String("cmd", cmd), logx.Int64("chat_id", ev.ChatID), logx.Int64("user_id", ev.UserID))
		delete(m.sessions, key)
	}
	s := &Session{Key: key, UserName: ev.UserName, Waiting: true, touched: m.now()}
	rep := f.Start(ctx, s)
	m.settleLocked(s, &rep)
	return rep, nil
}

// Handle routes ev to the session that catches it. ok is false when no
// session does.
func (m *Manager) Handle(ctx context.Context, ev Event) (rep Reply, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.matchLocked(ev)
	if s == nil {
		return Reply{}, false
	}
	f := m.flows[s.Command]
	s.touched = m.now()
	rep = f.Answer(ctx, s, ev)
	m.settleLocked(s, &rep)
	return rep, true
}

func (m *Manager) matchLocked(ev Event) *Session {
	now := m.now()
	if ev.IsAction() {
		prefix, _, _, ok := tgui.Parse(ev.Data)
		if !ok {
			return nil
		}
		s := m.sessions[Key{Command: prefix, ChatID: ev.ChatID, UserID: ev.UserID}]
		if s == nil || m.expiredLocked(s, now) || !s.Catches(ev) {
			return nil
		}
		return s
	}
	// Plain text goes to the conversation the user touched last.
	var best *Session
	for _, s := range m.sessions {
		if m.expiredLocked(s, now) || !s.Catches(ev) {
			continue
		}
		if best == nil || s.touched.After(best.touched) {
			best = s
		}
	}
	return best
}

func (m *Manager) settleLocked(s *Session, rep *Reply) {
	if s.Waiting {
		m.sessions[s.Key] = s
		return
	}
	rep.Done = true
	if cur, ok := m.sessions[s.Key]; ok && cur == s {
		delete(m.sessions, s.Key)
	}
}

func (m *Manager) expiredLocked(s *Session, now time.Time) bool {
	return now.Sub(s.touched) > m.ttl
}

// Prune drops sessions idle for longer than the TTL and returns how many.
func (m *Manager) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for k, s := range m.sessions {
		if m.expiredLocked(s, now) {
			delete(m.sessions, k)
			n++
		}
	}
	if n > 0 {
		m.log.Debug("sessions pruned", logx.Int("count", n), logx.Int("left", len(m.sessions)))
	}
	return n
}

// Sessions lists the live session keys, sorted for stable output.
func (m *Manager) Sessions() []Key {
	m.mu.Lock()
	out := make([]Key, 0, len(m.sessions))
	for k := range m.sessions {
		out = append(out, k)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ChatID != b.ChatID {
			return a.ChatID < b.ChatID
		}
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		return a.Command < b.Command
	})
	return out
}
