package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Chat    ChatConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// ChatConfig controls forwarding of log lines to a Telegram group.
type ChatConfig struct {
	Enabled    bool
	ChatID     int64
	ThreadID   int
	MinLevel   string
	RatePerSec int
}

// SendFunc delivers one formatted log line to a chat.
type SendFunc func(ctx context.Context, chatID int64, threadID int, text string) error

const defaultLogPath = "./remindbot.log"

// Service owns the sinks and swaps them on Apply.
type Service struct {
	mu   sync.Mutex
	cfg  Config
	root atomic.Pointer[zerolog.Logger]
	file *os.File

	send     SendFunc
	lines    chan chatLine
	startFwd sync.Once
	stopFwd  context.CancelFunc
	fwdDone  chan struct{}

	chatID   int64
	threadID int
	minLevel zerolog.Level
	limiter  *rate.Limiter
}

type chatLine struct {
	chatID   int64
	threadID int
	text     string
}

// New applies cfg and returns the service with its live root logger.
func New(cfg Config) (*Service, Logger) {
	s := &Service{lines: make(chan chatLine, 256)}
	boot := zerolog.New(consoleWriter(os.Stdout)).Level(ParseLevel(cfg.Level, zerolog.InfoLevel)).With().Timestamp().Logger()
	s.root.Store(&boot)
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) current() zerolog.Logger {
	if p := s.root.Load(); p != nil {
		return *p
	}
	return zerolog.Nop()
}

// SetSender wires the chat sink once the transport exists.
func (s *Service) SetSender(fn SendFunc) {
	s.mu.Lock()
	s.send = fn
	s.mu.Unlock()
}

// Apply rebuilds the writer chain. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg
	s.chatID = cfg.Chat.ChatID
	s.threadID = cfg.Chat.ThreadID
	s.minLevel = ParseLevel(cfg.Chat.MinLevel, zerolog.WarnLevel)
	rps := cfg.Chat.RatePerSec
	if rps < 1 {
		rps = 1
	}
	s.limiter = rate.NewLimiter(rate.Limit(rps), rps)

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, consoleWriter(os.Stdout))
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogPath
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: open %q: %v\n", path, err)
		} else {
			s.file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}
	if cfg.Chat.Enabled {
		s.startFwd.Do(s.startForwarder)
		sinks = append(sinks, chatWriter{svc: s})
		if s.chatID == 0 {
			fmt.Fprintln(os.Stderr, "logx: chat sink enabled without chat id")
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, consoleWriter(os.Stdout))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(ParseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

func (s *Service) startForwarder() {
	ctx, cancel := context.WithCancel(context.Background())
	s.stopFwd = cancel
	s.fwdDone = make(chan struct{})
	go func() {
		defer close(s.fwdDone)
		for {
			select {
			case <-ctx.Done():
				return
			case ln := <-s.lines:
				s.mu.Lock()
				send := s.send
				s.mu.Unlock()
				if send != nil {
					_ = send(ctx, ln.chatID, ln.threadID, ln.text)
				}
			}
		}
	}()
}

// Close stops the chat forwarder and closes the log file.
func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	stop, done := s.stopFwd, s.fwdDone
	s.stopFwd = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
	if f != nil {
		return f.Close()
	}
	return nil
}
