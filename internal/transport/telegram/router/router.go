// Package router turns Telegram updates into dialog events: slash commands
// start conversations, text and button presses go to the session that
// catches them, and the resulting replies are sent back.
package router

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"remindbot/internal/dialog"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

// Request is one routed update plus the request-scoped logger.
type Request struct {
	Update kit.Update
	Chat   kit.ChatTarget
	FromID int64
	ReqID  string
	// Route is "/cmd" for commands, "text" or "cb:<prefix>:<action>".
	Route string
	// Matched is set by the handler when a command or session took the update.
	Matched bool
	Event   dialog.Event
	Logger  logx.Logger
}

func (r *Request) logger(def logx.Logger) logx.Logger {
	if r == nil || r.Logger.IsZero() {
		return def
	}
	return r.Logger
}

type Options struct {
	// Timeout bounds a single update, including the replies it sends.
	Timeout time.Duration
	// Allowed restricts the bot to these user ids; empty allows everyone.
	Allowed []int64
	Log     logx.Logger
}

// Router feeds Telegram updates into the dialog manager one at a time.
type Router struct {
	log     logx.Logger
	adapter kit.Adapter
	dialogs *dialog.Manager
	timeout time.Duration

	mu      sync.RWMutex
	allowed map[int64]struct{}
}

func New(adapter kit.Adapter, dialogs *dialog.Manager, opt Options) *Router {
	if opt.Log.IsZero() {
		opt.Log = logx.Nop()
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 15 * time.Second
	}
	r := &Router{
		log:     opt.Log.With(logx.String("comp", "telegram.router")),
		adapter: adapter,
		dialogs: dialogs,
		timeout: opt.Timeout,
	}
	r.SetAllowed(opt.Allowed)
	return r
}

// SetAllowed replaces the allow-list; safe during config reload.
func (r *Router) SetAllowed(ids []int64) {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	r.mu.Lock()
	r.allowed = m
	r.mu.Unlock()
}

func (r *Router) isAllowed(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.allowed) == 0 {
		return true
	}
	_, ok := r.allowed[id]
	return ok
}

// DispatchLoop consumes updates sequentially until ctx ends or the channel
// closes. Ordering per chat follows arrival order.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	r.log.Info("dispatcher started")
	defer r.log.Info("dispatcher stopped")

	final := Chain(r.handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(r.timeout),
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			req := r.request(up)
			if req == nil {
				continue
			}
			_ = final(ctx, req)
		}
	}
}

func (r *Router) request(up kit.Update) *Request {
	req := &Request{Update: up, ReqID: newReqID()}
	switch up.Kind {
	case kit.UpdateMessage:
		m := up.Message
		if m == nil {
			return nil
		}
		name := m.FromName
		if name == "" {
			name = m.FromUsername
		}
		req.Chat = kit.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}
		req.FromID = m.FromID
		req.Event = dialog.Event{ChatID: m.ChatID, UserID: m.FromID, UserName: name, Text: m.Text}
	case kit.UpdateCallback:
		cb := up.Callback
		if cb == nil {
			return nil
		}
		req.Chat = kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}
		req.FromID = cb.FromID
		req.Event = dialog.Event{ChatID: cb.ChatID, UserID: cb.FromID, UserName: cb.FromUsername, Data: cb.Data}
	default:
		return nil
	}
	req.Logger = r.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", req.Chat.ChatID),
		logx.Int64("from_id", req.FromID),
	)
	return req
}

func (r *Router) handle(ctx context.Context, req *Request) error {
	if req.Update.Kind == kit.UpdateCallback {
		return r.routeCallback(ctx, req)
	}
	return r.routeMessage(ctx, req)
}

func (r *Router) routeMessage(ctx context.Context, req *Request) error {
	cmd, isCmd := parseCommand(req.Event.Text)
	if !isCmd {
		req.Route = "text"
		rep, ok := r.dialogs.Handle(ctx, req.Event)
		if !ok {
			return nil
		}
		req.Matched = true
		return r.reply(ctx, req, rep)
	}

	req.Route = "/" + cmd
	if !r.isAllowed(req.FromID) {
		_, err := r.adapter.SendText(ctx, req.Chat, txtForbidden, nil)
		return err
	}
	req.Matched = true
	switch cmd {
	case "start":
		return r.sendPlain(ctx, req, txtWelcome+"\n\n"+r.helpText())
	case "help":
		return r.sendPlain(ctx, req, r.helpText())
	}
	rep, err := r.dialogs.Begin(ctx, cmd, req.Event)
	if err != nil {
		req.Matched = false
		return r.sendPlain(ctx, req, txtUnknownCommand)
	}
	return r.reply(ctx, req, rep)
}

// routeCallback always answers the query so the client stops its spinner.
func (r *Router) routeCallback(ctx context.Context, req *Request) error {
	cb := req.Update.Callback
	req.Route = "cb"
	if prefix, action, _, ok := tgui.Parse(cb.Data); ok {
		req.Route = "cb:" + prefix + ":" + action
	}
	if !r.isAllowed(req.FromID) {
		return r.adapter.AnswerCallback(ctx, cb.ID, txtForbidden)
	}

	rep, ok := r.dialogs.Handle(ctx, req.Event)
	if !ok {
		return r.adapter.AnswerCallback(ctx, cb.ID, txtSessionGone)
	}
	req.Matched = true
	ackErr := r.adapter.AnswerCallback(ctx, cb.ID, "")
	if err := r.reply(ctx, req, rep); err != nil {
		return err
	}
	if ackErr != nil {
		req.Logger.Debug("callback answer failed", logx.Err(ackErr))
	}
	return nil
}

// reply sends the notices first, then the main text with its keyboard.
func (r *Router) reply(ctx context.Context, req *Request, rep dialog.Reply) error {
	for _, n := range rep.Notices {
		if n == "" {
			continue
		}
		if err := r.sendPlain(ctx, req, n); err != nil {
			return err
		}
	}
	if rep.Text == "" {
		return nil
	}
	opt := &kit.SendOptions{DisablePreview: true}
	if rep.Buttons.Len() > 0 {
		rm, err := tgui.Markup(rep.Buttons)
		if err != nil {
			return err
		}
		opt.Markup = rm
	}
	_, err := r.adapter.SendText(ctx, req.Chat, rep.Text, opt)
	return err
}

func (r *Router) sendPlain(ctx context.Context, req *Request, text string) error {
	_, err := r.adapter.SendText(ctx, req.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

func newReqID() string {
	return uuid.NewString()[:8]
}
