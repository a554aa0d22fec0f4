// Package router dispatches incoming Telegram commands to registered
// handlers over a bounded worker pool.
package router

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"dianabot/internal/runtime/supervisor"
	kit "dianabot/internal/transport"
	logx "dianabot/pkg/logx"
	"dianabot/pkg/tgui"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	// Name is the command word without the leading slash, e.g. "puntos".
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	ReqID   string

	Adapter kit.Adapter
	Logger  logx.Logger
}

type Router struct {
	mu     sync.RWMutex
	cmds   map[string]*Command // name or alias -> command
	list   []Command           // registration order, for /ayuda
	owners []int64

	log     logx.Logger
	adapter kit.Adapter

	jobs chan func()
}

func New(log logx.Logger, adapter kit.Adapter, owners []int64) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		cmds:    map[string]*Command{},
		owners:  append([]int64(nil), owners...),
		log:     log,
		adapter: adapter,
		jobs:    make(chan func(), 256),
	}
}

// Register adds commands. Later registrations win on name collision. A
// built-in /ayuda is always present.
func (r *Router) Register(cmds ...Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cmds {
		name := strings.TrimSpace(strings.ToLower(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		cc := c
		cc.Name = name
		r.cmds[name] = &cc
		r.list = append(r.list, cc)
		for _, a := range c.Aliases {
			a = strings.TrimSpace(strings.ToLower(a))
			if a != "" && !strings.Contains(a, " ") {
				r.cmds[a] = &cc
			}
		}
	}
}

// SetOwners updates the owner list used for AccessOwnerOnly checks.
// Safe to call during hot-reload.
func (r *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

func (r *Router) ownersSnapshot() []int64 {
	r.mu.RLock()
	cp := append([]int64(nil), r.owners...)
	r.mu.RUnlock()
	return cp
}

// DispatchLoop consumes updates until ctx is done or the channel closes.
// Handlers run on a bounded worker pool so one slow handler cannot stall
// routing.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}

	sup := supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(r.log.With(logx.String("comp", "telegram.router"))),
		supervisor.WithCancelOnError(false),
	)

	r.log.Info("command dispatcher started", logx.Int("workers", workers))

	for i := 0; i < workers; i++ {
		name := "command.worker." + strconv.Itoa(i)
		sup.GoRestart(name, func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					if job != nil {
						job()
					}
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) route(root context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		r.routeMessage(root, up)
	case kit.UpdateCallback:
		// No inline-button flows yet; just stop the "loading" spinner.
		if up.Callback != nil {
			_ = r.adapter.AnswerCallback(root, up.Callback.ID, "")
		}
	}
}

func (r *Router) routeMessage(root context.Context, up kit.Update) {
	if up.Message == nil {
		return
	}
	msg := up.Message
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}

	parts := strings.Fields(text)
	word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	args := parts[1:]

	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	if word == "ayuda" || word == "help" {
		_, _ = r.adapter.SendText(root, chat, r.helpText(msg.FromID).String(),
			&kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
		return
	}

	r.mu.RLock()
	cmd, ok := r.cmds[word]
	r.mu.RUnlock()
	if !ok || cmd == nil {
		// Unknown commands in groups stay silent to avoid noise.
		if !msg.IsGroup {
			_, _ = r.adapter.SendText(root, chat, "Comando desconocido. Prueba /ayuda", nil)
		}
		return
	}

	owners := r.ownersSnapshot()
	if cmd.Access == AccessOwnerOnly && !isOwner(msg.FromID, owners) {
		_, _ = r.adapter.SendText(root, chat, "No autorizado", nil)
		return
	}

	rid := newReqID()
	req := &Request{
		Update:  up,
		Chat:    chat,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    args,
		ReqID:   rid,
		Adapter: r.adapter,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}

	final := Chain(
		cmd.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(cmd.Timeout),
	)

	select {
	case r.jobs <- func() { _ = final(root, req) }:
	default:
		_, _ = r.adapter.SendText(root, chat, "Ocupada ahora mismo, inténtalo de nuevo", nil)
	}
}

func (r *Router) helpText(fromID int64) tgui.H {
	owners := r.ownersSnapshot()
	r.mu.RLock()
	cmds := append([]Command(nil), r.list...)
	r.mu.RUnlock()

	sort.SliceStable(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })

	parts := []tgui.H{tgui.B("Comandos disponibles")}
	for _, c := range cmds {
		if c.Access == AccessOwnerOnly && !isOwner(fromID, owners) {
			continue
		}
		line := tgui.JoinH(" — ", tgui.Code("/"+c.Name), tgui.Esc(c.Description))
		parts = append(parts, line)
	}
	return tgui.JoinH("\n", parts...)
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}

func newReqID() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(b[:])
}
