package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/m3rciful/botengine/core/logger"
)

const defaultProfileRefreshTimeout = 3 * time.Second

// JobQueue runs background work outside the webhook call.
type JobQueue interface {
	Enqueue(ctx context.Context, action, key string, run func(ctx context.Context) error) error
}

// Options tunes a Dispatcher.
type Options struct {
	// ProfileRefreshTimeout bounds a single profile lookup.
	ProfileRefreshTimeout time.Duration
	// AsyncProfileRefresh moves profile lookups onto Jobs.
	AsyncProfileRefresh bool
	Jobs                JobQueue
}

// Dispatcher is the entry point for inbound webhook calls.
type Dispatcher struct {
	convs     ConversationStore
	menus     MenuGraph
	adapters  AdapterProvider
	registry  *Registry
	navigator *Navigator
	opts      Options

	refresh singleflight.Group
	seq     atomic.Uint64
}

// NewDispatcher wires a Dispatcher.
func NewDispatcher(store Store, adapters AdapterProvider, registry *Registry, opts Options) *Dispatcher {
	if opts.ProfileRefreshTimeout <= 0 {
		opts.ProfileRefreshTimeout = defaultProfileRefreshTimeout
	}
	if opts.Jobs == nil {
		opts.AsyncProfileRefresh = false
	}
	return &Dispatcher{
		convs:     store.Conversations(),
		menus:     store.Menus(),
		adapters:  adapters,
		registry:  registry,
		navigator: NewNavigator(store.Menus(), store.Conversations(), registry),
		opts:      opts,
	}
}

// Registry returns the handler registry used by the dispatcher.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Dispatch processes one inbound call for messenger m and returns the reply
// payload, which may be nil. Parse failures are returned as *MessengerError.
func (d *Dispatcher) Dispatch(ctx context.Context, m *Messenger, req *Request) (Payload, error) {
	adapter, err := d.adapters.Adapter(m)
	if err != nil {
		return nil, fmt.Errorf("adapter for messenger %d: %w", m.ID, err)
	}

	msg, err := adapter.ParseMessage(ctx, req)
	if err != nil {
		logger.Warn(ctx, "engine", "message.parse",
			slog.String("status", "fail"),
			slog.Int64("messenger_id", m.ID),
			slog.String("api_type", string(m.APIType)),
			slog.String("err", err.Error()),
		)
		return nil, &MessengerError{Err: err}
	}

	ctx = logger.WithConversation(ctx, m.ID, msg.SenderID)
	ctx = logger.WithLogger(ctx, logger.FromContext(ctx).With("api_type", string(m.APIType)))
	if logger.RIDFrom(ctx) == "" {
		ctx = logger.WithRID(ctx, logger.BuildRID(m.ID, msg.SenderID, d.seq.Add(1)))
	}
	if logger.ShouldSampleDebug() {
		logger.Debug(ctx, "engine", "message.received",
			slog.String("kind", string(msg.Kind)),
			slog.Int("body_bytes", len(req.Body)),
		)
	}

	var conv *Conversation
	if msg.SenderID != "" {
		defaults := Conversation{
			CurrentMenuID: m.MenuID,
			UTMSource:     msg.ExtraString(ExtraContext),
		}
		var created bool
		conv, created, err = d.convs.GetOrCreate(ctx, m.ID, msg.SenderID, defaults)
		if err != nil {
			return nil, fmt.Errorf("get conversation: %w", err)
		}
		if created || len(conv.Info) == 0 {
			d.refreshProfile(ctx, adapter, conv)
		}
	}

	if msg.IsService() {
		return d.service(ctx, adapter, m, msg, conv)
	}

	if conv == nil {
		logger.Info(ctx, "engine", "message.dropped",
			slog.String("status", "drop"),
			slog.String("kind", string(msg.Kind)),
			slog.String("cause", "no_sender"),
		)
		return nil, nil
	}

	msg, conv = d.preprocess(ctx, adapter, msg, conv)
	r := &responder{adapter: adapter, convs: d.convs, menus: d.menus}

	start := time.Now()
	err = d.route(ctx, r, m, msg, conv)
	sent, kb := r.counters()
	logger.Info(ctx, "engine", "message.handled",
		slog.String("status", logger.Status(err)),
		slog.String("kind", string(msg.Kind)),
		slog.Int("messages", sent),
		slog.Bool("kb", kb),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil, err
}

// route hands msg to the current menu, or to the messenger handler when the
// conversation is outside any menu.
func (d *Dispatcher) route(ctx context.Context, r *responder, m *Messenger, msg *Message, conv *Conversation) error {
	if conv.CurrentMenuID != 0 {
		menu, err := d.menus.Menu(ctx, conv.CurrentMenuID)
		switch {
		case err == nil:
			return d.navigator.Process(ctx, r, menu, msg, conv)
		case errors.Is(err, ErrNotFound):
			logger.Warn(ctx, "engine", "menu.missing",
				slog.Int64("menu_id", conv.CurrentMenuID),
				slog.String("outcome", "fail"),
			)
			conv.CurrentMenuID = 0
			if err := d.convs.Save(ctx, conv); err != nil {
				return fmt.Errorf("save conversation: %w", err)
			}
		default:
			return fmt.Errorf("load menu %d: %w", conv.CurrentMenuID, err)
		}
	}

	// handler failures are logged by Invoke and never fail the webhook call
	_ = d.registry.Invoke(ctx, Owner{Kind: OwnerMessenger, ID: m.ID}, m.Handler, r, msg, conv)
	return nil
}

func (d *Dispatcher) service(ctx context.Context, adapter MessengerAdapter, m *Messenger, msg *Message, conv *Conversation) (Payload, error) {
	switch {
	case msg.Kind == KindStart && conv != nil && m.WelcomeText != "":
		logger.Info(ctx, "engine", "conversation.start", slog.String("status", "ok"))
		if wa, ok := adapter.(WelcomeAddresser); ok {
			return wa.WelcomeMessageTo(msg.SenderID, m.WelcomeText), nil
		}
		return adapter.WelcomeMessage(m.WelcomeText), nil
	case msg.Kind == KindUnsubscribed && conv != nil:
		conv.IsActive = false
		if err := d.convs.Save(ctx, conv); err != nil {
			return nil, fmt.Errorf("save conversation: %w", err)
		}
		logger.Info(ctx, "engine", "conversation.unsubscribed", slog.String("status", "ok"))
		return nil, nil
	}
	logger.Debug(ctx, "engine", "service.ignored",
		slog.String("status", "skip"),
		slog.String("kind", string(msg.Kind)),
	)
	return nil, nil
}

// preprocess runs the adapter hook, keeping the originals when it fails or
// returns a conversation with a different identity.
func (d *Dispatcher) preprocess(ctx context.Context, adapter MessengerAdapter, msg *Message, conv *Conversation) (*Message, *Conversation) {
	gotMsg, gotConv, err := adapter.PreprocessMessage(ctx, msg, conv)
	if err != nil {
		logger.Warn(ctx, "engine", "message.preprocess",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return msg, conv
	}
	if gotMsg == nil {
		gotMsg = msg
	}
	if gotConv == nil || !gotConv.SameIdentity(conv) {
		logger.Warn(ctx, "engine", "message.preprocess",
			slog.String("status", "skip"),
			slog.String("cause", "identity_changed"),
		)
		gotConv = conv
	}
	if gotMsg.Kind != msg.Kind {
		logger.Debug(ctx, "engine", "message.reclassified",
			slog.String("kind", string(gotMsg.Kind)),
		)
	}
	return gotMsg, gotConv
}

type profileResult struct {
	info UserInfo
}

// refreshProfile fetches the sender profile under a timeout. Concurrent
// refreshes of the same sender share one lookup. Failures are logged only.
func (d *Dispatcher) refreshProfile(ctx context.Context, adapter MessengerAdapter, conv *Conversation) {
	if d.opts.AsyncProfileRefresh {
		snapshot := conv.Clone()
		bg := context.WithoutCancel(ctx)
		err := d.opts.Jobs.Enqueue(bg, "profile.refresh", conv.SenderID, func(jobCtx context.Context) error {
			_, err := d.fetchProfile(jobCtx, adapter, snapshot)
			return err
		})
		if err != nil {
			logger.Warn(ctx, "engine", "profile.refresh",
				slog.String("status", "drop"),
				slog.String("err", err.Error()),
			)
		}
		return
	}

	res, err := d.fetchProfile(ctx, adapter, conv)
	if err != nil {
		return
	}
	applyProfile(conv, res.info)
}

func (d *Dispatcher) fetchProfile(ctx context.Context, adapter MessengerAdapter, conv *Conversation) (profileResult, error) {
	key := strconv.FormatInt(conv.MessengerID, 10) + ":" + conv.SenderID
	v, err, shared := d.refresh.Do(key, func() (any, error) {
		refreshCtx, cancel := context.WithTimeout(ctx, d.opts.ProfileRefreshTimeout)
		defer cancel()

		start := time.Now()
		info, err := adapter.GetUserInfo(refreshCtx, conv.SenderID)
		if err != nil {
			logger.Warn(ctx, "engine", "profile.refresh",
				slog.String("status", "fail"),
				slog.Duration("duration", logger.Took(start)),
				slog.String("err", err.Error()),
			)
			return nil, err
		}

		updated := conv.Clone()
		applyProfile(updated, info)
		if err := d.convs.UpdateProfile(ctx, updated); err != nil {
			logger.Error(ctx, "engine", "profile.save",
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
			return nil, err
		}
		logger.Info(ctx, "engine", "profile.refresh",
			slog.String("status", "ok"),
			slog.String("username", info.Username),
			slog.Duration("duration", logger.Took(start)),
		)
		return profileResult{info: info}, nil
	})
	if err != nil {
		return profileResult{}, err
	}
	if shared {
		logger.Debug(ctx, "engine", "profile.refresh.shared", slog.String("status", "ok"))
	}
	return v.(profileResult), nil
}

func applyProfile(conv *Conversation, info UserInfo) {
	conv.Username = info.Username
	conv.Info = cloneMap(info.Info)
	if conv.Info == nil {
		conv.Info = map[string]any{}
	}
	conv.IsActive = true
}
