package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/genricoloni/presenced/internal/domain"
	"github.com/genricoloni/presenced/internal/metrics"
	"github.com/genricoloni/presenced/internal/monitor"
	"github.com/genricoloni/presenced/internal/presence"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	jobRefresh       = "presence-refresh"
	jobSourceRefresh = "source-refresh"
	jobAutoSave      = "form-autosave"

	// jobTimeout bounds the external calls made by one scheduled run
	jobTimeout = 10 * time.Second

	infoNoticeTTL  = 3 * time.Second
	errorNoticeTTL = 5 * time.Second
)

// Status is a point-in-time view of the engine
type Status struct {
	State    domain.ControlState   `json:"state"`
	Source   domain.SourceID       `json:"source,omitempty"`
	Sources  []domain.SourceID     `json:"sources"`
	Presence *domain.PresenceState `json:"presence,omitempty"`
	Notice   *domain.Notice        `json:"notice,omitempty"`
}

// Engine keeps the published presence in sync with the form and the
// bound media source. It is Idle while no session is open and Active
// otherwise. Every operation runs under one mutex, so external calls made
// by one operation delay the others.
type Engine struct {
	logger  *zap.Logger
	cfg     domain.Config
	source  domain.MediaSource
	sink    domain.Sink
	sched   domain.Scheduler
	store   domain.FormStore
	metrics *metrics.Metrics

	now      func() time.Time
	debounce time.Duration

	mu          sync.Mutex
	form        domain.Form
	session     domain.Session
	binding     domain.SourceID
	sources     []domain.SourceID
	clock       presence.SessionClock
	published   bool
	fingerprint uint64
	last        *domain.PresenceState
	notice      domain.Notice

	cancelRefresh  domain.CancelFunc
	cancelAutoSave domain.CancelFunc
	cancelSources  domain.CancelFunc

	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// NewEngine creates a new reconciliation engine
func NewEngine(
	logger *zap.Logger,
	cfg domain.Config,
	source domain.MediaSource,
	sink domain.Sink,
	sched domain.Scheduler,
	store domain.FormStore,
	m *metrics.Metrics,
) *Engine {
	return &Engine{
		logger:   logger,
		cfg:      cfg,
		source:   source,
		sink:     sink,
		sched:    sched,
		store:    store,
		metrics:  m,
		now:      time.Now,
		debounce: 500 * time.Millisecond,
		form:     domain.DefaultForm(),
	}
}

// Start loads the form, schedules the source-list refresh and launches
// the media-change watch. It returns immediately.
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info("Engine starting...")

	form, err := e.store.Load()
	e.mu.Lock()
	e.form = form
	if err != nil {
		e.failLocked("Invalid configuration file, using defaults", err)
	}
	e.mu.Unlock()

	cancel, err := e.sched.SchedulePeriodic(jobSourceRefresh, e.cfg.GetSourceRefreshInterval(), func() {
		jctx, done := context.WithTimeout(context.Background(), jobTimeout)
		defer done()
		_ = e.RefreshSources(jctx)
	})
	if err != nil {
		return fmt.Errorf("schedule source refresh: %w", err)
	}
	e.mu.Lock()
	e.cancelSources = cancel
	e.mu.Unlock()

	_ = e.RefreshSources(ctx)

	loopCtx, loopCancel := context.WithCancel(context.Background())
	e.loopCancel = loopCancel
	e.loopDone = make(chan struct{})
	go e.runLoop(loopCtx)

	if e.cfg.GetAutoConnect() {
		// a failed auto-connect leaves the engine Idle; the notice reports it
		_ = e.Connect(ctx)
	}
	return nil
}

// Stop ends the watch loop and closes the session, clearing the presence
// first.
func (e *Engine) Stop(ctx context.Context) error {
	e.logger.Info("Engine stopping...")

	if e.loopCancel != nil {
		e.loopCancel()
		<-e.loopDone
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancelSources != nil {
		e.cancelSources()
		e.cancelSources = nil
	}
	if e.session == nil {
		return nil
	}
	return e.disconnectLocked(ctx)
}

// runLoop consumes media-source events. Bursts are debounced: the
// reaction waits for a quiet period so skipping through tracks causes a
// single refresh.
func (e *Engine) runLoop(ctx context.Context) {
	defer close(e.loopDone)
	events := e.source.Events()

	timer := time.NewTimer(e.debounce)
	timer.Stop()

	var listChanged, mediaChanged bool

	for {
		select {
		case <-ctx.Done():
			e.logger.Debug("Engine loop stopped")
			return

		case ev, ok := <-events:
			if !ok {
				e.logger.Debug("Media source events channel closed")
				return
			}
			e.logger.Debug("Media event received, debouncing...",
				zap.String("kind", string(ev.Kind)),
				zap.String("source", string(ev.Source)))

			if ev.Kind == domain.SourceChanged {
				mediaChanged = true
			} else {
				listChanged = true
			}
			timer.Reset(e.debounce)

		case <-timer.C:
			jctx, done := context.WithTimeout(ctx, jobTimeout)
			if listChanged {
				_ = e.RefreshSources(jctx)
			}
			if mediaChanged || listChanged {
				_ = e.Tick(jctx)
			}
			done()
			listChanged, mediaChanged = false, false
		}
	}
}

// Connect validates the application ID and opens a session. On success
// it schedules the refresh and auto-save jobs, saves the form and
// publishes once. A failing first publish leaves the engine Active.
func (e *Engine) Connect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connectLocked(ctx)
}

func (e *Engine) connectLocked(ctx context.Context) error {
	if e.session != nil {
		return nil
	}

	appID := strings.TrimSpace(e.form.AppID)
	switch {
	case appID == "":
		err := &domain.ConnectError{AppID: appID, Err: domain.ErrMissingAppID}
		e.failLocked("Please enter an application ID", err)
		return err
	case !presence.ValidAppID(appID):
		err := &domain.ConnectError{AppID: appID, Err: domain.ErrInvalidAppID}
		e.failLocked("Invalid application ID format", err)
		return err
	}

	sess, err := e.sink.Connect(ctx, appID)
	e.metrics.ObserveConnect(err)
	if err != nil {
		e.failLocked("Connection failed", err)
		return err
	}

	cancelRefresh, err := e.sched.SchedulePeriodic(jobRefresh, e.cfg.GetRefreshInterval(), e.runTick)
	if err != nil {
		_ = sess.Close()
		cerr := &domain.ConnectError{AppID: appID, Err: err}
		e.failLocked("Connection failed", cerr)
		return cerr
	}
	cancelSave, err := e.sched.SchedulePeriodic(jobAutoSave, e.cfg.GetAutoSaveInterval(), e.runAutoSave)
	if err != nil {
		cancelRefresh()
		_ = sess.Close()
		cerr := &domain.ConnectError{AppID: appID, Err: err}
		e.failLocked("Connection failed", cerr)
		return cerr
	}

	e.session = sess
	e.cancelRefresh = cancelRefresh
	e.cancelAutoSave = cancelSave
	e.published = false
	e.last = nil
	e.clock.Reset()
	e.metrics.SetSessionActive(true)

	e.logger.Info("Connected", zap.String("appID", appID))
	e.infoLocked("Connected")

	_ = e.saveLocked()
	// only a session that died during the first publish fails the connect
	if err := e.publishLocked(ctx, true); errors.Is(err, domain.ErrSessionClosed) {
		return &domain.ConnectError{AppID: appID, Err: err}
	}
	return nil
}

// Disconnect clears the presence and closes the session. The engine is
// Idle afterwards even when clearing or closing failed.
func (e *Engine) Disconnect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	return e.disconnectLocked(ctx)
}

func (e *Engine) disconnectLocked(ctx context.Context) error {
	var err error
	if cerr := e.session.Clear(ctx); cerr != nil {
		err = multierr.Append(err, cerr)
	} else {
		e.metrics.IncClears()
	}
	err = multierr.Append(err, e.session.Close())
	e.releaseLocked()

	if err != nil {
		e.failLocked("Error disconnecting", err)
		return err
	}
	e.logger.Info("Disconnected")
	e.infoLocked("Disconnected")
	return nil
}

// releaseLocked cancels the session jobs and returns the engine to Idle
func (e *Engine) releaseLocked() {
	if e.cancelRefresh != nil {
		e.cancelRefresh()
		e.cancelRefresh = nil
	}
	if e.cancelAutoSave != nil {
		e.cancelAutoSave()
		e.cancelAutoSave = nil
	}
	e.session = nil
	e.published = false
	e.last = nil
	e.clock.Reset()
	e.metrics.SetSessionActive(false)
}

// dropSessionLocked handles a session the chat client closed. Nothing can
// be sent on it any more, so the engine goes Idle without clearing.
func (e *Engine) dropSessionLocked(err error) {
	_ = e.session.Close()
	e.releaseLocked()
	e.logger.Warn("Session closed by the chat client", zap.Error(err))
	e.setNoticeLocked(domain.NoticeError, "Disconnected: "+err.Error(), errorNoticeTTL)
}

// Clear removes the visible presence and keeps the session open. Later
// ticks only publish again once the presence changes.
func (e *Engine) Clear(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		e.failLocked("Not connected", domain.ErrNotConnected)
		return domain.ErrNotConnected
	}
	if err := e.session.Clear(ctx); err != nil {
		if errors.Is(err, domain.ErrSessionClosed) {
			e.dropSessionLocked(err)
			return err
		}
		e.failLocked("Error clearing presence", err)
		return err
	}
	e.metrics.IncClears()
	e.last = nil
	e.logger.Info("Presence cleared")
	e.infoLocked("Presence cleared")
	return nil
}

// Tick republishes the presence when it changed. It is a no-op while Idle.
func (e *Engine) Tick(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	return e.publishLocked(ctx, false)
}

// ForceRefresh publishes immediately, connecting first when Idle
func (e *Engine) ForceRefresh(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		// connecting publishes once
		return e.connectLocked(ctx)
	}
	if err := e.publishLocked(ctx, true); err != nil {
		return err
	}
	e.infoLocked("Presence updated successfully")
	_ = e.saveLocked()
	return nil
}

// UpdateForm replaces the form, saves it and republishes when Active
func (e *Engine) UpdateForm(ctx context.Context, form domain.Form) error {
	if !form.Timestamp.Valid() {
		return fmt.Errorf("%w: unknown timestamp mode %q", domain.ErrInvalidConfig, form.Timestamp)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.form = form
	saveErr := e.saveLocked()
	if e.session == nil {
		return saveErr
	}
	return multierr.Append(saveErr, e.publishLocked(ctx, true))
}

// Form returns the current form
func (e *Engine) Form() domain.Form {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.form
}

// SelectSource binds the presence to a media source. An empty id unbinds.
func (e *Engine) SelectSource(ctx context.Context, id domain.SourceID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if id != "" {
		if err := e.refreshSourcesLocked(ctx); err != nil {
			return err
		}
		if !slices.Contains(e.sources, id) {
			err := fmt.Errorf("%w: %s", domain.ErrUnknownSource, id)
			e.failLocked("Media source not available", err)
			return err
		}
	}

	if id == e.binding {
		return nil
	}
	e.binding = id
	e.logger.Info("Media source selected", zap.String("source", string(id)))

	if e.session == nil {
		return nil
	}
	return e.publishLocked(ctx, false)
}

// RefreshSources re-lists the media sources and drops the binding when
// its source is gone
func (e *Engine) RefreshSources(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refreshSourcesLocked(ctx)
}

func (e *Engine) refreshSourcesLocked(ctx context.Context) error {
	list, err := e.source.ListSources(ctx)
	if err != nil {
		e.metrics.IncQueryErrors()
		e.logger.Debug("Failed to list media sources", zap.Error(err))
		return err
	}

	if !slices.Equal(list, e.sources) {
		e.logger.Debug("Media sources changed", zap.Int("count", len(list)))
	}
	e.sources = list
	e.metrics.SetActiveSources(len(list))

	if e.binding != "" && !slices.Contains(list, e.binding) {
		e.logger.Info("Bound media source vanished", zap.String("source", string(e.binding)))
		e.infoLocked(fmt.Sprintf("Media source %s is gone", e.binding.Short()))
		e.binding = ""
	}
	return nil
}

// AutoSave persists the form while Active
func (e *Engine) AutoSave(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	if err := e.saveLocked(); err != nil {
		return err
	}
	e.logger.Debug("Configuration auto-saved")
	return nil
}

// SaveForm persists the form regardless of the control state
func (e *Engine) SaveForm() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.saveLocked(); err != nil {
		return err
	}
	e.infoLocked("Configuration saved")
	return nil
}

// Status returns a snapshot of the engine
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{
		State:   domain.StateIdle,
		Source:  e.binding,
		Sources: slices.Clone(e.sources),
	}
	if st.Sources == nil {
		st.Sources = []domain.SourceID{}
	}
	if e.session != nil {
		st.State = domain.StateActive
	}
	if e.last != nil {
		p := *e.last
		st.Presence = &p
	}
	if !e.notice.Expired(e.now()) {
		n := e.notice
		st.Notice = &n
	}
	return st
}

// publishLocked builds the presence and sends it. Unless force is set or
// always-publish is configured, an unchanged presence is not resent.
func (e *Engine) publishLocked(ctx context.Context, force bool) error {
	media := e.resolveLocked(ctx)
	start := e.clock.Resolve(e.form.Timestamp, e.form.CustomStart, e.now())
	state, problems := presence.Build(e.form, media, start)

	fp := presence.Fingerprint(state)
	if !force && !e.cfg.GetAlwaysPublish() && e.published && fp == e.fingerprint {
		e.metrics.IncSkipped()
		return nil
	}

	err := e.session.Publish(ctx, state)
	e.metrics.ObservePublish(err)
	if err != nil {
		if errors.Is(err, domain.ErrSessionClosed) {
			e.dropSessionLocked(err)
			return err
		}
		e.failLocked("Error updating presence", err)
		return err
	}

	e.published = true
	e.fingerprint = fp
	e.last = &state
	e.logger.Debug("Presence published",
		zap.String("details", state.Details),
		zap.String("state", state.State),
		zap.Int("buttons", len(state.Buttons)))

	for _, p := range problems {
		e.logger.Warn("Button skipped", zap.Error(p))
		e.setNoticeLocked(domain.NoticeError, p.Error(), errorNoticeTTL)
	}
	return nil
}

// resolveLocked reads the bound source. A failed read yields empty
// fields, which fall back to the form values.
func (e *Engine) resolveLocked(ctx context.Context) presence.Resolved {
	if e.binding == "" {
		return presence.Resolved{}
	}
	meta, err := e.source.ReadMetadata(ctx, e.binding)
	if err != nil {
		e.metrics.IncQueryErrors()
		e.logger.Warn("Failed to read media metadata", zap.Error(err))
		return presence.Resolved{}
	}
	return presence.Resolved{Details: meta.Artist, State: monitor.FormatState(meta)}
}

func (e *Engine) saveLocked() error {
	err := e.store.Save(e.form)
	e.metrics.ObserveSave(err)
	if err != nil {
		e.failLocked("Error saving configuration", err)
	}
	return err
}

func (e *Engine) runTick() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	_ = e.Tick(ctx)
}

func (e *Engine) runAutoSave() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	_ = e.AutoSave(ctx)
}

func (e *Engine) failLocked(msg string, err error) {
	e.logger.Error(msg, zap.Error(err))
	e.setNoticeLocked(domain.NoticeError, msg+": "+err.Error(), errorNoticeTTL)
}

func (e *Engine) infoLocked(msg string) {
	e.setNoticeLocked(domain.NoticeInfo, msg, infoNoticeTTL)
}

func (e *Engine) setNoticeLocked(level domain.NoticeLevel, msg string, ttl time.Duration) {
	e.notice = domain.Notice{Level: level, Message: msg, ExpiresAt: e.now().Add(ttl)}
}
