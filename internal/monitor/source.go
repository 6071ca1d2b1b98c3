package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/genricoloni/presenced/internal/domain"
	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const (
	mprisObjectPath = "/org/mpris/MediaPlayer2"
	playerInterface = "org.mpris.MediaPlayer2.Player"
	metadataProp    = playerInterface + ".Metadata"
	statusProp      = playerInterface + ".PlaybackStatus"

	unknownArtist = "Unknown Artist"
	unknownTitle  = "Unknown Title"
	unknownAlbum  = "Unknown Album"
)

var (
	errMetadataFormat = errors.New("metadata is not a dictionary")
	errStatusFormat   = errors.New("invalid playback status format")
)

// MprisSource queries and watches MPRIS players on the D-Bus session bus
type MprisSource struct {
	logger          *zap.Logger
	events          chan domain.SourceEvent
	mu              sync.RWMutex
	running         bool
	cancel          context.CancelFunc
	conn            DBusClient // Interface for testability
	dial            func(ctx context.Context) (DBusClient, error)
	lastDropWarning time.Time         // Rate limiting for "channel full" warnings
	wg              sync.WaitGroup    // Tracks active producer goroutines
	playerNames     map[string]string // Maps unique bus names (:1.45) to well-known names (org.mpris.MediaPlayer2.spotify)
}

// NewMprisSource creates a new MPRIS source. No bus connection is made
// until Start.
func NewMprisSource(logger *zap.Logger) *MprisSource {
	return &MprisSource{
		logger:      logger,
		events:      make(chan domain.SourceEvent, 10),
		playerNames: make(map[string]string),
		dial: func(ctx context.Context) (DBusClient, error) {
			return NewStdDBusClient(ctx)
		},
	}
}

// Start connects to the session bus and begins watching for player changes.
// A missing session bus is not fatal: the source stays inert and every
// query reports domain.ErrBusUnavailable.
func (m *MprisSource) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.mu.Unlock()

	conn, err := m.dial(ctx)
	if err != nil {
		m.logger.Warn("Session bus unavailable, media players disabled", zap.Error(err))
		return nil
	}

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	if err := m.detectExistingPlayers(ctx); err != nil {
		m.logger.Warn("Failed to detect existing players", zap.Error(err))
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(mprisObjectPath),
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		m.logger.Warn("Failed to add PropertiesChanged match signal", zap.Error(err))
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
	); err != nil {
		m.logger.Warn("Failed to add NameOwnerChanged match signal", zap.Error(err))
	} else {
		m.logger.Info("Dynamic player tracking enabled via NameOwnerChanged")
	}

	// The watch outlives the start-up context
	watchCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go m.monitorSignals(watchCtx)

	m.logger.Info("MPRIS source started")
	return nil
}

// Stop gracefully stops the source
func (m *MprisSource) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.running = false
	m.mu.Unlock()

	// Wait for all producer goroutines to terminate before closing channel
	m.logger.Debug("Waiting for monitoring goroutines to finish")
	m.wg.Wait()

	close(m.events)

	m.mu.Lock()
	defer m.mu.Unlock()
	var err error
	if m.conn != nil {
		if err = m.conn.Close(); err != nil {
			m.logger.Warn("Failed to close D-Bus connection", zap.Error(err))
		}
		m.conn = nil
	}

	m.logger.Info("MPRIS source shutdown complete")
	return err
}

// Events returns a read-only channel that emits player change notifications
func (m *MprisSource) Events() <-chan domain.SourceEvent {
	return m.events
}

// ListSources returns the well-known names of all MPRIS players on the bus
func (m *MprisSource) ListSources(ctx context.Context) ([]domain.SourceID, error) {
	conn := m.client()
	if conn == nil {
		return nil, &domain.QueryError{Err: domain.ErrBusUnavailable}
	}

	names, err := conn.ListNames(ctx)
	if err != nil {
		return nil, &domain.QueryError{Err: fmt.Errorf("failed to list bus names: %w", err)}
	}

	var sources []domain.SourceID
	for _, name := range names {
		if strings.HasPrefix(name, domain.MprisPrefix) {
			sources = append(sources, domain.SourceID(name))
		}
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })
	return sources, nil
}

// ReadMetadata fetches the current track and playback status of a player.
// Missing artist, title or album are replaced with "Unknown ..." values.
func (m *MprisSource) ReadMetadata(ctx context.Context, id domain.SourceID) (domain.MediaMetadata, error) {
	conn := m.client()
	if conn == nil {
		return domain.MediaMetadata{}, &domain.QueryError{Source: id, Err: domain.ErrBusUnavailable}
	}

	variant, err := conn.GetProperty(ctx, string(id), mprisObjectPath, metadataProp)
	if err != nil {
		return domain.MediaMetadata{}, &domain.QueryError{Source: id, Err: fmt.Errorf("failed to get metadata: %w", err)}
	}

	// Some players return an empty variant when nothing is loaded
	metadata, ok := variant.Value().(map[string]dbus.Variant)
	if !ok {
		return domain.MediaMetadata{}, &domain.QueryError{Source: id, Err: errMetadataFormat}
	}

	statusVariant, err := conn.GetProperty(ctx, string(id), mprisObjectPath, statusProp)
	if err != nil {
		return domain.MediaMetadata{}, &domain.QueryError{Source: id, Err: fmt.Errorf("failed to get playback status: %w", err)}
	}

	status, ok := statusVariant.Value().(string)
	if !ok {
		return domain.MediaMetadata{}, &domain.QueryError{Source: id, Err: errStatusFormat}
	}

	meta := m.parseMetadata(metadata, status)
	if meta.Artist == "" {
		meta.Artist = unknownArtist
	}
	if meta.Title == "" {
		meta.Title = unknownTitle
	}
	if meta.Album == "" {
		meta.Album = unknownAlbum
	}
	return meta, nil
}

// FormatState renders the secondary presence line for a track
func FormatState(meta domain.MediaMetadata) string {
	switch meta.Status {
	case domain.StatusPlaying:
		return fmt.Sprintf("Playing %s from %s", meta.Title, meta.Album)
	case domain.StatusPaused:
		return "Paused: " + meta.Title
	default:
		return "Stopped: " + meta.Title
	}
}

func (m *MprisSource) client() DBusClient {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn
}

// detectExistingPlayers records the unique-name mapping of players already on the bus
func (m *MprisSource) detectExistingPlayers(ctx context.Context) error {
	names, err := m.conn.ListNames(ctx)
	if err != nil {
		return fmt.Errorf("failed to list bus names: %w", err)
	}

	playerCount := 0
	for _, name := range names {
		if !strings.HasPrefix(name, domain.MprisPrefix) {
			continue
		}
		playerCount++
		m.logger.Info("Detected MPRIS player", zap.String("name", name))

		uniqueName, err := m.conn.GetNameOwner(name)
		if err != nil {
			m.logger.Debug("Could not resolve player owner", zap.String("name", name), zap.Error(err))
			continue
		}
		m.mu.Lock()
		m.playerNames[uniqueName] = name
		m.mu.Unlock()
		m.logger.Debug("Mapped player name",
			zap.String("unique", uniqueName),
			zap.String("wellKnown", name))
	}

	m.logger.Info("Player detection complete", zap.Int("count", playerCount))
	return nil
}

// monitorSignals listens for D-Bus signals and processes them
func (m *MprisSource) monitorSignals(ctx context.Context) {
	defer m.wg.Done()

	signals := make(chan *dbus.Signal, 10)
	m.conn.Signal(signals)

	m.logger.Debug("Signal monitoring goroutine started")

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("Signal monitoring goroutine stopped")
			return
		case sig, ok := <-signals:
			if !ok {
				m.logger.Warn("D-Bus signal channel closed")
				return
			}
			if sig == nil {
				continue
			}
			if sig.Name == "org.freedesktop.DBus.NameOwnerChanged" {
				m.handleNameOwnerChanged(sig)
			} else {
				m.handleSignal(sig)
			}
		}
	}
}

// handleNameOwnerChanged processes NameOwnerChanged signals to track player lifecycle
func (m *MprisSource) handleNameOwnerChanged(sig *dbus.Signal) {
	if len(sig.Body) < 3 {
		return
	}

	name, ok := sig.Body[0].(string)
	if !ok || !strings.HasPrefix(name, domain.MprisPrefix) {
		return // Not an MPRIS player
	}

	oldOwner, _ := sig.Body[1].(string)
	newOwner, _ := sig.Body[2].(string)

	switch {
	case newOwner != "" && oldOwner == "":
		m.mu.Lock()
		m.playerNames[newOwner] = name
		m.mu.Unlock()

		m.logger.Info("New MPRIS player detected",
			zap.String("player", name),
			zap.String("unique", newOwner))
		m.emit(domain.SourceEvent{Kind: domain.SourceAppeared, Source: domain.SourceID(name)})

	case newOwner == "" && oldOwner != "":
		m.mu.Lock()
		delete(m.playerNames, oldOwner)
		m.mu.Unlock()

		m.logger.Info("MPRIS player removed",
			zap.String("player", name),
			zap.String("unique", oldOwner))
		m.emit(domain.SourceEvent{Kind: domain.SourceVanished, Source: domain.SourceID(name)})

	case newOwner != "" && oldOwner != "":
		// ownership transfer, rare
		m.mu.Lock()
		delete(m.playerNames, oldOwner)
		m.playerNames[newOwner] = name
		m.mu.Unlock()

		m.logger.Debug("MPRIS player ownership changed",
			zap.String("player", name),
			zap.String("oldUnique", oldOwner),
			zap.String("newUnique", newOwner))
	}
}

// handleSignal processes a PropertiesChanged signal. Only Metadata and
// PlaybackStatus changes on the player interface are reported.
func (m *MprisSource) handleSignal(sig *dbus.Signal) {
	// PropertiesChanged signal has 3 arguments:
	// 1. Interface name (string)
	// 2. Changed properties (map[string]Variant)
	// 3. Invalidated properties ([]string)
	if sig.Name != "org.freedesktop.DBus.Properties.PropertiesChanged" {
		return
	}

	if len(sig.Body) < 2 {
		return
	}

	interfaceName, ok := sig.Body[0].(string)
	if !ok || interfaceName != playerInterface {
		return
	}

	changedProps, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}

	_, hasMetadata := changedProps["Metadata"]
	_, hasStatus := changedProps["PlaybackStatus"]
	if !hasMetadata && !hasStatus {
		return
	}

	playerName := m.getPlayerName(sig.Sender)

	m.logger.Debug("Received PropertiesChanged signal",
		zap.String("sender", sig.Sender),
		zap.String("player", playerName),
		zap.Bool("metadata", hasMetadata),
		zap.Bool("status", hasStatus))

	m.emit(domain.SourceEvent{Kind: domain.SourceChanged, Source: domain.SourceID(playerName)})
}

// emit sends without blocking. Consumers debounce, so dropping an event
// while the buffer is full loses nothing they would act on.
func (m *MprisSource) emit(ev domain.SourceEvent) {
	select {
	case m.events <- ev:
	default:
		m.logChannelFullWarning()
	}
}

// parseMetadata converts MPRIS metadata to domain model
func (m *MprisSource) parseMetadata(metadata map[string]dbus.Variant, status string) domain.MediaMetadata {
	var meta domain.MediaMetadata

	switch status {
	case "Playing":
		meta.Status = domain.StatusPlaying
	case "Paused":
		meta.Status = domain.StatusPaused
	default:
		meta.Status = domain.StatusStopped
	}

	if metadata == nil {
		return meta
	}

	if titleVar, ok := metadata["xesam:title"]; ok {
		if title, ok := titleVar.Value().(string); ok {
			meta.Title = title
		}
	}

	// Extract artist (can be an array)
	if artistVar, ok := metadata["xesam:artist"]; ok {
		switch artists := artistVar.Value().(type) {
		case []string:
			if len(artists) > 0 {
				meta.Artist = artists[0]
			}
		case string:
			meta.Artist = artists
		default:
			// Some non-compliant players may use unexpected types
			m.logger.Debug("Unexpected artist type in metadata",
				zap.String("type", fmt.Sprintf("%T", artistVar.Value())))
		}
	}

	if albumVar, ok := metadata["xesam:album"]; ok {
		if album, ok := albumVar.Value().(string); ok {
			meta.Album = album
		}
	}

	if artVar, ok := metadata["mpris:artUrl"]; ok {
		if artUrl, ok := artVar.Value().(string); ok {
			meta.ArtUrl = artUrl
		}
	}

	return meta
}

// getPlayerName returns the well-known player name for a unique bus name
// Falls back to the unique name if no mapping exists
func (m *MprisSource) getPlayerName(uniqueName string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if wellKnown, ok := m.playerNames[uniqueName]; ok {
		return wellKnown
	}
	return uniqueName
}

// logChannelFullWarning logs a warning about channel being full, but rate-limited
func (m *MprisSource) logChannelFullWarning() {
	m.mu.Lock()
	defer m.mu.Unlock()

	const warningInterval = 5 * time.Second
	now := time.Now()

	if now.Sub(m.lastDropWarning) >= warningInterval {
		m.logger.Warn("Events channel full, dropping player notification")
		m.lastDropWarning = now
	}
}
