package domain

import (
	"context"
	"time"
)

// MediaSource defines the interface for querying media players.
// Implementations should handle D-Bus/MPRIS communication
type MediaSource interface {
	// Start connects to the bus and begins watching for changes.
	// It returns immediately.
	Start(ctx context.Context) error

	// Stop releases the bus connection and closes the Events channel
	Stop(ctx context.Context) error

	// ListSources returns the currently active sources, sorted
	ListSources(ctx context.Context) ([]SourceID, error)

	// ReadMetadata returns the now-playing metadata of one source.
	// Any failure is reported as a *QueryError.
	ReadMetadata(ctx context.Context, id SourceID) (MediaMetadata, error)

	// Events returns a read-only channel of change notifications
	Events() <-chan SourceEvent
}

// Sink opens publishing sessions with the chat client
type Sink interface {
	// Connect performs the handshake for the given application ID.
	// Failures are reported as a *ConnectError.
	Connect(ctx context.Context, appID string) (Session, error)
}

// Session is an open publishing channel. Publish and Clear failures are
// reported as a *PublishError and leave the session usable.
type Session interface {
	// Publish replaces the visible presence with state
	Publish(ctx context.Context, state PresenceState) error

	// Clear removes the visible presence while keeping the session open
	Clear(ctx context.Context) error

	// Close ends the session
	Close() error
}

// CancelFunc stops a scheduled task. It is safe to call more than once.
type CancelFunc func()

// Scheduler runs tasks on a fixed period
type Scheduler interface {
	// SchedulePeriodic runs task every interval until the returned
	// CancelFunc is called
	SchedulePeriodic(name string, interval time.Duration, task func()) (CancelFunc, error)
}

// FormStore persists the user form
type FormStore interface {
	// Load returns the stored form. A missing file yields DefaultForm and
	// no error; a malformed one yields DefaultForm and ErrInvalidConfig.
	Load() (Form, error)

	// Save validates and writes the form
	Save(form Form) error
}

// Config defines the interface for application configuration
type Config interface {
	// GetConfigFile returns the path of the persisted form
	GetConfigFile() string

	// GetListenAddr returns the control API address
	GetListenAddr() string

	// GetRefreshInterval returns the presence refresh period
	GetRefreshInterval() time.Duration

	// GetSourceRefreshInterval returns the media source list refresh period
	GetSourceRefreshInterval() time.Duration

	// GetAutoSaveInterval returns the form auto-save period
	GetAutoSaveInterval() time.Duration

	// GetAlwaysPublish reports whether unchanged presences are re-sent every tick
	GetAlwaysPublish() bool

	// GetAutoConnect reports whether to connect at start-up
	GetAutoConnect() bool
}
