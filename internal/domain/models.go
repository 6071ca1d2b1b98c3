package domain

import (
	"strings"
	"time"
)

// PlayerStatus represents the current state of the media player
type PlayerStatus string

const (
	// StatusPlaying indicates the media is currently playing
	StatusPlaying PlayerStatus = "Playing"
	// StatusPaused indicates the media is paused
	StatusPaused PlayerStatus = "Paused"
	// StatusStopped indicates the media is stopped
	StatusStopped PlayerStatus = "Stopped"
)

// SourceID is the stable identifier of a media source, e.g. the MPRIS
// bus name "org.mpris.MediaPlayer2.spotify"
type SourceID string

// Short returns the player name without the MPRIS bus prefix
func (id SourceID) Short() string {
	return strings.TrimPrefix(string(id), MprisPrefix)
}

// MprisPrefix is the well-known bus name prefix shared by all MPRIS players
const MprisPrefix = "org.mpris.MediaPlayer2."

// MediaMetadata contains information about the currently playing media
type MediaMetadata struct {
	// Title of the currently playing track
	Title string
	// Artist name (first entry of xesam:artist)
	Artist string
	// Album name
	Album string
	// ArtUrl is the URL or local path to the album artwork
	ArtUrl string
	// Status is the current playback status
	Status PlayerStatus
}

// SourceEventKind tells the consumer what changed on the bus
type SourceEventKind string

const (
	// SourceAppeared is emitted when a new player claims an MPRIS name
	SourceAppeared SourceEventKind = "appeared"
	// SourceVanished is emitted when a player releases its MPRIS name
	SourceVanished SourceEventKind = "vanished"
	// SourceChanged is emitted when a player's metadata or status changes
	SourceChanged SourceEventKind = "changed"
)

// SourceEvent is a change notification from a MediaSource
type SourceEvent struct {
	Kind   SourceEventKind
	Source SourceID
}

// Button is a clickable link attached to a presence
type Button struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// MaxButtons is the number of buttons the chat client will render
const MaxButtons = 2

// PresenceState is the unit published to the sink
type PresenceState struct {
	Details string `json:"details,omitempty"`
	State   string `json:"state,omitempty"`
	// Start is nil when no elapsed time should be shown
	Start          *time.Time `json:"start,omitempty"`
	LargeImageKey  string     `json:"large_image,omitempty"`
	LargeImageText string     `json:"large_text,omitempty"`
	SmallImageKey  string     `json:"small_image,omitempty"`
	SmallImageText string     `json:"small_text,omitempty"`
	Buttons        []Button   `json:"buttons,omitempty"`
}

// Validate checks the structural invariants of a presence
func (p PresenceState) Validate() error {
	if len(p.Buttons) > MaxButtons {
		return ErrTooManyButtons
	}
	for i, b := range p.Buttons {
		if b.Label == "" {
			return &ButtonError{Index: i + 1, Reason: "empty label"}
		}
		if b.URL == "" {
			return &ButtonError{Index: i + 1, Reason: "empty url"}
		}
	}
	return nil
}

// TimestampMode selects how the presence start time is derived
type TimestampMode string

const (
	TimestampNone    TimestampMode = "None"
	TimestampCurrent TimestampMode = "Current Time"
	TimestampCustom  TimestampMode = "Custom Timestamp"
)

// Valid reports whether m is one of the three known modes
func (m TimestampMode) Valid() bool {
	switch m {
	case TimestampNone, TimestampCurrent, TimestampCustom:
		return true
	}
	return false
}

// DefaultLargeImage is the large image key used when nothing else is configured
const DefaultLargeImage = "avatar"

// Form holds every user-editable input. The JSON tags are the persisted
// config keys.
type Form struct {
	AppID       string        `json:"app_id"`
	Details     string        `json:"details"`
	State       string        `json:"state"`
	Timestamp   TimestampMode `json:"timestamp"`
	LargeImage  string        `json:"large_image"`
	LargeText   string        `json:"large_text"`
	SmallImage  string        `json:"small_image"`
	SmallText   string        `json:"small_text"`
	Button1Text string        `json:"button1_text"`
	Button1URL  string        `json:"button1_url"`
	Button2Text string        `json:"button2_text"`
	Button2URL  string        `json:"button2_url"`

	// CustomStart is only used in TimestampCustom mode and is not persisted
	CustomStart time.Time `json:"-"`
}

// DefaultForm returns the form used when no config file is available
func DefaultForm() Form {
	return Form{
		Timestamp:  TimestampNone,
		LargeImage: DefaultLargeImage,
	}
}

// ControlState is the state of the reconciliation loop
type ControlState string

const (
	// StateIdle means no session is open
	StateIdle ControlState = "idle"
	// StateActive means a session is open and the refresh job is scheduled
	StateActive ControlState = "active"
)

// NoticeLevel grades a user-visible notice
type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeError NoticeLevel = "error"
)

// Notice is a transient user-visible status message
type Notice struct {
	Level     NoticeLevel `json:"level"`
	Message   string      `json:"message"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Expired reports whether the notice should no longer be shown
func (n Notice) Expired(now time.Time) bool {
	return n.Message == "" || !now.Before(n.ExpiresAt)
}
