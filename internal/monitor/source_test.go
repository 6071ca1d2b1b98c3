package monitor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/genricoloni/presenced/internal/domain"
	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

// TestHandleSignal_HappyPath verifies the standard scenario: a valid signal produces a change event.
func TestHandleSignal_HappyPath(t *testing.T) {
	src := NewMprisSource(zap.NewNop())
	src.conn = &noopDBusClient{}
	src.playerNames = map[string]string{":1.100": "org.mpris.MediaPlayer2.spotify"}

	signal := &dbus.Signal{
		Name:   "org.freedesktop.DBus.Properties.PropertiesChanged",
		Sender: ":1.100",
		Body: []interface{}{
			"org.mpris.MediaPlayer2.Player",
			map[string]dbus.Variant{
				"Metadata": dbus.MakeVariant(map[string]dbus.Variant{
					"xesam:title":  dbus.MakeVariant("Bohemian Rhapsody"),
					"xesam:artist": dbus.MakeVariant([]string{"Queen"}),
				}),
				"PlaybackStatus": dbus.MakeVariant("Playing"),
			},
			[]string{},
		},
	}

	go src.handleSignal(signal)

	select {
	case event := <-src.Events():
		if event.Kind != domain.SourceChanged {
			t.Errorf("Kind: expected %s, got %s", domain.SourceChanged, event.Kind)
		}
		if event.Source != "org.mpris.MediaPlayer2.spotify" {
			t.Errorf("Source: expected spotify, got '%s'", event.Source)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Timeout: Event was not emitted")
	}
}

// TestHandleSignal_EdgeCases consolidates all invalid/ignored scenarios into a table test.
func TestHandleSignal_EdgeCases(t *testing.T) {
	tests := []struct {
		name   string
		signal *dbus.Signal
	}{
		{
			name: "Wrong Signal Name",
			signal: &dbus.Signal{
				Name: "org.freedesktop.DBus.SomeOtherSignal",
				Body: []interface{}{},
			},
		},
		{
			name: "Wrong Interface",
			signal: &dbus.Signal{
				Name: "org.freedesktop.DBus.Properties.PropertiesChanged",
				Body: []interface{}{"org.mpris.MediaPlayer2", map[string]dbus.Variant{"Metadata": dbus.MakeVariant("x")}, []string{}},
			},
		},
		{
			name: "Short Body",
			signal: &dbus.Signal{
				Name: "org.freedesktop.DBus.Properties.PropertiesChanged",
				Body: []interface{}{"org.mpris.MediaPlayer2.Player"}, // Missing props
			},
		},
		{
			name: "Props Not A Map",
			signal: &dbus.Signal{
				Name: "org.freedesktop.DBus.Properties.PropertiesChanged",
				Body: []interface{}{"org.mpris.MediaPlayer2.Player", []string{"Metadata"}, []string{}},
			},
		},
		{
			name: "Irrelevant Property (Volume)",
			signal: &dbus.Signal{
				Name: "org.freedesktop.DBus.Properties.PropertiesChanged",
				Body: []interface{}{
					"org.mpris.MediaPlayer2.Player",
					map[string]dbus.Variant{"Volume": dbus.MakeVariant(0.5)},
					[]string{},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewMprisSource(zap.NewNop())
			src.conn = &noopDBusClient{}

			src.handleSignal(tt.signal)

			select {
			case ev := <-src.Events():
				t.Errorf("Should NOT emit event for invalid input, got %+v", ev)
			case <-time.After(50 * time.Millisecond):
				// Pass
			}
		})
	}
}

// TestHandleNameOwnerChanged verifies player lifecycle tracking
func TestHandleNameOwnerChanged(t *testing.T) {
	tests := []struct {
		name         string
		prepopulate  bool
		signalBody   []interface{}
		expectMapped bool
		expectEvent  *domain.SourceEvent
		targetUnique string
	}{
		{
			name: "New Player Appears",
			signalBody: []interface{}{
				"org.mpris.MediaPlayer2.spotify", // Name
				"",                               // Old Owner (Empty = New)
				":1.50",                          // New Owner
			},
			expectMapped: true,
			expectEvent:  &domain.SourceEvent{Kind: domain.SourceAppeared, Source: "org.mpris.MediaPlayer2.spotify"},
			targetUnique: ":1.50",
		},
		{
			name:        "Player Disappears",
			prepopulate: true,
			signalBody: []interface{}{
				"org.mpris.MediaPlayer2.spotify",
				":1.50", // Old Owner
				"",      // New Owner (Empty = Deleted)
			},
			expectMapped: false,
			expectEvent:  &domain.SourceEvent{Kind: domain.SourceVanished, Source: "org.mpris.MediaPlayer2.spotify"},
			targetUnique: ":1.50",
		},
		{
			name: "Non-MPRIS Service Ignored",
			signalBody: []interface{}{
				"com.example.service",
				"",
				":1.99",
			},
			expectMapped: false,
			targetUnique: ":1.99",
		},
		{
			name:         "Short Body Ignored",
			signalBody:   []interface{}{"org.mpris.MediaPlayer2.vlc"},
			expectMapped: false,
			targetUnique: ":1.7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewMprisSource(zap.NewNop())
			src.conn = &noopDBusClient{}

			if tt.prepopulate {
				src.playerNames[tt.targetUnique] = "org.mpris.MediaPlayer2.spotify"
			}

			src.handleNameOwnerChanged(&dbus.Signal{
				Name: "org.freedesktop.DBus.NameOwnerChanged",
				Body: tt.signalBody,
			})

			src.mu.RLock()
			_, exists := src.playerNames[tt.targetUnique]
			src.mu.RUnlock()

			if exists != tt.expectMapped {
				t.Errorf("mapping for %s: expected %v, got %v", tt.targetUnique, tt.expectMapped, exists)
			}

			select {
			case ev := <-src.Events():
				if tt.expectEvent == nil {
					t.Errorf("unexpected event %+v", ev)
				} else if ev != *tt.expectEvent {
					t.Errorf("event: expected %+v, got %+v", *tt.expectEvent, ev)
				}
			default:
				if tt.expectEvent != nil {
					t.Error("expected event was not emitted")
				}
			}
		})
	}
}

func TestGetPlayerName(t *testing.T) {
	src := NewMprisSource(zap.NewNop())
	src.playerNames = map[string]string{
		":1.100": "org.mpris.MediaPlayer2.spotify",
	}

	tests := []struct {
		input    string
		expected string
	}{
		{":1.100", "org.mpris.MediaPlayer2.spotify"},
		{":1.999", ":1.999"}, // Fallback
	}

	for _, tt := range tests {
		if got := src.getPlayerName(tt.input); got != tt.expected {
			t.Errorf("getPlayerName(%s): expected %s, got %s", tt.input, tt.expected, got)
		}
	}
}

func TestFormatState(t *testing.T) {
	tests := []struct {
		meta     domain.MediaMetadata
		expected string
	}{
		{domain.MediaMetadata{Title: "Song", Album: "Record", Status: domain.StatusPlaying}, "Playing Song from Record"},
		{domain.MediaMetadata{Title: "Song", Album: "Record", Status: domain.StatusPaused}, "Paused: Song"},
		{domain.MediaMetadata{Title: "Song", Album: "Record", Status: domain.StatusStopped}, "Stopped: Song"},
		{domain.MediaMetadata{Title: "Song"}, "Stopped: Song"},
	}

	for _, tt := range tests {
		if got := FormatState(tt.meta); got != tt.expected {
			t.Errorf("FormatState(%+v): expected %q, got %q", tt.meta, tt.expected, got)
		}
	}
}

func TestSourceWithoutBus(t *testing.T) {
	src := NewMprisSource(zap.NewNop())
	src.dial = func(context.Context) (DBusClient, error) {
		return nil, fmt.Errorf("no session bus")
	}

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("missing bus should not fail Start: %v", err)
	}

	if _, err := src.ListSources(context.Background()); err == nil {
		t.Error("expected ListSources to fail without a bus")
	}

	_, err := src.ReadMetadata(context.Background(), "org.mpris.MediaPlayer2.spotify")
	var qerr *domain.QueryError
	if !errors.As(err, &qerr) || qerr.Source != "org.mpris.MediaPlayer2.spotify" {
		t.Errorf("expected QueryError for the requested source, got %v", err)
	}

	if err := src.Stop(context.Background()); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if _, ok := <-src.Events(); ok {
		t.Error("Events channel should be closed after Stop")
	}
}

// noopDBusClient is a stub to prevent panics during unit tests where
// we don't want to use full mocks but code calls GetProperty/ListNames.
type noopDBusClient struct{}

func (n *noopDBusClient) Close() error                                 { return nil }
func (n *noopDBusClient) AddMatchSignal(...dbus.MatchOption) error     { return nil }
func (n *noopDBusClient) Signal(chan<- *dbus.Signal)                   {}
func (n *noopDBusClient) ListNames(context.Context) ([]string, error) { return []string{}, nil }
func (n *noopDBusClient) GetNameOwner(string) (string, error)          { return "", fmt.Errorf("noop") }
func (n *noopDBusClient) GetProperty(context.Context, string, string, string) (dbus.Variant, error) {
	return dbus.MakeVariant(""), fmt.Errorf("noop")
}

func TestSplitProperty(t *testing.T) {
	tests := []struct {
		prop      string
		wantIface string
		wantName  string
	}{
		{"org.mpris.MediaPlayer2.Player.Metadata", "org.mpris.MediaPlayer2.Player", "Metadata"},
		{"org.mpris.MediaPlayer2.Identity", "org.mpris.MediaPlayer2", "Identity"},
		{"Metadata", "", "Metadata"},
		{"trailing.", "trailing", ""},
	}

	for _, tt := range tests {
		iface, name := splitProperty(tt.prop)
		if iface != tt.wantIface || name != tt.wantName {
			t.Errorf("splitProperty(%q) = (%q, %q), want (%q, %q)", tt.prop, iface, name, tt.wantIface, tt.wantName)
		}
	}
}
