package presence

import (
	"encoding/binary"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/genricoloni/presenced/internal/domain"
)

// Resolved carries the text derived from a media source. Empty fields
// fall back to the form values.
type Resolved struct {
	Details string
	State   string
}

// Build turns the form into a publishable presence. Buttons with a label
// but an invalid URL are dropped and reported in the returned slice; the
// presence itself is always usable.
func Build(form domain.Form, media Resolved, start *time.Time) (domain.PresenceState, []error) {
	state := domain.PresenceState{
		Details:        form.Details,
		State:          form.State,
		Start:          start,
		LargeImageKey:  form.LargeImage,
		LargeImageText: form.LargeText,
		SmallImageKey:  form.SmallImage,
		SmallImageText: form.SmallText,
	}
	if media.Details != "" {
		state.Details = media.Details
	}
	if media.State != "" {
		state.State = media.State
	}

	var problems []error
	pairs := [domain.MaxButtons][2]string{
		{form.Button1Text, form.Button1URL},
		{form.Button2Text, form.Button2URL},
	}
	for i, p := range pairs {
		label, raw := p[0], p[1]
		if label == "" {
			continue
		}
		u, err := NormalizeURL(raw)
		if err != nil {
			problems = append(problems, &domain.ButtonError{Index: i + 1, Reason: "invalid url: " + err.Error()})
			continue
		}
		state.Buttons = append(state.Buttons, domain.Button{Label: label, URL: u})
	}

	return state, problems
}

// Fingerprint hashes every published field of state. Two presences with
// the same fingerprint render identically.
func Fingerprint(state domain.PresenceState) uint64 {
	d := xxhash.New()
	write := func(s string) {
		_, _ = d.WriteString(s)
		_, _ = d.Write([]byte{0})
	}

	write(state.Details)
	write(state.State)
	var ts [9]byte
	if state.Start != nil {
		ts[0] = 1
		binary.LittleEndian.PutUint64(ts[1:], uint64(state.Start.Unix()))
	}
	_, _ = d.Write(ts[:])
	write(state.LargeImageKey)
	write(state.LargeImageText)
	write(state.SmallImageKey)
	write(state.SmallImageText)
	for _, b := range state.Buttons {
		write(b.Label)
		write(b.URL)
	}
	return d.Sum64()
}
