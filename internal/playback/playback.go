// Package playback holds the shared playback state of a room and the pure
// transition rules applied to it. Nothing here ticks: the current position is
// always derived from the last checkpoint and the wall clock.
package playback

import (
	"errors"
	"time"
)

// Action is a playback command verb.
type Action string

const (
	Play        Action = "play"
	Pause       Action = "pause"
	Seek        Action = "seek"
	ChangeTrack Action = "change_track"
)

// Valid reports whether a is one of the known playback actions.
func (a Action) Valid() bool {
	switch a {
	case Play, Pause, Seek, ChangeTrack:
		return true
	}
	return false
}

var (
	ErrUnknownAction    = errors.New("unknown playback action")
	ErrNoTrack          = errors.New("no track loaded")
	ErrMissingTrack     = errors.New("trackId is required")
	ErrMissingPosition  = errors.New("positionSeconds is required")
	ErrNegativePosition = errors.New("positionSeconds must not be negative")
)

// State is a playback checkpoint. While playing, the effective position keeps
// advancing from BaseOffsetSeconds at LastChangeAt.
type State struct {
	CurrentTrackID    string    `json:"currentTrackId,omitempty"`
	BaseOffsetSeconds float64   `json:"baseOffsetSeconds"`
	IsPlaying         bool      `json:"isPlaying"`
	LastChangeAt      time.Time `json:"lastChangeAt"`
}

// Command is a member request to change playback.
type Command struct {
	Action   Action
	TrackID  string
	Position *float64 // seconds; required for seek, optional for change_track
}

// Initial returns a paused state at the start of trackID.
func Initial(trackID string, now time.Time) State {
	return State{CurrentTrackID: trackID, LastChangeAt: now}
}

// HasTrack reports whether a track is loaded.
func (s State) HasTrack() bool {
	return s.CurrentTrackID != ""
}

// EffectivePosition returns the position in seconds at now.
func (s State) EffectivePosition(now time.Time) float64 {
	if !s.IsPlaying {
		return s.BaseOffsetSeconds
	}
	return s.BaseOffsetSeconds + elapsed(s.LastChangeAt, now)
}

// Apply returns the state resulting from cmd at now. changed is false when the
// command was a no-op (play while playing, pause while paused). On error the
// input state is returned untouched.
func Apply(s State, cmd Command, now time.Time) (next State, changed bool, err error) {
	if !cmd.Action.Valid() {
		return s, false, ErrUnknownAction
	}
	if cmd.Action != ChangeTrack && !s.HasTrack() {
		return s, false, ErrNoTrack
	}

	switch cmd.Action {
	case Play:
		if s.IsPlaying {
			return s, false, nil
		}
		s.IsPlaying = true
		s.LastChangeAt = now

	case Pause:
		if !s.IsPlaying {
			return s, false, nil
		}
		s.BaseOffsetSeconds += elapsed(s.LastChangeAt, now)
		s.IsPlaying = false
		s.LastChangeAt = now

	case Seek:
		if cmd.Position == nil {
			return s, false, ErrMissingPosition
		}
		if *cmd.Position < 0 {
			return s, false, ErrNegativePosition
		}
		s.BaseOffsetSeconds = *cmd.Position
		s.LastChangeAt = now

	case ChangeTrack:
		if cmd.TrackID == "" {
			return s, false, ErrMissingTrack
		}
		pos := 0.0
		if cmd.Position != nil {
			if *cmd.Position < 0 {
				return s, false, ErrNegativePosition
			}
			pos = *cmd.Position
		}
		s.CurrentTrackID = cmd.TrackID
		s.BaseOffsetSeconds = pos
		s.LastChangeAt = now
	}

	return s, true, nil
}

// elapsed is clamped at zero so a wall clock stepping backwards never rewinds
// a playing track.
func elapsed(from, to time.Time) float64 {
	d := to.Sub(from).Seconds()
	if d < 0 {
		return 0
	}
	return d
}
