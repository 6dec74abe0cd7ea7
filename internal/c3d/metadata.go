package c3d

import (
	"strconv"
	"strings"
	"time"
)

// sessionTimeLayout is the timestamp format game platforms write into the
// TIME parameter. Values are wall-clock UTC.
const sessionTimeLayout = "2006-01-02 15:04:05"

// GameMetadata carries the rehabilitation-game fields embedded in the
// parameter section. Every field degrades gracefully when absent: string
// fields stay empty, Level defaults to "1", and SessionTime reports
// TimeKnown=false so callers can substitute the ingestion timestamp.
type GameMetadata struct {
	GameName    string
	Level       string
	TherapistID string
	PlayerName  string
	GroupID     string

	SessionTime time.Time
	TimeKnown   bool

	DurationSeconds float64
	GameScore       float64
	HasGameScore    bool
}

// Metadata extracts the game parameters from the container. Labels are
// searched group-agnostically because exporters disagree about which group
// holds them.
func (f *File) Metadata() GameMetadata {
	md := GameMetadata{Level: "1"}

	if v, ok := f.paramString("GAME_NAME"); ok {
		md.GameName = v
	}
	if v, ok := f.paramString("LEVEL"); ok && v != "" {
		md.Level = v
	}
	if v, ok := f.paramString("THERAPIST_ID"); ok {
		md.TherapistID = v
	}
	if v, ok := f.paramString("PLAYER_NAME"); ok {
		md.PlayerName = v
	}
	if v, ok := f.paramString("GROUP_ID"); ok {
		md.GroupID = v
	}

	if raw, ok := f.paramString("TIME"); ok {
		if t, err := time.ParseInLocation(sessionTimeLayout, raw, time.UTC); err == nil {
			md.SessionTime = t
			md.TimeKnown = true
		}
	}

	if v, ok := f.paramFloat("DURATION"); ok && v > 0 {
		md.DurationSeconds = v
	}
	if v, ok := f.paramFloat("GAME_SCORE"); ok {
		md.GameScore = v
		md.HasGameScore = true
	}
	return md
}

// paramString reads a parameter by bare name as a string. Numeric parameters
// are formatted so exporters that store LEVEL as an int still resolve.
func (f *File) paramString(name string) (string, bool) {
	p, ok := f.Parameters.Lookup(name)
	if !ok {
		return "", false
	}
	if s, ok := p.String(); ok {
		return s, true
	}
	if v, ok := p.Float(); ok {
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10), true
		}
		return strconv.FormatFloat(v, 'f', -1, 64), true
	}
	return "", false
}

func (f *File) paramFloat(name string) (float64, bool) {
	p, ok := f.Parameters.Lookup(name)
	if !ok {
		return 0, false
	}
	if v, ok := p.Float(); ok {
		return v, true
	}
	if s, ok := p.String(); ok {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return v, true
		}
	}
	return 0, false
}
