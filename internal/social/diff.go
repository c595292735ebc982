package social

import (
	"encoding/json"
	"sort"
)

const (
	ActionFollow     = "fo"     // we started following
	ActionUnfollow   = "unfo"   // we stopped following
	ActionFollowed   = "foed"   // someone started following us
	ActionUnfollowed = "unfoed" // someone stopped following us
)

// Snapshot is the complete membership of both relations at the last
// successful fetch.
type Snapshot struct {
	Following map[string]string `json:"following"`
	Followers map[string]string `json:"followers"`
}

func NewSnapshot(following, followers map[string]string) *Snapshot {
	if following == nil {
		following = map[string]string{}
	}
	if followers == nil {
		followers = map[string]string{}
	}
	return &Snapshot{Following: following, Followers: followers}
}

func (s *Snapshot) Marshal() (string, error) {
	b, err := json.Marshal(NewSnapshot(s.Following, s.Followers))
	return string(b), err
}

func UnmarshalSnapshot(text string) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal([]byte(text), &s); err != nil {
		return nil, err
	}
	return NewSnapshot(s.Following, s.Followers), nil
}

type Event struct {
	Name   string
	Action string
}

// Diff lists the events between old and the new memberships in the order
// unfo, fo, unfoed, foed, each group sorted by id. A nil old yields nothing.
func Diff(old *Snapshot, following, followers map[string]string) []Event {
	if old == nil {
		return nil
	}
	var out []Event
	out = appendMissing(out, old.Following, following, ActionUnfollow)
	out = appendMissing(out, following, old.Following, ActionFollow)
	out = appendMissing(out, old.Followers, followers, ActionUnfollowed)
	out = appendMissing(out, followers, old.Followers, ActionFollowed)
	return out
}

// appendMissing appends an event for every id of from that is absent in other.
func appendMissing(out []Event, from, other map[string]string, action string) []Event {
	ids := make([]string, 0)
	for id := range from {
		if _, ok := other[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		out = append(out, Event{Name: from[id], Action: action})
	}
	return out
}
