package domain

import "encoding/json"

// RawData is the opaque semi-structured payload a message carries beyond its
// plain text: poll contents, album grouping id, forward source name, post
// author. It is a tagged sum with a free-form bag fallback, persisted as a
// single text column.
type RawData struct {
	Poll              *Poll  `json:"poll,omitempty"`
	GroupedID         string `json:"grouped_id,omitempty"`
	ForwardFromName   string `json:"forward_from_name,omitempty"`
	PostAuthor        string `json:"post_author,omitempty"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// Poll is a serialised Telegram poll: question, answers (base64-encoded option
// ids, matching the wire format), flags, and the aggregate results if known.
type Poll struct {
	Question    string       `json:"question"`
	Answers     []PollAnswer `json:"answers"`
	Closed      bool         `json:"closed"`
	MultipleAns bool         `json:"multiple_choice"`
	Quiz        bool         `json:"quiz"`
	Results     []PollResult `json:"results,omitempty"`
}

// PollAnswer is one selectable option of a poll.
type PollAnswer struct {
	Text   string `json:"text"`
	Option string `json:"option"` // base64-encoded option identifier, as Telegram sends it
}

// PollResult is the aggregate vote count for one option.
type PollResult struct {
	Option  string `json:"option"`
	Voters  int    `json:"voters"`
	Chosen  bool   `json:"chosen"`
	Correct bool   `json:"correct,omitempty"`
}

// IsEmpty reports whether RawData carries no information at all, in which case
// it should be persisted as an empty string rather than "{}".
func (r RawData) IsEmpty() bool {
	return r.Poll == nil && r.GroupedID == "" && r.ForwardFromName == "" && r.PostAuthor == "" && len(r.Extra) == 0
}

// Marshal serialises RawData to its text-column form, returning "" for an empty payload.
func (r RawData) Marshal() (string, error) {
	if r.IsEmpty() {
		return "", nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UnmarshalRawData parses a text-column value back into RawData. An empty string
// yields a zero-value RawData, not an error.
func UnmarshalRawData(text string) (RawData, error) {
	var r RawData
	if text == "" {
		return r, nil
	}
	if err := json.Unmarshal([]byte(text), &r); err != nil {
		return RawData{}, err
	}
	return r, nil
}
