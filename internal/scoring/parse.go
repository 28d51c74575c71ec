package scoring

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/kalambet/faqscope/internal/llm"
)

// Parsed is the outcome of parsing a score reply: either Ok or Malformed.
type Parsed interface {
	parsed()
}

// Ok holds a well-formed rating.
type Ok struct {
	Result Result
}

// Malformed holds a reply that could not be read as a rating.
type Malformed struct {
	Raw string
	Err error
}

func (Ok) parsed()        {}
func (Malformed) parsed() {}

var (
	errNoObject   = errors.New("no JSON object")
	errBadLabel   = errors.New("unrecognised label")
	errBadScore   = errors.New("score must be an integer from 1 to 5")
	errMissingKey = errors.New("missing label or score")
)

// ParseScore reads a {"label","score","reason"} reply. Code fences and filler
// around the object are ignored. Labels are matched case-insensitively and
// "Not covered" reads as Not.
func ParseScore(raw string) Parsed {
	obj, err := llm.ExtractJSONObject(raw)
	if err != nil {
		return Malformed{Raw: raw, Err: errNoObject}
	}

	var reply struct {
		Label  *string          `json:"label"`
		Score  *json.RawMessage `json:"score"`
		Reason string           `json:"reason"`
	}
	if err := json.Unmarshal([]byte(obj), &reply); err != nil {
		return Malformed{Raw: raw, Err: fmt.Errorf("decoding: %w", err)}
	}
	if reply.Label == nil || reply.Score == nil {
		return Malformed{Raw: raw, Err: errMissingKey}
	}

	label, ok := normaliseLabel(*reply.Label)
	if !ok {
		return Malformed{Raw: raw, Err: fmt.Errorf("%w: %q", errBadLabel, *reply.Label)}
	}
	score, ok := readScore(*reply.Score)
	if !ok {
		return Malformed{Raw: raw, Err: fmt.Errorf("%w: %s", errBadScore, string(*reply.Score))}
	}
	return Ok{Result: Result{Label: label, Score: score, Reason: strings.TrimSpace(reply.Reason)}}
}

func normaliseLabel(s string) (Coverage, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, " covered")
	switch s {
	case "fully":
		return Fully, true
	case "partially":
		return Partially, true
	case "not":
		return Not, true
	}
	return "", false
}

// readScore accepts 3, 3.0 or "3" and rejects anything outside 1..5.
func readScore(raw json.RawMessage) (int, bool) {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return 0, false
		}
		if _, err := fmt.Sscanf(strings.TrimSpace(s), "%g", &f); err != nil {
			return 0, false
		}
	}
	if f != math.Trunc(f) || f < 1 || f > 5 {
		return 0, false
	}
	return int(f), true
}
