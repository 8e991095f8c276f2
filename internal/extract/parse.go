package extract

import (
	"encoding/json"
	"strconv"
	"strings"

	mnemeErrors "github.com/cadre-oss/mneme/internal/errors"
	"github.com/cadre-oss/mneme/internal/memory"
)

// noCandidate is the "nothing to save" default.
var noCandidate = RawCandidate{Importance: memory.DefaultImportance}

// ParseCandidate extracts a candidate from free-form model output: the span
// from the first '{' to the last '}' is decoded with loose typing. Missing
// fields default to shouldSave=false and importance=5. On failure it returns
// the "nothing to save" candidate together with an EXTRACTION_PARSE error.
func ParseCandidate(text string) (RawCandidate, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return noCandidate, mnemeErrors.New(mnemeErrors.CodeExtractionParse, "no JSON object in extraction output")
	}

	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(text[start:end+1]), &fields); err != nil {
		return noCandidate, mnemeErrors.Wrap(mnemeErrors.CodeExtractionParse, "malformed extraction output", err)
	}

	c := noCandidate
	var ok bool
	if v, present := fields["shouldSave"]; present {
		if c.ShouldSave, ok = asBool(v); !ok {
			return noCandidate, mnemeErrors.Newf(mnemeErrors.CodeExtractionParse, "shouldSave has unexpected value %v", v)
		}
	}
	if v, present := fields["title"]; present && v != nil {
		if c.Title, ok = v.(string); !ok {
			return noCandidate, mnemeErrors.New(mnemeErrors.CodeExtractionParse, "title is not a string")
		}
	}
	if v, present := fields["content"]; present && v != nil {
		if c.Content, ok = v.(string); !ok {
			return noCandidate, mnemeErrors.New(mnemeErrors.CodeExtractionParse, "content is not a string")
		}
	}
	if v, present := fields["importance"]; present && v != nil {
		if c.Importance, ok = asNumber(v); !ok {
			return noCandidate, mnemeErrors.Newf(mnemeErrors.CodeExtractionParse, "importance has unexpected value %v", v)
		}
	}

	c.Title = strings.TrimSpace(c.Title)
	c.Content = strings.TrimSpace(c.Content)
	return c, nil
}

func asBool(v interface{}) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return b, err == nil
	case nil:
		return false, true
	}
	return false, false
}

func asNumber(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}
