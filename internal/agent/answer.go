package agent

import (
	"encoding/json"
	"errors"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// FinalAnswerKey is the field a textual reply must carry to end a run.
const FinalAnswerKey = "FINAL_ANSWER"

var (
	errNotJSON       = errors.New("reply is not a JSON object")
	errNoFinalAnswer = errors.New("reply JSON has no " + FinalAnswerKey + " field")
)

// parseFinalAnswer extracts the FINAL_ANSWER value of a textual reply.
// Code fences around the JSON are tolerated. Non-string values are
// re-encoded as JSON. The result is NFC-normalised.
func parseFinalAnswer(reply string) (string, error) {
	body := stripFences(strings.TrimSpace(reply))

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &obj); err != nil {
		// Models like to wrap the object in prose.
		start, end := strings.IndexByte(body, '{'), strings.LastIndexByte(body, '}')
		if start < 0 || end <= start {
			return "", errNotJSON
		}
		if err := json.Unmarshal([]byte(body[start:end+1]), &obj); err != nil {
			return "", errNotJSON
		}
	}

	raw, ok := obj[FinalAnswerKey]
	if !ok {
		return "", errNoFinalAnswer
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return norm.NFC.String(s), nil
	}
	return norm.NFC.String(string(raw)), nil
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// Drop the language tag line.
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// correctionPrompt is sent back to a role whose reply could not be parsed.
func correctionPrompt(reply string, cause error) string {
	snippet := reply
	if r := []rune(snippet); len(r) > 200 {
		snippet = string(r[:200]) + "..."
	}
	return "Your previous reply could not be used (" + cause.Error() + "): " + snippet + "\n" +
		"Either call one of the available tools, or reply with only a JSON object of the form " +
		`{"` + FinalAnswerKey + `": "<your answer>"}.`
}
