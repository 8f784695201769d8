package api

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/goccy/go-json"
)

// Sentinels matched with errors.Is by the CLI to pick log messages.
var (
	ErrAuth  = errors.New("authentication failed")
	ErrFetch = errors.New("fetch failed")
)

// StatusError is a non-success HTTP response from the token or tracks
// endpoint.
type StatusError struct {
	Endpoint   string // "token" or "tracks"
	StatusCode int
	Reason     string // e.g. "401 Unauthorized"
	Detail     string // summary of the response body

	kind error
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s: %s endpoint returned %s", e.kind, e.Endpoint, e.Reason)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is matches ErrAuth or ErrFetch depending on the failing endpoint.
func (e *StatusError) Is(target error) bool { return target == e.kind }

const maxDetail = 200

// summarizeBody turns an error response body into a one-line detail. HTML
// pages (gateway and proxy errors) are reduced to their title; JSON error
// objects to their message.
func summarizeBody(contentType string, body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return ""
	}

	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "html") || bytes.HasPrefix(body, []byte("<")):
		if s := htmlSummary(body); s != "" {
			return truncate(s)
		}
	case strings.Contains(ct, "json") || body[0] == '{':
		if s := jsonSummary(body); s != "" {
			return truncate(s)
		}
	}
	return truncate(strings.Join(strings.Fields(string(body)), " "))
}

func htmlSummary(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	if h := strings.TrimSpace(doc.Find("h1").First().Text()); h != "" {
		return h
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// jsonSummary understands the two common error shapes:
// {"error": "invalid_client", "error_description": "..."} (OAuth) and
// {"error": {"status": 400, "message": "..."}} (resource APIs).
func jsonSummary(body []byte) string {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return ""
	}

	var parts []string
	switch e := doc["error"].(type) {
	case string:
		parts = append(parts, e)
	case map[string]any:
		if m, ok := e["message"].(string); ok {
			parts = append(parts, m)
		}
	}
	for _, k := range []string{"error_description", "message"} {
		if s, ok := doc[k].(string); ok && s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ": ")
}

func truncate(s string) string {
	if len(s) <= maxDetail {
		return s
	}
	cut := maxDetail
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
