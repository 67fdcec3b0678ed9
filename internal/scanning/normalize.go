package scanning

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrMalformedExtraction is returned when the extraction payload cannot be
// parsed or repaired into name/price entries. It is recoverable: the caller
// surfaces it so the user can retry the upload or fall back to manual entry.
// There is no automatic re-query of the model.
var ErrMalformedExtraction = errors.New("malformed extraction payload")

// extractedEntry is one raw name/price pair before normalization.
type extractedEntry struct {
	name  string
	price string
}

// NormalizeExtraction converts a raw model response into an ordered item
// list. The payload is expected to be a JSON object of {name: priceToken}
// pairs or an array of single-key objects of the same shape, possibly wrapped
// in markdown fences or surrounding prose.
//
// Entries from the first "total"-labeled key onward are dropped: that key is
// receipt metadata marking the end of the purchasable lines, not a line item.
// Price tokens keep only digits, '.' and '-'; tokens that still fail to parse
// resolve to 0. Surviving entries get 1-based sequential ids in source order.
//
// The transform is pure: one payload in, one item list out.
func NormalizeExtraction(text string) ([]LineItem, error) {
	candidates, err := payloadCandidates(text)
	if err != nil {
		return nil, err
	}

	var entries []extractedEntry
	var decodeErr error
	for _, payload := range candidates {
		entries, decodeErr = decodeEntries(payload)
		if decodeErr == nil {
			break
		}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedExtraction, decodeErr)
	}
	entries = truncateAtTotal(entries)

	items := make([]LineItem, 0, len(entries))
	for i, entry := range entries {
		items = append(items, LineItem{
			ID:    i + 1,
			Name:  entry.name,
			Price: parsePrice(entry.price),
		})
	}
	return items, nil
}

// payloadCandidates strips markdown fences and windows the text to the
// outermost JSON object and array. The window that opens first is tried
// first; the other is kept as a fallback, since prose around the JSON can
// contain a stray bracket (e.g. "Items [1 of 2]: {...}") that makes the
// leading window undecodable.
func payloadCandidates(text string) ([]string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	objStart := strings.Index(text, "{")
	arrStart := strings.Index(text, "[")

	var objWindow, arrWindow string
	if objStart != -1 {
		if end := strings.LastIndex(text, "}"); end > objStart {
			objWindow = text[objStart : end+1]
		}
	}
	if arrStart != -1 {
		if end := strings.LastIndex(text, "]"); end > arrStart {
			arrWindow = text[arrStart : end+1]
		}
	}

	ordered := []string{objWindow, arrWindow}
	if arrStart != -1 && (objStart == -1 || arrStart < objStart) {
		ordered = []string{arrWindow, objWindow}
	}
	var candidates []string
	for _, w := range ordered {
		if w != "" {
			candidates = append(candidates, w)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrMalformedExtraction
	}
	return candidates, nil
}

// decodeEntries parses the payload with a token stream so that object key
// order is preserved; unmarshaling into a map would scramble it and break the
// "total" cutoff.
func decodeEntries(payload string) ([]extractedEntry, error) {
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return nil, fmt.Errorf("payload is not an object or array")
	}

	switch delim {
	case '{':
		return decodeObjectEntries(dec)
	case ']', '}':
		return nil, fmt.Errorf("payload is not an object or array")
	}

	// Array form: each element is a single-key {name: price} object.
	var entries []extractedEntry
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		d, ok := tok.(json.Delim)
		if !ok {
			// Scalar element, not an item record.
			continue
		}
		if d != '{' {
			return nil, fmt.Errorf("array element is not an object")
		}
		inner, err := decodeObjectEntries(dec)
		if err != nil {
			return nil, err
		}
		if len(inner) > 0 {
			entries = append(entries, inner[0])
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return entries, nil
}

// decodeObjectEntries reads key/value pairs up to and including the closing
// brace, in source order.
func decodeObjectEntries(dec *json.Decoder) ([]extractedEntry, error) {
	var entries []extractedEntry
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key %v", keyTok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		entries = append(entries, extractedEntry{name: key, price: priceToken(value)})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return entries, nil
}

// priceToken renders a raw JSON value as a price token string. Non-scalar
// values yield an empty token, which parses to 0.
func priceToken(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// truncateAtTotal drops the first entry whose normalized key contains "total"
// and everything after it.
func truncateAtTotal(entries []extractedEntry) []extractedEntry {
	for i, entry := range entries {
		normalized := strings.ToLower(strings.TrimSpace(entry.name))
		if strings.Contains(normalized, "total") {
			return entries[:i]
		}
	}
	return entries
}

var nonPriceRunes = regexp.MustCompile(`[^0-9.\-]`)

// parsePrice strips currency symbols and other decoration from a price token
// and parses the remainder. Unparseable tokens resolve to 0.
func parsePrice(token string) float64 {
	cleaned := nonPriceRunes.ReplaceAllString(token, "")
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return v
}
