package orderref

import (
	"regexp"
	"strings"
)

// OrderMarker is the literal prefix buyers are told to put in front of the
// order code in the transfer description.
const OrderMarker = "DH"

const (
	// a hex run is captured whole so a wrong-length run is not truncated
	// into a valid-looking id
	hexRun   = `[0-9a-f]{32,}`
	uuidForm = `[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`
	// hyphenated run after the marker; hyphen placement is not enforced
	markedHyphenated = `[0-9a-f-]{36,}`

	hexStart  = `(?:^|[^0-9a-f])`
	uuidStart = `(?:^|[^0-9a-f-])`
	uuidEnd   = `(?:[^0-9a-f-]|$)`
)

// orderIDPatterns are tried in order; the first match wins.
var orderIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)` + OrderMarker + `[\s#]*(` + hexRun + `)`),
	regexp.MustCompile(`(?i)` + OrderMarker + `[\s#]*(` + markedHyphenated + `)`),
	regexp.MustCompile(`(?i)` + hexStart + `(` + hexRun + `)`),
	regexp.MustCompile(`(?i)` + uuidStart + `(` + uuidForm + `)` + uuidEnd),
}

// Extract recovers an order identifier from a free-text transfer
// description. A 32-character hex capture is re-grouped into the 8-4-4-4-12
// form. The boolean is false when nothing recognizable is present.
func Extract(content string) (string, bool) {
	for _, re := range orderIDPatterns {
		m := re.FindStringSubmatch(content)
		if m == nil {
			continue
		}
		return normalizeOrderID(m[1]), true
	}
	return "", false
}

// normalizeOrderID lower-cases the capture and hyphenates bare 32-hex runs.
// Anything whose hex length is not 32 is returned as captured so the order
// lookup fails on it cleanly.
func normalizeOrderID(raw string) string {
	id := strings.ToLower(raw)
	compact := strings.ReplaceAll(id, "-", "")
	if len(compact) != 32 {
		return id
	}
	return compact[0:8] + "-" + compact[8:12] + "-" + compact[12:16] + "-" + compact[16:20] + "-" + compact[20:32]
}

// Embed renders the description a buyer is asked to use for an order.
func Embed(orderID string) string {
	return OrderMarker + strings.ReplaceAll(strings.ToUpper(orderID), "-", "")
}
