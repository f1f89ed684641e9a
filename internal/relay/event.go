package relay

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// EventUnknown is the sentinel event name for payloads that carry none.
const EventUnknown = "unknown"

// EventFamily selects the template and normalization applied to an event.
type EventFamily int

const (
	FamilyGeneric EventFamily = iota
	FamilyNode
	FamilyService
	FamilyBilling
	FamilyAlert
	FamilyStripe
)

func (f EventFamily) String() string {
	switch f {
	case FamilyNode:
		return "node"
	case FamilyService:
		return "service"
	case FamilyBilling:
		return "billing"
	case FamilyAlert:
		return "alert"
	case FamilyStripe:
		return "stripe"
	default:
		return "generic"
	}
}

// Payload is the parsed form of a webhook body. Fallback is set when the
// body was not valid JSON; Fields then carries the raw text under "raw".
type Payload struct {
	Event    string
	Fields   map[string]any
	Fallback bool
}

// ParsePayload decodes a Remnawave-shaped body ({"event": ..., "data": ...}).
// Malformed JSON degrades to a raw-text payload instead of an error; by the
// time this runs the bytes already passed signature verification, so a bad
// body is trusted garbage, not an attack.
func ParsePayload(raw []byte) Payload {
	var envelope struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Payload{
			Event:    EventUnknown,
			Fields:   map[string]any{"raw": string(raw)},
			Fallback: true,
		}
	}

	event := envelope.Event
	if event == "" {
		event = EventUnknown
	}
	fields := envelope.Data
	if fields == nil {
		fields = map[string]any{}
	}
	return Payload{Event: event, Fields: fields}
}

// ParseFields decodes a flat JSON object body, as the alert and payment
// endpoints receive. Non-JSON bodies degrade to {"raw": text}; the second
// return value reports that fallback.
func ParseFields(raw []byte) (map[string]any, bool) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return map[string]any{"raw": string(raw)}, true
	}
	return fields, false
}

// Classify picks the template family for a Remnawave event name. Matches
// are evaluated in priority order; anything unrecognized is Generic. The
// alert and payment endpoints have fixed families and never classify.
func Classify(event string) EventFamily {
	switch {
	case strings.HasPrefix(event, "node."):
		return FamilyNode
	case strings.HasPrefix(event, "service."):
		return FamilyService
	case strings.HasPrefix(event, "crm.infra_billing_node_payment"):
		return FamilyBilling
	default:
		return FamilyGeneric
	}
}

// Normalize derives the fields a family's template expects. The input map
// is never modified: callers get a fresh map with the family's coercions
// applied, so the payload handed to the renderer is stable. Normalization
// never fails — bad values fall back to documented defaults.
func Normalize(family EventFamily, fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}

	switch family {
	case FamilyNode:
		normalizeNode(out)
	case FamilyService:
		normalizeService(out)
	case FamilyBilling:
		normalizeBilling(out)
	case FamilyGeneric:
		normalizeGeneric(out)
	case FamilyAlert:
		normalizeAlert(out)
	case FamilyStripe:
		normalizeStripe(out)
	}
	return out
}

// nodeFloatFields are coerced to float64; null or unparseable values become
// 0.0, absent keys stay absent.
var nodeFloatFields = []string{"trafficUsedBytes", "trafficLimitBytes", "consumptionMultiplier"}

func normalizeNode(fields map[string]any) {
	for _, key := range nodeFloatFields {
		if _, ok := fields[key]; !ok {
			continue
		}
		fields[key] = toFloat(fields[key])
	}

	if squads, ok := fields["activeInternalSquads"].([]any); ok {
		names := make([]string, 0, len(squads))
		for _, s := range squads {
			m, ok := s.(map[string]any)
			if !ok {
				continue
			}
			if name, ok := m["name"].(string); ok {
				names = append(names, name)
			}
		}
		fields["activeInternalSquads"] = names
	}
}

// normalizeService flattens a nested loginAttempt object into the top-level
// fields, last write wins.
func normalizeService(fields map[string]any) {
	login, ok := fields["loginAttempt"].(map[string]any)
	if !ok {
		return
	}
	for k, v := range login {
		fields[k] = v
	}
}

const billingTimeLayout = "02.01.2006 15:04"

func normalizeBilling(fields map[string]any) {
	s, ok := fields["nextBillingAt"].(string)
	if !ok || s == "" {
		return
	}
	t, err := parseISOTime(s)
	if err != nil {
		// Unparseable timestamps display as-is rather than failing the
		// request.
		return
	}
	fields["nextBillingAt"] = t.UTC().Format(billingTimeLayout) + " UTC"
}

// isoLayouts are tried in order; fromisoformat-style inputs may or may not
// carry an offset or fractional seconds.
var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseISOTime(s string) (time.Time, error) {
	var err error
	for _, layout := range isoLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

// normalizeGeneric stores an indented JSON dump of the fields under "raw"
// (overwriting any pre-existing raw) as the display fallback for events no
// template knows about.
func normalizeGeneric(fields map[string]any) {
	fields["raw"] = Preformatted(dumpJSON(fields))
}

// alertDefaults document the placeholder each alert template field falls
// back to when the payload omits it.
var alertDefaults = map[string]any{
	"user_identifier":    "unknown",
	"detected_ips_count": 0,
	"limit":              0,
	"all_user_ips":       []any{},
	"block_duration":     "unknown",
	"violation_type":     "unknown",
}

func normalizeAlert(fields map[string]any) {
	for key, def := range alertDefaults {
		if _, ok := fields[key]; !ok {
			fields[key] = def
		}
	}
}

// normalizeStripe keeps the whole payload visible: the event type plus a
// pre-wrapped JSON dump.
func normalizeStripe(fields map[string]any) {
	dump := dumpJSON(fields)
	fields["raw"] = Preformatted(dump)
	if _, ok := fields["type"]; !ok {
		fields["type"] = EventUnknown
	}
}

// dumpJSON renders fields as indented JSON without the encoder's default
// &-style HTML escaping; entity escaping for chat markup happens in
// Preformatted instead, so the dump stays verbatim.
func dumpJSON(fields map[string]any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(fields); err != nil {
		return "{}"
	}
	return strings.TrimRight(buf.String(), "\n")
}

// toFloat coerces JSON scalars to float64. Null and unparseable values
// become 0.0; coercion never propagates an error.
func toFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0
		}
		return f
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
