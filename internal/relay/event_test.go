package relay

import (
	"html/template"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayload(t *testing.T) {
	t.Run("well-formed envelope", func(t *testing.T) {
		p := ParsePayload([]byte(`{"event":"node.created","data":{"nodeName":"nl-1"}}`))
		assert.Equal(t, "node.created", p.Event)
		assert.Equal(t, "nl-1", p.Fields["nodeName"])
		assert.False(t, p.Fallback)
	})

	t.Run("missing event defaults to unknown", func(t *testing.T) {
		p := ParsePayload([]byte(`{"data":{"x":1}}`))
		assert.Equal(t, EventUnknown, p.Event)
		assert.False(t, p.Fallback)
	})

	t.Run("missing data yields empty fields", func(t *testing.T) {
		p := ParsePayload([]byte(`{"event":"node.created"}`))
		require.NotNil(t, p.Fields)
		assert.Empty(t, p.Fields)
	})

	t.Run("malformed JSON degrades to raw text", func(t *testing.T) {
		p := ParsePayload([]byte("definitely not json"))
		assert.Equal(t, EventUnknown, p.Event)
		assert.Equal(t, "definitely not json", p.Fields["raw"])
		assert.True(t, p.Fallback)
	})

	t.Run("JSON array degrades to raw text", func(t *testing.T) {
		p := ParsePayload([]byte(`[1,2,3]`))
		assert.True(t, p.Fallback)
		assert.Equal(t, "[1,2,3]", p.Fields["raw"])
	})
}

func TestParseFields(t *testing.T) {
	fields, fallback := ParseFields([]byte(`{"user_identifier":"u-1"}`))
	assert.False(t, fallback)
	assert.Equal(t, "u-1", fields["user_identifier"])

	fields, fallback = ParseFields([]byte("plain text"))
	assert.True(t, fallback)
	assert.Equal(t, "plain text", fields["raw"])
}

func TestClassify(t *testing.T) {
	tests := []struct {
		event string
		want  EventFamily
	}{
		{"node.created", FamilyNode},
		{"node.traffic_notify", FamilyNode},
		{"service.login_attempt_failed", FamilyService},
		{"crm.infra_billing_node_payment_created", FamilyBilling},
		{"crm.infra_billing_node_payment", FamilyBilling},
		{"user.created", FamilyGeneric},
		{"nodeish.created", FamilyGeneric},
		{EventUnknown, FamilyGeneric},
		{"", FamilyGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.event))
		})
	}
}

func TestNormalizeNode(t *testing.T) {
	t.Run("numeric coercion", func(t *testing.T) {
		fields := map[string]any{
			"trafficUsedBytes":      "123.5",
			"trafficLimitBytes":     nil,
			"consumptionMultiplier": 1.5,
		}
		out := Normalize(FamilyNode, fields)

		assert.Equal(t, 123.5, out["trafficUsedBytes"])
		assert.Equal(t, 0.0, out["trafficLimitBytes"])
		assert.Equal(t, 1.5, out["consumptionMultiplier"])
	})

	t.Run("missing key stays absent", func(t *testing.T) {
		out := Normalize(FamilyNode, map[string]any{"nodeName": "nl-1"})
		_, ok := out["trafficUsedBytes"]
		assert.False(t, ok)
	})

	t.Run("unparseable value becomes zero", func(t *testing.T) {
		out := Normalize(FamilyNode, map[string]any{"trafficUsedBytes": "lots"})
		assert.Equal(t, 0.0, out["trafficUsedBytes"])
	})

	t.Run("squads projected to names", func(t *testing.T) {
		fields := map[string]any{
			"activeInternalSquads": []any{
				map[string]any{"name": "alpha", "uuid": "1"},
				map[string]any{"name": "beta"},
				"not-an-object",
			},
		}
		out := Normalize(FamilyNode, fields)
		assert.Equal(t, []string{"alpha", "beta"}, out["activeInternalSquads"])
	})

	t.Run("input map is not mutated", func(t *testing.T) {
		fields := map[string]any{"trafficUsedBytes": "123.5"}
		Normalize(FamilyNode, fields)
		assert.Equal(t, "123.5", fields["trafficUsedBytes"])
	})
}

func TestNormalizeService(t *testing.T) {
	fields := map[string]any{
		"ip": "10.0.0.1",
		"loginAttempt": map[string]any{
			"username": "admin",
			"ip":       "192.168.1.7",
		},
	}
	out := Normalize(FamilyService, fields)

	assert.Equal(t, "admin", out["username"])
	// Nested keys win over pre-existing top-level keys.
	assert.Equal(t, "192.168.1.7", out["ip"])
	// The nested object itself stays in place.
	assert.NotNil(t, out["loginAttempt"])
}

func TestNormalizeBilling(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"naive timestamp", "2024-03-05T10:00:00", "05.03.2024 10:00 UTC"},
		{"offset timestamp converted to UTC", "2024-03-05T10:00:00+03:00", "05.03.2024 07:00 UTC"},
		{"unparseable left unchanged", "not-a-date", "not-a-date"},
		{"empty left unchanged", "", ""},
		{"non-string left unchanged", 12345, 12345},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Normalize(FamilyBilling, map[string]any{"nextBillingAt": tt.in})
			assert.Equal(t, tt.want, out["nextBillingAt"])
		})
	}

	t.Run("missing key untouched", func(t *testing.T) {
		out := Normalize(FamilyBilling, map[string]any{"amount": 5})
		_, ok := out["nextBillingAt"]
		assert.False(t, ok)
	})
}

func TestNormalizeGeneric(t *testing.T) {
	out := Normalize(FamilyGeneric, map[string]any{"nodeName": "nl-1", "count": 2})

	raw, ok := out["raw"].(template.HTML)
	require.True(t, ok, "raw should be pre-formatted HTML-safe content")
	assert.Contains(t, string(raw), "\"nodeName\": \"nl-1\"")
	assert.Contains(t, string(raw), "\"count\": 2")

	t.Run("pre-existing raw overwritten", func(t *testing.T) {
		out := Normalize(FamilyGeneric, map[string]any{"raw": "old"})
		raw := string(out["raw"].(template.HTML))
		assert.Contains(t, raw, "\"raw\": \"old\"")
		assert.NotEqual(t, "old", raw)
	})
}

func TestNormalizeAlert(t *testing.T) {
	t.Run("defaults applied", func(t *testing.T) {
		out := Normalize(FamilyAlert, map[string]any{})
		assert.Equal(t, "unknown", out["user_identifier"])
		assert.Equal(t, 0, out["detected_ips_count"])
		assert.Equal(t, 0, out["limit"])
		assert.Equal(t, []any{}, out["all_user_ips"])
		assert.Equal(t, "unknown", out["block_duration"])
		assert.Equal(t, "unknown", out["violation_type"])
	})

	t.Run("present values kept", func(t *testing.T) {
		out := Normalize(FamilyAlert, map[string]any{
			"user_identifier": "u-42",
			"limit":           3.0,
		})
		assert.Equal(t, "u-42", out["user_identifier"])
		assert.Equal(t, 3.0, out["limit"])
	})
}

func TestNormalizeStripe(t *testing.T) {
	out := Normalize(FamilyStripe, map[string]any{"type": "invoice.paid", "amount": 100})

	raw, ok := out["raw"].(template.HTML)
	require.True(t, ok)
	assert.Contains(t, string(raw), "\"type\": \"invoice.paid\"")
	assert.Equal(t, "invoice.paid", out["type"])

	out = Normalize(FamilyStripe, map[string]any{})
	assert.Equal(t, EventUnknown, out["type"])
}

func TestToFloat(t *testing.T) {
	assert.Equal(t, 123.5, toFloat(123.5))
	assert.Equal(t, 123.5, toFloat("123.5"))
	assert.Equal(t, 7.0, toFloat(7))
	assert.Equal(t, 0.0, toFloat(nil))
	assert.Equal(t, 0.0, toFloat("NaN-ish"))
	assert.Equal(t, 0.0, toFloat(map[string]any{}))
}
