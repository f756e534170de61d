package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimitValue_Accessors(t *testing.T) {
	t.Run("int limit", func(t *testing.T) {
		v := IntLimit(5)
		assert.Equal(t, LimitKindInt, v.Kind())

		n, err := v.AsInt()
		assert.NoError(t, err)
		assert.Equal(t, int64(5), n)

		_, err = v.AsBool()
		assert.Error(t, err)
		_, err = v.AsStringList()
		assert.Error(t, err)
	})

	t.Run("bool limit", func(t *testing.T) {
		v := BoolLimit(true)
		assert.Equal(t, LimitKindBool, v.Kind())

		b, err := v.AsBool()
		assert.NoError(t, err)
		assert.True(t, b)

		_, err = v.AsInt()
		assert.Error(t, err)
	})

	t.Run("list limit", func(t *testing.T) {
		v := ListLimit("html", "pdf")
		assert.Equal(t, LimitKindStringList, v.Kind())

		options, err := v.AsStringList()
		assert.NoError(t, err)
		assert.Equal(t, []string{"html", "pdf"}, options)

		_, err = v.AsInt()
		assert.Error(t, err)
	})

	t.Run("zero value is int 0", func(t *testing.T) {
		var v LimitValue
		assert.Equal(t, LimitKindInt, v.Kind())

		n, err := v.AsInt()
		assert.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})
}

func TestLimitValue_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    LimitValue
		wantErr bool
	}{
		{"number", `50`, IntLimit(50), false},
		{"zero", `0`, IntLimit(0), false},
		{"negative", `-1`, IntLimit(-1), false},
		{"bool true", `true`, BoolLimit(true), false},
		{"bool false", `false`, BoolLimit(false), false},
		{"string list", `["html","pdf"]`, ListLimit("html", "pdf"), false},
		{"empty list", `[]`, ListLimit(), false},
		{"fractional number", `1.5`, LimitValue{}, true},
		{"bare string", `"pdf"`, LimitValue{}, true},
		{"mixed list", `["html", 3]`, LimitValue{}, true},
		{"object", `{"a":1}`, LimitValue{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v LimitValue
			err := json.Unmarshal([]byte(tt.input), &v)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestLimitValue_JSONRoundTrip(t *testing.T) {
	limits := PlanLimits{
		"ai_chat_daily_limit":  IntLimit(3),
		"collaborative_editor": BoolLimit(false),
		"doc_creator_export":   ListLimit("html"),
	}

	data, err := json.Marshal(limits)
	require.NoError(t, err)

	var decoded PlanLimits
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, limits, decoded)
}

func TestPlanTable_Lookup(t *testing.T) {
	table := PlanTable{
		PlanTierFree: {
			"ai_chat_daily_limit": IntLimit(3),
			"new_feature_toggle":  BoolLimit(false),
		},
		PlanTierPro: {
			"ai_chat_daily_limit": IntLimit(50),
		},
	}

	t.Run("direct hit", func(t *testing.T) {
		n, err := table.Lookup(PlanTierPro, "ai_chat_daily_limit").AsInt()
		assert.NoError(t, err)
		assert.Equal(t, int64(50), n)
	})

	t.Run("missing key falls back to free tier", func(t *testing.T) {
		enabled, err := table.Lookup(PlanTierPro, "new_feature_toggle").AsBool()
		assert.NoError(t, err)
		assert.False(t, enabled)
	})

	t.Run("key absent everywhere denies", func(t *testing.T) {
		n, err := table.Lookup(PlanTierMaster, "unknown_daily_limit").AsInt()
		assert.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("unknown tier falls back to free", func(t *testing.T) {
		n, err := table.Lookup(PlanTier("enterprise"), "ai_chat_daily_limit").AsInt()
		assert.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})
}

func TestPlanTable_LimitKeys(t *testing.T) {
	keys := DefaultPlanTable.LimitKeys()
	assert.Contains(t, keys, "ai_chat_daily_limit")
	assert.Contains(t, keys, "collaborative_editor")
	assert.Contains(t, keys, "doc_creator_export")

	seen := make(map[string]int)
	for _, k := range keys {
		seen[k]++
	}
	for k, n := range seen {
		assert.Equal(t, 1, n, "key %s appears %d times", k, n)
	}
}

func TestDefaultPlanTable_TiersComplete(t *testing.T) {
	// Every tier must define every key so a resolver result never maps
	// to an undefined limit.
	keys := DefaultPlanTable.LimitKeys()
	for _, tier := range []PlanTier{PlanTierFree, PlanTierPro, PlanTierMaster} {
		for _, key := range keys {
			_, ok := DefaultPlanTable[tier][key]
			assert.True(t, ok, "tier %s missing key %s", tier, key)
		}
	}
}

func TestDailyLimitKey(t *testing.T) {
	assert.Equal(t, "ai_chat_daily_limit", DailyLimitKey("ai_chat"))
}
