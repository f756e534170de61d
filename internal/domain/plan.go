// Package domain contains core business types and interfaces.
//
// This file defines plan tiers and the limit values attached to them.
// A limit value is a tagged union: a daily cap (int), a feature toggle
// (bool), or an enumerated list of allowed options (strings).
package domain

import (
	"encoding/json"
	"fmt"
)

// PlanTier identifies a billing plan level, ordered by privilege.
type PlanTier string

const (
	PlanTierFree   PlanTier = "free"
	PlanTierPro    PlanTier = "pro"
	PlanTierMaster PlanTier = "master"
)

// LimitKind discriminates the type stored in a LimitValue.
type LimitKind int

const (
	LimitKindInt LimitKind = iota
	LimitKindBool
	LimitKindStringList
)

func (k LimitKind) String() string {
	switch k {
	case LimitKindInt:
		return "int"
	case LimitKindBool:
		return "bool"
	case LimitKindStringList:
		return "string_list"
	default:
		return "unknown"
	}
}

// LimitValue is a single plan limit entry. The zero value is an int
// limit of 0, which denies everything — the safe default.
type LimitValue struct {
	kind    LimitKind
	intVal  int64
	boolVal bool
	listVal []string
}

// IntLimit creates an integer (daily cap) limit value.
func IntLimit(n int64) LimitValue {
	return LimitValue{kind: LimitKindInt, intVal: n}
}

// BoolLimit creates a feature toggle limit value.
func BoolLimit(b bool) LimitValue {
	return LimitValue{kind: LimitKindBool, boolVal: b}
}

// ListLimit creates an enumerated-options limit value.
func ListLimit(options ...string) LimitValue {
	return LimitValue{kind: LimitKindStringList, listVal: options}
}

// Kind returns the discriminator for this value.
func (v LimitValue) Kind() LimitKind {
	return v.kind
}

// AsInt returns the integer cap. Errors on type mismatch.
func (v LimitValue) AsInt() (int64, error) {
	if v.kind != LimitKindInt {
		return 0, fmt.Errorf("limit value is %s, not int", v.kind)
	}
	return v.intVal, nil
}

// AsBool returns the toggle state. Errors on type mismatch.
func (v LimitValue) AsBool() (bool, error) {
	if v.kind != LimitKindBool {
		return false, fmt.Errorf("limit value is %s, not bool", v.kind)
	}
	return v.boolVal, nil
}

// AsStringList returns the allowed options. Errors on type mismatch.
func (v LimitValue) AsStringList() ([]string, error) {
	if v.kind != LimitKindStringList {
		return nil, fmt.Errorf("limit value is %s, not string list", v.kind)
	}
	return v.listVal, nil
}

// UnmarshalJSON decodes a limit value from its external form: a JSON
// number, boolean, or array of strings.
func (v *LimitValue) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch t := raw.(type) {
	case bool:
		*v = BoolLimit(t)
		return nil
	case float64:
		if t != float64(int64(t)) {
			return fmt.Errorf("limit value %v is not an integer", t)
		}
		*v = IntLimit(int64(t))
		return nil
	case []interface{}:
		options := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("limit list contains non-string element %v", item)
			}
			options = append(options, s)
		}
		*v = ListLimit(options...)
		return nil
	default:
		return fmt.Errorf("unsupported limit value type %T", raw)
	}
}

// MarshalJSON encodes the value back to its external form.
func (v LimitValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case LimitKindBool:
		return json.Marshal(v.boolVal)
	case LimitKindStringList:
		if v.listVal == nil {
			return json.Marshal([]string{})
		}
		return json.Marshal(v.listVal)
	default:
		return json.Marshal(v.intVal)
	}
}

// PlanLimits maps limit keys (e.g. "ai_chat_daily_limit") to values for
// one tier.
type PlanLimits map[string]LimitValue

// PlanTable maps every tier to its limits.
type PlanTable map[PlanTier]PlanLimits

// Lookup returns the limit value for a tier and key. Keys missing for
// the tier fall back to the free tier's value, so newly introduced keys
// on old plan snapshots still resolve. A key absent everywhere returns
// the zero value (int 0), which denies.
func (t PlanTable) Lookup(tier PlanTier, key string) LimitValue {
	if limits, ok := t[tier]; ok {
		if v, ok := limits[key]; ok {
			return v
		}
	}
	if tier != PlanTierFree {
		if limits, ok := t[PlanTierFree]; ok {
			if v, ok := limits[key]; ok {
				return v
			}
		}
	}
	return LimitValue{}
}

// LimitKeys returns the union of limit keys across all tiers.
func (t PlanTable) LimitKeys() []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, limits := range t {
		for k := range limits {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				keys = append(keys, k)
			}
		}
	}
	return keys
}

// DefaultPlanTable is the built-in fallback used when the external plan
// catalog has never been fetched successfully. It must stay in sync with
// the published catalog document; when in doubt it errs on the side of
// stricter limits.
var DefaultPlanTable = PlanTable{
	PlanTierFree: {
		"ai_chat_daily_limit": IntLimit(3),
		"doc_convert_daily_limit": IntLimit(5),
		"image_tool_daily_limit": IntLimit(5),
		"ai_writer_daily_limit": IntLimit(2),
		"collaborative_editor": BoolLimit(false),
		"doc_creator_export": ListLimit("html"),
		"storage_limit_mb": IntLimit(300),
	},
	PlanTierPro: {
		"ai_chat_daily_limit": IntLimit(50),
		"doc_convert_daily_limit": IntLimit(100),
		"image_tool_daily_limit": IntLimit(100),
		"ai_writer_daily_limit": IntLimit(30),
		"collaborative_editor": BoolLimit(true),
		"doc_creator_export": ListLimit("html", "pdf", "docx"),
		"storage_limit_mb": IntLimit(5120),
	},
	PlanTierMaster: {
		"ai_chat_daily_limit": IntLimit(500),
		"doc_convert_daily_limit": IntLimit(1000),
		"image_tool_daily_limit": IntLimit(1000),
		"ai_writer_daily_limit": IntLimit(300),
		"collaborative_editor": BoolLimit(true),
		"doc_creator_export": ListLimit("html", "pdf", "docx", "md", "epub"),
		"storage_limit_mb": IntLimit(51200),
	},
}

// DailyLimitKey returns the catalog key holding a feature's daily cap.
func DailyLimitKey(feature string) string {
	return feature + "_daily_limit"
}
