package catalog

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TagKind identifies the scalar variant stored in a TagValue.
type TagKind int

// Tag value kinds.
const (
	TagString TagKind = iota
	TagNumber
	TagBool
)

// TagValue is a closed scalar variant for tag maps: string, number, or bool.
// Arrays, objects, and null are rejected at decode time so merge and
// comparison logic stays total.
type TagValue struct {
	Kind TagKind
	Str  string
	Num  float64
	Bool bool
}

// StringTag creates a string-valued tag.
func StringTag(s string) TagValue { return TagValue{Kind: TagString, Str: s} }

// NumberTag creates a number-valued tag.
func NumberTag(n float64) TagValue { return TagValue{Kind: TagNumber, Num: n} }

// BoolTag creates a bool-valued tag.
func BoolTag(b bool) TagValue { return TagValue{Kind: TagBool, Bool: b} }

// MarshalJSON encodes the underlying scalar.
func (v TagValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case TagNumber:
		return json.Marshal(v.Num)
	case TagBool:
		return json.Marshal(v.Bool)
	default:
		return json.Marshal(v.Str)
	}
}

// UnmarshalJSON decodes a scalar JSON value. Non-scalar values are an error.
func (v *TagValue) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return fmt.Errorf("tag value must be a string, number, or boolean")
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = StringTag(s)
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = BoolTag(b)
		return nil
	case '[', '{':
		return fmt.Errorf("tag value must be a string, number, or boolean")
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("tag value must be a string, number, or boolean")
		}
		*v = NumberTag(n)
		return nil
	}
}

// String returns the tag value formatted for display.
func (v TagValue) String() string {
	switch v.Kind {
	case TagNumber:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", v.Num), "0"), ".")
	case TagBool:
		if v.Bool {
			return "true"
		}
		return "false"
	default:
		return v.Str
	}
}

// Equal reports whether two tag values match. String comparison is
// case-insensitive after trimming, numbers and bools compare exactly.
func (v TagValue) Equal(other TagValue) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case TagNumber:
		return v.Num == other.Num
	case TagBool:
		return v.Bool == other.Bool
	default:
		return strings.EqualFold(strings.TrimSpace(v.Str), strings.TrimSpace(other.Str))
	}
}

// TagMap is an open key to scalar-value map attached to artworks and creators.
type TagMap map[string]TagValue

// MarshalTagMap serializes a tag map to its JSON storage form.
// A nil or empty map serializes to "{}".
func MarshalTagMap(m TagMap) string {
	if len(m) == 0 {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// UnmarshalTagMap parses the JSON storage form of a tag map.
func UnmarshalTagMap(s string) TagMap {
	if s == "" || s == "{}" {
		return TagMap{}
	}
	var m TagMap
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return TagMap{}
	}
	return m
}

// MergeStats reports the outcome of an additive tag merge.
type MergeStats struct {
	NewTagsAdded    int `json:"newTagsAdded"`
	TagsOverwritten int `json:"tagsOverwritten"`
	TotalTags       int `json:"totalTags"`
}

// MergeAdditive adds keys from incoming that are absent from existing.
// Existing keys are never overwritten. Key comparison is case-insensitive.
func MergeAdditive(existing, incoming TagMap) (TagMap, MergeStats) {
	merged := make(TagMap, len(existing)+len(incoming))
	lowered := make(map[string]bool, len(existing))
	for k, v := range existing {
		merged[k] = v
		lowered[strings.ToLower(k)] = true
	}
	stats := MergeStats{}
	for k, v := range incoming {
		if lowered[strings.ToLower(k)] {
			continue
		}
		merged[k] = v
		lowered[strings.ToLower(k)] = true
		stats.NewTagsAdded++
	}
	stats.TotalTags = len(merged)
	return merged, stats
}
