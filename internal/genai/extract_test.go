package genai

import (
	"reflect"
	"testing"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want map[string]any
		ok   bool
	}{
		{
			name: "bare object",
			in:   `{"intent":"product_search"}`,
			want: map[string]any{"intent": "product_search"},
			ok:   true,
		},
		{
			name: "fenced",
			in:   "```json\n{\"reply\":\"اهلا\"}\n```",
			want: map[string]any{"reply": "اهلا"},
			ok:   true,
		},
		{
			name: "surrounding prose",
			in:   "Sure! Here is the JSON you asked for: {\"selected_id\": 20} hope that helps",
			want: map[string]any{"selected_id": float64(20)},
			ok:   true,
		},
		{
			name: "nested object",
			in:   `{"a":{"b":1},"c":2}`,
			want: map[string]any{"a": map[string]any{"b": float64(1)}, "c": float64(2)},
			ok:   true,
		},
		{
			name: "brace inside string",
			in:   `{"reply":"use {curly} braces","ids":[1]}`,
			want: map[string]any{"reply": "use {curly} braces", "ids": []any{float64(1)}},
			ok:   true,
		},
		{name: "empty", in: "", ok: false},
		{name: "no object", in: "مفيش نتائج", ok: false},
		{name: "truncated", in: `{"reply":"hi"`, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSONObject(tt.in)
			if ok != tt.ok {
				t.Fatalf("ExtractJSONObject ok = %v, want %v", ok, tt.ok)
			}
			if tt.ok && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractJSONObject = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFieldReaders(t *testing.T) {
	object := map[string]any{
		"intent":   "product_search",
		"keywords": []any{"احمر", "قميص", 7, ""},
		"id_num":   float64(42),
		"id_str":   "42",
		"ids":      []any{float64(10), "20", "x"},
	}

	if got := stringField(object, "intent"); got != "product_search" {
		t.Errorf("stringField = %q", got)
	}
	if got := stringField(object, "missing"); got != "" {
		t.Errorf("stringField missing = %q", got)
	}
	if got := stringListField(object, "keywords"); !reflect.DeepEqual(got, []string{"احمر", "قميص"}) {
		t.Errorf("stringListField = %v", got)
	}
	if id, ok := int64Field(object, "id_num"); !ok || id != 42 {
		t.Errorf("int64Field num = %d, %v", id, ok)
	}
	if id, ok := int64Field(object, "id_str"); !ok || id != 42 {
		t.Errorf("int64Field str = %d, %v", id, ok)
	}
	if _, ok := int64Field(object, "intent"); ok {
		t.Error("int64Field should reject non-numeric string")
	}
	if got := int64ListField(object, "ids"); !reflect.DeepEqual(got, []int64{10, 20}) {
		t.Errorf("int64ListField = %v", got)
	}
}
