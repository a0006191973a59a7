package models

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestTagsSetSemantics(t *testing.T) {
	tags := Tags{"vip"}
	tags = tags.Add("vip", "billing", " ", "billing")
	if want := (Tags{"vip", "billing"}); !reflect.DeepEqual(tags, want) {
		t.Fatalf("expected %v, got %v", want, tags)
	}
	tags = tags.Remove("vip", "missing")
	if want := (Tags{"billing"}); !reflect.DeepEqual(tags, want) {
		t.Fatalf("expected %v, got %v", want, tags)
	}
	if !tags.Contains("billing") || tags.Contains("vip") {
		t.Fatalf("unexpected membership in %v", tags)
	}
}

func TestTagsAddDoesNotAlias(t *testing.T) {
	base := make(Tags, 1, 4)
	base[0] = "a"
	first := base.Add("b")
	second := base.Add("c")
	if first[1] != "b" || second[1] != "c" {
		t.Fatalf("Add must not share the backing array: %v %v", first, second)
	}
}

func TestCustomFieldsJSON(t *testing.T) {
	raw := `{"plan":"gold","seats":12,"trial":false,"billing":{"country":"DE","vat":19.5}}`
	var fields CustomFields
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if s, ok := fields["plan"].AsString(); !ok || s != "gold" {
		t.Fatalf("plan: expected string gold, got %#v", fields["plan"])
	}
	if n, ok := fields["seats"].AsNumber(); !ok || n != 12 {
		t.Fatalf("seats: expected number 12, got %#v", fields["seats"])
	}
	if b, ok := fields["trial"].AsBool(); !ok || b {
		t.Fatalf("trial: expected bool false, got %#v", fields["trial"])
	}
	nested, ok := fields["billing"].AsObject()
	if !ok {
		t.Fatalf("billing: expected object, got %#v", fields["billing"])
	}
	if s, _ := nested["country"].AsString(); s != "DE" {
		t.Fatalf("billing.country: expected DE, got %q", s)
	}

	out, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back map[string]any
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("re-read: %v", err)
	}
	if back["seats"].(float64) != 12 || back["billing"].(map[string]any)["vat"].(float64) != 19.5 {
		t.Fatalf("unexpected encoding %s", out)
	}
}

func TestCustomFieldsRejectUnsupportedValues(t *testing.T) {
	for _, raw := range []string{`{"a":null}`, `{"a":[1,2]}`, `{"a":{"b":[true]}}`} {
		var fields CustomFields
		if err := json.Unmarshal([]byte(raw), &fields); err == nil {
			t.Fatalf("expected %s to be rejected", raw)
		}
	}
}
