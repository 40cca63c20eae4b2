package vitals

import (
	"encoding/json"
	"testing"
)

func TestBundle_UnmarshalFillsMissingKinds(t *testing.T) {
	var b Bundle
	data := `{"blood_pressure":{"value":"120/80","status":"Normal"},"weight":{"value":"80","status":"Normal"}}`
	if err := json.Unmarshal([]byte(data), &b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if len(b) != len(Kinds) {
		t.Fatalf("expected %d kinds, got %d: %v", len(Kinds), len(b), b)
	}
	if b[BloodPressure].Value != "120/80" {
		t.Errorf("blood pressure lost: %+v", b[BloodPressure])
	}
	for _, k := range []Kind{Cholesterol, Glucose, HeartRate} {
		if b[k] != Missing {
			t.Errorf("%s = %+v, want %+v", k, b[k], Missing)
		}
	}
	if _, ok := b[Kind("weight")]; ok {
		t.Error("unknown kinds must be dropped")
	}
}

func TestBundle_MarshalAlwaysFourKeys(t *testing.T) {
	b := Bundle{HeartRate: {Value: "72", Status: StatusNormal}}

	data, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]Reading
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(raw) != 4 {
		t.Fatalf("expected 4 keys, got %d: %s", len(raw), data)
	}
	if raw["glucose"].Status != StatusUnknown {
		t.Errorf("glucose = %+v, want Unknown sentinel", raw["glucose"])
	}
}

func TestBundle_Get(t *testing.T) {
	var b Bundle
	if got := b.Get(Glucose); got != Missing {
		t.Errorf("nil bundle Get = %+v, want Missing", got)
	}
}

func TestRecord_MetadataNotSerialized(t *testing.T) {
	data, err := json.Marshal(Record{Metadata: "v1:secret"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]interface{}
	_ = json.Unmarshal(data, &raw)
	if _, ok := raw["metadata"]; ok {
		t.Error("encrypted metadata must not be exposed")
	}
	if _, ok := raw["Metadata"]; ok {
		t.Error("encrypted metadata must not be exposed")
	}
}
