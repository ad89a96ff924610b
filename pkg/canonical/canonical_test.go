package canonical

import (
	"encoding/json"
	"testing"
)

func TestEncode_KeysSortedAtEveryDepth(t *testing.T) {
	v := map[string]interface{}{
		"b": map[string]interface{}{"z": 1.0, "a": 2.0},
		"a": 1.0,
	}
	got, err := Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"a":1,"b":{"a":2,"z":1}}`
	if string(got) != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestEncode_Idempotent(t *testing.T) {
	v := map[string]interface{}{"x": []interface{}{1.0, 2.0, "y"}, "n": nil, "b": true}
	first, err := Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	var parsed interface{}
	if err := json.Unmarshal(first, &parsed); err != nil {
		t.Fatal(err)
	}
	second, err := Encode(parsed)
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Fatalf("not idempotent: %s != %s", first, second)
	}
}

func TestEncode_ListOrderPreserved(t *testing.T) {
	v := []interface{}{3.0, 1.0, 2.0}
	got, err := Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "[3,1,2]" {
		t.Fatalf("got %s", got)
	}
}

func TestEncode_BoolAndNull(t *testing.T) {
	got, err := Encode([]interface{}{true, false, nil})
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "[true,false,null]" {
		t.Fatalf("got %s", got)
	}
}

func TestEncode_FloatMinimalForm(t *testing.T) {
	cases := map[float64]string{
		1.0:   "1",
		1.5:   "1.5",
		0.38:  "0.38",
		-2.0:  "-2",
		0.0:   "0",
	}
	for f, want := range cases {
		got, err := Encode(f)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != want {
			t.Fatalf("Encode(%v) = %s, want %s", f, got, want)
		}
	}
}

func TestEncode_StringEscaping(t *testing.T) {
	got, err := Encode("a\"b\\c\nd")
	if err != nil {
		t.Fatal(err)
	}
	want := `"a\"b\\c\nd"`
	if string(got) != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestEncode_NonFiniteFloatRejected(t *testing.T) {
	if _, err := Encode(1.0 / zero()); err == nil {
		t.Fatal("expected error for +Inf")
	}
}

func zero() float64 { return 0 }
