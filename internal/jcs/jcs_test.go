package jcs

import (
	"encoding/json"
	"testing"
)

func TestMarshal_DifferentKeyOrder(t *testing.T) {
	json1 := `{"b":2,"a":1,"c":{"y":2,"x":1}}`
	json2 := `{"a":1,"c":{"x":1,"y":2},"b":2}`

	var obj1, obj2 map[string]interface{}
	if err := json.Unmarshal([]byte(json1), &obj1); err != nil {
		t.Fatalf("unmarshal json1: %v", err)
	}
	if err := json.Unmarshal([]byte(json2), &obj2); err != nil {
		t.Fatalf("unmarshal json2: %v", err)
	}

	c1, err := Marshal(obj1)
	if err != nil {
		t.Fatalf("Marshal(obj1): %v", err)
	}
	c2, err := Marshal(obj2)
	if err != nil {
		t.Fatalf("Marshal(obj2): %v", err)
	}
	if string(c1) != string(c2) {
		t.Fatalf("expected identical canonical bytes, got %s vs %s", c1, c2)
	}
}

func TestMarshal_KeysSorted(t *testing.T) {
	obj := map[string]interface{}{"z": "last", "a": "first", "m": "middle"}
	got, err := Marshal(obj)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"a":"first","m":"middle","z":"last"}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestMarshal_IntegersStayIntegers(t *testing.T) {
	obj := map[string]interface{}{"versionId": 3}
	got, err := Marshal(obj)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(got) != `{"versionId":3}` {
		t.Errorf("got %s", got)
	}
}

func TestMarshal_NoHTMLEscaping(t *testing.T) {
	obj := map[string]interface{}{"name": "Alice & <Bob>"}
	got, err := Marshal(obj)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"name":"Alice & <Bob>"}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	raw := []byte(`{"selfHash":"placeholder","versionId":0,"nested":{"b":1,"a":2},"list":[3,1,2]}`)
	var v interface{}
	if err := Unmarshal(raw, &v); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	c1, err := Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var v2 interface{}
	if err := Unmarshal(c1, &v2); err != nil {
		t.Fatalf("Unmarshal(c1): %v", err)
	}
	c2, err := Marshal(v2)
	if err != nil {
		t.Fatalf("Marshal(v2): %v", err)
	}
	if string(c1) != string(c2) {
		t.Fatalf("canonicalization is not idempotent: %s vs %s", c1, c2)
	}
}

func TestMarshal_MultipleRunsDeterministic(t *testing.T) {
	raw := []byte(`{"transitions":{},"token":["x"],"places":{},"arcs":[],"@type":"Foo"}`)
	var expected string
	for i := 0; i < 10; i++ {
		var obj map[string]interface{}
		if err := json.Unmarshal(raw, &obj); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		out, err := Marshal(obj)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if i == 0 {
			expected = string(out)
		} else if string(out) != expected {
			t.Errorf("run %d differed: %s vs %s", i, out, expected)
		}
	}
}
