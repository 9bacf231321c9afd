package vjson

import (
	"testing"

	"github.com/stackdump/webplus/internal/selfhash"
)

func TestParseSlotPath(t *testing.T) {
	cases := map[string][]string{
		"$.selfHash": {"selfHash"},
		"$.$id":      {"$id"},
		"$.a.b.c":    {"a", "b", "c"},
	}
	for expr, want := range cases {
		got, err := ParseSlotPath(expr)
		if err != nil {
			t.Fatalf("ParseSlotPath(%q): %v", expr, err)
		}
		if len(got) != len(want) {
			t.Fatalf("ParseSlotPath(%q) = %v, want %v", expr, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("ParseSlotPath(%q)[%d] = %q, want %q", expr, i, got[i], want[i])
			}
		}
	}
}

func TestParseSlotPathRejects(t *testing.T) {
	for _, expr := range []string{"selfHash", "$.", "$.a[0]", "$.a..b"} {
		if _, err := ParseSlotPath(expr); err == nil {
			t.Errorf("ParseSlotPath(%q): expected error", expr)
		}
	}
}

func TestSelfHashRoundTrip(t *testing.T) {
	doc := map[string]interface{}{
		"selfHash": "",
		"name":     "alice",
	}
	ss := DefaultSlotSet()
	stamped, err := SelfHash(doc, ss, selfhash.Blake3)
	if err != nil {
		t.Fatalf("SelfHash: %v", err)
	}
	if stamped["selfHash"] == "" {
		t.Fatal("expected selfHash to be stamped")
	}
	agreed, err := VerifySelfHash(stamped, ss)
	if err != nil {
		t.Fatalf("VerifySelfHash: %v", err)
	}
	if agreed != stamped["selfHash"] {
		t.Errorf("agreed hash %q != stamped slot %q", agreed, stamped["selfHash"])
	}
}

func TestVerifySelfHashRejectsTamper(t *testing.T) {
	doc := map[string]interface{}{"selfHash": "", "name": "alice"}
	ss := DefaultSlotSet()
	stamped, err := SelfHash(doc, ss, selfhash.Blake3)
	if err != nil {
		t.Fatalf("SelfHash: %v", err)
	}
	stamped["name"] = "mallory"
	if _, err := VerifySelfHash(stamped, ss); err == nil {
		t.Error("expected VerifySelfHash to reject a tampered document")
	}
}

func TestVerifySelfHashRejectsDisagreement(t *testing.T) {
	doc := map[string]interface{}{
		"selfHash": "",
		"$id":      "",
	}
	ss := SlotSet{}
	shp, _ := ParseSlotPath("$.selfHash")
	idp, _ := ParseSlotPath("$.$id")
	ss.SelfHashSlots = []SlotPath{shp}
	ss.SelfHashURLSlots = []SlotPath{idp}

	stamped, err := SelfHash(doc, ss, selfhash.Blake3)
	if err != nil {
		t.Fatalf("SelfHash: %v", err)
	}
	// Corrupt just the URL slot so the two slots disagree.
	stamped["$id"] = wrapURL("not-the-right-hash")
	if _, err := VerifySelfHash(stamped, ss); err == nil {
		t.Error("expected VerifySelfHash to reject disagreeing slots")
	}
}

func TestSelfHashURLSlotWrapping(t *testing.T) {
	doc := map[string]interface{}{
		"selfHash": "",
		"$id":      "",
		"$schema":  "",
	}
	ss := DefaultSlotSet()
	stamped, err := SelfHash(doc, ss, selfhash.SHA256)
	if err != nil {
		t.Fatalf("SelfHash: %v", err)
	}
	id, ok := stamped["$id"].(string)
	if !ok {
		t.Fatal("$id is not a string")
	}
	if _, err := unwrapURL(id); err != nil {
		t.Errorf("$id %q is not a wrapped vjson:/// URL: %v", id, err)
	}
}
