package webplusuri

import "testing"

const exampleHash = "EInjxkkcGoLXWLYMFu0SDeJb7m7U7b8_Hw4lgboJv7sA"

func TestParseFormatRoundTrip(t *testing.T) {
	cases := []string{
		"did:webplus:localhost%3A8085:" + exampleHash,
		"did:webplus:example.com:" + exampleHash,
		"did:webplus:example.com:users:alice:" + exampleHash,
	}
	for _, s := range cases {
		did, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q): %v", s, err)
		}
		if got := did.String(); got != s {
			t.Errorf("round trip mismatch: parse(%q).String() = %q", s, got)
		}
	}
}

func TestParseRejectsMissingPrefix(t *testing.T) {
	if _, err := Parse("did:web:example.com:" + exampleHash); err == nil {
		t.Error("expected error for wrong method prefix")
	}
}

func TestParseRejectsEmptyPathComponent(t *testing.T) {
	if _, err := Parse("did:webplus:example.com::" + exampleHash); err == nil {
		t.Error("expected error for empty path component (double ':')")
	}
}

func TestParseRejectsSlashInHost(t *testing.T) {
	if _, err := Parse("did:webplus:example.com/foo:" + exampleHash); err == nil {
		t.Error("expected error for '/' in host")
	}
}

func TestHostPortSplitsPercentEncodedColon(t *testing.T) {
	did, err := Parse("did:webplus:localhost%3A8085:" + exampleHash)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	host, port := did.HostPort()
	if host != "localhost" || port != "8085" {
		t.Errorf("HostPort() = (%q, %q), want (localhost, 8085)", host, port)
	}
}

func TestParseQueryBothParams(t *testing.T) {
	s := "did:webplus:example.com:" + exampleHash + "?selfHash=" + exampleHash + "&versionId=3"
	q, err := ParseQuery(s)
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}
	if !q.FullyQualified() {
		t.Error("expected FullyQualified() == true")
	}
	sh, _ := q.SelfHash()
	vid, _ := q.VersionID()
	if sh != exampleHash || vid != 3 {
		t.Errorf("got selfHash=%q versionId=%d", sh, vid)
	}
	if got := q.String(); got != s {
		t.Errorf("round trip: got %q want %q", got, s)
	}
}

func TestParseQueryRejectsDuplicateParam(t *testing.T) {
	s := "did:webplus:example.com:" + exampleHash + "?versionId=1&versionId=2"
	if _, err := ParseQuery(s); err == nil {
		t.Error("expected error for duplicate query parameter")
	}
}

func TestParseQueryRejectsUnknownParam(t *testing.T) {
	s := "did:webplus:example.com:" + exampleHash + "?foo=bar"
	if _, err := ParseQuery(s); err == nil {
		t.Error("expected error for unknown query parameter")
	}
}

func TestParseKeyResource(t *testing.T) {
	s := "did:webplus:example.com:" + exampleHash + "?versionId=0#key-1"
	kr, err := ParseKeyResource(s)
	if err != nil {
		t.Fatalf("ParseKeyResource: %v", err)
	}
	if kr.Fragment() != "key-1" {
		t.Errorf("Fragment() = %q", kr.Fragment())
	}
	if got := kr.String(); got != s {
		t.Errorf("round trip: got %q want %q", got, s)
	}
}

func TestParseKeyResourceRejectsEmptyFragment(t *testing.T) {
	s := "did:webplus:example.com:" + exampleHash + "#"
	if _, err := ParseKeyResource(s); err == nil {
		t.Error("expected error for empty fragment")
	}
}

func TestWithRootSelfHashPreservesLength(t *testing.T) {
	did, err := Parse("did:webplus:example.com:" + exampleHash)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	replacement := exampleHash // same length
	updated, err := did.WithRootSelfHash(replacement)
	if err != nil {
		t.Fatalf("WithRootSelfHash: %v", err)
	}
	if updated.RootSelfHash() != replacement {
		t.Errorf("got %q", updated.RootSelfHash())
	}

	if _, err := did.WithRootSelfHash("tooShort"); err == nil {
		t.Error("expected error for mismatched-length replacement")
	}
}

func TestEmptyPathIsValid(t *testing.T) {
	did, err := Parse("did:webplus:example.com:" + exampleHash)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(did.Path()) != 0 {
		t.Errorf("expected empty path, got %v", did.Path())
	}
}
