package transport

import (
	"strings"
	"testing"
)

// Vector from RFC2617 section 3.5.
func TestDigestResponseRFCVector(t *testing.T) {
	ch := digestChallenge{
		Realm: "testrealm@host.com",
		Nonce: "dcd98b7102dd2f0e8b11d0f600bfb0c093",
		QOP:   "auth",
	}
	got := digestResponse("Mufasa", "Circle Of Life", "GET", "/dir/index.html", ch, "00000001", "0a4f113b")
	want := "6629fae49393a05397450978507c4ef1"
	if got != want {
		t.Errorf("digestResponse() = %s, want %s", got, want)
	}
}

func TestDigestResponseNoQOP(t *testing.T) {
	ch := digestChallenge{Realm: "sip.flexpbx.net", Nonce: "abc123"}
	got := digestResponse("alice", "secret", "REGISTER", "sip:sip.flexpbx.net", ch, "", "")
	if len(got) != 32 {
		t.Errorf("digestResponse() length = %d, want 32 hex chars", len(got))
	}
}

func TestParseDigestChallenge(t *testing.T) {
	header := `Digest realm="sip.flexpbx.net", nonce="dcd98b71", opaque="5ccc069c", algorithm=MD5, qop="auth,auth-int"`
	ch, err := parseDigestChallenge(header)
	if err != nil {
		t.Fatalf("parseDigestChallenge() error = %v", err)
	}
	if ch.Realm != "sip.flexpbx.net" {
		t.Errorf("realm = %q", ch.Realm)
	}
	if ch.Nonce != "dcd98b71" {
		t.Errorf("nonce = %q", ch.Nonce)
	}
	if ch.Opaque != "5ccc069c" {
		t.Errorf("opaque = %q", ch.Opaque)
	}
	if ch.QOP != "auth" {
		t.Errorf("qop = %q, want auth", ch.QOP)
	}
}

func TestParseDigestChallengeRejectsBasic(t *testing.T) {
	if _, err := parseDigestChallenge(`Basic realm="x"`); err == nil {
		t.Error("parseDigestChallenge() accepted a basic challenge")
	}
	if _, err := parseDigestChallenge(`Digest realm="x"`); err == nil {
		t.Error("parseDigestChallenge() accepted a challenge without nonce")
	}
}

func TestBuildAuthorization(t *testing.T) {
	ch := digestChallenge{Realm: "r", Nonce: "n", QOP: "auth", Opaque: "op"}
	val, err := buildAuthorization("alice", "secret", "REGISTER", "sip:r", ch)
	if err != nil {
		t.Fatalf("buildAuthorization() error = %v", err)
	}
	for _, part := range []string{`username="alice"`, `realm="r"`, `nonce="n"`, `qop=auth`, `opaque="op"`, `response="`} {
		if !strings.Contains(val, part) {
			t.Errorf("buildAuthorization() missing %s in %q", part, val)
		}
	}
}
