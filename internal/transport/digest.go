package transport

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// RFC2617 digest response computation for registration challenges.

type digestChallenge struct {
	Realm     string
	Nonce     string
	Opaque    string
	QOP       string
	Algorithm string
}

var digestParamRe = regexp.MustCompile(`(\w+)=("([^"]*)"|([^\s,]+))`)

// parseDigestChallenge pulls the parameters out of a WWW-Authenticate
// header value.
func parseDigestChallenge(header string) (digestChallenge, error) {
	value := strings.TrimSpace(header)
	if !strings.HasPrefix(strings.ToLower(value), "digest") {
		return digestChallenge{}, fmt.Errorf("not a digest challenge: %q", header)
	}
	value = value[len("digest"):]

	ch := digestChallenge{Algorithm: "MD5"}
	for _, m := range digestParamRe.FindAllStringSubmatch(value, -1) {
		key := strings.ToLower(m[1])
		val := m[3]
		if val == "" {
			val = m[4]
		}
		switch key {
		case "realm":
			ch.Realm = val
		case "nonce":
			ch.Nonce = val
		case "opaque":
			ch.Opaque = val
		case "qop":
			// server may offer "auth,auth-int"; we only do auth
			for _, q := range strings.Split(val, ",") {
				if strings.TrimSpace(q) == "auth" {
					ch.QOP = "auth"
				}
			}
		case "algorithm":
			ch.Algorithm = val
		}
	}
	if ch.Nonce == "" {
		return digestChallenge{}, fmt.Errorf("challenge missing nonce: %q", header)
	}
	return ch, nil
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// digestResponse computes the response value per RFC2617 section 3.2.2.
func digestResponse(username, password, method, uri string, ch digestChallenge, nc, cnonce string) string {
	ha1 := md5Hex(fmt.Sprintf("%s:%s:%s", username, ch.Realm, password))
	ha2 := md5Hex(fmt.Sprintf("%s:%s", method, uri))
	if ch.QOP == "auth" {
		return md5Hex(fmt.Sprintf("%s:%s:%s:%s:%s:%s", ha1, ch.Nonce, nc, cnonce, ch.QOP, ha2))
	}
	return md5Hex(fmt.Sprintf("%s:%s:%s", ha1, ch.Nonce, ha2))
}

// buildAuthorization renders the Authorization header value for a
// challenged request.
func buildAuthorization(username, password, method, uri string, ch digestChallenge) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, `Digest username="%s", realm="%s", nonce="%s", uri="%s"`,
		username, ch.Realm, ch.Nonce, uri)

	if ch.QOP == "auth" {
		cnonce, err := newCNonce()
		if err != nil {
			return "", err
		}
		const nc = "00000001"
		response := digestResponse(username, password, method, uri, ch, nc, cnonce)
		fmt.Fprintf(&b, `, qop=auth, nc=%s, cnonce="%s", response="%s"`, nc, cnonce, response)
	} else {
		response := digestResponse(username, password, method, uri, ch, "", "")
		fmt.Fprintf(&b, `, response="%s"`, response)
	}

	if ch.Opaque != "" {
		fmt.Fprintf(&b, `, opaque="%s"`, ch.Opaque)
	}
	b.WriteString(", algorithm=MD5")
	return b.String(), nil
}

func newCNonce() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate cnonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
