package signer

import (
	"strings"
	"testing"
)

func TestSignDeterministic(t *testing.T) {
	s := New(SHA256)
	a := s.Sign("POST", "/replicast/v1/posts", 1750000000, "key", "secret")
	b := s.Sign("POST", "/replicast/v1/posts", 1750000000, "key", "secret")
	if a != b {
		t.Errorf("same inputs produced different signatures: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("sha256 signature length = %d, want 64 hex chars", len(a))
	}
}

func TestSignSensitiveToEveryInput(t *testing.T) {
	s := New(SHA256)
	base := s.Sign("POST", "/replicast/v1/posts", 1750000000, "key", "secret")

	variants := map[string]string{
		"method":    s.Sign("DELETE", "/replicast/v1/posts", 1750000000, "key", "secret"),
		"uri":       s.Sign("POST", "/replicast/v1/pages", 1750000000, "key", "secret"),
		"timestamp": s.Sign("POST", "/replicast/v1/posts", 1750000001, "key", "secret"),
		"key":       s.Sign("POST", "/replicast/v1/posts", 1750000000, "other", "secret"),
		"secret":    s.Sign("POST", "/replicast/v1/posts", 1750000000, "key", "other"),
	}
	for input, sig := range variants {
		if sig == base {
			t.Errorf("changing %s did not change the signature", input)
		}
	}
}

func TestSignWithIPDiffers(t *testing.T) {
	s := New(SHA256)
	without := s.Sign("POST", "/p", 1, "k", "s")
	with := s.SignWithIP("POST", "/p", 1, "203.0.113.7", "k", "s")
	if without == with {
		t.Error("ip-bound signature equals unbound signature")
	}
}

func TestAlgorithms(t *testing.T) {
	sha256sig := New(SHA256).Sign("GET", "/x", 1, "k", "s")
	sha1sig := New(SHA1).Sign("GET", "/x", 1, "k", "s")
	if sha256sig == sha1sig {
		t.Error("sha1 and sha256 produced the same digest")
	}
	if len(sha1sig) != 40 {
		t.Errorf("sha1 signature length = %d, want 40 hex chars", len(sha1sig))
	}
	// Unknown algorithms fall back to sha256.
	if got := New("md5").Sign("GET", "/x", 1, "k", "s"); got != sha256sig {
		t.Error("unknown algorithm did not fall back to sha256")
	}
}

func TestBuildQuery(t *testing.T) {
	uri := BuildQuery("/replicast/v1/posts/9", []Param{
		{Key: "force", Value: "true"},
		{Key: "note", Value: "a b/c"},
	})
	if !strings.HasPrefix(uri, "/replicast/v1/posts/9?") {
		t.Fatalf("uri = %q", uri)
	}
	if uri != "/replicast/v1/posts/9?force=true&note=a%20b%2Fc" {
		t.Errorf("uri = %q, want percent-encoded params in insertion order", uri)
	}
}

func TestBuildQueryNoParams(t *testing.T) {
	if got := BuildQuery("/posts", nil); got != "/posts" {
		t.Errorf("got %q, want unchanged uri", got)
	}
}
