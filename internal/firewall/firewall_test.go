package firewall

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestBlocksAfterThreshold(t *testing.T) {
	fw := New(3, zerolog.Nop())

	for i := 0; i < 2; i++ {
		fw.RecordFailedAuth("10.0.0.1")
	}
	if !fw.IsAllowed("10.0.0.1") {
		t.Fatal("blocked below threshold")
	}
	fw.RecordFailedAuth("10.0.0.1")
	if fw.IsAllowed("10.0.0.1") {
		t.Fatal("not blocked at threshold")
	}
	if fw.IsAllowed("10.0.0.2") != true {
		t.Fatal("unrelated ip blocked")
	}
	if got := fw.Blocked(); len(got) != 1 || got[0] != "10.0.0.1" {
		t.Fatalf("blocked list = %v", got)
	}
}

func TestSuccessResetsCounter(t *testing.T) {
	fw := New(3, zerolog.Nop())

	fw.RecordFailedAuth("10.0.0.1")
	fw.RecordFailedAuth("10.0.0.1")
	fw.RecordSuccess("10.0.0.1")
	fw.RecordFailedAuth("10.0.0.1")
	if !fw.IsAllowed("10.0.0.1") {
		t.Fatal("counter not reset by successful login")
	}
}
