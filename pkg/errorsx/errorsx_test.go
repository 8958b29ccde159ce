package errorsx

import "testing"

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonSTTConnect)
	if Reason(err) != ReasonSTTConnect {
		t.Fatalf("expected reason %s, got %s", ReasonSTTConnect, Reason(err))
	}
	if !HasReason(err, ReasonSTTConnect) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonDemuxDecode)
	second := Wrap(first, ReasonSTTConnect)
	if Reason(second) != ReasonDemuxDecode {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
