package notify

import "testing"

func TestFingerprintStability(t *testing.T) {
	t.Parallel()
	a := fingerprint(PointsPayload{Amount: 5, Total: 10, Source: "quiz"})
	b := fingerprint(PointsPayload{Amount: 5, Total: 99, Source: "quiz"})
	if a != b {
		t.Fatal("running total must not affect the fingerprint")
	}

	c := fingerprint(PointsPayload{Amount: 6, Total: 10, Source: "quiz"})
	if a == c {
		t.Fatal("different amounts must produce different fingerprints")
	}
}

func TestFingerprintDistinguishesKinds(t *testing.T) {
	t.Parallel()
	h := fingerprint(HintPayload{Text: "x"})
	e := fingerprint(ErrorPayload{Text: "x"})
	if h == e {
		t.Fatal("same text under different kinds must not collide")
	}
}

func TestDedupStoreKey(t *testing.T) {
	t.Parallel()
	k := dedupStoreKey(42, "abc")
	if k != "42:abc" {
		t.Fatalf("dedupStoreKey = %q", k)
	}
}
