package commit

import "testing"

func TestSubsetsDiverge(t *testing.T) {
	full := Full("iss", "sub", "engineer", 500, "2024-01-01T00:00:00Z", 0)
	role := Role("iss", "sub", "engineer", "2024-01-01T00:00:00Z", 0)
	attr := Attribute("iss", "sub", 500, "2024-01-01T00:00:00Z", 0)
	thr := AboveThreshold("iss", "sub", true, "2024-01-01T00:00:00Z", 0)
	hashes := map[string]string{"full": full, "role": role, "attribute": attr, "threshold": thr}
	seen := map[string]string{}
	for kind, h := range hashes {
		if other, dup := seen[h]; dup {
			t.Fatalf("%s and %s commitments collide", kind, other)
		}
		seen[h] = kind
	}
}

func TestRoleIgnoresAttribute(t *testing.T) {
	a := Role("iss", "sub", "engineer", "2024-01-01T00:00:00Z", 3)
	b := Role("iss", "sub", "engineer", "2024-01-01T00:00:00Z", 3)
	if a != b {
		t.Fatalf("role commitment not deterministic")
	}
	if Role("iss", "sub", "auditor", "2024-01-01T00:00:00Z", 3) == a {
		t.Fatalf("role change must change the commitment")
	}
}

func TestSequenceNoncesSameSecondIssuances(t *testing.T) {
	ts := "2024-01-01T00:00:00Z"
	if Full("iss", "sub", "engineer", 500, ts, 0) == Full("iss", "sub", "engineer", 500, ts, 1) {
		t.Fatalf("same-second issuances must not collide")
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	h := Metadata("Ada Lovelace", "ada@example.org")
	if h != Metadata("Ada Lovelace", "ada@example.org") {
		t.Fatalf("metadata commitment not deterministic")
	}
	if h == Metadata("Ada Lovelace", "ada@example.com") {
		t.Fatalf("email change must change the commitment")
	}
}
