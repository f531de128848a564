package scpserver

import "testing"

func TestHubRegisterLookupUnregister(t *testing.T) {
	h := NewHub(10)
	sender := &fakeSender{}

	sess, err := h.Connect("alice", sender)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.State != Idle {
		t.Fatalf("expected newly connected session in IDLE, got %s", sess.State)
	}

	got, ok := h.Lookup("alice")
	if !ok || got != sess {
		t.Fatalf("expected to find registered session")
	}

	h.Unregister("alice")
	if _, ok := h.Lookup("alice"); ok {
		t.Fatal("expected session to be gone after Unregister")
	}
	// Idempotent.
	h.Unregister("alice")
}

func TestHubConnectUniqueNames(t *testing.T) {
	h := NewHub(10)
	h.Connect("alice", &fakeSender{})

	if _, err := h.Connect("alice", &fakeSender{}); err != ErrUserExists {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestHubConnectRespectsMaxClients(t *testing.T) {
	h := NewHub(2)
	h.Connect("alice", &fakeSender{})
	h.Connect("bob", &fakeSender{})

	if _, err := h.Connect("carol", &fakeSender{}); err != ErrServerFull {
		t.Fatalf("expected ErrServerFull, got %v", err)
	}
	if h.Size() != 2 {
		t.Fatalf("expected size 2, got %d", h.Size())
	}
}

func TestHubPairAndUnpair(t *testing.T) {
	h := NewHub(10)
	h.pair("alice", "bob")
	if h.PairCount() != 1 {
		t.Fatalf("expected 1 pair, got %d", h.PairCount())
	}

	peer, ok := h.unpair("alice")
	if !ok || peer != "bob" {
		t.Fatalf("expected unpair to return bob, got %q, %v", peer, ok)
	}
	if h.PairCount() != 0 {
		t.Fatalf("expected 0 pairs after unpair, got %d", h.PairCount())
	}
	if _, ok := h.unpair("bob"); ok {
		t.Fatal("expected bob's pairing to also be gone")
	}
}
