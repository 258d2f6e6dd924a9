package renderer

import "testing"

func TestLooksLikeChallenge_MatchesKnownTitle(t *testing.T) {
	if !looksLikeChallenge(403, "Just a moment...", "<html></html>") {
		t.Fatal("expected challenge match on title keyword")
	}
}

func TestLooksLikeChallenge_MatchesKnownSelector(t *testing.T) {
	if !looksLikeChallenge(503, "Example", `<div id="challenge-stage"></div>`) {
		t.Fatal("expected challenge match on DOM selector")
	}
}

func TestLooksLikeChallenge_IgnoresNon403Or503(t *testing.T) {
	if looksLikeChallenge(200, "Just a moment...", "<html></html>") {
		t.Fatal("expected no challenge match for 200 status")
	}
}

func TestLooksLikeChallenge_NoMatchOnOrdinaryPage(t *testing.T) {
	if looksLikeChallenge(403, "Forbidden", "<html><body>plain 403 page</body></html>") {
		t.Fatal("expected no false positive on plain 403 page")
	}
}
