package status

import "testing"

func TestNormalizeSynonyms(t *testing.T) {
	cases := map[string]string{
		"Confirmé":     "confirmer",
		"confirme":     "confirmer",
		"CONFIRMED":    "confirmer",
		"Confirmé-AG":  "confirmer",
		"Livré":        "livre",
		"delivered":    "livre",
		"livre":        "livre",
		"Annulé":       "annuler",
		"cancelled":    "annuler",
		"canceled":     "annuler",
		"Reporter":     "reporter",
		"Reporté-AG":   "reporter",
		"postponed":    "reporter",
		"En Attente":   "attente",
		"pending":      "attente",
		"Packaging-AG": "packaging",
		"":             "",
		"   ":          "",
		"Custom Stage": "custom stage",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"Confirmé-AG", "Livré", "delivered", "", "weird-stage-name", "Suivi-X1", "à suivre"}
	for _, in := range inputs {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Errorf("Normalize not idempotent for %q: %q -> %q", in, once, twice)
		}
	}
}

func TestNormalizeKeepsLongHyphenations(t *testing.T) {
	// A trailing segment longer than three runes is not a pipeline tag.
	if got := Normalize("follow-through"); got != "follow-through" {
		t.Errorf("Normalize(follow-through) = %q", got)
	}
}

func TestCanonicalOf(t *testing.T) {
	cases := map[string]Status{
		"Confirmé-AG": Confirmed,
		"Livré":       Delivered,
		"Reporter":    Postponed,
		"En attente":  Pending,
		"Annulé":      Cancelled,
		"shipped":     Shipped,
		"retour":      Returned,
		"mystery":     Unknown,
		"":            Unknown,
	}
	for in, want := range cases {
		if got := CanonicalOf(in); got != want {
			t.Errorf("CanonicalOf(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMatch(t *testing.T) {
	if !Match("Confirmé-AG", "Confirmé") {
		t.Error("suffixed stage should match its base spelling")
	}
	if !Match("livre", "Livré") {
		t.Error("accent variants should match")
	}
	if Match("Confirmé", "Livré") {
		t.Error("distinct stages must not match")
	}
}
