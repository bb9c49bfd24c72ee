package langdetect

import "testing"

func TestDetector_ShortTextRejected(t *testing.T) {
	d := New()

	for _, text := range []string{"", "  ", "ok", "a\n"} {
		if code, ok := d.Detect(text); ok {
			t.Errorf("Detect(%q) = %q, want no detection for short text", text, code)
		}
	}
}

func TestDetector_Detect(t *testing.T) {
	d := New()

	tests := []struct {
		text string
		want string
	}{
		{"Could you check the status of my order, please?", "en"},
		{"Guten Tag, ich habe eine Frage zu meiner Bestellung.", "de"},
		{"Bonjour, pouvez-vous vérifier ma commande s'il vous plaît?", "fr"},
	}

	for _, tt := range tests {
		code, ok := d.Detect(tt.text)
		if !ok {
			t.Errorf("Detect(%q) found no language", tt.text)
			continue
		}
		if code != tt.want {
			t.Errorf("Detect(%q) = %q, want %q", tt.text, code, tt.want)
		}
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"en", "English"},
		{"de", "German"},
		{"zz-not-a-tag!", "zz-not-a-tag!"},
	}

	for _, tt := range tests {
		if got := DisplayName(tt.code); got != tt.want {
			t.Errorf("DisplayName(%q) = %q, want %q", tt.code, got, tt.want)
		}
	}
}
