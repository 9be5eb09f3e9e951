package normalize

import (
	"errors"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"whitespace only", "  \n\t \n ", ""},
		{"empty quoted", `""`, ""},
		{"trims", "  hola  ", "hola"},
		{"joins soft wrapped lines", "Hola\nmundo", "Hola mundo"},
		{"keeps paragraphs", "Hola\n\nmundo", "Hola\n\nmundo"},
		{"collapses blank runs", "a\n\n\n\nb", "a\n\nb"},
		{"crlf", "a\r\n\r\nb", "a\n\nb"},
		{"json quoted payload", `"Hola\n\nmundo"`, "Hola\n\nmundo"},
		{"double encoded payload", `"\"hola\""`, "hola"},
		{"literal escapes", `Paso 1\n\nPaso 2\tlisto`, "Paso 1\n\nPaso 2\tlisto"},
		{"escaped quotes", `dijo \"basta\"`, `dijo "basta"`},
		{"list after paragraph", "Ejercicios:\n1. Sentadillas\n2. Puente", "Ejercicios:\n\n1. Sentadillas\n2. Puente"},
		{"bullet list", "Consejos:\n- hidratarse\n- dormir", "Consejos:\n\n- hidratarse\n- dormir"},
		{"number alone on its line", "1.\nSentadillas", "1. Sentadillas"},
		{"year after soft wrap", "El dolor empezó en\n2023. Desde entonces mejora.", "El dolor empezó en 2023. Desde entonces mejora."},
		{"list item continuation", "- estira\n  despacio", "- estira despacio"},
		{"heading not joined", "# Rutina\nTexto", "# Rutina\nTexto"},
		{"thematic break", "uno\n---\ndos", "uno\n---\ndos"},
		{"fenced code verbatim", "Ejemplo:\n```\nline1\n  line2\n```\nFin", "Ejemplo:\n```\nline1\n  line2\n```\nFin"},
		{"nfc", "e\u0301xito", "\u00e9xito"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCleanReportsMalformedPayload(t *testing.T) {
	got, err := Clean(`"hola \x"`)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if got != `hola \x` {
		t.Errorf("expected quotes stripped, got %q", got)
	}
}

func TestCleanWellFormed(t *testing.T) {
	got, err := Clean(`"bien"`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "bien" {
		t.Errorf("got %q", got)
	}
}

var idempotenceCorpus = []string{
	"",
	"hola",
	`"Hola\n\nmundo"`,
	`"\"hola\""`,
	`"hola \x"`,
	"Ejercicios:\n1.\nSentadillas\n2.\nPuente",
	"texto\n\n\n- a\n- b\n\n\nfin",
	"```\ncode\n\n\n  kept\n```",
	"a\r\nb\rc",
	`\"\"`,
	`"\\n"`,
	"> cita\nsigue",
	"| a | b |\n|---|---|",
}

func TestNormalizeIdempotent(t *testing.T) {
	for _, in := range idempotenceCorpus {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Errorf("Normalize not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func FuzzNormalizeIdempotent(f *testing.F) {
	for _, s := range idempotenceCorpus {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, in string) {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Errorf("Normalize not idempotent for %q: %q then %q", in, once, twice)
		}
	})
}
