package util

import (
	"reflect"
	"testing"
)

func TestNormalizeHeader(t *testing.T) {
	cases := map[string]string{
		"Válvula de esfera 1/2\"": "VALVULA DE ESFERA 1/2",
		"  cabo  flexível 2,5mm ": "CABO FLEXIVEL 2,5MM",
		"Parafuso 6 x 40":         "PARAFUSO 6X40",
		"Tubo PVC Ø 25mm.":        "TUBO PVC O 25MM",
	}
	for input, want := range cases {
		if got := NormalizeHeader(input); got != want {
			t.Fatalf("%q: got %q want %q", input, got, want)
		}
	}
}

func TestTokenizeDropsStopwords(t *testing.T) {
	got := Tokenize("Luva de proteção para solda")
	want := []string{"LUVA", "PROTECAO", "SOLDA"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestNormalizeCode(t *testing.T) {
	if got := NormalizeCode(" mat-00 12 "); got != "MAT-0012" {
		t.Fatalf("got %q", got)
	}
}

func TestDiceCoefficient(t *testing.T) {
	if DiceCoefficient("ABC", "ABC") != 1 {
		t.Fatalf("identical strings must score 1")
	}
	if DiceCoefficient("", "ABC") != 0 {
		t.Fatalf("empty string must score 0")
	}
	if got := DiceCoefficient("NIGHT", "NACHT"); got != 0.25 {
		t.Fatalf("got %v", got)
	}
}
