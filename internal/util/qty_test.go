package util

import "testing"

func TestParseQty(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  float64
	}{
		{name: "thousand with space", input: "Cabo 1 000 m", want: 1000},
		{name: "decimal comma", input: "Fio 1,5 kg", want: 1.5},
		{name: "decimal dot", input: "Fio 1.5 kg", want: 1.5},
		{name: "thousand dot", input: "Parafuso 1.000 un", want: 1000},
		{name: "br decimal", input: "1.234,56", want: 1234.56},
		{name: "en decimal", input: "1,234.56", want: 1234.56},
		{name: "dimension and qty", input: "Cabo flexível 2,5mm 100 m", want: 100},
		{name: "bare number", input: "12", want: 12},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			parsed := ParseQty(tc.input)
			if parsed.Qty == nil {
				t.Fatalf("qty is nil")
			}
			if *parsed.Qty != tc.want {
				t.Fatalf("got %v want %v", *parsed.Qty, tc.want)
			}
		})
	}
}

func TestParseQtyUnit(t *testing.T) {
	cases := map[string]string{
		"12 CX":     "CX",
		"3 caixas":  "CX",
		"100m":      "M",
		"5 peças":   "PC",
		"2 un.":     "UN",
		"1 galão":   "GL",
		"500 ml fr": "ML",
	}
	for input, want := range cases {
		parsed := ParseQty(input)
		if parsed.Unit == nil || *parsed.Unit != want {
			t.Fatalf("%q: unit=%v want %s", input, parsed.Unit, want)
		}
	}
}

func TestParseQtyEmpty(t *testing.T) {
	parsed := ParseQty("sem quantidade")
	if parsed.Qty != nil || parsed.QtyRaw != nil {
		t.Fatalf("unexpected qty: %+v", parsed)
	}
}
