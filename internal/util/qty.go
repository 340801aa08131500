package util

import (
	"regexp"
	"strconv"
	"strings"
)

const unitAlternation = `unidades|unidade|unid|und|un|pçs|pç|pcs|pc|peças|peça|caixas|caixa|cx|pacotes|pacote|pct|rolos|rolo|rl|metros|metro|mt|m|kg|quilos|g|litros|litro|lt|l|ml|pares|par|jogos|jogo|jg|galões|galão|gl|resmas|resma|frascos|frasco|fr`

var (
	unitPattern     = regexp.MustCompile(`(?i)(?:^|[\s\d])(` + unitAlternation + `)\.?(?:$|[\s;,|])`)
	numberPattern   = regexp.MustCompile(`(?:^|[^0-9.,])(\d{1,3}(?:[\s.,]\d{3})+(?:[.,]\d+)?|\d+(?:[.,]\d+)?)`)
	withUnitPattern = regexp.MustCompile(`(?i)(?:^|[^0-9.,])(\d{1,3}(?:[\s.,]\d{3})+(?:[.,]\d+)?|\d+(?:[.,]\d+)?)\s*(` + unitAlternation + `)\.?(?:$|[\s;,|])`)
	reThousandsDot  = regexp.MustCompile(`^\d{1,3}(?:\.\d{3})+$`)
	reThousandsComm = regexp.MustCompile(`^\d{1,3}(?:,\d{3})+$`)
	reBRDecimal     = regexp.MustCompile(`^\d{1,3}(?:\.\d{3})+,\d+$`)
	reENDecimal     = regexp.MustCompile(`^\d{1,3}(?:,\d{3})+\.\d+$`)
)

type ParsedQty struct {
	Qty    *float64
	Unit   *string
	QtyRaw *string
}

// ParseQty pulls the last quantity (and unit, if any) out of a free-text cell.
// Both "1.000,50" and "1,000.50" are understood.
func ParseQty(input string) ParsedQty {
	line := strings.ReplaceAll(input, "\u00A0", " ")

	qtyRaw := ""
	qtyToken := ""
	unit := ""

	if wm := withUnitPattern.FindAllStringSubmatch(line, -1); len(wm) > 0 {
		last := wm[len(wm)-1]
		qtyRaw = strings.TrimSpace(last[1] + " " + last[2])
		qtyToken = strings.TrimSpace(last[1])
		unit = last[2]
	} else if nm := numberPattern.FindAllStringSubmatch(line, -1); len(nm) > 0 {
		last := nm[len(nm)-1]
		qtyRaw = strings.TrimSpace(last[1])
		qtyToken = strings.TrimSpace(last[1])
	}

	var qtyPtr *float64
	if qtyToken != "" {
		if parsed, err := strconv.ParseFloat(normalizeNumericToken(qtyToken), 64); err == nil {
			qtyPtr = FloatPtr(parsed)
		}
	}

	if unit == "" {
		if um := unitPattern.FindStringSubmatch(line + " "); len(um) > 1 {
			unit = um[1]
		}
	}
	var unitPtr *string
	if unit != "" {
		unitPtr = StringPtr(normalizeUnit(unit))
	}

	var qtyRawPtr *string
	if qtyRaw != "" {
		qtyRawPtr = &qtyRaw
	}

	return ParsedQty{Qty: qtyPtr, Unit: unitPtr, QtyRaw: qtyRawPtr}
}

func normalizeUnit(unit string) string {
	u := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(unit), "."))
	switch u {
	case "un", "und", "unid", "unidade", "unidades":
		return "UN"
	case "pç", "pçs", "pc", "pcs", "peça", "peças":
		return "PC"
	case "cx", "caixa", "caixas":
		return "CX"
	case "pct", "pacote", "pacotes":
		return "PCT"
	case "rl", "rolo", "rolos":
		return "RL"
	case "m", "mt", "metro", "metros":
		return "M"
	case "kg", "quilos":
		return "KG"
	case "l", "lt", "litro", "litros":
		return "L"
	case "par", "pares":
		return "PAR"
	case "jg", "jogo", "jogos":
		return "JG"
	case "gl", "galão", "galões":
		return "GL"
	case "fr", "frasco", "frascos":
		return "FR"
	case "resma", "resmas":
		return "RESMA"
	default:
		return strings.ToUpper(u)
	}
}

func normalizeNumericToken(token string) string {
	compact := strings.ReplaceAll(token, " ", "")
	switch {
	case reBRDecimal.MatchString(compact):
		compact = strings.ReplaceAll(compact, ".", "")
		return strings.ReplaceAll(compact, ",", ".")
	case reENDecimal.MatchString(compact):
		return strings.ReplaceAll(compact, ",", "")
	case reThousandsDot.MatchString(compact):
		return strings.ReplaceAll(compact, ".", "")
	case reThousandsComm.MatchString(compact):
		return strings.ReplaceAll(compact, ",", "")
	case strings.Contains(compact, ",") && !strings.Contains(compact, "."):
		return strings.ReplaceAll(compact, ",", ".")
	}
	return compact
}
