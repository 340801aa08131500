package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"catmatch/internal"
	"catmatch/internal/apperr"
	"catmatch/internal/logger"
	"catmatch/internal/sheet"
	"catmatch/internal/util"
)

const defaultCategoryCode = "GERAL"

// ImportedAtKey is the metadata key holding the last import time.
const ImportedAtKey = "catalog.imported_at"

type ImportStore interface {
	UpsertCategory(ctx context.Context, c internal.Category) (string, error)
	UpsertSubcategory(ctx context.Context, s internal.Subcategory) (string, error)
	UpsertEntries(ctx context.Context, entries []internal.CatalogEntry) error
	SetMetadata(ctx context.Context, key, value string) error
}

type ImportResult struct {
	Categories    int
	Subcategories int
	Entries       int
	Skipped       int
}

// Importer seeds reference data from a spreadsheet. Existing rows are matched
// by code and updated in place.
type Importer struct {
	store ImportStore
	log   *logger.Logger
}

func NewImporter(store ImportStore, log *logger.Logger) *Importer {
	return &Importer{store: store, log: log.With("component", "catalog_import")}
}

var importColumns = map[string][]string{
	"code":             {"codigo", "code", "cod"},
	"name":             {"descricao", "nome", "name", "material"},
	"unit":             {"unidade", "unit", "un"},
	"active":           {"ativo", "active"},
	"category_code":    {"categoria_codigo", "category_code", "cod_categoria"},
	"category_name":    {"categoria", "category", "category_name"},
	"subcategory_code": {"subcategoria_codigo", "subcategory_code", "cod_subcategoria"},
	"subcategory_name": {"subcategoria", "subcategory", "subcategory_name"},
	"keywords":         {"palavras_chave", "palavras-chave", "keywords"},
}

func (im *Importer) Import(ctx context.Context, content []byte, filename, mimeType string) (ImportResult, error) {
	format, err := sheet.DetectFormat(mimeType, filename, content)
	if err != nil {
		return ImportResult{}, err
	}
	rows, err := sheet.ReadTable(content, format)
	if err != nil {
		return ImportResult{}, err
	}

	cols := map[string]int{}
	for key, aliases := range importColumns {
		cols[key] = -1
		for _, alias := range aliases {
			if idx := sheet.HeaderIndex(rows[0], alias); idx >= 0 {
				cols[key] = idx
				break
			}
		}
	}
	if cols["code"] < 0 || cols["name"] < 0 {
		return ImportResult{}, apperr.Configuration("import catalog", "catalog file needs code and name columns")
	}

	result := ImportResult{}
	categoryIDs := map[string]string{}
	subcategoryIDs := map[string]string{}
	entries := make([]internal.CatalogEntry, 0, len(rows)-1)

	for _, row := range rows[1:] {
		code := sheet.Cell(row, cols["code"])
		name := sheet.Cell(row, cols["name"])
		if code == "" || name == "" {
			result.Skipped++
			continue
		}

		catCode := strings.ToUpper(sheet.Cell(row, cols["category_code"]))
		catName := sheet.Cell(row, cols["category_name"])
		if catCode == "" {
			catCode = strings.ToUpper(util.NormalizeCode(catName))
		}
		if catCode == "" {
			catCode = defaultCategoryCode
		}
		if catName == "" {
			catName = catCode
		}
		categoryID, ok := categoryIDs[catCode]
		if !ok {
			categoryID, err = im.store.UpsertCategory(ctx, internal.Category{ID: uuid.NewString(), Code: catCode, Name: catName})
			if err != nil {
				return result, err
			}
			categoryIDs[catCode] = categoryID
			result.Categories++
		}

		var subcategoryID *string
		subCode := strings.ToUpper(sheet.Cell(row, cols["subcategory_code"]))
		subName := sheet.Cell(row, cols["subcategory_name"])
		if subCode == "" {
			subCode = strings.ToUpper(util.NormalizeCode(subName))
		}
		if subCode != "" {
			id, ok := subcategoryIDs[subCode]
			if !ok {
				if subName == "" {
					subName = subCode
				}
				id, err = im.store.UpsertSubcategory(ctx, internal.Subcategory{ID: uuid.NewString(), Code: subCode, Name: subName, CategoryID: categoryID})
				if err != nil {
					return result, err
				}
				subcategoryIDs[subCode] = id
				result.Subcategories++
			}
			subcategoryID = &id
		}

		entries = append(entries, internal.CatalogEntry{
			ID:            uuid.NewString(),
			Code:          code,
			Name:          name,
			Unit:          util.OptionalString(sheet.Cell(row, cols["unit"])),
			Active:        parseActive(sheet.Cell(row, cols["active"])),
			CategoryID:    categoryID,
			SubcategoryID: subcategoryID,
			Keywords:      splitKeywords(sheet.Cell(row, cols["keywords"])),
		})
	}

	if err := im.store.UpsertEntries(ctx, entries); err != nil {
		return result, err
	}
	result.Entries = len(entries)
	if err := im.store.SetMetadata(ctx, ImportedAtKey, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return result, err
	}

	im.log.Info("catalog imported", "file", filename, "entries", result.Entries, "categories", result.Categories, "skipped", result.Skipped)
	return result, nil
}

func parseActive(value string) bool {
	switch strings.ToLower(util.FoldAccents(strings.TrimSpace(value))) {
	case "0", "n", "nao", "no", "false", "inativo":
		return false
	default:
		return true
	}
}

func splitKeywords(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.FieldsFunc(value, func(r rune) bool { return r == ';' || r == ',' || r == '|' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
