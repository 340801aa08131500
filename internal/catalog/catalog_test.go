package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"catmatch/internal"
	"catmatch/internal/apperr"
	"catmatch/internal/config"
	"catmatch/internal/logger"
	"catmatch/internal/storage"
)

func sp(v string) *string { return &v }

func fixtureEntries() []internal.CatalogEntry {
	return []internal.CatalogEntry{
		{ID: "e1", Code: "MAT-001", Name: "Parafuso sextavado M8 x 40", Unit: sp("UN"), Active: true, CategoryID: "fix"},
		{ID: "e2", Code: "MAT-002", Name: "Parafuso sextavado M10 x 50", Unit: sp("UN"), Active: true, CategoryID: "fix"},
		{ID: "e3", Code: "MAT-003", Name: "Porca sextavada M8", Active: true, CategoryID: "fix", Keywords: []string{"rosca"}},
		{ID: "e4", Code: "MAT-004", Name: "Parafuso sextavado M8 x 40 galvanizado", Active: false, CategoryID: "fix"},
		{ID: "e5", Code: "MAT-005", Name: "Luva de raspa", Active: true, CategoryID: "epi"},
	}
}

func TestIndexSearchRanksAndFilters(t *testing.T) {
	idx := BuildIndex(fixtureEntries())

	hits := idx.Search("parafuso sextavado m8", "", 10)
	if len(hits) == 0 || hits[0].Entry.ID != "e1" {
		t.Fatalf("hits=%+v", hits)
	}
	for _, h := range hits {
		if h.Entry.ID == "e4" {
			t.Fatalf("inactive entry returned")
		}
	}

	byCode := idx.Search("mat-005", "", 10)
	if len(byCode) == 0 || byCode[0].Entry.ID != "e5" || byCode[0].Score != 100 {
		t.Fatalf("code hit=%+v", byCode)
	}

	filtered := idx.Search("sextavad", "epi", 10)
	if len(filtered) != 0 {
		t.Fatalf("category filter ignored: %+v", filtered)
	}

	keyword := idx.Search("rosca", "", 10)
	if len(keyword) != 1 || keyword[0].Entry.ID != "e3" {
		t.Fatalf("keyword hit=%+v", keyword)
	}
}

func TestIndexSearchIsDeterministic(t *testing.T) {
	entries := fixtureEntries()
	first := BuildIndex(entries).Search("parafuso", "", 10)
	reversed := make([]internal.CatalogEntry, len(entries))
	for i := range entries {
		reversed[len(entries)-1-i] = entries[i]
	}
	second := BuildIndex(reversed).Search("parafuso", "", 10)
	if len(first) != len(second) {
		t.Fatalf("len %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Entry.ID != second[i].Entry.ID {
			t.Fatalf("order differs at %d: %s vs %s", i, first[i].Entry.ID, second[i].Entry.ID)
		}
	}
}

func newTestService(t *testing.T, entries []internal.CatalogEntry) (*Service, *storage.DB) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	for _, cat := range []string{"fix", "epi"} {
		if _, err := db.UpsertCategory(ctx, internal.Category{ID: cat, Code: cat, Name: cat}); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.UpsertEntries(ctx, entries); err != nil {
		t.Fatal(err)
	}
	cfg, _ := config.Load()
	cfg.SearchDefaultLimit = 50
	cfg.SearchMaxLimit = 100
	return NewService(db, cfg, logger.NewNop()), db
}

func TestServiceSearchLimits(t *testing.T) {
	entries := make([]internal.CatalogEntry, 0, 150)
	for i := 0; i < 150; i++ {
		entries = append(entries, internal.CatalogEntry{
			ID: fmt.Sprintf("id-%03d", i), Code: fmt.Sprintf("CABO-%03d", i),
			Name: fmt.Sprintf("Cabo flexivel %d mm", i), Active: true, CategoryID: "fix",
		})
	}
	svc, _ := newTestService(t, entries)
	ctx := context.Background()

	cases := []struct {
		limit int
		want  int
	}{
		{limit: 0, want: 50},
		{limit: -3, want: 50},
		{limit: 10, want: 10},
		{limit: 500, want: 100},
	}
	for _, tc := range cases {
		got, err := svc.Search(ctx, "cabo", "", tc.limit)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != tc.want {
			t.Fatalf("limit=%d: got %d want %d", tc.limit, len(got), tc.want)
		}
	}

	if _, err := svc.Search(ctx, "  ", "", 10); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("err=%v", err)
	}
}

func TestServiceLookups(t *testing.T) {
	svc, _ := newTestService(t, fixtureEntries())
	ctx := context.Background()

	e, err := svc.GetByCode(ctx, " MAT-003 ")
	if err != nil {
		t.Fatal(err)
	}
	if e.ID != "e3" {
		t.Fatalf("entry=%+v", e)
	}
	if _, err := svc.GetByID(ctx, "nope"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("err=%v", err)
	}
	cats, err := svc.ListCategories(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(cats) != 2 || cats[0].Code != "epi" {
		t.Fatalf("categories=%+v", cats)
	}
}

func TestImporterUpsertsByCode(t *testing.T) {
	db, err := storage.Open(filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	ctx := context.Background()
	im := NewImporter(db, logger.NewNop())

	csv := "Código;Descrição;Unidade;Categoria;Subcategoria;Ativo;Palavras-chave\n" +
		"HID-1;Registro de gaveta 3/4;UN;Hidráulica;Registros;sim;registro, gaveta\n" +
		"HID-2;Joelho PVC 25mm;PC;Hidráulica;;não;\n" +
		";sem código;UN;;;;\n"
	res, err := im.Import(ctx, []byte(csv), "catalogo.csv", "text/csv")
	if err != nil {
		t.Fatal(err)
	}
	if res.Entries != 2 || res.Skipped != 1 || res.Categories != 1 || res.Subcategories != 1 {
		t.Fatalf("result=%+v", res)
	}

	first, err := db.GetEntryByCode(ctx, "HID-1")
	if err != nil {
		t.Fatal(err)
	}
	if first.SubcategoryID == nil || len(first.Keywords) != 2 || !first.Active {
		t.Fatalf("entry=%+v", first)
	}
	second, err := db.GetEntryByCode(ctx, "HID-2")
	if err != nil {
		t.Fatal(err)
	}
	if second.Active {
		t.Fatalf("HID-2 should be inactive")
	}
	if at, err := db.GetMetadata(ctx, ImportedAtKey); err != nil || at == nil {
		t.Fatalf("imported_at=%v err=%v", at, err)
	}

	if _, err := im.Import(ctx, []byte(csv), "catalogo.csv", "text/csv"); err != nil {
		t.Fatal(err)
	}
	again, err := db.GetEntryByCode(ctx, "HID-1")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != first.ID {
		t.Fatalf("re-import changed id %s -> %s", first.ID, again.ID)
	}
}

func TestImporterNeedsCodeAndName(t *testing.T) {
	db, err := storage.Open(filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	im := NewImporter(db, logger.NewNop())
	_, err = im.Import(context.Background(), []byte("foo,bar\n1,2\n"), "x.csv", "text/csv")
	if !apperr.Is(err, apperr.KindConfiguration) {
		t.Fatalf("err=%v", err)
	}
}

func TestReloadIfChangedFollowsImports(t *testing.T) {
	svc, db := newTestService(t, fixtureEntries())
	ctx := context.Background()
	idx, err := svc.Index(ctx)
	if err != nil {
		t.Fatal(err)
	}
	before := idx.Len()

	if changed, err := svc.ReloadIfChanged(ctx); err != nil || changed {
		t.Fatalf("no import yet: changed=%v err=%v", changed, err)
	}

	im := NewImporter(db, logger.NewNop())
	if _, err := im.Import(ctx, []byte("Código;Descrição\nNEW-1;Abraçadeira nylon\n"), "catalogo.csv", "text/csv"); err != nil {
		t.Fatal(err)
	}
	changed, err := svc.ReloadIfChanged(ctx)
	if err != nil || !changed {
		t.Fatalf("after import: changed=%v err=%v", changed, err)
	}
	idx, err = svc.Index(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if idx.Len() != before+1 {
		t.Fatalf("index len=%d want %d", idx.Len(), before+1)
	}
	if changed, err := svc.ReloadIfChanged(ctx); err != nil || changed {
		t.Fatalf("second check: changed=%v err=%v", changed, err)
	}
}
