package server

import (
	"path/filepath"
	"testing"

	"github.com/chazu/ember/patch"
)

func TestHookRecordsRoundTrip(t *testing.T) {
	db, err := openHooksDB(filepath.Join(t.TempDir(), "hooks.db"))
	if err != nil {
		t.Fatalf("openHooksDB: %v", err)
	}
	defer db.Close()

	records := []patch.HookRecord{
		{
			Module:    "app",
			Sig:       "app.T.f/0",
			Kind:      patch.HookModified,
			PatchPath: "/tmp/app-1.emberpatch",
			Wrapper:   patch.WrapperRef{Module: "app$patch.aaaa", Sig: "app.T$patch.f/1"},
		},
		{
			Module:    "app",
			Sig:       "app.T.g/0",
			Kind:      patch.HookAdded,
			PatchPath: "/tmp/app-2.emberpatch",
			Wrapper:   patch.WrapperRef{Module: "app$patch.bbbb", Sig: "app.T$patch.g/1"},
			History: []patch.WrapperRef{
				{Module: "app$patch.aaaa", Sig: "app.T$patch.g/1"},
				{Module: "app$patch.bbbb", Sig: "app.T$patch.g/1"},
			},
			HistoryPaths: []string{"/tmp/app-1.emberpatch", "/tmp/app-2.emberpatch"},
		},
	}
	if err := saveHookRecords(db, records); err != nil {
		t.Fatalf("saveHookRecords: %v", err)
	}

	loaded, err := loadHookRecords(db)
	if err != nil {
		t.Fatalf("loadHookRecords: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d records, want 2", len(loaded))
	}
	if loaded[0].Sig != "app.T.f/0" || loaded[1].Sig != "app.T.g/0" {
		t.Errorf("order = %s, %s, want sorted by sig", loaded[0].Sig, loaded[1].Sig)
	}
	g := loaded[1]
	if g.Kind != patch.HookAdded || len(g.History) != 2 || len(g.HistoryPaths) != 2 {
		t.Errorf("record = %+v, want full chain preserved", g)
	}
}

func TestHookRecordsUpsert(t *testing.T) {
	db, err := openHooksDB(filepath.Join(t.TempDir(), "hooks.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	rec := patch.HookRecord{Module: "app", Sig: "app.T.f/0", Kind: patch.HookModified,
		Wrapper: patch.WrapperRef{Module: "gen1", Sig: "app.T$patch.f/1"}}
	if err := saveHookRecords(db, []patch.HookRecord{rec}); err != nil {
		t.Fatal(err)
	}
	rec.Wrapper.Module = "gen2"
	if err := saveHookRecords(db, []patch.HookRecord{rec}); err != nil {
		t.Fatal(err)
	}

	loaded, err := loadHookRecords(db)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded %d records, want the upsert to replace", len(loaded))
	}
	if loaded[0].Wrapper.Module != "gen2" {
		t.Errorf("wrapper module = %s, want gen2", loaded[0].Wrapper.Module)
	}
}
