package livecore

import (
	"path/filepath"
	"testing"

	"github.com/harunnryd/livecore/pkg/logging"
	"github.com/harunnryd/livecore/pkg/speech"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs", "speech.yaml")
	store := NewFileStore(path, logging.Discard())

	cfg, err := store.Load()
	if err != nil || cfg.Kind != speech.KindLocal {
		t.Fatalf("missing file should load local default: %+v %v", cfg, err)
	}

	off := false
	want := speech.NetworkedConfig("", "app-1", "tok")
	want.Recognition = speech.RecognitionConfig{Language: "en-US", InterimResults: &off}
	if err := store.Save(want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Kind != speech.KindNetworked || got.Setting("app_key") != "app-1" || got.Setting("token") != "tok" {
		t.Fatalf("loaded = %+v", got)
	}
	if got.Recognition.Language != "en-US" || got.Recognition.WantsInterim() {
		t.Fatalf("recognition = %+v", got.Recognition)
	}
}

func TestFileStoreMalformedDegradesToLocal(t *testing.T) {
	path := writeFile(t, "speech.json", "{not json")
	cfg, err := NewFileStore(path, logging.Discard()).Load()
	if err != nil || cfg.Kind != speech.KindLocal {
		t.Fatalf("malformed file = %+v %v", cfg, err)
	}
}

func TestMemoryStoreCopiesSettings(t *testing.T) {
	store := NewMemoryStore()
	cfg := speech.NetworkedConfig("", "a", "t")
	if err := store.Save(cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	cfg.Settings["token"] = "mutated"
	got, _ := store.Load()
	if got.Setting("token") != "t" {
		t.Fatalf("store shares the settings map with the caller")
	}
}
