package recipe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/oriys/fetchengine/internal/bundlestore"
	"github.com/oriys/fetchengine/internal/bundlestore/filesink"
	"github.com/oriys/fetchengine/internal/httppool"
	"github.com/oriys/fetchengine/internal/kvs"
	"github.com/oriys/fetchengine/internal/loader"
	notifymemory "github.com/oriys/fetchengine/internal/notify/memory"
	"github.com/oriys/fetchengine/internal/retry"
)

func writeRecipeFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "recipe.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write recipe file: %v", err)
	}
	return path
}

func TestLoadFileRequiresRecipeID(t *testing.T) {
	path := writeRecipeFile(t, "locators:\n  - id: a\n    variant: single_url\n")
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for missing recipeId")
	}
}

func TestLoadFileRequiresAtLeastOneLocator(t *testing.T) {
	path := writeRecipeFile(t, "recipeId: r1\n")
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for missing locators")
	}
}

func TestLoadFileParsesLocatorsAndLoader(t *testing.T) {
	path := writeRecipeFile(t, `
recipeId: r1
concurrency: 4
locators:
  - id: a
    variant: single_url
    params:
      urls: ["https://example.com/a", "https://example.com/b"]
loader:
  variant: http
  params:
    pool: default
`)
	f, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if f.RecipeID != "r1" || f.Concurrency != 4 {
		t.Fatalf("unexpected file: %+v", f)
	}
	if len(f.Locators) != 1 || f.Locators[0].Variant != "single_url" {
		t.Fatalf("unexpected locators: %+v", f.Locators)
	}
	if f.Loader.Variant != "http" {
		t.Fatalf("unexpected loader: %+v", f.Loader)
	}
}

func TestBuildAssemblesRecipeAndSetsLoaderRecipe(t *testing.T) {
	store := kvs.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	pool := httppool.New(httppool.Config{RatePerSecond: 100}, retry.DefaultPolicy(), nil)
	sink := filesink.New(t.TempDir())
	storage := bundlestore.New(sink, notifymemory.New())

	deps := Deps{
		KVStore:   store,
		HTTPPools: map[string]*httppool.Pool{"default": pool},
		Storage:   storage,
	}
	locators := NewLocatorRegistry(deps)
	loaders := NewLoaderRegistry(deps)

	f := &File{
		RecipeID: "r1",
		Locators: []LocatorSpec{{ID: "a", Variant: "single_url", Params: map[string]any{"urls": []any{"https://example.com/a"}}}},
		Loader:   LoaderSpec{Variant: "http", Params: map[string]any{"pool": "default"}},
	}

	recipe, err := Build(f, locators, loaders)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if recipe.RecipeID != "r1" {
		t.Fatalf("unexpected recipe id: %s", recipe.RecipeID)
	}
	if len(recipe.Locators) != 1 || recipe.Locators[0].ID != "a" {
		t.Fatalf("unexpected locators: %+v", recipe.Locators)
	}
	httpLoader, ok := recipe.Loader.(*loader.HTTPLoader)
	if !ok {
		t.Fatalf("expected *loader.HTTPLoader, got %T", recipe.Loader)
	}
	if httpLoader.Recipe.RecipeID != "r1" {
		t.Fatalf("SetRecipe was not invoked: %+v", httpLoader.Recipe)
	}
}

func TestBuildUnknownLocatorVariant(t *testing.T) {
	deps := Deps{KVStore: kvs.NewMemoryStore()}
	locators := NewLocatorRegistry(deps)
	loaders := NewLoaderRegistry(deps)

	f := &File{
		RecipeID: "r1",
		Locators: []LocatorSpec{{ID: "a", Variant: "does_not_exist"}},
		Loader:   LoaderSpec{Variant: "http", Params: map[string]any{"pool": "default"}},
	}
	if _, err := Build(f, locators, loaders); err == nil {
		t.Fatal("expected error for unknown locator variant")
	}
}
