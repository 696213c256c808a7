// Package recipe loads a FetcherRecipe from a declarative YAML document: a
// recipe id, a set of named locators (each a variant name plus a params
// bag), and a loader (same shape). Concrete construction is delegated to
// registry.Registry instances supplied by the caller, so this package
// itself knows nothing about any specific locator or loader implementation.
package recipe

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/oriys/fetchengine/internal/fetchmodel"
	"github.com/oriys/fetchengine/internal/registry"
)

// LocatorSpec names one locator instance to build.
type LocatorSpec struct {
	ID      string         `yaml:"id"`
	Variant string         `yaml:"variant"`
	Params  map[string]any `yaml:"params"`
}

// LoaderSpec names the recipe's single loader.
type LoaderSpec struct {
	Variant string         `yaml:"variant"`
	Params  map[string]any `yaml:"params"`
}

// File is the on-disk YAML shape for one recipe.
type File struct {
	RecipeID    string        `yaml:"recipeId"`
	Concurrency int           `yaml:"concurrency"`
	Locators    []LocatorSpec `yaml:"locators"`
	Loader      LoaderSpec    `yaml:"loader"`
}

// LoadFile parses a recipe YAML document from path.
func LoadFile(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("recipe: read %q: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("recipe: parse %q: %w", path, err)
	}
	if f.RecipeID == "" {
		return nil, fmt.Errorf("recipe: %q: recipeId is required", path)
	}
	if len(f.Locators) == 0 {
		return nil, fmt.Errorf("recipe: %q: at least one locator is required", path)
	}
	return &f, nil
}

// Build constructs a FetcherRecipe from f, resolving each locator and the
// loader through the supplied registries.
func Build(f *File, locators *registry.Registry[fetchmodel.Locator], loaders *registry.Registry[fetchmodel.Loader]) (fetchmodel.FetcherRecipe, error) {
	named := make([]fetchmodel.NamedLocator, 0, len(f.Locators))
	for _, spec := range f.Locators {
		if spec.ID == "" {
			return fetchmodel.FetcherRecipe{}, fmt.Errorf("recipe: %s: locator missing id", f.RecipeID)
		}
		loc, err := locators.Build(spec.Variant, withID(spec.Params, spec.ID))
		if err != nil {
			return fetchmodel.FetcherRecipe{}, fmt.Errorf("recipe: %s: build locator %q: %w", f.RecipeID, spec.ID, err)
		}
		named = append(named, fetchmodel.NamedLocator{ID: spec.ID, Locator: loc})
	}

	loader, err := loaders.Build(f.Loader.Variant, f.Loader.Params)
	if err != nil {
		return fetchmodel.FetcherRecipe{}, fmt.Errorf("recipe: %s: build loader: %w", f.RecipeID, err)
	}

	built := fetchmodel.FetcherRecipe{
		RecipeID: f.RecipeID,
		Locators: named,
		Loader:   loader,
	}
	if rs, ok := loader.(recipeSetter); ok {
		rs.SetRecipe(built)
	}
	return built, nil
}

// recipeSetter is implemented by loaders that need their owning recipe for
// completion-hook dispatch (see bundlestore.Storage.runCompletionHooks).
type recipeSetter interface {
	SetRecipe(fetchmodel.FetcherRecipe)
}

// withID returns a copy of params with "id" set, so factories can read the
// locator's id without callers repeating it in the YAML params bag.
func withID(params map[string]any, id string) map[string]any {
	out := make(map[string]any, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out["id"] = id
	return out
}
