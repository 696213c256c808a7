package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oriys/fetchengine/internal/recipe"
)

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recipe ids available under --recipe-dir",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := os.ReadDir(recipeDir)
			if err != nil {
				return fmt.Errorf("read recipe dir %q: %w", recipeDir, err)
			}

			var ids []string
			for _, e := range entries {
				if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
					continue
				}
				path := filepath.Join(recipeDir, e.Name())
				f, err := recipe.LoadFile(path)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "skipping %s: %v\n", e.Name(), err)
					continue
				}
				ids = append(ids, fmt.Sprintf("%s\t(%d locator(s), loader=%s)", f.RecipeID, len(f.Locators), f.Loader.Variant))
			}
			sort.Strings(ids)
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}
