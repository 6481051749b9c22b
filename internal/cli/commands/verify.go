package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/bccache/internal/cli/ui"
	"github.com/conduit-lang/bccache/internal/driver"
	"github.com/conduit-lang/bccache/internal/metainfo"
	"github.com/conduit-lang/bccache/internal/utils"
)

func newVerifyCommand(a *app) *cobra.Command {
	var flags unitFlags

	cmd := &cobra.Command{
		Use:   "verify <file.bc>",
		Short: "Check whether a unit's cached object is fresh",
		Long: `Check the cache entry of one unit against its current inputs without
compiling anything. Exits non-zero when the entry is missing or stale.`,
		Example: `  bccache verify blur.bc && echo cached`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := a.buildRequest(args[0], &flags)
			if err != nil {
				return err
			}
			d, err := a.driver(args[0])
			if err != nil {
				return err
			}

			err = d.Verify(cmd.Context(), req)
			objectPath := driver.ObjectPath(req.CacheDir, req.ResourceName)
			switch {
			case err == nil:
				ui.WriteSuccess(cmd.OutOrStdout(), "fresh "+objectPath, a.noColor)
				return nil
			case isBuildError(err):
				return a.reportBuild(cmd.ErrOrStderr(), "verify", err)
			default:
				similar := cachedNeighbours(req.CacheDir, driver.ObjectName(req.ResourceName))
				fmt.Fprint(cmd.ErrOrStderr(), ui.NotCached(req.ResourceName, err.Error(), similar, a.noColor))
				return reported{err}
			}
		},
	}

	flags.register(cmd)

	return cmd
}

func isBuildError(err error) bool {
	_, ok := driver.KindOf(err)
	return ok
}

// cachedNeighbours suggests cached objects with names close to objectName,
// as unit names without the object extension
func cachedNeighbours(cacheDir, objectName string) []string {
	objects, err := utils.FindFiles(cacheDir, ".o")
	if err != nil {
		return nil
	}
	var names []string
	for _, obj := range objects {
		base := filepath.Base(obj)
		if base == objectName {
			continue
		}
		if _, err := os.Stat(metainfo.PathFor(obj)); err != nil {
			continue
		}
		names = append(names, strings.TrimSuffix(base, ".o"))
	}
	return ui.FindSimilar(strings.TrimSuffix(objectName, ".o"), names, nil)
}
