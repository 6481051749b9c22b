package commands

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/bccache/internal/cli/ui"
	"github.com/conduit-lang/bccache/internal/driver"
	"github.com/conduit-lang/bccache/internal/filelock"
	"github.com/conduit-lang/bccache/internal/metainfo"
	"github.com/conduit-lang/bccache/internal/utils"
)

// Confirm asks a yes/no question
type Confirm func(message string) (bool, error)

func surveyConfirm(message string) (bool, error) {
	ok := false
	prompt := &survey.Confirm{Message: message, Default: false}
	if err := survey.AskOne(prompt, &ok); err != nil {
		return false, err
	}
	return ok, nil
}

// cacheEntry is an object path with every cache file that belongs to it
type cacheEntry struct {
	object string
	files  []string
	size   int64
}

// scanCache groups the cache files in dir by object. Lock files are only
// listed when withLocks is set.
func scanCache(dir string, withLocks bool) ([]*cacheEntry, []string, error) {
	files, err := utils.FindFiles(dir, ".o", metainfo.Ext, driver.IRExt, filelock.Suffix)
	if err != nil {
		return nil, nil, err
	}

	byObject := make(map[string]*cacheEntry)
	var locks []string
	for _, f := range files {
		if filelock.IsLockFile(f) {
			if withLocks {
				locks = append(locks, f)
			}
			continue
		}

		object := f
		if obj, ok := metainfo.ObjectPathFor(f); ok {
			object = obj
		} else if strings.HasSuffix(f, driver.IRExt) {
			object = strings.TrimSuffix(f, driver.IRExt)
		}

		e, ok := byObject[object]
		if !ok {
			e = &cacheEntry{object: object}
			byObject[object] = e
		}
		e.files = append(e.files, f)
		if fi, err := os.Stat(f); err == nil {
			e.size += fi.Size()
		}
	}

	entries := make([]*cacheEntry, 0, len(byObject))
	for _, e := range byObject {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].object < entries[j].object })
	return entries, locks, nil
}

// remove deletes the entry's files under the object lock, sidecar first
func (e *cacheEntry) remove(locker *filelock.Locker) error {
	return locker.With(e.object, func() error {
		for _, path := range []string{metainfo.PathFor(e.object), e.object + driver.IRExt, e.object} {
			if err := utils.RemoveIfExists(path); err != nil {
				return err
			}
		}
		return nil
	})
}

func newCleanCommand(a *app) *cobra.Command {
	var (
		yes      bool
		dryRun   bool
		locks    bool
		cacheDir string
	)

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove cached objects, sidecars and IR dumps",
		Long: `Remove every cache entry from the cache directory. Each entry is removed
while holding its lock, so a concurrent build either finishes first or
starts from an empty entry.

Lock files are kept unless --locks is given; only remove them when no
build is running.`,
		Example: `  bccache clean
  bccache clean --yes --locks`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := firstNonEmpty(cacheDir, a.cfg.CacheDir)
			out := cmd.OutOrStdout()

			entries, lockFiles, err := scanCache(dir, locks)
			if err != nil {
				return fmt.Errorf("failed to scan %s: %w", dir, err)
			}
			if len(entries) == 0 && len(lockFiles) == 0 {
				ui.WriteSuccess(out, "cache is empty", a.noColor)
				return nil
			}

			var total int64
			table := ui.NewTable(out, []string{"Object", "Files", "Size"}, &ui.TableOptions{
				NoColor: a.noColor,
				Align:   []ui.Align{ui.AlignLeft, ui.AlignRight, ui.AlignRight},
			})
			for _, e := range entries {
				total += e.size
				table.AddRow(e.object, fmt.Sprint(len(e.files)), humanize.Bytes(uint64(e.size)))
			}
			table.Render()

			summary := fmt.Sprintf("%d entries (%s)", len(entries), humanize.Bytes(uint64(total)))
			if len(lockFiles) > 0 {
				summary += fmt.Sprintf(" and %d lock files", len(lockFiles))
			}
			if dryRun {
				fmt.Fprintf(out, "Would remove %s\n", summary)
				return nil
			}

			if !yes {
				ok, err := a.confirm(fmt.Sprintf("Remove %s from %s?", summary, dir))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(out, "Aborted")
					return nil
				}
			}

			locker := filelock.New(a.cfg.LockTimeout)
			for _, e := range entries {
				if err := e.remove(locker); err != nil {
					return fmt.Errorf("failed to remove %s: %w", e.object, err)
				}
			}
			for _, l := range lockFiles {
				if err := utils.RemoveIfExists(l); err != nil {
					return err
				}
			}

			ui.WriteSuccess(out, "removed "+summary, a.noColor)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List what would be removed")
	cmd.Flags().BoolVar(&locks, "locks", false, "Also remove lock files")
	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "Cache directory (default: cache_dir from config)")

	return cmd
}
