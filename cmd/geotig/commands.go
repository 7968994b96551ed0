package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"geotig/internal/diff"
	"geotig/internal/importer"
	"geotig/internal/object"
	"geotig/internal/repository"
	"geotig/internal/transfer"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&repoDir, "repo", "C", "", "run as if started in this directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")

	var initCmd = &cobra.Command{
		Use:   "init",
		Short: "Initialize a new geotig repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := workDir()
			if err != nil {
				return err
			}
			if err := repository.Initialize(dir); err != nil {
				return fmt.Errorf("initializing repository: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Initialized empty geotig repository in", filepath.Join(dir, repository.DirName))
			return nil
		},
	}

	var importCmd = &cobra.Command{
		Use:   "import",
		Short: "Record feature files as unstaged inserts",
		Long: `Reads every <namespace>/<layer>/<id>.json feature file below the repository
root, skipping paths matched by .geoignore. With --watch it keeps running and
records inserts and deletes as files change.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			watch, _ := cmd.Flags().GetBool("watch")

			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			im, err := importer.New(repo.Root, repo.Staging, repo.Safe.Codec(), repo.Logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			entries, err := im.Import(ctx, func(pct float64) {
				if pct >= 0 {
					fmt.Fprintf(out, "\rImporting: %3.0f%%", pct)
				}
			})
			if err != nil {
				return fmt.Errorf("importing features: %w", err)
			}
			fmt.Fprintf(out, "\rImported %d features\n", len(entries))

			if !watch {
				return nil
			}
			fmt.Fprintln(out, "Watching for changes, press Ctrl-C to stop")
			return im.Watch(ctx, func(ev importer.Event) {
				key := diff.Change{Path: ev.Path}.Key()
				switch {
				case ev.Err != nil:
					deleteColor.Fprintf(out, "error  %s: %v\n", key, ev.Err)
				case ev.Deleted:
					deleteColor.Fprintf(out, "D  %s\n", key)
				default:
					addColor.Fprintf(out, "A  %s\n", key)
				}
			})
		},
	}
	importCmd.Flags().BoolP("watch", "w", false, "keep watching for file changes")

	var mkdirCmd = &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Record the creation of an empty tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			if err := repo.Staging.RecordCreate(splitArg(args[0])); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Recorded tree", args[0])
			return nil
		},
	}

	var rmCmd = &cobra.Command{
		Use:   "rm <path>",
		Short: "Record the deletion of a feature or tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			ok, err := repo.Staging.RecordDelete(splitArg(args[0]))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to delete at", args[0])
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Recorded deletion of", args[0])
			return nil
		},
	}

	var stageCmd = &cobra.Command{
		Use:   "stage [prefix]",
		Short: "Stage unstaged changes, optionally below a path prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var prefix []string
			if len(args) == 1 {
				prefix = splitArg(args[0])
			}

			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			n, err := repo.Staging.Stage(prefix, nil)
			if err != nil {
				return fmt.Errorf("staging changes: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Staged %d changes\n", n)
			return nil
		},
	}

	var discardCmd = &cobra.Command{
		Use:   "discard [prefix]",
		Short: "Drop unstaged changes, optionally below a path prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var prefix []string
			if len(args) == 1 {
				prefix = splitArg(args[0])
			}

			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			n, err := repo.Staging.Discard(prefix)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Discarded %d changes\n", n)
			return nil
		},
	}

	var statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show staged and unstaged changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			st, err := repo.Status()
			if err != nil {
				return err
			}
			staged, err := repo.Staging.Staged(nil)
			if err != nil {
				return err
			}
			unstaged, err := repo.Staging.Unstaged(nil)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "HEAD %s  tree %s\n", idColor.Sprint(shortID(st.Head)), idColor.Sprint(shortID(st.Tree)))
			if len(staged) == 0 && len(unstaged) == 0 {
				fmt.Fprintln(out, "Nothing to commit")
				return nil
			}
			if len(staged) > 0 {
				fmt.Fprintln(out, "\nChanges to be committed:")
				for _, c := range staged {
					printChange(out, c)
				}
			}
			if len(unstaged) > 0 {
				fmt.Fprintln(out, "\nChanges not staged:")
				for _, c := range unstaged {
					printChange(out, c)
				}
			}
			return nil
		},
	}

	var writeTreeCmd = &cobra.Command{
		Use:   "write-tree",
		Short: "Apply staged changes and print the resulting tree id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, _ := cmd.Flags().GetString("target")

			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			tree, bounds, err := repo.WriteTree(target)
			if err != nil {
				return fmt.Errorf("writing tree: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tree.String())
			if bounds != nil {
				fmt.Fprintln(cmd.OutOrStdout(), "bounds", bounds.String())
			}
			return nil
		},
	}
	writeTreeCmd.Flags().StringP("target", "t", "", "ref or id to apply the changes on (default HEAD)")

	var commitCmd = &cobra.Command{
		Use:   "commit",
		Short: "Commit the staged changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			message, _ := cmd.Flags().GetString("message")
			author, _ := cmd.Flags().GetString("author")
			if message == "" {
				return fmt.Errorf("commit message is required")
			}
			if author == "" {
				author = os.Getenv("USER")
			}

			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			res, err := repo.Commit(author, message)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", idColor.Sprint(res.ID.Short()), message)
			return nil
		},
	}
	commitCmd.Flags().StringP("message", "m", "", "commit message")
	commitCmd.Flags().StringP("author", "a", "", "commit author (default $USER)")

	var diffCmd = &cobra.Command{
		Use:   "diff [from] <to>",
		Short: "Show changed features between two refs",
		Long: `Compares two refs or tree ids. With one argument the comparison runs from
HEAD. --path limits it to a subtree and --target to wherever an entry pointing
at that id lives.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("path")
			target, _ := cmd.Flags().GetString("target")
			withPatch, _ := cmd.Flags().GetBool("patch")

			from, to := repository.HeadRef, args[0]
			if len(args) == 2 {
				from, to = args[0], args[1]
			}

			opts := diff.Options{Path: splitArg(path)}
			if target != "" {
				id, err := object.ParseContentId(target)
				if err != nil {
					return fmt.Errorf("parsing target: %w", err)
				}
				opts.Target = id
			}

			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			it, err := repo.Diff(from, to, opts)
			if err != nil {
				return err
			}
			engine := diff.NewEngine(3)
			out := cmd.OutOrStdout()
			var changes []diff.Change
			for it.Next() {
				c := it.Change()
				changes = append(changes, c)
				printChange(out, c)
				if !withPatch {
					continue
				}
				patch, err := repo.Patch(engine, c)
				if err != nil {
					return fmt.Errorf("rendering %s: %w", c.Key(), err)
				}
				if patch != nil && !patch.Empty() {
					printColoredDiff(out, patch.Format())
				}
			}
			if err := it.Err(); err != nil {
				return err
			}

			s := diff.Summarize(changes)
			fmt.Fprintf(out, "\n%d added, %d modified, %d deleted\n", s.Added, s.Modified, s.Deleted)
			return nil
		},
	}
	diffCmd.Flags().String("path", "", "limit the diff to this path")
	diffCmd.Flags().String("target", "", "limit the diff to the entry pointing at this id")
	diffCmd.Flags().BoolP("patch", "p", false, "show feature patches")

	var lsTreeCmd = &cobra.Command{
		Use:   "ls-tree [ref] [path]",
		Short: "List the entries of a tree",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			recursive, _ := cmd.Flags().GetBool("recursive")
			ref := repository.HeadRef
			var path []string
			if len(args) > 0 {
				ref = args[0]
			}
			if len(args) > 1 {
				path = splitArg(args[1])
			}

			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			items, err := repo.ListTree(ref, path, recursive)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, it := range items {
				fmt.Fprintf(out, "%-6s %s  %s\n", it.Entry.Kind, idColor.Sprint(it.Entry.Target.String()),
					diff.Change{Path: it.Path}.Key())
			}
			return nil
		},
	}
	lsTreeCmd.Flags().BoolP("recursive", "r", false, "list every descendant")

	var logCmd = &cobra.Command{
		Use:   "log [ref]",
		Short: "Show commit history",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("max-count")
			ref := repository.HeadRef
			if len(args) == 1 {
				ref = args[0]
			}

			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			entries, err := repo.Log(ref, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range entries {
				idColor.Fprintf(out, "commit %s\n", e.ID)
				fmt.Fprintf(out, "Author: %s\nDate:   %s\n\n    %s\n\n",
					e.Commit.Author,
					time.Unix(e.Commit.Timestamp, 0).Format(time.RFC3339),
					e.Commit.Message)
			}
			return nil
		},
	}
	logCmd.Flags().IntP("max-count", "n", 0, "limit the number of commits")

	var exportCmd = &cobra.Command{
		Use:   "export <file> [refs...]",
		Short: "Write every object reachable from refs into a pack file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			refs := args[1:]
			if len(refs) == 0 {
				refs = []string{repository.HeadRef}
			}

			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			var roots []object.ContentId
			for _, ref := range refs {
				id, err := repo.ResolveRef(ref)
				if err != nil {
					return err
				}
				if !id.IsNull() {
					roots = append(roots, id)
				}
			}

			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			n, err := transfer.Export(cmd.Context(), repo.Safe, f, roots...)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("exporting: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d objects to %s\n", n, args[0])
			return nil
		},
	}

	var fetchPackCmd = &cobra.Command{
		Use:   "fetch-pack <file>",
		Short: "Import the objects of a pack file",
		Long: `Reads a pack written by export, verifying every object id. With --ref the
given name is pointed at the id passed to --id once the import succeeds.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			refName, _ := cmd.Flags().GetString("ref")
			refID, _ := cmd.Flags().GetString("id")
			if (refName == "") != (refID == "") {
				return fmt.Errorf("--ref and --id go together")
			}

			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			n, err := transfer.Import(cmd.Context(), repo.Safe, f)
			if err != nil {
				return fmt.Errorf("importing pack: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d objects\n", n)

			if refName == "" {
				return nil
			}
			id, err := object.ParseContentId(refID)
			if err != nil {
				return fmt.Errorf("parsing id: %w", err)
			}
			if ok, err := repo.Safe.Exists(id); err != nil {
				return err
			} else if !ok {
				return fmt.Errorf("object %s is not in the repository", id)
			}
			if err := repo.SetRef(refName, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", refName, id.Short())
			return nil
		},
	}
	fetchPackCmd.Flags().String("ref", "", "ref to update after the import")
	fetchPackCmd.Flags().String("id", "", "commit id the ref should point at")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(mkdirCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(stageCmd)
	rootCmd.AddCommand(discardCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(writeTreeCmd)
	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(lsTreeCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(fetchPackCmd)
}
