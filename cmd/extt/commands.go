package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/starford/extt/internal"
	"github.com/starford/extt/internal/index"
	"github.com/starford/extt/internal/note"
	pkgconfig "github.com/starford/extt/pkg/config"
	"github.com/starford/extt/pkg/markdown"
)

// withVault opens the vault described by the config for the duration of fn.
func withVault(cmd *cli.Command, fn func(v *internal.Vault) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	v, err := internal.OpenVault(cfg, cliLogger(cfg))
	if err != nil {
		return err
	}
	defer v.Close()
	return fn(v)
}

// withExt appends ".md" to names given without it.
func withExt(name string) string {
	if strings.HasSuffix(strings.ToLower(name), ".md") {
		return name
	}
	return name + ".md"
}

func writeIndentedJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func requireArgs(cmd *cli.Command, n int, usage string) error {
	if cmd.Args().Len() < n {
		return fmt.Errorf("usage: extt %s %s", cmd.Name, usage)
	}
	return nil
}

// formatNote normalises a note through the document model. Unsupported
// blocks are kept verbatim when preserve is set and dropped otherwise.
func formatNote(data []byte, preserve bool) ([]byte, error) {
	n, err := note.Decode(data)
	if err != nil {
		return nil, err
	}
	if !preserve {
		n.Document = markdown.Deserialize(n.Body())
	}
	return note.Encode(n)
}

func fmtCommand() *cli.Command {
	return &cli.Command{
		Name:      "fmt",
		Usage:     "Rewrite markdown files in canonical form (stdin to stdout without arguments)",
		ArgsUsage: "[file...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "write", Aliases: []string{"w"}, Usage: "Write the result back to the file"},
			&cli.BoolFlag{Name: "check", Usage: "Fail when a file is not already formatted"},
			&cli.BoolFlag{Name: "drop-unsupported", Usage: "Drop lists, tables and other blocks outside the document model"},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			preserve := cfg.Editor.PreserveUnsupported && !cmd.Bool("drop-unsupported")

			if cmd.Args().Len() == 0 {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return err
				}
				out, err := formatNote(data, preserve)
				if err != nil {
					return err
				}
				_, err = cmd.Root().Writer.Write(out)
				return err
			}

			var unformatted []string
			for _, file := range cmd.Args().Slice() {
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				out, err := formatNote(data, preserve)
				if err != nil {
					return fmt.Errorf("%s: %w", file, err)
				}
				switch {
				case cmd.Bool("check"):
					if string(out) != string(data) {
						unformatted = append(unformatted, file)
					}
				case cmd.Bool("write"):
					if string(out) != string(data) {
						if err := os.WriteFile(file, out, 0o644); err != nil {
							return err
						}
					}
				default:
					if _, err := cmd.Root().Writer.Write(out); err != nil {
						return err
					}
				}
			}
			if len(unformatted) > 0 {
				return fmt.Errorf("not formatted: %s", strings.Join(unformatted, ", "))
			}
			return nil
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List notes in the vault",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "tag", Usage: "Only notes with this tag"},
			&cli.StringFlag{Name: "sort", Value: index.SortPath, Usage: "path, title or updated"},
			&cli.IntFlag{Name: "limit", Value: 1000, Usage: "Maximum number of notes"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withVault(cmd, func(v *internal.Vault) error {
				items, _, err := v.Service.ListNotes(ctx, int(cmd.Int("limit")), 0, cmd.String("tag"), cmd.String("sort"))
				if err != nil {
					return err
				}
				for _, it := range items {
					fmt.Fprintln(cmd.Root().Writer, it.Path)
				}
				return nil
			})
		},
	}
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search notes by title or content",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 20, Usage: "Maximum number of hits"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := requireArgs(cmd, 1, "<query>"); err != nil {
				return err
			}
			query := strings.Join(cmd.Args().Slice(), " ")
			return withVault(cmd, func(v *internal.Vault) error {
				hits, err := v.Service.Search(ctx, query, int(cmd.Int("limit")))
				if err != nil {
					return err
				}
				for _, h := range hits {
					title := h.Title
					if title == "" {
						title = "No Title"
					}
					fmt.Fprintf(cmd.Root().Writer, "%s: %s\n", h.Path, title)
				}
				return nil
			})
		},
	}
}

// readBody returns the --body flag, or stdin when the flag is "-".
func readBody(cmd *cli.Command) (string, error) {
	body := cmd.String("body")
	if body != "-" {
		return body, nil
	}
	data, err := io.ReadAll(os.Stdin)
	return string(data), err
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:      "new",
		Usage:     "Create a note; the title doubles as the file name",
		ArgsUsage: "<title>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "body", Aliases: []string{"b"}, Usage: "Note body in markdown (- reads stdin)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := requireArgs(cmd, 1, "<title>"); err != nil {
				return err
			}
			title := cmd.Args().First()
			body, err := readBody(cmd)
			if err != nil {
				return err
			}
			n := note.New()
			n.SetBody(body)
			n.SetTitle(strings.TrimSuffix(title, ".md"))
			content, err := note.Encode(n)
			if err != nil {
				return err
			}

			path := withExt(title)
			return withVault(cmd, func(v *internal.Vault) error {
				if _, err := v.Service.CreateNote(ctx, path, content); err != nil {
					return err
				}
				fmt.Fprintf(cmd.Root().Writer, "Created note: %s\n", path)
				return nil
			})
		},
	}
}

// lineWindow picks the lines to print for the read command. from and to are
// 1-based and inclusive; zero means unset. from/to win over head, head over
// tail.
func lineWindow(total, head, tail, from, to int) (start, end int) {
	start, end = 0, total
	switch {
	case from > 0 || to > 0:
		if from > 0 {
			start = from - 1
		}
		if to > 0 {
			end = min(to, total)
		}
	case head > 0:
		end = min(head, total)
	case tail > 0:
		start = max(total-tail, 0)
	}
	start = min(max(start, 0), total)
	end = min(max(end, start), total)
	return start, end
}

func readCommand() *cli.Command {
	return &cli.Command{
		Name:      "read",
		Usage:     "Print a note",
		ArgsUsage: "<name>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "head", Usage: "Show the first N lines"},
			&cli.IntFlag{Name: "tail", Usage: "Show the last N lines"},
			&cli.IntFlag{Name: "from", Usage: "Start at line N"},
			&cli.IntFlag{Name: "to", Usage: "End at line N"},
			&cli.BoolFlag{Name: "document", Usage: "Print the document tree as JSON"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := requireArgs(cmd, 1, "<name>"); err != nil {
				return err
			}
			path := withExt(cmd.Args().First())
			return withVault(cmd, func(v *internal.Vault) error {
				if cmd.Bool("document") {
					doc, err := v.Service.GetDocument(ctx, path)
					if err != nil {
						return err
					}
					return writeIndentedJSON(cmd.Root().Writer, doc)
				}
				n, err := v.Service.GetNote(ctx, path)
				if err != nil {
					return err
				}
				lines := strings.Split(strings.TrimSuffix(n.Content, "\n"), "\n")
				if n.Content == "" {
					lines = nil
				}
				start, end := lineWindow(len(lines),
					int(cmd.Int("head")), int(cmd.Int("tail")), int(cmd.Int("from")), int(cmd.Int("to")))
				for _, l := range lines[start:end] {
					fmt.Fprintln(cmd.Root().Writer, l)
				}
				return nil
			})
		},
	}
}

func updateCommand() *cli.Command {
	return &cli.Command{
		Name:      "update",
		Usage:     "Replace the body or title of a note, or rename it",
		ArgsUsage: "<name>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "body", Aliases: []string{"b"}, Usage: "New body in markdown (- reads stdin)"},
			&cli.StringFlag{Name: "title", Usage: "New title"},
			&cli.StringFlag{Name: "rename", Usage: "New name for the note"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := requireArgs(cmd, 1, "<name>"); err != nil {
				return err
			}
			path := withExt(cmd.Args().First())
			return withVault(cmd, func(v *internal.Vault) error {
				if rename := cmd.String("rename"); rename != "" {
					to := withExt(rename)
					if _, err := v.Service.MoveNote(ctx, path, to); err != nil {
						return err
					}
					fmt.Fprintf(cmd.Root().Writer, "Renamed %s to %s\n", path, to)
					return nil
				}
				if !cmd.IsSet("body") && !cmd.IsSet("title") {
					return errors.New("nothing to update: pass --body, --title or --rename")
				}

				current, err := v.Service.GetNote(ctx, path)
				if err != nil {
					return err
				}
				n, err := note.Decode([]byte(current.Content))
				if err != nil {
					return err
				}
				if cmd.IsSet("body") {
					body, err := readBody(cmd)
					if err != nil {
						return err
					}
					// A body without a heading keeps the existing title heading.
					keepHeading := n.Frontmatter == nil && len(n.Document) > 0 &&
						n.Document[0].Kind == markdown.KindHeadingOne
					heading := markdown.Block{}
					if keepHeading {
						heading = n.Document[0]
					}
					n.SetBody(body)
					if keepHeading && (len(n.Document) == 0 || n.Document[0].Kind != markdown.KindHeadingOne) {
						n.Document = append(markdown.Document{heading}, n.Document...)
					}
				}
				if title := cmd.String("title"); title != "" {
					n.SetTitle(title)
				}
				content, err := note.Encode(n)
				if err != nil {
					return err
				}
				if _, err := v.Service.UpdateNote(ctx, path, content, current.Checksum); err != nil {
					return err
				}
				fmt.Fprintf(cmd.Root().Writer, "Updated note: %s\n", path)
				return nil
			})
		},
	}
}

func moveCommand() *cli.Command {
	return &cli.Command{
		Name:      "mv",
		Aliases:   []string{"move"},
		Usage:     "Move or rename a note",
		ArgsUsage: "<from> <to>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := requireArgs(cmd, 2, "<from> <to>"); err != nil {
				return err
			}
			from, to := withExt(cmd.Args().Get(0)), withExt(cmd.Args().Get(1))
			return withVault(cmd, func(v *internal.Vault) error {
				if _, err := v.Service.MoveNote(ctx, from, to); err != nil {
					return err
				}
				fmt.Fprintf(cmd.Root().Writer, "Moved %s to %s\n", from, to)
				return nil
			})
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "rm",
		Aliases:   []string{"delete"},
		Usage:     "Delete a note",
		ArgsUsage: "<name>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := requireArgs(cmd, 1, "<name>"); err != nil {
				return err
			}
			path := withExt(cmd.Args().First())
			return withVault(cmd, func(v *internal.Vault) error {
				if err := v.Service.DeleteNote(ctx, path); err != nil {
					return err
				}
				fmt.Fprintf(cmd.Root().Writer, "Deleted note: %s\n", path)
				return nil
			})
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Reconcile the index with the files on disk",
		Action: func(_ context.Context, cmd *cli.Command) error {
			// Opening the vault runs the sync.
			return withVault(cmd, func(v *internal.Vault) error {
				s := v.Synced
				fmt.Fprintf(cmd.Root().Writer, "Index synced: %d added, %d updated, %d removed, %d unchanged.\n",
					s.Added, s.Updated, s.Removed, s.Unchanged)
				if s.Failed > 0 {
					return fmt.Errorf("%d files could not be indexed", s.Failed)
				}
				return nil
			})
		},
	}
}

func checkConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "check-config",
		Usage: "Validate the configuration and print the resolved paths",
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			w := cmd.Root().Writer
			fmt.Fprintf(w, "Vault: %s\n", cfg.Vault.Path)
			fmt.Fprintf(w, "Index: %s\n", cfg.SQLite.Path)
			fmt.Fprintf(w, "HTTP: %s\n", cfg.App.HTTP.Address())
			fmt.Fprintf(w, "Autosave delay: %s\n", cfg.Editor.AutosaveDelay)
			return nil
		},
	}
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Write a config file with the default settings to the --config path",
		Action: func(_ context.Context, cmd *cli.Command) error {
			path := cmd.String("config")
			if err := pkgconfig.Write(path, internal.NewDefaultConfig()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.Root().Writer, "Wrote %s\n", path)
			return nil
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print the version",
		Action: func(_ context.Context, cmd *cli.Command) error {
			fmt.Fprintf(cmd.Root().Writer, "extt %s\n", version)
			return nil
		},
	}
}
