package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/kirillkom/docvault/internal/config"
	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/ports"
	"github.com/kirillkom/docvault/internal/infrastructure/catalog"
)

// backend is the slice of the application the admin commands drive.
type backend struct {
	Sweeper   ports.QueueSweeper
	Processor ports.QueueProcessor
	Queue     ports.QueueCanceller
	Folders   ports.FolderService
}

// opener connects the backend on demand so offline commands never dial
// postgres or NATS.
type opener func(ctx context.Context) (*backend, func(), error)

func newCLIApp(cfg config.Config, open opener, out io.Writer) *cli.App {
	app := &cli.App{
		Name:    "docctl",
		Usage:   "Administer the docvault ingestion queue",
		Version: Version,
		Writer:  out,
		Commands: []*cli.Command{
			sweepCmd(open, out),
			processCmd(cfg, open, out),
			cancelCmd(open, out),
			exportCmd(open, out),
			entityTypesCmd(cfg, out),
		},
	}
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func withBackend(c *cli.Context, open opener, fn func(*backend) error) error {
	b, closeFn, err := open(c.Context)
	if err != nil {
		return outputError(fmt.Errorf("connect: %w", err))
	}
	defer closeFn()
	return fn(b)
}

func sweepCmd(open opener, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Requeue or fail rows stuck in processing",
		Action: func(c *cli.Context) error {
			return withBackend(c, open, func(b *backend) error {
				result, err := b.Sweeper.Sweep(c.Context)
				if err != nil {
					return outputError(err)
				}
				return outputJSON(out, result)
			})
		},
	}
}

func processCmd(cfg config.Config, open opener, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "process",
		Usage:     "Process one queue row now",
		ArgsUsage: "<queue-id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "manual", Usage: "Also claim rows waiting as duplicates"},
		},
		Action: func(c *cli.Context) error {
			queueID := c.Args().First()
			if queueID == "" {
				return outputError(domain.WrapError(domain.ErrInvalidInput, "process", fmt.Errorf("queue id is required")))
			}
			return withBackend(c, open, func(b *backend) error {
				ctx, cancel := context.WithTimeout(c.Context, cfg.ProcessTimeout)
				defer cancel()
				result, err := b.Processor.ProcessByID(ctx, queueID, domain.ProcessOptions{Manual: c.Bool("manual")})
				if err != nil {
					return outputError(err)
				}
				return outputJSON(out, result)
			})
		},
	}
}

func cancelCmd(open opener, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "cancel",
		Usage:     "Remove a queue row and its stored file",
		ArgsUsage: "<queue-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Required: true, Usage: "Owner of the row"},
		},
		Action: func(c *cli.Context) error {
			queueID := c.Args().First()
			if queueID == "" {
				return outputError(domain.WrapError(domain.ErrInvalidInput, "cancel", fmt.Errorf("queue id is required")))
			}
			return withBackend(c, open, func(b *backend) error {
				if err := b.Queue.Cancel(c.Context, c.String("user"), queueID); err != nil {
					return outputError(err)
				}
				return outputJSON(out, map[string]any{"cancelled": queueID})
			})
		},
	}
}

func exportCmd(open opener, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Write a folder's documents and entities as an XLSX workbook",
		ArgsUsage: "<folder-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Required: true, Usage: "Owner of the folder"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Value: "-", Usage: "Output file, - for stdout"},
		},
		Action: func(c *cli.Context) error {
			folderID := c.Args().First()
			if folderID == "" {
				return outputError(domain.WrapError(domain.ErrInvalidInput, "export", fmt.Errorf("folder id is required")))
			}
			return withBackend(c, open, func(b *backend) error {
				workbook, err := b.Folders.ExportFolder(c.Context, c.String("user"), folderID)
				if err != nil {
					return outputError(err)
				}
				if path := c.String("out"); path != "-" {
					if err := os.WriteFile(path, workbook, 0o644); err != nil {
						return outputError(fmt.Errorf("write workbook: %w", err))
					}
					return outputJSON(out, map[string]any{"path": path, "bytes": len(workbook)})
				}
				_, err = out.Write(workbook)
				return err
			})
		},
	}
}

// entityTypesCmd validates and prints the entity type catalog seeded at
// startup. It runs without connecting anything.
func entityTypesCmd(cfg config.Config, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "entity-types",
		Usage: "Print the entity type catalog",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Value: cfg.EntityTypesFile, Usage: "Catalog YAML, empty for the built-in one"},
		},
		Action: func(c *cli.Context) error {
			types, err := catalog.Load(c.String("file"))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(out, types)
		},
	}
}

func outputJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func outputError(err error) error {
	return cli.Exit(err.Error(), 1)
}
