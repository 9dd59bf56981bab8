package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	tracker "github.com/goliatone/go-tracker"
	"github.com/goliatone/go-tracker/pkg/state"
	"github.com/goliatone/go-tracker/schema/openapi"
)

func validateCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Import a metadata document and check every navigation resolves",
		ArgsUsage: "<file>",
		Action: func(ctx context.Context, c *cli.Command) error {
			path, err := fileArg(c)
			if err != nil {
				return err
			}
			ms, err := rt.loadMetadata(path)
			if err != nil {
				return err
			}
			if err := ms.ResolveIncomplete(); err != nil {
				return fmt.Errorf("trackerctl: %s: %w", path, err)
			}
			var entities, complexTypes int
			for _, st := range ms.GetEntityTypes() {
				if st.IsComplexType() {
					complexTypes++
				} else {
					entities++
				}
			}
			fmt.Fprintf(rt.out, "%s: ok (%d entity types, %d complex types)\n", path, entities, complexTypes)
			return nil
		},
	}
}

func convertCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "convert",
		Usage:     "Rewrite a metadata document as json or yaml",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "to", Usage: "output format: json or yaml", Value: "yaml"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file (default stdout)"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			path, err := fileArg(c)
			if err != nil {
				return err
			}
			ms, err := rt.loadMetadata(path)
			if err != nil {
				return err
			}
			data, err := exportAs(ms, c.String("to"))
			if err != nil {
				return err
			}
			return rt.write(c.String("out"), data)
		},
	}
}

func schemaCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "schema",
		Usage:     "Generate an OpenAPI document for a metadata document",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Usage: "output format: json or yaml", Value: "json"},
			&cli.StringFlag{Name: "title", Usage: "info.title", Value: "Entity Metadata"},
			&cli.StringFlag{Name: "version", Usage: "info.version", Value: "1.0.0"},
			&cli.StringFlag{Name: "base-path", Usage: "prefix for resource paths"},
			&cli.BoolFlag{Name: "components-only", Usage: "omit resource paths"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file (default stdout)"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			path, err := fileArg(c)
			if err != nil {
				return err
			}
			ms, err := rt.loadMetadata(path)
			if err != nil {
				return err
			}
			opts := []openapi.GeneratorOption{
				openapi.WithInfo(c.String("title"), c.String("version")),
				openapi.WithBasePath(c.String("base-path")),
			}
			if c.Bool("components-only") {
				opts = append(opts, openapi.WithoutPaths())
			}
			gen := openapi.NewGenerator(opts...)

			var data []byte
			switch strings.ToLower(c.String("format")) {
			case "json":
				data, err = gen.GenerateJSON(ms)
			case "yaml", "yml":
				data, err = gen.GenerateYAML(ms)
			default:
				return fmt.Errorf("trackerctl: unknown format %q", c.String("format"))
			}
			if err != nil {
				return err
			}
			return rt.write(c.String("out"), data)
		},
	}
}

func pushCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "push",
		Usage:     "Store a metadata document as a snapshot",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dsn", Usage: "snapshot database (default store.dsn)"},
			&cli.StringFlag{Name: "name", Usage: "snapshot name (default metadata.name)"},
			&cli.StringFlag{Name: "etag", Usage: "only save when the stored etag matches"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			path, err := fileArg(c)
			if err != nil {
				return err
			}
			ms, err := rt.loadMetadata(path)
			if err != nil {
				return err
			}
			store, err := rt.openStore(ctx, c.String("dsn"))
			if err != nil {
				return err
			}
			fallback := rt.settings.Metadata.Name
			if fallback == "" {
				fallback = ms.Name()
			}
			name := snapshotName(c, fallback)
			extra := state.Meta{Extra: map[string]string{"source": path}}
			var meta state.Meta
			if etag := c.String("etag"); etag != "" {
				doc, err := ms.ExportMetadata()
				if err != nil {
					return err
				}
				extra.ETag = etag
				_, meta, err = state.Mutate[json.RawMessage](ctx, store, state.MetadataRef(name), extra, func(current *json.RawMessage) error {
					*current = doc
					return nil
				})
				if err != nil {
					return err
				}
			} else if meta, err = state.NewMetadataRepository(store).Save(ctx, name, ms, extra); err != nil {
				return err
			}
			rt.logger.Zap().Info("metadata pushed", zap.String("name", name), zap.String("etag", meta.ETag))
			fmt.Fprintf(rt.out, "%s %s %s\n", name, meta.SnapshotID, meta.ETag)
			return nil
		},
	}
}

func pullCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "pull",
		Usage: "Load a stored metadata snapshot and print it",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dsn", Usage: "snapshot database (default store.dsn)"},
			&cli.StringFlag{Name: "name", Usage: "snapshot name (default metadata.name)"},
			&cli.StringFlag{Name: "format", Usage: "output format: json or yaml"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file (default stdout)"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			store, err := rt.openStore(ctx, c.String("dsn"))
			if err != nil {
				return err
			}
			ms, err := rt.newStore()
			if err != nil {
				return err
			}
			name := snapshotName(c, rt.settings.Metadata.Name)
			_, ok, err := state.NewMetadataRepository(store).Load(ctx, name, ms, true)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("trackerctl: metadata %q: %w", name, state.ErrNotFound)
			}
			data, err := exportAs(ms, formatFor(c.String("out"), c.String("format")))
			if err != nil {
				return err
			}
			return rt.write(c.String("out"), data)
		},
	}
}

func listCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List stored snapshots",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dsn", Usage: "snapshot database (default store.dsn)"},
			&cli.StringFlag{Name: "kind", Usage: "metadata or entities (default all)"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			store, err := rt.openStore(ctx, c.String("dsn"))
			if err != nil {
				return err
			}
			refs, err := store.List(ctx, state.Kind(c.String("kind")))
			if err != nil {
				return err
			}
			for _, ref := range refs {
				id, err := ref.Identifier()
				if err != nil {
					return err
				}
				fmt.Fprintln(rt.out, id)
			}
			return nil
		},
	}
}

func describeCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "describe",
		Usage:     "List the property paths of one type",
		ArgsUsage: "<file> <type>",
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 2 {
				return fmt.Errorf("trackerctl: describe expects a metadata file and a type name")
			}
			ms, err := rt.loadMetadata(c.Args().Get(0))
			if err != nil {
				return err
			}
			st, err := ms.GetStructuralType(c.Args().Get(1))
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(rt.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PATH\tTYPE\tNULLABLE\tKEY")
			for _, f := range tracker.DescribeType(st) {
				fmt.Fprintf(w, "%s\t%s\t%v\t%v\n", f.Path, f.Type, f.Nullable, f.Key)
			}
			return w.Flush()
		},
	}
}

func fileArg(c *cli.Command) (string, error) {
	if c.Args().Len() != 1 {
		return "", fmt.Errorf("trackerctl: %s expects one metadata file", c.Name)
	}
	return c.Args().First(), nil
}

func snapshotName(c *cli.Command, fallback string) string {
	if name := c.String("name"); name != "" {
		return name
	}
	if fallback != "" {
		return fallback
	}
	return "default"
}
