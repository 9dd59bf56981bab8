package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	tracker "github.com/goliatone/go-tracker"
	"github.com/goliatone/go-tracker/pkg/config"
	"github.com/goliatone/go-tracker/pkg/logx"
	"github.com/goliatone/go-tracker/pkg/state/gormstore"
)

type runtime struct {
	settings config.Settings
	logger   *logx.ZapLogger
	closeLog func() error
	out      io.Writer
}

func newApp(stdout, stderr io.Writer) *cli.Command {
	rt := &runtime{out: stdout}
	return &cli.Command{
		Name:      "trackerctl",
		Usage:     "Entity metadata tooling",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "settings file (yaml, json or toml)", Sources: cli.EnvVars("TRACKER_CONFIG")},
			&cli.StringFlag{Name: "log-level", Usage: "override log.level"},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			settings, err := config.Load(cmd.String("config"))
			if err != nil {
				return ctx, err
			}
			if lvl := cmd.String("log-level"); lvl != "" {
				settings.Log.Level = lvl
			}
			fc := settings.FileConfig("trackerctl")
			fc.Writer = stderr
			rt.settings = settings
			rt.logger, rt.closeLog = logx.NewRollingLogger(fc)
			return ctx, nil
		},
		After: func(context.Context, *cli.Command) error {
			if rt.closeLog != nil {
				return rt.closeLog()
			}
			return nil
		},
		Commands: []*cli.Command{
			validateCommand(rt),
			convertCommand(rt),
			schemaCommand(rt),
			describeCommand(rt),
			pushCommand(rt),
			pullCommand(rt),
			listCommand(rt),
		},
	}
}

// newStore builds a metadata store from settings with engine logging.
func (rt *runtime) newStore() (*tracker.MetadataStore, error) {
	opts, err := rt.settings.StoreOptions()
	if err != nil {
		return nil, err
	}
	opts = append(opts, tracker.WithMetadataLogger(rt.logger))
	return tracker.NewMetadataStore(opts...), nil
}

func (rt *runtime) loadMetadata(path string) (*tracker.MetadataStore, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("trackerctl: read %s: %w", path, err)
	}
	ms, err := rt.newStore()
	if err != nil {
		return nil, err
	}
	if isYAML(path) {
		err = ms.ImportMetadataYAML(raw, true)
	} else {
		err = ms.ImportMetadata(raw, true)
	}
	if err != nil {
		return nil, fmt.Errorf("trackerctl: import %s: %w", path, err)
	}
	return ms, nil
}

func (rt *runtime) openStore(ctx context.Context, dsn string) (*gormstore.Store[json.RawMessage], error) {
	if dsn == "" {
		dsn = rt.settings.Store.DSN
	}
	if dsn == "" {
		return nil, fmt.Errorf("trackerctl: no store dsn configured")
	}
	db, err := gormstore.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("trackerctl: open %s: %w", dsn, err)
	}
	if err := gormstore.Migrate(ctx, db); err != nil {
		return nil, err
	}
	rt.logger.Zap().Debug("snapshot store opened", zap.String("dsn", dsn))
	return gormstore.New[json.RawMessage](db), nil
}

func (rt *runtime) write(path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := rt.out.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("trackerctl: write %s: %w", path, err)
	}
	return nil
}

func exportAs(ms *tracker.MetadataStore, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "", "json":
		return ms.ExportMetadata()
	case "yaml", "yml":
		return ms.ExportMetadataYAML()
	}
	return nil, fmt.Errorf("trackerctl: unknown format %q", format)
}

func formatFor(path, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if isYAML(path) {
		return "yaml"
	}
	return "json"
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
