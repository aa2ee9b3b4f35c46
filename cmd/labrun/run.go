package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/carbonopen/labrun/builder"
	"github.com/carbonopen/labrun/ids"
	"github.com/carbonopen/labrun/modloader"
	"github.com/carbonopen/labrun/runtime"
	"github.com/carbonopen/labrun/runtimemodules"
)

func newRunCmd() *cobra.Command {
	var jsonOut string

	cmd := &cobra.Command{
		Use:   "run <path>",
		Short: "Build a pipeline project and run it, or dump its compiled form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runRun(ctx, args[0], jsonOut)
		},
	}

	cmd.Flags().StringVar(&jsonOut, "json", "", "write the compiled project as JSON to this path instead of running it")

	return cmd
}

func runRun(ctx context.Context, path string, jsonOut string) error {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

	langPath := os.Getenv("LAB_LANG_PATH")
	if langPath == "" {
		var err error
		langPath, err = os.Getwd()
		if err != nil {
			return err
		}
	}

	extPath := os.Getenv("LAB_LANG_EXTENSIONS_PATH")
	if extPath == "" {
		extPath = filepath.Join(langPath, "extensions")
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(langPath, path)
	}

	alloc := ids.NewAllocator()
	b := builder.New(alloc, log.With().Str("component", "builder").Logger())

	project, err := b.Build(path)
	if err != nil {
		return err
	}

	extLoader := modloader.NewPluginLoader()
	extensions, err := modloader.LoadExtensions(extLoader, extPath)
	if err != nil {
		return err
	}

	for _, p := range project.BuildOrder {
		pipeline := project.Pipelines[p]
		steps, err := modloader.ApplyPosParse(extensions, pipeline.Steps)
		if err != nil {
			return err
		}
		pipeline.Steps = steps
	}

	if jsonOut != "" {
		data, err := json.MarshalIndent(project, "", "  ")
		if err != nil {
			return err
		}
		return os.WriteFile(jsonOut, data, 0o644)
	}

	registry := modloader.NewRegistry()
	runtimemodules.Register(registry)
	loader := modloader.NewFallbackLoader(registry)

	rt := runtime.New(project, loader, log.With().Str("component", "runtime").Logger())
	return rt.Run(ctx)
}
