// Command merge combines raw per-variable zarr stores into a single
// prebuilt training store.
//
// Defaults come from the environment (DATAPIPES_SRC_DIRECTORY and friends,
// optionally via a .env file); flags override.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/urfave/cli/v2"

	"github.com/mlweather/datapipes/store"
)

type env struct {
	SrcDirectory string `envconfig:"SRC_DIRECTORY"`
	DstDirectory string `envconfig:"DST_DIRECTORY"`
	DatasetName  string `envconfig:"DATASET_NAME" default:"merged"`
}

func main() {
	// A missing .env file is fine; the environment may be set directly.
	_ = godotenv.Load()

	var defaults env
	if err := envconfig.Process("datapipes", &defaults); err != nil {
		slog.Error("reading environment", "err", err)
		os.Exit(1)
	}

	app := &cli.App{
		Name:  "merge",
		Usage: "merge raw per-variable zarr stores into one prebuilt store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "src",
				Usage: "directory holding the raw *.zarr stores",
				Value: defaults.SrcDirectory,
			},
			&cli.StringFlag{
				Name:  "dst",
				Usage: "directory receiving the merged store",
				Value: defaults.DstDirectory,
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "name of the merged store (written as <dst>/<name>.zarr)",
				Value: defaults.DatasetName,
			},
		},
		Action: func(c *cli.Context) error {
			path, err := store.Merge(context.Background(), c.String("src"), c.String("dst"), c.String("name"), slog.Default())
			if err != nil {
				return err
			}
			slog.Info("done", "path", path)
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("merge failed", "err", err)
		os.Exit(1)
	}
}
