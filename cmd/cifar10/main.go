package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	var opts options

	app := &cli.Command{
		Name:  "cifar10",
		Usage: "Train a convolutional CIFAR-10 classifier under simulated fixed-point arithmetic",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Usage:       "path to a YAML config file with flag defaults",
				Destination: &opts.configPath,
			},
			&cli.StringFlag{
				Name:        "save-dir",
				Usage:       "directory used to save trained models",
				Value:       "checkpoints",
				Destination: &opts.saveDir,
			},
			&cli.StringFlag{
				Name:        "data-dir",
				Usage:       "directory holding the CIFAR-10 binary batch files",
				Value:       "data/cifar10",
				Destination: &opts.dataDir,
			},
			&cli.Int64Flag{
				Name:        "epoch",
				Usage:       "number of total epochs to run",
				Value:       100,
				Destination: &opts.epochs,
			},
			&cli.Int64Flag{
				Name:        "start-epoch",
				Usage:       "manual epoch number (useful on restarts)",
				Destination: &opts.startEpoch,
			},
			&cli.Int64Flag{
				Name:        "batch-size",
				Aliases:     []string{"b"},
				Usage:       "mini-batch size",
				Value:       128,
				Destination: &opts.batchSize,
			},
			&cli.Int64Flag{
				Name:        "workers",
				Usage:       "data-parallel replicas for batch training",
				Value:       1,
				Destination: &opts.workers,
			},
			&cli.Float64Flag{
				Name:        "lr",
				Aliases:     []string{"learning-rate"},
				Usage:       "initial learning rate",
				Value:       0.05,
				Destination: &opts.lr,
			},
			&cli.Float64Flag{
				Name:        "momentum",
				Usage:       "momentum",
				Value:       0.9,
				Destination: &opts.momentum,
			},
			&cli.Float64Flag{
				Name:        "weight-decay",
				Aliases:     []string{"wd"},
				Usage:       "weight decay",
				Value:       5e-4,
				Destination: &opts.weightDecay,
			},
			&cli.Int64Flag{
				Name:        "print-freq",
				Aliases:     []string{"p"},
				Usage:       "print frequency in batches",
				Value:       40,
				Destination: &opts.printFreq,
			},
			&cli.StringFlag{
				Name:        "resume",
				Usage:       "path to latest checkpoint",
				Destination: &opts.resume,
			},
			&cli.StringFlag{
				Name:        "pretrained",
				Usage:       "finetune from a pre-trained checkpoint",
				Destination: &opts.pretrained,
			},
			&cli.StringFlag{
				Name:        "prefix",
				Usage:       "checkpoint filename prefix",
				Destination: &opts.prefix,
			},
			&cli.BoolFlag{
				Name:        "evaluate",
				Aliases:     []string{"e"},
				Usage:       "evaluate model on validation set",
				Destination: &opts.evaluate,
			},
			&cli.BoolFlag{
				Name:        "float-bn",
				Usage:       "keep batch normalization layers in floating point",
				Destination: &opts.floatBN,
			},
			&cli.BoolFlag{
				Name:        "fix-grad",
				Usage:       "quantize the gradients",
				Destination: &opts.fixGrad,
			},
			&cli.Int64Flag{
				Name:        "range-method",
				Usage:       "range method of data (parameters, buffers, activations): 0 max, 1 three-sigma, 3 sweep",
				Destination: &opts.rangeMethod,
			},
			&cli.Int64Flag{
				Name:        "grad-range-method",
				Usage:       "range method of gradients: 0 max, 1 three-sigma, 3 sweep",
				Destination: &opts.gradRangeMethod,
			},
			&cli.Int64Flag{
				Name:        "bitwidth-data",
				Usage:       "bitwidth of parameters/buffers/activations",
				Value:       8,
				Destination: &opts.bitwidthData,
			},
			&cli.Int64Flag{
				Name:        "bitwidth-grad",
				Usage:       "bitwidth of gradients of parameters/activations",
				Value:       16,
				Destination: &opts.bitwidthGrad,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "shuffle and augmentation seed",
				Value:       1,
				Destination: &opts.seed,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			applyConfig(cmd, cfg, &opts)
			return run(&opts)
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
