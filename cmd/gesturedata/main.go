// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// gesturedata prepares the sign gesture images dataset for training, and deploys the trained model to the
// mobile application. Each flag enables one step, and the steps run in the pipeline order:
//
//  1. --download: downloads and extracts the Kaggle dataset (see --kaggle_dataset) into --data.
//  2. --clean: decodes every image, and removes (or moves to --quarantine) the ones that fail.
//  3. --split: assigns each image to the training or validation subset, and saves the labels file in --model_dir.
//     It's implied by --report, --chart, --manifest, --pregen and --benchmark.
//  4. --report, --chart and --manifest: summary tables, class distribution chart and list of images.
//  5. --pregen: pre-generates resized and augmented images, to speed up training.
//  6. --benchmark: measures how fast batches are generated.
//  7. --deploy: copies the converted model, labels and metadata to the application assets (--assets).
//
// The pipeline configuration is selected with --preset, and individual parameters can be overridden with --set.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"slices"

	"github.com/gomlx/gestures/pkg/config"
	"github.com/gomlx/gestures/pkg/dataset"
	"github.com/gomlx/gestures/pkg/dataset/split"
	"github.com/gomlx/gestures/pkg/dataset/validator"
	"github.com/gomlx/gestures/pkg/kaggle"
	"github.com/gomlx/gestures/pkg/report"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagPreset   = flag.String("preset", "standard", fmt.Sprintf("Configuration preset, one of %q.", config.PresetNames()))
	flagDataDir  = flag.String("data", "", "Directory where the dataset is downloaded to. If set, it overrides the data_dir parameter.")
	flagModelDir = flag.String("model_dir", "", "Directory with the trained model artifacts. If set, it overrides the model_dir parameter.")
	flagAssets   = flag.String("assets", "", "Application models assets directory. If set, it overrides the assets_dir parameter.")

	flagDownload      = flag.Bool("download", false, "Download and extract the dataset from Kaggle, if not yet present.")
	flagKaggleDataset = flag.String("kaggle_dataset", kaggle.DefaultDataset, "Kaggle dataset to download, in the form <owner>/<name>.")

	flagClean      = flag.Bool("clean", false, "Remove images that fail to decode.")
	flagDryRun     = flag.Bool("dry_run", false, "With --clean, only report the images that fail to decode.")
	flagQuarantine = flag.String("quarantine", "", "With --clean, move the images that fail to decode to this directory, instead of deleting them.")

	flagSplit    = flag.Bool("split", false, "Split the dataset into training and validation, and save the labels file.")
	flagReport   = flag.Bool("report", false, "Display the configuration and the dataset split.")
	flagChart    = flag.String("chart", "", "Save a chart with the number of images per class to this file (.png, .svg or .pdf).")
	flagManifest = flag.String("manifest", "", "Save the list of images, with their label and subset, to this CSV file.")

	flagPreGen       = flag.String("pregen", "", "Directory where to pre-generate resized and augmented images.")
	flagPreGenPasses = flag.Int("pregen_passes", 10, "Number of passes over the training images to pre-generate, each one with different augmentations.")
	flagBenchmark    = flag.Int("benchmark", 0, "Number of training batches to generate to measure throughput. Uses the --pregen files if present.")

	flagDeploy = flag.Bool("deploy", false, "Deploy the model from --model_dir to --assets, along with its metadata.")
)

func main() {
	klog.InitFlags(nil)
	settings := config.CreateSettingsFlag(config.Default(), "set")
	flag.Parse()
	if flag.NArg() > 0 {
		klog.Errorf("Unexpected arguments %q. See 'gesturedata -help'.", flag.Args())
		os.Exit(1)
	}
	cfg, paramsSet, err := buildConfig(*flagPreset, *flagDataDir, *flagModelDir, *flagAssets, *settings)
	if err != nil {
		klog.Exitf("%+v", err)
	}
	if klog.V(1).Enabled() && len(paramsSet) > 0 {
		klog.Infof("Parameters set:\n%s", cfg.SprintModified(paramsSet))
	}
	tables := report.NewTables(os.Stdout)
	if *flagReport {
		fmt.Println(tables.Configuration(cfg, paramsSet))
	}
	ctx := context.Background()

	if *flagDownload {
		download(ctx, cfg)
	}
	if *flagClean {
		clean(cfg, tables)
	}
	if *flagSplit || *flagReport || *flagChart != "" || *flagManifest != "" || *flagPreGen != "" || *flagBenchmark > 0 {
		assignment := splitDataset(cfg)
		if *flagReport {
			fmt.Println(tables.Split(assignment))
		}
		if *flagChart != "" {
			must.M(report.SaveClassDistribution(*flagChart, assignment))
			klog.Infof("Class distribution chart saved to %q", *flagChart)
		}
		if *flagManifest != "" {
			must.M(report.SaveManifest(*flagManifest, assignment))
			klog.Infof("Manifest saved to %q", *flagManifest)
		}
		if *flagPreGen != "" {
			preGenerate(cfg, assignment)
		}
		if *flagBenchmark > 0 {
			benchmark(cfg, assignment, *flagBenchmark)
		}
	}
	if *flagDeploy {
		deployModel(cfg, tables)
	}
}

// buildConfig starts from the preset, applies the path flags (dataDir, modelDir and assetsDir, if not empty)
// and then the settings, so settings take precedence. Finally, "~" is expanded in the paths.
// It also returns the names of the parameters set, in order.
func buildConfig(preset, dataDir, modelDir, assetsDir, settings string) (config.Configuration, []string, error) {
	cfg, err := config.FromPreset(preset)
	if err != nil {
		return cfg, nil, err
	}
	var paramsSet []string
	for _, path := range []struct{ name, value string }{
		{"data_dir", dataDir},
		{"model_dir", modelDir},
		{"assets_dir", assetsDir},
	} {
		if path.value == "" {
			continue
		}
		if cfg, err = cfg.With(path.name, path.value); err != nil {
			return cfg, nil, err
		}
		paramsSet = append(paramsSet, path.name)
	}
	cfg, settingsSet, err := cfg.ParseSettings(settings)
	if err != nil {
		return cfg, nil, errors.WithMessage(err, "invalid --set")
	}
	for _, name := range settingsSet {
		if !slices.Contains(paramsSet, name) {
			paramsSet = append(paramsSet, name)
		}
	}
	if cfg, err = cfg.ExpandPaths(); err != nil {
		return cfg, nil, err
	}
	if err = cfg.Validate(); err != nil {
		return cfg, nil, errors.WithMessage(err, "invalid configuration")
	}
	return cfg, paramsSet, nil
}

func download(ctx context.Context, cfg config.Configuration) {
	creds, err := kaggle.LoadCredentials()
	if err != nil {
		klog.Exitf("Kaggle credentials are needed to download the dataset: %v", err)
	}
	numFiles := must.M1(kaggle.Download(ctx, *flagKaggleDataset, cfg.DataDir, creds, true))
	if numFiles > 0 {
		klog.Infof("Extracted %d files to %q", numFiles, cfg.DataDir)
	}
}

func clean(cfg config.Configuration, tables *report.Tables) {
	options := []validator.Option{validator.WithProgressBar(true), validator.WithDryRun(*flagDryRun)}
	if *flagQuarantine != "" {
		options = append(options, validator.WithQuarantine(*flagQuarantine))
	}
	r, err := validator.Validate(cfg.DatasetDir(), options...)
	if r != nil {
		fmt.Println(tables.Validation(r))
		for _, failure := range r.Failures {
			klog.V(1).Infof("%v", failure)
		}
	}
	if err != nil {
		klog.Exitf("Failed to clean dataset: %+v", err)
	}
}

// splitDataset and save the labels file.
func splitDataset(cfg config.Configuration) *split.Assignment {
	tree, err := dataset.Scan(cfg.DatasetDir())
	if err != nil {
		if errors.Is(err, dataset.ErrRootNotFound) {
			klog.Exitf("%v: use --download to download the dataset, or --data to point to it", err)
		}
		klog.Exitf("%+v", err)
	}
	assignment := must.M1(split.Assign(tree, cfg.ValidationFraction, cfg.Seed))
	labelsPath := cfg.LabelsPath()
	must.M(assignment.Labels().Save(labelsPath))
	klog.Infof("%d training and %d validation images in %d classes, labels saved to %q",
		assignment.Count(split.Training), assignment.Count(split.Validation), assignment.Labels().Len(), labelsPath)
	return assignment
}
