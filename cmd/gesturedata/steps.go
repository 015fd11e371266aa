// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gestures/pkg/config"
	"github.com/gomlx/gestures/pkg/dataset"
	"github.com/gomlx/gestures/pkg/dataset/generator"
	"github.com/gomlx/gestures/pkg/dataset/split"
	"github.com/gomlx/gestures/pkg/deploy"
	"github.com/gomlx/gestures/pkg/report"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

func preGenerate(cfg config.Configuration, assignment *split.Assignment) {
	start := time.Now()
	must.M(generator.PreGenerate(cfg, assignment, *flagPreGen, *flagPreGenPasses, true))
	klog.Infof("Pre-generated %d passes in %s", *flagPreGenPasses, time.Since(start).Round(time.Second))
}

// benchmark generates numBatches training batches and reports the throughput.
func benchmark(cfg config.Configuration, assignment *split.Assignment, numBatches int) {
	trainDS, validationDS, err := generator.CreateDatasets(cfg, assignment, *flagPreGen, false)
	if err != nil {
		klog.Exitf("Failed to create datasets: %+v", err)
	}
	defer func() {
		for _, ds := range []generator.Dataset{trainDS, validationDS} {
			if pd, ok := ds.(*generator.ParallelDataset); ok {
				pd.Done()
			}
			if pg, ok := ds.(*generator.PreGenerated); ok {
				_ = pg.Close()
			}
		}
	}()

	start := time.Now()
	var numImages int
	for range numBatches {
		batch := must.M1(trainDS.Yield())
		numImages += batch.Size()
	}
	elapsed := time.Since(start)
	fmt.Printf("%s: %s batches, %s images in %s (%.1f images/s)\n", trainDS.Name(),
		humanize.Comma(int64(numBatches)), humanize.Comma(int64(numImages)), elapsed.Round(time.Millisecond),
		float64(numImages)/elapsed.Seconds())
}

func deployModel(cfg config.Configuration, tables *report.Tables) {
	labels := must.M1(loadLabels(cfg))
	mc := must.M1(deploy.LoadModelConfig(cfg.ModelDir))
	meta := must.M1(deploy.NewMetadata(cfg, labels, mc))
	result, err := deploy.Deploy(cfg.ModelDir, cfg.AssetsDir, meta)
	if err != nil {
		klog.Exitf("Failed to deploy: %+v", err)
	}
	fmt.Println(tables.Sizes(fmt.Sprintf("Deployed to %s (build %s)", result.AssetsDir, meta.BuildID),
		result.Files, result.Sizes))
}

// loadLabels from the dataset, if available, so Deploy can check they match the labels the model was
// trained with. Otherwise, the labels file is used.
func loadLabels(cfg config.Configuration) (*dataset.LabelMap, error) {
	tree, err := dataset.Scan(cfg.DatasetDir())
	if err == nil {
		return tree.Labels(), nil
	}
	klog.Warningf("Dataset not available (%v), using the labels in %q", err, cfg.LabelsPath())
	return dataset.LoadLabelMap(cfg.LabelsPath())
}
