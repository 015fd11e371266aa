// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package deploy copies the trained model artifacts into the application assets directory, along with
// the metadata the application needs to feed the model: input shape, labels and preprocessing.
package deploy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gestures/pkg/config"
	"github.com/gomlx/gestures/pkg/dataset"
	"github.com/gomlx/gestures/pkg/support/fsutil"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// MetadataFile is written to the assets directory.
	MetadataFile = "metadata.json"

	// ModelConfigFile is optionally written by the training next to the model.
	ModelConfigFile = "model_config.json"

	// LabelsFile holds the label map, see dataset.LabelMap.
	LabelsFile = "labels.json"

	// ModelExt is the extension of the model files deployed.
	ModelExt = ".tflite"
)

// Defaults of the metadata.
var (
	ModelName    = "ISL Gesture Recognition"
	ModelVersion = "1.0"
)

// ModelConfig is the summary of a training run, saved in ModelConfigFile. All fields are optional.
type ModelConfig struct {
	ImageSize        []int     `json:"img_size,omitempty"`
	NumClasses       int       `json:"num_classes,omitempty"`
	ClassNames       []string  `json:"class_names,omitempty"`
	TrainedOn        time.Time `json:"trained_on,omitzero"`
	EpochsTrained    int       `json:"epochs_trained,omitempty"`
	FinalAccuracy    float64   `json:"final_accuracy,omitempty"`
	FinalValAccuracy float64   `json:"final_val_accuracy,omitempty"`
}

// LoadModelConfig reads ModelConfigFile from modelDir. It returns nil, without error, if it doesn't exist.
func LoadModelConfig(modelDir string) (*ModelConfig, error) {
	filePath := filepath.Join(modelDir, ModelConfigFile)
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to read %q", filePath)
	}
	mc := &ModelConfig{}
	if err = json.Unmarshal(data, mc); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %q", filePath)
	}
	return mc, nil
}

// Preprocessing the application must apply to camera frames before feeding the model.
type Preprocessing struct {
	Rescale   string `json:"rescale"`
	Resize    []int  `json:"resize"`
	ColorMode string `json:"color_mode"`
}

// Usage describes the model input and output.
type Usage struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// Metadata written to MetadataFile.
type Metadata struct {
	ModelName     string            `json:"model_name"`
	ModelVersion  string            `json:"model_version"`
	ModelFile     string            `json:"model_file"`
	InputShape    []int             `json:"input_shape"`
	NumClasses    int               `json:"num_classes"`
	Labels        *dataset.LabelMap `json:"labels"`
	Preprocessing Preprocessing     `json:"preprocessing"`
	Usage         Usage             `json:"usage"`
	BuildID       string            `json:"build_id"`
	CreatedAt     time.Time         `json:"created_at"`
	TrainedOn     *time.Time        `json:"trained_on,omitempty"`
	ValAccuracy   float64           `json:"final_val_accuracy,omitempty"`
}

// NewMetadata creates the metadata of a model trained with the configuration cfg on the given labels.
// If mc is not nil, its image size and training results take precedence over cfg.
//
// It returns an error if mc disagrees with the labels.
func NewMetadata(cfg config.Configuration, labels *dataset.LabelMap, mc *ModelConfig) (*Metadata, error) {
	height, width := cfg.ImageSize, cfg.ImageSize
	meta := &Metadata{
		ModelName:    ModelName,
		ModelVersion: ModelVersion,
		NumClasses:   labels.Len(),
		Labels:       labels,
		BuildID:      uuid.NewString(),
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}
	if mc != nil {
		if len(mc.ImageSize) == 2 {
			height, width = mc.ImageSize[0], mc.ImageSize[1]
		}
		if mc.NumClasses != 0 && mc.NumClasses != labels.Len() {
			return nil, errors.Errorf("model was trained with %d classes, but there are %d labels", mc.NumClasses, labels.Len())
		}
		if len(mc.ClassNames) > 0 && !slices.Equal(mc.ClassNames, labels.Labels()) {
			return nil, errors.Errorf("model was trained with classes %q, but labels are %q", mc.ClassNames, labels.Labels())
		}
		if !mc.TrainedOn.IsZero() {
			trainedOn := mc.TrainedOn
			meta.TrainedOn = &trainedOn
		}
		meta.ValAccuracy = mc.FinalValAccuracy
	}
	meta.InputShape = []int{height, width, 3}
	meta.Preprocessing = Preprocessing{
		Rescale:   "1/255",
		Resize:    []int{height, width},
		ColorMode: "RGB",
	}
	meta.Usage = Usage{
		Input:  fmt.Sprintf("Image tensor of shape [1, %d, %d, 3] with values in range [0, 1]", height, width),
		Output: fmt.Sprintf("Probability distribution over the %d gesture classes, in label index order", labels.Len()),
	}
	return meta, nil
}

// Save the metadata as indented JSON.
func (m *Metadata) Save(filePath string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode model metadata")
	}
	data = append(data, '\n')
	return errors.Wrapf(os.WriteFile(filePath, data, 0644), "failed to write model metadata to %q", filePath)
}

// Result lists the files deployed, and their sizes.
type Result struct {
	AssetsDir string
	Files     []string
	Sizes     []int64
}

// TotalSize of the deployed files.
func (r *Result) TotalSize() int64 {
	var total int64
	for _, size := range r.Sizes {
		total += size
	}
	return total
}

// FindModels returns the model files in modelDir, sorted. The unquantized model, if any, comes first.
func FindModels(modelDir string) ([]string, error) {
	entries, err := os.ReadDir(modelDir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list model directory %q", modelDir)
	}
	var models []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.EqualFold(filepath.Ext(entry.Name()), ModelExt) {
			models = append(models, entry.Name())
		}
	}
	slices.SortStableFunc(models, func(a, b string) int {
		aQuantized, bQuantized := strings.Contains(a, "quantized"), strings.Contains(b, "quantized")
		switch {
		case aQuantized == bQuantized:
			return strings.Compare(a, b)
		case aQuantized:
			return 1
		default:
			return -1
		}
	})
	return models, nil
}

// Deploy copies the model files and the labels from modelDir into assetsDir (created if needed), and
// writes the metadata there. meta.ModelFile is set to the main model file.
func Deploy(modelDir, assetsDir string, meta *Metadata) (*Result, error) {
	models, err := FindModels(modelDir)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, errors.Errorf("no %s model found in %q, train and convert the model first", ModelExt, modelDir)
	}
	labelsPath := filepath.Join(modelDir, LabelsFile)
	if !fsutil.MustFileExists(labelsPath) {
		return nil, errors.Errorf("labels file %q not found", labelsPath)
	}
	savedLabels, err := dataset.LoadLabelMap(labelsPath)
	if err != nil {
		return nil, err
	}
	if !savedLabels.Equal(meta.Labels) {
		return nil, errors.Errorf("labels in %q differ from the dataset labels", labelsPath)
	}
	if err = os.MkdirAll(assetsDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create assets directory %q", assetsDir)
	}

	result := &Result{AssetsDir: assetsDir}
	for _, name := range append(models, LabelsFile) {
		size, err := fsutil.CopyFile(filepath.Join(modelDir, name), filepath.Join(assetsDir, name))
		if err != nil {
			return nil, err
		}
		result.Files = append(result.Files, name)
		result.Sizes = append(result.Sizes, size)
		klog.V(1).Infof("deployed %s (%s)", name, humanize.IBytes(uint64(size)))
	}

	meta.ModelFile = models[0]
	metadataPath := filepath.Join(assetsDir, MetadataFile)
	if err = meta.Save(metadataPath); err != nil {
		return nil, err
	}
	info, err := os.Stat(metadataPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat %q", metadataPath)
	}
	result.Files = append(result.Files, MetadataFile)
	result.Sizes = append(result.Sizes, info.Size())
	klog.Infof("deployed %d files (%s) to %q, build id %s", len(result.Files),
		humanize.IBytes(uint64(result.TotalSize())), assetsDir, meta.BuildID)
	return result, nil
}
