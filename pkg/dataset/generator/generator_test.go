// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package generator

import (
	"bytes"
	"image"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gestures/pkg/config"
	"github.com/gomlx/gestures/pkg/core/tensors"
	timage "github.com/gomlx/gestures/pkg/core/tensors/images"
	"github.com/gomlx/gestures/pkg/dataset"
	"github.com/gomlx/gestures/pkg/dataset/augment"
	"github.com/gomlx/gestures/pkg/dataset/datasettest"
	"github.com/gomlx/gestures/pkg/dataset/split"
	"github.com/gomlx/gestures/pkg/dataset/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSize = 4

var testAugmentation = augment.Spec{
	RotationRange:    20,
	WidthShiftRange:  0.2,
	HeightShiftRange: 0.2,
	ZoomRange:        0.2,
	HorizontalFlip:   true,
}

// setup creates a cleaned dataset of 3 classes (9, 10 and 10 valid images), split with fraction 0.2.
func setup(t *testing.T) *split.Assignment {
	root := datasettest.Build(t,
		datasettest.Class{Label: "A", Valid: 9, Corrupt: 1},
		datasettest.Class{Label: "B", Valid: 10},
		datasettest.Class{Label: "C", Valid: 10})
	_, err := validator.Validate(root)
	require.NoError(t, err)
	tree, err := dataset.Scan(root)
	require.NoError(t, err)
	assignment, err := split.Assign(tree, 0.2, 42)
	require.NoError(t, err)
	return assignment
}

func newTestDescriptor(t *testing.T, labels *dataset.LabelMap, batchSize int) *BatchDescriptor {
	desc, err := NewBatchDescriptor(testSize, testSize, batchSize, labels, testAugmentation)
	require.NoError(t, err)
	return desc
}

func newTestGenerator(t *testing.T, assignment *split.Assignment, subset split.Subset, batchSize int, options ...Option) *Generator {
	g, err := New(subset.String(), assignment, subset, newTestDescriptor(t, assignment.Labels(), batchSize), options...)
	require.NoError(t, err)
	return g
}

// checkBatch verifies shapes, one-hot labels and that every image has the color of its class.
func checkBatch(t *testing.T, batch *Batch, numClasses int) {
	n := batch.Size()
	require.Equal(t, []int{n, testSize, testSize, 3}, batch.Images.Dims())
	require.Equal(t, []int{n, numClasses}, batch.Labels.Dims())
	assert.Equal(t, batch.LabelIndices, tensors.ArgMax(batch.Labels))
	values := tensors.ToFloat64s(batch.Images)
	imageSize := testSize * testSize * 3
	for ii, labelIdx := range batch.LabelIndices {
		wantRed := float64(datasettest.Color(labelIdx, 0, 0).R) / 255
		for pixel := 0; pixel < testSize*testSize; pixel++ {
			require.InDeltaf(t, wantRed, values[ii*imageSize+3*pixel], 1e-3, "example %d, pixel %d", ii, pixel)
		}
	}
}

func TestBatchDescriptor(t *testing.T) {
	labels, err := dataset.NewLabelMap([]string{"A", "B"})
	require.NoError(t, err)
	desc, err := NewBatchDescriptor(64, 32, 8, labels, testAugmentation)
	require.NoError(t, err)
	assert.Equal(t, 64, desc.Width())
	assert.Equal(t, 32, desc.Height())
	assert.Equal(t, 8, desc.BatchSize())
	assert.Equal(t, 2, desc.NumClasses())
	assert.Equal(t, testAugmentation, desc.Augmentation())

	_, err = NewBatchDescriptor(0, 32, 8, labels, augment.Spec{})
	assert.Error(t, err)
	_, err = NewBatchDescriptor(64, 32, 0, labels, augment.Spec{})
	assert.Error(t, err)
	_, err = NewBatchDescriptor(64, 32, 8, labels, augment.Spec{ZoomRange: 3})
	assert.Error(t, err)
	empty, _ := dataset.NewLabelMap(nil)
	_, err = NewBatchDescriptor(64, 32, 8, empty, augment.Spec{})
	assert.Error(t, err)
}

func TestValidationGenerator(t *testing.T) {
	assignment := setup(t)
	g := newTestGenerator(t, assignment, split.Validation, 2)
	assert.Equal(t, 5, g.NumSamples())
	assert.Equal(t, 3, g.BatchesPerPass())
	assert.False(t, g.IsInfinite())
	assert.Equal(t, []string{"A", "B", "C"}, g.Labels().Labels())

	var paths []string
	var sizes []int
	for {
		batch, err := g.Yield()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		checkBatch(t, batch, 3)
		assert.Equal(t, 0, batch.Pass)
		sizes = append(sizes, batch.Size())
		paths = append(paths, batch.Paths...)
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)
	var want []string
	for _, record := range assignment.Records(split.Validation) {
		want = append(want, record.Path)
	}
	assert.Equal(t, want, paths, "validation order is fixed: class, then path")

	// Remains exhausted until Reset.
	_, err := g.Yield()
	assert.Equal(t, io.EOF, err)
	g.Reset()
	batch, err := g.Yield()
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Pass)
	assert.Equal(t, want[:2], batch.Paths)
}

func TestTrainingGenerator(t *testing.T) {
	assignment := setup(t)
	g := newTestGenerator(t, assignment, split.Training, 5, WithSeed(3), WithParallelism(2))
	assert.True(t, g.IsInfinite())
	assert.Equal(t, 24, g.NumSamples())
	assert.Equal(t, 5, g.BatchesPerPass())

	passes := make([][]string, 3)
	for range 3 * g.BatchesPerPass() {
		batch, err := g.Yield()
		require.NoError(t, err)
		checkBatch(t, batch, 3)
		passes[batch.Pass] = append(passes[batch.Pass], batch.Paths...)
	}
	var want []string
	for _, record := range assignment.Records(split.Training) {
		want = append(want, record.Path)
	}
	for pass, paths := range passes {
		require.Lenf(t, paths, 24, "pass %d", pass)
		sorted := slices.Clone(paths)
		slices.Sort(sorted)
		sortedWant := slices.Clone(want)
		slices.Sort(sortedWant)
		assert.Equalf(t, sortedWant, sorted, "pass %d must yield every training image exactly once", pass)
	}
	assert.NotEqual(t, passes[0], passes[1], "training is reshuffled at every pass")

	// Same seed, same order.
	other := newTestGenerator(t, assignment, split.Training, 24, WithSeed(3))
	batch, err := other.Yield()
	require.NoError(t, err)
	assert.Equal(t, passes[0], batch.Paths)
}

func TestFiniteTraining(t *testing.T) {
	assignment := setup(t)
	g := newTestGenerator(t, assignment, split.Training, 10, WithInfinite(false))
	var count int
	for {
		batch, err := g.Yield()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		count += batch.Size()
	}
	assert.Equal(t, 24, count)
}

func TestGeneratorDTypes(t *testing.T) {
	assignment := setup(t)
	for _, dtype := range []tensors.DType{tensors.Float64, tensors.Float16} {
		g := newTestGenerator(t, assignment, split.Validation, 5, WithDType(dtype),
			WithInterpolation(imaging.Lanczos), WithKeepAspectRatio(true))
		batch, err := g.Yield()
		require.NoError(t, err)
		assert.Equal(t, dtype, batch.Images.DType())
		assert.Equal(t, dtype, batch.Labels.DType())
		assert.Equal(t, []int{5, testSize, testSize, 3}, batch.Images.Dims())
	}
	desc, err := NewBatchDescriptor(testSize, testSize, 5, assignment.Labels(), augment.Spec{})
	require.NoError(t, err)
	_, err = New("invalid", assignment, split.Validation, desc, WithDType(tensors.InvalidDType))
	assert.Error(t, err)
}

func TestNewErrors(t *testing.T) {
	assignment := setup(t)
	labels, err := dataset.NewLabelMap([]string{"A", "B"})
	require.NoError(t, err)
	desc, err := NewBatchDescriptor(testSize, testSize, 5, labels, augment.Spec{})
	require.NoError(t, err)
	_, err = New("mismatch", assignment, split.Validation, desc)
	assert.Error(t, err)
}

func TestResizeWithPadding(t *testing.T) {
	img := imaging.New(8, 4, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	resized := ResizeWithPadding(img, 4, 4, imaging.NearestNeighbor)
	require.Equal(t, image.Pt(4, 4), resized.Bounds().Size())
	at := func(x, y int) color.NRGBA {
		return color.NRGBAModel.Convert(resized.At(x, y)).(color.NRGBA)
	}
	for x := range 4 {
		assert.Equal(t, uint8(0), at(x, 0).R)
		assert.Equal(t, uint8(255), at(x, 1).R)
		assert.Equal(t, uint8(255), at(x, 2).R)
		assert.Equal(t, uint8(0), at(x, 3).R)
	}
}

func TestParallel(t *testing.T) {
	assignment := setup(t)
	g := newTestGenerator(t, assignment, split.Training, 3, WithInfinite(false))
	pd := Parallel(g, 3, 2)
	defer pd.Done()
	assert.Equal(t, g.Name(), pd.Name())
	for pass := range 2 {
		var paths []string
		for {
			batch, err := pd.Yield()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			checkBatch(t, batch, 3)
			paths = append(paths, batch.Paths...)
		}
		assert.Lenf(t, paths, 24, "pass %d", pass)
		slices.Sort(paths)
		assert.Len(t, slices.Compact(paths), 24)
		pd.Reset()
	}
}

func TestPreGenerated(t *testing.T) {
	assignment := setup(t)
	g := newTestGenerator(t, assignment, split.Training, 7, WithInfinite(false))
	filePath := filepath.Join(t.TempDir(), "train.bin")
	require.NoError(t, g.SaveFile(filePath, 2, false))

	records := assignment.Records(split.Training)
	pg, err := NewPreGenerated("pregen", filePath, newTestDescriptor(t, assignment.Labels(), 5), records, false, tensors.Float32)
	require.NoError(t, err)
	defer func() { _ = pg.Close() }()
	assert.Equal(t, 24, pg.NumSamples())
	assert.Equal(t, 2, pg.NumPasses())
	assert.Equal(t, testSize, pg.Width())
	assert.Equal(t, testSize, pg.Height())

	for pass := range 3 {
		var sizes []int
		for {
			batch, err := pg.Yield()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			checkBatch(t, batch, 3)
			assert.Equal(t, pass, batch.Pass)
			sizes = append(sizes, batch.Size())
		}
		assert.Equal(t, []int{5, 5, 5, 5, 4}, sizes)
		pg.Reset()
	}

	// Infinite: loops over the file.
	infinite, err := NewPreGenerated("pregen", filePath, newTestDescriptor(t, assignment.Labels(), 24), records, true, tensors.Float64)
	require.NoError(t, err)
	for pass := range 5 {
		batch, err := infinite.Yield()
		require.NoError(t, err)
		assert.Equal(t, 24, batch.Size())
		assert.Equal(t, pass, batch.Pass)
	}
	require.NoError(t, infinite.Close())

	// Infinite generators can't be saved.
	assert.Error(t, newTestGenerator(t, assignment, split.Training, 7).SaveFile(filepath.Join(t.TempDir(), "x.bin"), 1, false))
}

func TestCreateDatasets(t *testing.T) {
	assignment := setup(t)
	cfg := config.Default()
	cfg.ImageSize = testSize
	cfg.BatchSize = 5
	cfg.Parallelism = 2

	trainDS, validationDS, err := CreateDatasets(cfg, assignment, "", false)
	require.NoError(t, err)
	require.IsType(t, &ParallelDataset{}, trainDS)
	defer trainDS.(*ParallelDataset).Done()
	defer validationDS.(*ParallelDataset).Done()
	batch, err := trainDS.Yield()
	require.NoError(t, err)
	checkBatch(t, batch, 3)
	var count int
	for {
		batch, err = validationDS.Yield()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		count += batch.Size()
	}
	assert.Equal(t, 5, count)

	// Pre-generated files take precedence, unless forceOriginal.
	preGenDir := filepath.Join(t.TempDir(), "pregen")
	require.NoError(t, PreGenerate(cfg, assignment, preGenDir, 2, false))
	assert.FileExists(t, filepath.Join(preGenDir, PreGeneratedTrainFileName))
	assert.FileExists(t, filepath.Join(preGenDir, PreGeneratedValidationFileName))
	trainDS, validationDS, err = CreateDatasets(cfg, assignment, preGenDir, false)
	require.NoError(t, err)
	require.IsType(t, &PreGenerated{}, trainDS)
	require.IsType(t, &PreGenerated{}, validationDS)
	assert.Equal(t, 24, trainDS.(*PreGenerated).NumSamples())
	assert.Equal(t, 2, trainDS.(*PreGenerated).NumPasses())
	assert.Equal(t, 1, validationDS.(*PreGenerated).NumPasses())
	batch, err = trainDS.Yield()
	require.NoError(t, err)
	checkBatch(t, batch, 3)
	require.NoError(t, trainDS.(*PreGenerated).Close())
	require.NoError(t, validationDS.(*PreGenerated).Close())

	cfg.Parallelism = 0
	trainDS, _, err = CreateDatasets(cfg, assignment, preGenDir, true)
	require.NoError(t, err)
	require.IsType(t, &Generator{}, trainDS)
	assert.True(t, trainDS.(*Generator).IsInfinite())
}

// plainValues returns the image at path resized to the batch resolution and rescaled, without augmentation.
func plainValues(t *testing.T, path string) []float64 {
	img, err := dataset.DecodeImage(path)
	require.NoError(t, err)
	img = imaging.Resize(img, testSize, testSize, imaging.NearestNeighbor)
	return tensors.ToFloat64s(timage.ToTensor(tensors.Float32).Single(img))
}

// valuesByPath splits the images of the batch, indexed by their paths.
func valuesByPath(t *testing.T, batch *Batch) map[string][]float64 {
	values := tensors.ToFloat64s(batch.Images)
	imageSize := testSize * testSize * 3
	require.Len(t, values, batch.Size()*imageSize)
	byPath := make(map[string][]float64, batch.Size())
	for ii, path := range batch.Paths {
		byPath[path] = values[ii*imageSize : (ii+1)*imageSize]
	}
	return byPath
}

func equalValues(a, b []float64) bool {
	return slices.EqualFunc(a, b, func(x, y float64) bool { return math.Abs(x-y) < 1e-6 })
}

func TestAugmentation(t *testing.T) {
	assignment := setup(t)

	// Validation images are only resized and rescaled.
	validation := newTestGenerator(t, assignment, split.Validation, 5)
	batch, err := validation.Yield()
	require.NoError(t, err)
	require.Equal(t, 5, batch.Size())
	for path, values := range valuesByPath(t, batch) {
		assert.InDeltaSlicef(t, plainValues(t, path), values, 1e-6, "validation image %q", path)
	}

	// Training without augmentation configured.
	desc, err := NewBatchDescriptor(testSize, testSize, 24, assignment.Labels(), augment.Spec{})
	require.NoError(t, err)
	plain, err := New("plain", assignment, split.Training, desc, WithInfinite(false))
	require.NoError(t, err)
	batch, err = plain.Yield()
	require.NoError(t, err)
	require.Equal(t, 24, batch.Size())
	for path, values := range valuesByPath(t, batch) {
		assert.InDeltaSlicef(t, plainValues(t, path), values, 1e-6, "training image %q", path)
	}

	// Training images are transformed, with new random parameters at every pass.
	g := newTestGenerator(t, assignment, split.Training, 24, WithInfinite(false), WithSeed(5))
	batch, err = g.Yield()
	require.NoError(t, err)
	checkBatch(t, batch, 3)
	pass0 := valuesByPath(t, batch)
	g.Reset()
	batch, err = g.Yield()
	require.NoError(t, err)
	require.Equal(t, 1, batch.Pass)
	pass1 := valuesByPath(t, batch)
	require.Len(t, pass1, len(pass0))
	var augmented, changed int
	for path, values := range pass0 {
		if !equalValues(values, plainValues(t, path)) {
			augmented++
		}
		if !equalValues(values, pass1[path]) {
			changed++
		}
	}
	assert.Greater(t, augmented, 0, "training images should be augmented")
	assert.Greater(t, changed, 0, "augmentation should change between passes")

	// Same seed, same transformations.
	other := newTestGenerator(t, assignment, split.Training, 24, WithInfinite(false), WithSeed(5))
	batch, err = other.Yield()
	require.NoError(t, err)
	for path, values := range valuesByPath(t, batch) {
		assert.InDeltaSlicef(t, pass0[path], values, 1e-6, "training image %q", path)
	}
}

func TestPreGeneratedStale(t *testing.T) {
	assignment := setup(t)
	cfg := config.Default()
	cfg.ImageSize = testSize
	cfg.BatchSize = 5
	cfg.Parallelism = 0
	dir := t.TempDir()
	require.NoError(t, PreGenerate(cfg, assignment, dir, 1, false))
	filePath := filepath.Join(dir, PreGeneratedTrainFileName)
	labels := assignment.Labels()
	records := assignment.Records(split.Training)
	desc := newTestDescriptor(t, labels, 5)

	pg, err := NewPreGenerated("train", filePath, desc, records, false, tensors.Float32)
	require.NoError(t, err)
	require.NoError(t, pg.Close())

	// Other resolution.
	bigger, err := NewBatchDescriptor(2*testSize, 2*testSize, 5, labels, augment.Spec{})
	require.NoError(t, err)
	_, err = NewPreGenerated("train", filePath, bigger, records, false, tensors.Float32)
	require.ErrorIs(t, err, ErrStalePreGenerated)

	// Other number of images.
	_, err = NewPreGenerated("train", filePath, desc, records[1:], false, tensors.Float32)
	require.ErrorIs(t, err, ErrStalePreGenerated)

	// Same number of images, but a different file.
	renamed := slices.Clone(records)
	renamed[0].Path = filepath.Join(filepath.Dir(renamed[0].Path), "img_999.png")
	_, err = NewPreGenerated("train", filePath, desc, renamed, false, tensors.Float32)
	require.ErrorIs(t, err, ErrStalePreGenerated)

	// Other labels.
	fewer, err := dataset.NewLabelMap([]string{"A", "B"})
	require.NoError(t, err)
	_, err = NewPreGenerated("train", filePath, newTestDescriptor(t, fewer, 5), records, false, tensors.Float32)
	require.ErrorIs(t, err, ErrStalePreGenerated)

	// Not a pre-generated file.
	otherPath := filepath.Join(dir, "other.bin")
	require.NoError(t, os.WriteFile(otherPath, bytes.Repeat([]byte{1}, 64), 0644))
	_, err = NewPreGenerated("train", otherPath, desc, records, false, tensors.Float32)
	require.ErrorIs(t, err, ErrStalePreGenerated)

	// CreateDatasets generates images on the fly instead.
	cfg.ImageSize = 2 * testSize
	trainDS, validationDS, err := CreateDatasets(cfg, assignment, dir, false)
	require.NoError(t, err)
	require.IsType(t, &Generator{}, trainDS)
	require.IsType(t, &Generator{}, validationDS)
	batch, err := trainDS.Yield()
	require.NoError(t, err)
	assert.Equal(t, []int{5, 2 * testSize, 2 * testSize, 3}, batch.Images.Dims())
}
