// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package generator yields batches of preprocessed images and one-hot labels from one subset
// (training or validation) of a split dataset.
//
// Every image is decoded, resized to the configured resolution and rescaled to [0, 1]. Training images are
// also randomly augmented, with fresh random parameters each time they are yielded.
//
// A Generator follows the usual dataset contract: Yield returns the next batch, and Reset restarts it.
// Each pass goes over every image of the subset exactly once; the last batch of a pass may be smaller than
// the batch size. The training subset is reshuffled at the start of every pass, while the validation order
// is fixed (class index, then path).
package generator

import (
	"image"
	"image/color"
	"io"
	"math/rand"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gestures/internal/workerspool"
	"github.com/gomlx/gestures/pkg/core/tensors"
	timage "github.com/gomlx/gestures/pkg/core/tensors/images"
	"github.com/gomlx/gestures/pkg/dataset"
	"github.com/gomlx/gestures/pkg/dataset/augment"
	"github.com/gomlx/gestures/pkg/dataset/split"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BatchDescriptor is the immutable description of the batches: image resolution, batch size,
// the label ordering and the augmentation applied to training images.
type BatchDescriptor struct {
	width, height, batchSize int
	labels                   *dataset.LabelMap
	augmentation             augment.Spec
}

// NewBatchDescriptor validates and creates a BatchDescriptor.
func NewBatchDescriptor(width, height, batchSize int, labels *dataset.LabelMap, augmentation augment.Spec) (*BatchDescriptor, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid image size %dx%d", width, height)
	}
	if batchSize <= 0 {
		return nil, errors.Errorf("invalid batch size %d", batchSize)
	}
	if labels == nil || labels.Len() == 0 {
		return nil, errors.Wrap(dataset.ErrEmptyDataset, "no labels given")
	}
	if err := augmentation.Validate(); err != nil {
		return nil, err
	}
	return &BatchDescriptor{
		width:        width,
		height:       height,
		batchSize:    batchSize,
		labels:       labels,
		augmentation: augmentation,
	}, nil
}

// Width of the images, in pixels.
func (d *BatchDescriptor) Width() int { return d.width }

// Height of the images, in pixels.
func (d *BatchDescriptor) Height() int { return d.height }

// BatchSize is the maximum number of examples per batch.
func (d *BatchDescriptor) BatchSize() int { return d.batchSize }

// Labels returns the label ordering.
func (d *BatchDescriptor) Labels() *dataset.LabelMap { return d.labels }

// NumClasses is the size of the one-hot labels.
func (d *BatchDescriptor) NumClasses() int { return d.labels.Len() }

// Augmentation applied to training images.
func (d *BatchDescriptor) Augmentation() augment.Spec { return d.augmentation }

// Batch yielded by a Generator.
type Batch struct {
	// Images shaped [n, height, width, 3], with values in [0, 1].
	Images *tensors.Tensor

	// Labels one-hot encoded, shaped [n, numClasses].
	Labels *tensors.Tensor

	// LabelIndices of each example, in the label ordering.
	LabelIndices []int

	// Paths of the image files. Not available for pre-generated batches.
	Paths []string

	// Pass is the 0-based pass over the subset the examples belong to.
	Pass int
}

// Size returns the number of examples in the batch.
func (b *Batch) Size() int { return len(b.LabelIndices) }

// Option configures a Generator.
type Option func(g *Generator)

// WithInfinite configures whether the generator loops over the subset indefinitely (starting a new pass when
// one ends), or returns io.EOF at the end of each pass until Reset is called.
// The default is infinite for the training subset and finite for validation.
func WithInfinite(infinite bool) Option {
	return func(g *Generator) { g.infinite = infinite }
}

// WithDType sets the dtype of the yielded tensors. Default is tensors.Float32.
func WithDType(dtype tensors.DType) Option {
	return func(g *Generator) { g.dtype = dtype }
}

// WithInterpolation sets the resampling filter used to resize images. Default is imaging.NearestNeighbor.
func WithInterpolation(filter imaging.ResampleFilter) Option {
	return func(g *Generator) { g.filter = filter }
}

// WithKeepAspectRatio resizes images preserving their aspect ratio, padding the borders with black.
func WithKeepAspectRatio(keep bool) Option {
	return func(g *Generator) { g.keepAspectRatio = keep }
}

// WithSeed seeds the training shuffle and the augmentation.
func WithSeed(seed int64) Option {
	return func(g *Generator) { g.seed = seed }
}

// WithParallelism sets how many images of a batch are decoded and transformed concurrently.
// 0 (the default) uses the number of CPUs, 1 decodes them sequentially.
func WithParallelism(n int) Option {
	return func(g *Generator) { g.parallelism = n }
}

// Generator of batches for one subset of a split dataset. It is safe for concurrent use.
type Generator struct {
	name        string
	desc        *BatchDescriptor
	subset      split.Subset
	records     []dataset.ImageRecord
	labelIdx    []int
	augmenting  bool
	toTensor    *timage.ToTensorConfig
	pool        *workerspool.Pool
	parallelism int

	// Options.
	infinite        bool
	dtype           tensors.DType
	filter          imaging.ResampleFilter
	keepAspectRatio bool
	seed            int64

	// mu protects the fields below.
	mu      sync.Mutex
	order   []int
	pos     int
	pass    int
	shuffle *rand.Rand
	rng     *rand.Rand // Source of the per-example augmentation seeds.
}

// New creates a Generator of batches for the given subset of the assignment.
//
// It returns an error wrapping dataset.ErrEmptyDataset if the subset has no images.
func New(name string, assignment *split.Assignment, subset split.Subset, desc *BatchDescriptor, options ...Option) (*Generator, error) {
	if !assignment.Labels().Equal(desc.Labels()) {
		return nil, errors.Errorf("generator %q: batch descriptor labels %q don't match the split labels %q",
			name, desc.Labels().Labels(), assignment.Labels().Labels())
	}
	g := &Generator{
		name:       name,
		desc:       desc,
		subset:     subset,
		records:    assignment.Records(subset),
		augmenting: subset == split.Training && desc.augmentation.Enabled(),
		infinite:   subset == split.Training,
		dtype:      tensors.Float32,
		filter:     imaging.NearestNeighbor,
	}
	for _, option := range options {
		option(g)
	}
	if len(g.records) == 0 {
		return nil, errors.Wrapf(dataset.ErrEmptyDataset, "generator %q: no images in the %s subset", name, subset)
	}
	if g.dtype.Size() == 0 {
		return nil, errors.Errorf("generator %q: invalid dtype %s", name, g.dtype)
	}
	g.labelIdx = make([]int, len(g.records))
	for ii, record := range g.records {
		g.labelIdx[ii], _ = desc.labels.Index(record.Label)
	}
	g.toTensor = timage.ToTensor(g.dtype)
	if g.parallelism == 0 {
		g.pool = workerspool.New()
	} else {
		g.pool = workerspool.NewWithParallelism(g.parallelism)
	}
	g.shuffle = rand.New(rand.NewSource(g.seed))
	g.rng = rand.New(rand.NewSource(g.seed + 1))
	g.order = make([]int, len(g.records))
	g.shuffleOrder()
	klog.V(1).Infof("generator %q: %d %s images, %d classes, batch %d, %dx%d, augmentation=%v, infinite=%v",
		name, len(g.records), subset, desc.NumClasses(), desc.batchSize, desc.width, desc.height, g.augmenting, g.infinite)
	return g, nil
}

// Name of the generator.
func (g *Generator) Name() string { return g.name }

// Subset the generator yields from.
func (g *Generator) Subset() split.Subset { return g.subset }

// Descriptor returns the BatchDescriptor of the generator.
func (g *Generator) Descriptor() *BatchDescriptor { return g.desc }

// NumSamples returns the number of images in one pass.
func (g *Generator) NumSamples() int { return len(g.records) }

// Labels returns the label ordering, the one to persist along with the trained model.
func (g *Generator) Labels() *dataset.LabelMap { return g.desc.labels }

// BatchesPerPass returns the number of batches in one pass: ceil(NumSamples / BatchSize).
func (g *Generator) BatchesPerPass() int {
	return (len(g.records) + g.desc.batchSize - 1) / g.desc.batchSize
}

// IsInfinite returns whether the generator loops indefinitely.
func (g *Generator) IsInfinite() bool { return g.infinite }

// shuffleOrder resets the position and the order of the examples for a new pass.
// It must be called with g.mu locked.
func (g *Generator) shuffleOrder() {
	for ii := range g.order {
		g.order[ii] = ii
	}
	if g.subset == split.Training {
		g.shuffle.Shuffle(len(g.order), func(i, j int) {
			g.order[i], g.order[j] = g.order[j], g.order[i]
		})
	}
	g.pos = 0
}

// Reset restarts the generator at the start of a new pass: the position goes back to the first example,
// and the training subset is reshuffled. Use it after io.EOF is returned, for instance to run another
// evaluation over the validation subset.
func (g *Generator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pos == 0 {
		// Nothing consumed in the current pass.
		return
	}
	g.pass++
	g.shuffleOrder()
}

// example selected to be yielded.
type example struct {
	idx  int
	seed int64
}

// nextExamples selects the examples of the next batch, and their augmentation seeds.
func (g *Generator) nextExamples() ([]example, int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pos >= len(g.order) {
		if !g.infinite {
			return nil, 0, io.EOF
		}
		g.pass++
		g.shuffleOrder()
	}
	n := min(g.desc.batchSize, len(g.order)-g.pos)
	examples := make([]example, n)
	for ii := range examples {
		examples[ii].idx = g.order[g.pos+ii]
		if g.augmenting {
			examples[ii].seed = g.rng.Int63()
		}
	}
	g.pos += n
	return examples, g.pass, nil
}

// YieldImages returns the preprocessed (and augmented, for training) images of the next batch, before they
// are converted to tensors, along with their label indices and paths.
// It returns io.EOF at the end of a pass of a finite generator.
func (g *Generator) YieldImages() (images []image.Image, labelIndices []int, paths []string, pass int, err error) {
	var examples []example
	examples, pass, err = g.nextExamples()
	if err != nil {
		return
	}
	images = make([]image.Image, len(examples))
	labelIndices = make([]int, len(examples))
	paths = make([]string, len(examples))
	errs := make([]error, len(examples))
	g.pool.Map(len(examples), func(ii int) {
		ex := examples[ii]
		labelIndices[ii] = g.labelIdx[ex.idx]
		paths[ii] = g.records[ex.idx].Path
		images[ii], errs[ii] = g.loadImage(g.records[ex.idx].Path, ex.seed)
	})
	for _, e := range errs {
		if e != nil {
			err = errors.WithMessagef(e, "generator %q", g.name)
			return
		}
	}
	return
}

// Yield returns the next batch. It returns io.EOF at the end of a pass of a finite generator.
func (g *Generator) Yield() (*Batch, error) {
	images, labelIndices, paths, pass, err := g.YieldImages()
	if err != nil {
		return nil, err
	}
	return &Batch{
		Images:       g.toTensor.Batch(images),
		Labels:       tensors.OneHot(g.dtype, labelIndices, g.desc.NumClasses()),
		LabelIndices: labelIndices,
		Paths:        paths,
		Pass:         pass,
	}, nil
}

// loadImage decodes, resizes and, if augmenting, transforms the image at path.
func (g *Generator) loadImage(path string, seed int64) (image.Image, error) {
	img, err := dataset.DecodeImage(path)
	if err != nil {
		return nil, err
	}
	return g.Preprocess(img, seed), nil
}

// Preprocess resizes img to the batch resolution and, for the training subset, applies the augmentation
// with random parameters drawn from seed.
func (g *Generator) Preprocess(img image.Image, seed int64) image.Image {
	if g.keepAspectRatio {
		img = ResizeWithPadding(img, g.desc.width, g.desc.height, g.filter)
	} else if size := img.Bounds().Size(); size.X != g.desc.width || size.Y != g.desc.height {
		img = imaging.Resize(img, g.desc.width, g.desc.height, g.filter)
	}
	if g.augmenting {
		img = g.desc.augmentation.Augment(img, rand.New(rand.NewSource(seed)))
	}
	return img
}

// ResizeWithPadding resizes img to fit width x height preserving its aspect ratio, and centers it on a black
// background of the requested size.
func ResizeWithPadding(img image.Image, width, height int, filter imaging.ResampleFilter) image.Image {
	imgSize := img.Bounds().Size()
	wRatio := float64(width) / float64(imgSize.X)
	hRatio := float64(height) / float64(imgSize.Y)

	adjustedWidth, adjustedHeight := width, height
	if wRatio < hRatio {
		adjustedHeight = max(1, int(wRatio*float64(imgSize.Y)))
	} else if hRatio < wRatio {
		adjustedWidth = max(1, int(hRatio*float64(imgSize.X)))
	}
	img = imaging.Resize(img, adjustedWidth, adjustedHeight, filter)
	if adjustedWidth != width || adjustedHeight != height {
		background := imaging.New(width, height, color.Black)
		img = imaging.PasteCenter(background, img)
	}
	return img
}
