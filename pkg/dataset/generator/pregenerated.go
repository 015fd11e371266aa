// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package generator

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"image"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/gomlx/gestures/pkg/core/tensors"
	timage "github.com/gomlx/gestures/pkg/core/tensors/images"
	"github.com/gomlx/gestures/pkg/dataset"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// pregenMagic identifies files written by Generator.Save.
var pregenMagic = [4]byte{'G', 'S', 'P', 'G'}

const pregenVersion = 2

// ErrStalePreGenerated is returned by NewPreGenerated when the file was saved with a different resolution,
// label ordering or split than the ones requested.
var ErrStalePreGenerated = errors.New("pre-generated images are stale")

// pregenHeader is written at the start of the file. It is followed by NumPasses*SamplesPerPass entries,
// each one the label index (uint16, little endian) followed by Height*Width*3 bytes of RGB values.
type pregenHeader struct {
	Magic          [4]byte
	Version        uint32
	Width, Height  uint32
	NumClasses     uint32
	NumPasses      uint32
	Fingerprint    uint32 // See SplitFingerprint.
	SamplesPerPass uint64
}

// SplitFingerprint returns a checksum of the label ordering and of the label and file name of each record.
// Directories are not included, so it doesn't change if the dataset is moved.
func SplitFingerprint(labels *dataset.LabelMap, records []dataset.ImageRecord) uint32 {
	hash := crc32.NewIEEE()
	for _, label := range labels.Labels() {
		_, _ = fmt.Fprintf(hash, "%s\n", label)
	}
	_, _ = hash.Write([]byte{0})
	for _, record := range records {
		_, _ = fmt.Fprintf(hash, "%s/%s\n", record.Label, filepath.Base(record.Path))
	}
	return hash.Sum32()
}

func (h *pregenHeader) entrySize() int {
	return 2 + 3*int(h.Width)*int(h.Height)
}

// Save generates numPasses passes over the subset, with resizing and (for training) augmentation, and writes
// the resulting images and labels to w. Read them back with NewPreGenerated.
//
// The generator must be finite (see WithInfinite). It is Reset before starting and between passes.
// If showProgressBar is set, a progress bar is displayed on the standard error.
func (g *Generator) Save(w io.Writer, numPasses int, showProgressBar bool) error {
	if g.infinite {
		return errors.Errorf("generator %q: cannot Save %d passes of a generator configured to loop indefinitely", g.name, numPasses)
	}
	if numPasses <= 0 {
		return errors.Errorf("generator %q: invalid number of passes %d", g.name, numPasses)
	}
	header := pregenHeader{
		Magic:          pregenMagic,
		Version:        pregenVersion,
		Width:          uint32(g.desc.width),
		Height:         uint32(g.desc.height),
		NumClasses:     uint32(g.desc.NumClasses()),
		NumPasses:      uint32(numPasses),
		Fingerprint:    SplitFingerprint(g.desc.labels, g.records),
		SamplesPerPass: uint64(len(g.records)),
	}
	bufW := bufio.NewWriter(w)
	if err := binary.Write(bufW, binary.LittleEndian, &header); err != nil {
		return errors.Wrapf(err, "generator %q: failed to write header", g.name)
	}

	var bar *progressbar.ProgressBar
	if showProgressBar {
		bar = progressbar.NewOptions(numPasses*len(g.records),
			progressbar.OptionSetDescription("Pre-generating"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("images"),
			progressbar.OptionSetTheme(progressbar.ThemeUnicode),
		)
	}
	entry := make([]byte, header.entrySize())
	g.Reset()
	for pass := range numPasses {
		if pass > 0 {
			g.Reset()
		}
		for {
			images, labelIndices, _, _, err := g.YieldImages()
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			for ii, img := range images {
				encodeEntry(entry, labelIndices[ii], img)
				if _, err = bufW.Write(entry); err != nil {
					return errors.Wrapf(err, "generator %q: failed to write pre-generated images", g.name)
				}
			}
			if bar != nil {
				_ = bar.Add(len(images))
			}
		}
	}
	if bar != nil {
		_ = bar.Close()
	}
	if err := bufW.Flush(); err != nil {
		return errors.Wrapf(err, "generator %q: failed to write pre-generated images", g.name)
	}
	klog.Infof("generator %q: saved %d passes of %d images", g.name, numPasses, len(g.records))
	return nil
}

// SaveFile is like Save, but writes to the file at filePath.
func (g *Generator) SaveFile(filePath string, numPasses int, showProgressBar bool) error {
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", filePath)
	}
	if err = g.Save(f, numPasses, showProgressBar); err != nil {
		_ = f.Close()
		return err
	}
	return errors.Wrapf(f.Close(), "failed to close %q", filePath)
}

func encodeEntry(entry []byte, labelIdx int, img image.Image) {
	binary.LittleEndian.PutUint16(entry, uint16(labelIdx))
	pos := 2
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := timage.NRGBA64At(img, x, y)
			entry[pos] = byte(c.R >> 8)
			entry[pos+1] = byte(c.G >> 8)
			entry[pos+2] = byte(c.B >> 8)
			pos += 3
		}
	}
}

// PreGenerated reads the batches saved by Generator.Save. It follows the same contract as Generator:
// batches don't cross pass boundaries, and a finite PreGenerated returns io.EOF at the end of each pass,
// until Reset moves it to the next saved pass. After the last saved pass it starts over from the first one.
//
// It is safe for concurrent use.
type PreGenerated struct {
	name, filePath string
	batchSize      int
	infinite       bool
	dtype          tensors.DType
	labels         *dataset.LabelMap
	header         pregenHeader

	mu     sync.Mutex
	file   *os.File
	reader *bufio.Reader
	pos    int // Position within the current pass.
	pass   int // Total passes started, counting repetitions of the file.
	err    error
}

// NewPreGenerated opens a file saved by Generator.Save, for the subset records batched as described by desc.
//
// It returns an error wrapping ErrStalePreGenerated if the file was saved with a different image size,
// label ordering or set of records: the file must then be generated again.
func NewPreGenerated(name, filePath string, desc *BatchDescriptor, records []dataset.ImageRecord, infinite bool, dtype tensors.DType) (*PreGenerated, error) {
	if dtype.Size() == 0 {
		return nil, errors.Errorf("invalid dtype %s", dtype)
	}
	pg := &PreGenerated{
		name:      name,
		filePath:  filePath,
		batchSize: desc.batchSize,
		infinite:  infinite,
		dtype:     dtype,
		labels:    desc.labels,
	}
	if err := pg.open(); err != nil {
		return nil, err
	}
	if err := pg.check(desc, records); err != nil {
		_ = pg.file.Close()
		return nil, err
	}
	return pg, nil
}

// check the header read from the file against the requested batches.
func (pg *PreGenerated) check(desc *BatchDescriptor, records []dataset.ImageRecord) error {
	h := &pg.header
	if h.Magic != pregenMagic || h.Version != pregenVersion {
		return errors.Wrapf(ErrStalePreGenerated, "%q is not a pre-generated images file of version %d", pg.filePath, pregenVersion)
	}
	if h.SamplesPerPass == 0 || h.NumPasses == 0 {
		return errors.Wrapf(dataset.ErrEmptyDataset, "%q has no images", pg.filePath)
	}
	if int(h.Width) != desc.width || int(h.Height) != desc.height {
		return errors.Wrapf(ErrStalePreGenerated, "%q has images of %dx%d, but %dx%d were requested",
			pg.filePath, h.Width, h.Height, desc.width, desc.height)
	}
	if int(h.NumClasses) != desc.NumClasses() {
		return errors.Wrapf(ErrStalePreGenerated, "%q was saved with %d classes, but there are %d labels",
			pg.filePath, h.NumClasses, desc.NumClasses())
	}
	if int(h.SamplesPerPass) != len(records) {
		return errors.Wrapf(ErrStalePreGenerated, "%q was saved with %d images per pass, but the subset has %d",
			pg.filePath, h.SamplesPerPass, len(records))
	}
	if h.Fingerprint != SplitFingerprint(desc.labels, records) {
		return errors.Wrapf(ErrStalePreGenerated, "%q was saved from a different split of the dataset", pg.filePath)
	}
	return nil
}

// open (or re-open) the file and read the header.
func (pg *PreGenerated) open() error {
	if pg.file != nil {
		_ = pg.file.Close()
	}
	var err error
	pg.file, err = os.Open(pg.filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to open %q", pg.filePath)
	}
	pg.reader = bufio.NewReader(pg.file)
	if err = binary.Read(pg.reader, binary.LittleEndian, &pg.header); err != nil {
		_ = pg.file.Close()
		pg.file = nil
		return errors.Wrapf(err, "failed to read header of %q", pg.filePath)
	}
	return nil
}

// Name of the dataset.
func (pg *PreGenerated) Name() string { return pg.name }

// Width of the saved images.
func (pg *PreGenerated) Width() int { return int(pg.header.Width) }

// Height of the saved images.
func (pg *PreGenerated) Height() int { return int(pg.header.Height) }

// NumSamples returns the number of images in one pass.
func (pg *PreGenerated) NumSamples() int { return int(pg.header.SamplesPerPass) }

// NumPasses returns the number of passes saved in the file.
func (pg *PreGenerated) NumPasses() int { return int(pg.header.NumPasses) }

// Labels returns the label ordering.
func (pg *PreGenerated) Labels() *dataset.LabelMap { return pg.labels }

// Reset moves to the start of the next saved pass.
func (pg *PreGenerated) Reset() {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	if pg.pos == 0 {
		return
	}
	pg.err = pg.nextPass()
}

// nextPass must be called with pg.mu locked.
func (pg *PreGenerated) nextPass() error {
	if pg.pos < int(pg.header.SamplesPerPass) {
		// Skip the rest of the current pass.
		skip := int64(int(pg.header.SamplesPerPass)-pg.pos) * int64(pg.header.entrySize())
		if _, err := pg.reader.Discard(int(skip)); err != nil {
			return errors.Wrapf(err, "failed to skip in %q", pg.filePath)
		}
	}
	pg.pos = 0
	pg.pass++
	if pg.pass%int(pg.header.NumPasses) == 0 {
		return pg.open()
	}
	return nil
}

// Close the underlying file.
func (pg *PreGenerated) Close() error {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	if pg.file == nil {
		return nil
	}
	err := pg.file.Close()
	pg.file = nil
	pg.err = errors.Errorf("PreGenerated %q is closed", pg.name)
	return err
}

// Yield the next batch of saved images.
func (pg *PreGenerated) Yield() (*Batch, error) {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	if pg.err != nil {
		return nil, pg.err
	}
	if pg.pos >= int(pg.header.SamplesPerPass) {
		if !pg.infinite {
			return nil, io.EOF
		}
		if pg.err = pg.nextPass(); pg.err != nil {
			return nil, pg.err
		}
	}
	n := min(pg.batchSize, int(pg.header.SamplesPerPass)-pg.pos)
	width, height := int(pg.header.Width), int(pg.header.Height)
	entry := make([]byte, pg.header.entrySize())
	images := tensors.FromShape(pg.dtype, n, height, width, 3)
	labelIndices := make([]int, n)
	imageSize := width * height * 3
	for ii := range n {
		if _, err := io.ReadFull(pg.reader, entry); err != nil {
			pg.err = errors.Wrapf(err, "failed reading pre-generated images from %q, maybe it failed during generation?", pg.filePath)
			return nil, pg.err
		}
		labelIndices[ii] = int(binary.LittleEndian.Uint16(entry))
		if labelIndices[ii] >= pg.labels.Len() {
			pg.err = errors.Errorf("invalid label index %d in %q", labelIndices[ii], pg.filePath)
			return nil, pg.err
		}
		for jj, value := range entry[2:] {
			images.SetFloat64(ii*imageSize+jj, float64(value)/0xFF)
		}
	}
	pg.pos += n
	return &Batch{
		Images:       images,
		Labels:       tensors.OneHot(pg.dtype, labelIndices, pg.labels.Len()),
		LabelIndices: labelIndices,
		Pass:         pg.pass,
	}, nil
}
