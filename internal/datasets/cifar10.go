// Package datasets loads the CIFAR-10 binary-format dataset.
package datasets

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
)

const (
	// CIFAR-10 geometry: 32x32 RGB images, channel-major records of one
	// label byte followed by 3072 pixel bytes.
	ImageSize   = 32
	NumChannels = 3
	NumClasses  = 10

	pixelsPerImage = NumChannels * ImageSize * ImageSize
	recordSize     = 1 + pixelsPerImage
	recordsPerFile = 10000
)

// Per-channel normalization applied after scaling pixels to [0, 1].
var (
	channelMean = [NumChannels]float64{0.485, 0.456, 0.406}
	channelStd  = [NumChannels]float64{0.229, 0.224, 0.225}
)

// ClassNames are the CIFAR-10 class labels in label-index order.
var ClassNames = [NumClasses]string{
	"airplane", "automobile", "bird", "cat", "deer",
	"dog", "frog", "horse", "ship", "truck",
}

// Dataset holds normalized images and their labels. Inputs are flattened
// [channel, height, width]; Targets are one-hot.
type Dataset struct {
	Inputs  [][]float64
	Targets [][]float64
	Labels  []int
}

// Len returns the number of samples.
func (d *Dataset) Len() int { return len(d.Inputs) }

// Shuffle permutes the dataset in place using the given source.
func (d *Dataset) Shuffle(rng *rand.Rand) {
	rng.Shuffle(len(d.Inputs), func(i, j int) {
		d.Inputs[i], d.Inputs[j] = d.Inputs[j], d.Inputs[i]
		d.Targets[i], d.Targets[j] = d.Targets[j], d.Targets[i]
		d.Labels[i], d.Labels[j] = d.Labels[j], d.Labels[i]
	})
}

// OneHot returns a one-hot target vector for the given label.
func OneHot(label, numClasses int) []float64 {
	t := make([]float64, numClasses)
	t[label] = 1
	return t
}

// LoadCIFAR10 loads the train or test split from the binary-format files in
// dir (data_batch_1.bin .. data_batch_5.bin, or test_batch.bin). A missing
// directory or file is an error; nothing is downloaded.
func LoadCIFAR10(dir string, train bool) (*Dataset, error) {
	var files []string
	if train {
		for i := 1; i <= 5; i++ {
			files = append(files, filepath.Join(dir, fmt.Sprintf("data_batch_%d.bin", i)))
		}
	} else {
		files = append(files, filepath.Join(dir, "test_batch.bin"))
	}

	d := &Dataset{}
	for _, f := range files {
		if err := d.appendFile(f); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// LoadCIFAR10File loads a single binary-format batch file. Useful for tests
// and subset runs.
func LoadCIFAR10File(filename string) (*Dataset, error) {
	d := &Dataset{}
	if err := d.appendFile(filename); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dataset) appendFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open dataset file: %w", err)
	}
	defer file.Close()

	record := make([]byte, recordSize)
	for {
		_, err := io.ReadFull(file, record)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read record from %s: %w", filename, err)
		}

		label := int(record[0])
		if label >= NumClasses {
			return fmt.Errorf("invalid label %d in %s", label, filename)
		}

		input := make([]float64, pixelsPerImage)
		for c := 0; c < NumChannels; c++ {
			base := c * ImageSize * ImageSize
			for p := 0; p < ImageSize*ImageSize; p++ {
				v := float64(record[1+base+p]) / 255.0
				input[base+p] = (v - channelMean[c]) / channelStd[c]
			}
		}

		d.Inputs = append(d.Inputs, input)
		d.Targets = append(d.Targets, OneHot(label, NumClasses))
		d.Labels = append(d.Labels, label)
	}
}

// HorizontalFlip returns a copy of the image mirrored left-right.
func HorizontalFlip(img []float64) []float64 {
	out := make([]float64, len(img))
	for c := 0; c < NumChannels; c++ {
		base := c * ImageSize * ImageSize
		for h := 0; h < ImageSize; h++ {
			row := base + h*ImageSize
			for w := 0; w < ImageSize; w++ {
				out[row+w] = img[row+ImageSize-1-w]
			}
		}
	}
	return out
}

// RandomCrop zero-pads the image by pad pixels on every side and crops a
// random ImageSize x ImageSize window, the standard CIFAR-10 augmentation.
func RandomCrop(img []float64, pad int, rng *rand.Rand) []float64 {
	dy := rng.Intn(2*pad+1) - pad
	dx := rng.Intn(2*pad+1) - pad

	out := make([]float64, len(img))
	for c := 0; c < NumChannels; c++ {
		base := c * ImageSize * ImageSize
		for h := 0; h < ImageSize; h++ {
			srcH := h + dy
			for w := 0; w < ImageSize; w++ {
				srcW := w + dx
				if srcH >= 0 && srcH < ImageSize && srcW >= 0 && srcW < ImageSize {
					out[base+h*ImageSize+w] = img[base+srcH*ImageSize+srcW]
				}
			}
		}
	}
	return out
}

// Augment applies the training-time augmentation: random horizontal flip
// followed by a random 4-pixel-padded crop.
func Augment(img []float64, rng *rand.Rand) []float64 {
	if rng.Intn(2) == 0 {
		img = HorizontalFlip(img)
	}
	return RandomCrop(img, 4, rng)
}
