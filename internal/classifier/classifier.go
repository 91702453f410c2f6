// Package classifier predicts the class of a single image with a trained model.
//
// Every call is synchronous and holds no state of its own. Callers that share
// a model between goroutines decide how to serialize access to it.
package classifier

import (
	"fmt"
	"image"

	"github.com/Brownie44l1/digit-api/internal/model"
	"github.com/Brownie44l1/digit-api/internal/preprocess"
	"github.com/Brownie44l1/digit-api/internal/tensor"
)

// InputShape is the only input a classifier model may accept: one
// single-channel image of ImageSize×ImageSize pixels.
var InputShape = tensor.Shape{1, 1, preprocess.ImageSize, preprocess.ImageSize}

// Predict loads the image at imagePath and returns the index of the
// highest-scoring class.
func Predict(m model.Model, imagePath string, device tensor.Device) (int, error) {
	img, err := preprocess.LoadImage(imagePath)
	if err != nil {
		return 0, err
	}
	return PredictImage(m, img, device)
}

// PredictImage is Predict for an image that is already decoded.
func PredictImage(m model.Model, img image.Image, device tensor.Device) (int, error) {
	x, err := Prepare(img, device)
	if err != nil {
		return 0, err
	}
	class, _, err := Classify(m, x)
	return class, err
}

// Prepare turns img into a 1×1×ImageSize×ImageSize tensor placed on device.
func Prepare(img image.Image, device tensor.Device) (*tensor.Tensor, error) {
	if err := device.Validate(); err != nil {
		return nil, err
	}

	x, err := preprocess.Transform(img)
	if err != nil {
		return nil, err
	}
	x, err = x.Unsqueeze(0)
	if err != nil {
		return nil, err
	}
	return x.To(device)
}

// Classify runs one forward pass on x in evaluation mode without gradient
// tracking. It returns the predicted class and the raw score vector.
func Classify(m model.Model, x *tensor.Tensor) (int, []float32, error) {
	if x.Device() != m.Device() {
		return 0, nil, fmt.Errorf("%w: input on %s, model on %s", tensor.ErrDevice, x.Device(), m.Device())
	}

	m.Eval()

	var out *tensor.Tensor
	err := model.NoGrad(m, func() error {
		var err error
		out, err = m.Forward(x)
		return err
	})
	if err != nil {
		return 0, nil, err
	}

	shape := out.Shape()
	if len(shape) != 2 || shape[0] != 1 || shape[1] < 1 {
		return 0, nil, fmt.Errorf("model returned scores of shape %s, want [1xclasses]", shape)
	}
	indices, err := out.ArgMax(1)
	if err != nil {
		return 0, nil, err
	}

	scores := make([]float32, shape[1])
	copy(scores, out.Data())
	return indices[0], scores, nil
}

// CheckMetadata verifies that meta describes a model this package can feed.
func CheckMetadata(meta *model.Metadata) error {
	if meta.ImageSize != preprocess.ImageSize {
		return fmt.Errorf("%w: metadata image size %d, inputs are always %d", model.ErrShapeMismatch, meta.ImageSize, preprocess.ImageSize)
	}
	return model.CheckInputShape(meta.Input(), InputShape)
}
