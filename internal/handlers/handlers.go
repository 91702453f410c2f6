package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/digit-api/internal/classifier"
	"github.com/Brownie44l1/digit-api/internal/model"
	"github.com/Brownie44l1/digit-api/internal/preprocess"
	"github.com/Brownie44l1/digit-api/internal/tensor"
)

type Handler struct {
	mu       sync.Mutex
	model    model.Model
	metadata *model.Metadata
	device   tensor.Device
	log      logrus.FieldLogger
}

func NewHandler(m model.Model, metadata *model.Metadata, device tensor.Device, log logrus.FieldLogger) *Handler {
	return &Handler{
		model:    m,
		metadata: metadata,
		device:   device,
		log:      log,
	}
}

// Routes returns the HTTP API with CORS and request logging applied.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/predict", h.Predict)
	mux.HandleFunc("/predict/image", h.PredictFromImage)
	return withRequestLog(h.log, enableCORS(mux))
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
		"device": h.device.String(),
	})
}

// Predict classifies an already preprocessed 1×1×32×32 input sent as a flat JSON array.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var req PredictionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	expectedSize := classifier.InputShape.NumElements()
	if len(req.Image) != expectedSize {
		http.Error(w, fmt.Sprintf("Expected %d values, got %d", expectedSize, len(req.Image)),
			http.StatusBadRequest)
		return
	}

	x, err := tensor.New(classifier.InputShape, req.Image)
	if err == nil {
		x, err = x.To(h.device)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.respond(w, r, x)
}

func (h *Handler) PredictFromImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Parse multipart form (10MB max)
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "No image file provided. Use 'image' as the form field name", http.StatusBadRequest)
		return
	}
	defer file.Close()

	log := requestLogger(r, h.log)
	log.WithFields(logrus.Fields{"file": header.Filename, "size": header.Size}).Debug("received image")

	img, format, err := image.Decode(file)
	if err != nil {
		http.Error(w, "Invalid image format. Supported: PNG, JPEG, GIF, BMP, TIFF, WebP", http.StatusBadRequest)
		return
	}

	log.WithFields(logrus.Fields{
		"format": format,
		"width":  img.Bounds().Dx(),
		"height": img.Bounds().Dy(),
	}).Debug("decoded image")

	x, err := classifier.Prepare(img, h.device)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.respond(w, r, x)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, x *tensor.Tensor) {
	h.mu.Lock()
	class, scores, err := classifier.Classify(h.model, x)
	h.mu.Unlock()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	probs := softmax(scores)
	predictions := make(map[string]float32, len(probs))
	for i, p := range probs {
		predictions[h.metadata.Label(i)] = p
	}

	requestLogger(r, h.log).WithFields(logrus.Fields{
		"class":      class,
		"confidence": probs[class],
	}).Info("prediction")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(PredictionResponse{
		Class:       class,
		Label:       h.metadata.Label(class),
		Confidence:  probs[class],
		Predictions: predictions,
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "Prediction failed"
	switch {
	case errors.Is(err, preprocess.ErrDecode):
		status, msg = http.StatusBadRequest, "Invalid image"
	case errors.Is(err, tensor.ErrDevice):
		status, msg = http.StatusServiceUnavailable, "Compute device unavailable"
	case errors.Is(err, model.ErrShapeMismatch):
		msg = "Model input does not match preprocessed image"
	}

	requestLogger(r, h.log).WithError(err).Error("prediction error")
	http.Error(w, msg, status)
}

func softmax(scores []float32) []float32 {
	maxScore := scores[0]
	for _, s := range scores[1:] {
		if s > maxScore {
			maxScore = s
		}
	}

	probs := make([]float32, len(scores))
	var sum float64
	for i, s := range scores {
		e := math.Exp(float64(s - maxScore))
		probs[i] = float32(e)
		sum += e
	}
	for i := range probs {
		probs[i] = float32(float64(probs[i]) / sum)
	}
	return probs
}
