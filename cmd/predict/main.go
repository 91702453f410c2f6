package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/digit-api/internal/classifier"
	"github.com/Brownie44l1/digit-api/internal/logging"
	"github.com/Brownie44l1/digit-api/internal/model"
	"github.com/Brownie44l1/digit-api/internal/tensor"
)

func main() {
	modelPath := flag.String("model", "models/model_embedded.onnx", "model file (.onnx or .json weights)")
	metadataPath := flag.String("metadata", "", "optional metadata JSON with class names")
	deviceName := flag.String("device", "cpu", "compute device: cpu, cuda[:N], coreml, dml[:N]")
	libraryPath := flag.String("onnxruntime", "", "path to the onnxruntime shared library")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <image>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	log, err := logging.New(*logLevel, "text")
	if err != nil {
		logrus.Fatalf("Failed to create logger: %v", err)
	}

	if err := run(os.Stdout, log, *modelPath, *metadataPath, *deviceName, *libraryPath, flag.Arg(0)); err != nil {
		log.Fatal(err)
	}
}

func run(out io.Writer, log logrus.FieldLogger, modelPath, metadataPath, deviceName, libraryPath, imagePath string) error {
	device, err := tensor.ParseDevice(deviceName)
	if err != nil {
		return err
	}

	defer model.ShutdownRuntime()

	m, err := model.Load(modelPath, model.Options{Device: device, SharedLibraryPath: libraryPath})
	if err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}
	defer model.Close(m)

	log.WithFields(logrus.Fields{"model": modelPath, "device": device.String()}).Debug("model loaded")

	class, err := classifier.Predict(m, imagePath, device)
	if err != nil {
		return err
	}

	if metadataPath == "" {
		fmt.Fprintf(out, "Predicted digit: %d\n", class)
		return nil
	}
	metadata, err := model.LoadMetadata(metadataPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Predicted digit: %d (%s)\n", class, metadata.Label(class))
	return nil
}
