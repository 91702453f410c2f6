package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/klauspost/cpuid/v2"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/digit-api/internal/classifier"
	"github.com/Brownie44l1/digit-api/internal/config"
	"github.com/Brownie44l1/digit-api/internal/handlers"
	"github.com/Brownie44l1/digit-api/internal/logging"
	"github.com/Brownie44l1/digit-api/internal/model"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		logrus.Fatal(err)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	device, err := cfg.ParsedDevice()
	if err != nil {
		return fmt.Errorf("invalid device: %w", err)
	}

	// Get the project root directory
	execPath, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	// If running from cmd/server, go up two levels
	if filepath.Base(execPath) == "server" {
		execPath = filepath.Join(execPath, "../..")
	}

	modelPath := resolve(execPath, cfg.ModelPath)
	metadataPath := resolve(execPath, cfg.MetadataPath)

	log.WithFields(logrus.Fields{
		"cpu":            cpuid.CPU.BrandName,
		"physical_cores": cpuid.CPU.PhysicalCores,
		"avx2":           cpuid.CPU.Supports(cpuid.AVX2),
	}).Info("host")

	defer model.ShutdownRuntime()

	metadata, err := model.LoadMetadata(metadataPath)
	if err != nil {
		return err
	}
	if err := classifier.CheckMetadata(metadata); err != nil {
		return fmt.Errorf("model metadata rejected: %w", err)
	}

	log.WithField("path", modelPath).Info("Loading model")

	m, err := model.Load(modelPath, model.Options{
		Device:            device,
		IntraOpThreads:    cfg.IntraOpThreads,
		SharedLibraryPath: cfg.SharedLibraryPath,
	})
	if err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}
	defer model.Close(m)

	handler := handlers.NewHandler(m, metadata, device, log)

	log.WithFields(logrus.Fields{
		"port":    cfg.Port,
		"device":  device.String(),
		"classes": metadata.Classes,
	}).Info("Server starting")
	log.Info("Endpoints: GET /health, POST /predict (raw 1x1x32x32 array), POST /predict/image (multipart 'image')")

	if err := http.ListenAndServe(":"+cfg.Port, handler.Routes()); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func resolve(root, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
