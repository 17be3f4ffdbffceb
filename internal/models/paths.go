// Package models resolves model and dictionary files under the models directory.
package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Model file names.
const (
	// Text detection (DB) models used by the learned OCR engine.
	DetectionMobile = "PP-OCRv5_mobile_det.onnx"
	DetectionServer = "PP-OCRv5_server_det.onnx"

	// CTC recognition models used by the learned OCR engine.
	RecognitionMobile = "PP-OCRv5_mobile_rec.onnx"
	RecognitionServer = "PP-OCRv5_server_rec.onnx"

	// Invoice region detector (YOLO layout, one class per field).
	RegionDetector = "invoice_regions.onnx"

	// Character dictionary for the recognizer.
	DictionaryPPOCRKeysV1 = "ppocr_keys_v1.txt"
)

// Directory layout under the models directory.
const (
	TypeDetection    = "detection"
	TypeRecognition  = "recognition"
	TypeRegions      = "regions"
	TypeDictionaries = "dictionaries"
)

// Model variants.
const (
	VariantMobile = "mobile"
	VariantServer = "server"
)

// DefaultModelsDir is used when nothing else is configured.
const DefaultModelsDir = "models"

// EnvModelsDir overrides the models directory.
const EnvModelsDir = "INVOXTRACT_MODELS_DIR"

// ModelInfo describes a known model file.
type ModelInfo struct {
	Name        string
	Type        string
	Variant     string
	Description string
	Filename    string
}

func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", errors.New("could not find project root (go.mod not found)")
}

// GetModelsDir returns, in priority order, modelsDir, $INVOXTRACT_MODELS_DIR,
// or <project root>/models.
func GetModelsDir(modelsDir string) string {
	if modelsDir != "" {
		return modelsDir
	}
	if envDir := os.Getenv(EnvModelsDir); envDir != "" {
		return envDir
	}
	if root, err := findProjectRoot(); err == nil {
		return filepath.Join(root, DefaultModelsDir)
	}
	return DefaultModelsDir
}

// ResolveModelPath prefers <dir>/<type>[/<variant>]/<file> and falls back to
// the flat <dir>/<file> layout.
func ResolveModelPath(modelsDir, modelType, variant, filename string) string {
	base := GetModelsDir(modelsDir)
	if modelType != "" {
		organized := filepath.Join(base, modelType, filename)
		if variant != "" {
			organized = filepath.Join(base, modelType, variant, filename)
		}
		if _, err := os.Stat(organized); err == nil {
			return organized
		}
	}
	return filepath.Join(base, filename)
}

func variantFor(useServer bool) string {
	if useServer {
		return VariantServer
	}
	return VariantMobile
}

// GetDetectionModelPath returns the text detection model path.
func GetDetectionModelPath(modelsDir string, useServer bool) string {
	name := DetectionMobile
	if useServer {
		name = DetectionServer
	}
	return ResolveModelPath(modelsDir, TypeDetection, variantFor(useServer), name)
}

// GetRecognitionModelPath returns the recognition model path.
func GetRecognitionModelPath(modelsDir string, useServer bool) string {
	name := RecognitionMobile
	if useServer {
		name = RecognitionServer
	}
	return ResolveModelPath(modelsDir, TypeRecognition, variantFor(useServer), name)
}

// GetRegionDetectorPath returns the invoice region detector path.
func GetRegionDetectorPath(modelsDir string) string {
	return ResolveModelPath(modelsDir, TypeRegions, "", RegionDetector)
}

// GetDictionaryPath returns the path for a dictionary file.
func GetDictionaryPath(modelsDir, filename string) string {
	return ResolveModelPath(modelsDir, TypeDictionaries, "", filename)
}

// ValidateModelExists checks that a model file exists.
func ValidateModelExists(modelPath string) error {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", modelPath)
	}
	return nil
}

// ListAvailableModels returns the models this module knows how to use.
func ListAvailableModels() []ModelInfo {
	return []ModelInfo{
		{"mobile-detection", TypeDetection, VariantMobile, "Mobile text detection model", DetectionMobile},
		{"server-detection", TypeDetection, VariantServer, "Server text detection model", DetectionServer},
		{"mobile-recognition", TypeRecognition, VariantMobile, "Mobile recognition model", RecognitionMobile},
		{"server-recognition", TypeRecognition, VariantServer, "Server recognition model", RecognitionServer},
		{"invoice-regions", TypeRegions, "", "Invoice field region detector", RegionDetector},
		{"ppocr-keys-v1", TypeDictionaries, "", "PPOCR character dictionary v1", DictionaryPPOCRKeysV1},
	}
}
