// Package tesseract finds signature labels with the Tesseract OCR engine.
//
// It needs the tesseract and leptonica libraries at build and run time
// (cgo), so the locator is only built with -tags tesseract. Detection
// works without it through detect.DensityLocator.
package tesseract
