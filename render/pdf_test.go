// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package render

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/diffeo/go-webprint/webprint"
	"github.com/stretchr/testify/assert"
)

func TestImageToPDF(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 32, 48))
	for x := 0; x < 32; x++ {
		for y := 0; y < 48; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 5), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	err := png.Encode(&buf, img)
	if !assert.NoError(t, err) {
		return
	}

	outputPath := filepath.Join(t.TempDir(), "page.pdf")
	err = imageToPDF(buf.Bytes(), outputPath)
	if !assert.NoError(t, err) {
		return
	}

	contents, err := os.ReadFile(outputPath)
	if assert.NoError(t, err) {
		assert.True(t, bytes.HasPrefix(contents, []byte("%PDF")))
	}
}

func TestImageToPDFRejectsGarbage(t *testing.T) {
	err := imageToPDF([]byte("not a png"), filepath.Join(t.TempDir(), "page.pdf"))
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	ctx := context.Background()

	code, _ := Classify(ctx, Error{Code: webprint.CodeHTTP4xx, Message: "server returned Not Found"})
	assert.Equal(t, webprint.CodeHTTP4xx, code)

	code, message := Classify(ctx, errors.New("tab crashed"))
	assert.Equal(t, webprint.CodeRenderFailed, code)
	assert.Equal(t, "tab crashed", message)

	expired, cancel := context.WithTimeout(ctx, 0)
	defer cancel()
	<-expired.Done()
	code, _ = Classify(expired, expired.Err())
	assert.Equal(t, webprint.CodeJobTimeout, code)
}
