// Copyright 2021 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package render

import (
	"bytes"
	"image/png"

	"github.com/jung-kurt/gofpdf"
)

// screenDPI is the pixel density assumed when sizing a screenshot
// onto a PDF page.
const screenDPI = 96.0

// mmPerInch converts between the browser's pixel world and PDF
// millimeters.
const mmPerInch = 25.4

// imageToPDF writes a PNG image as a single-page PDF whose page is
// exactly the image's size.
func imageToPDF(image []byte, outputPath string) error {
	cfg, err := png.DecodeConfig(bytes.NewReader(image))
	if err != nil {
		return err
	}
	widthMM := float64(cfg.Width) * mmPerInch / screenDPI
	heightMM := float64(cfg.Height) * mmPerInch / screenDPI

	doc := gofpdf.NewCustom(&gofpdf.InitType{
		UnitStr: "mm",
		Size:    gofpdf.SizeType{Wd: widthMM, Ht: heightMM},
	})
	doc.AddPage()
	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	doc.RegisterImageOptionsReader("page", opts, bytes.NewReader(image))
	doc.ImageOptions("page", 0, 0, widthMM, heightMM, false, opts, 0, "")
	return doc.OutputFileAndClose(outputPath)
}
