package whatsapp

import (
	"bytes"
	"errors"

	"github.com/sunshineplan/imgconv"
)

const (
	thumbnailWidth  = 72
	compressedWidth = 1024
)

// ImageOptions control how an outbound image is normalised before upload.
type ImageOptions struct {
	ConvertWebP bool
	Compress    bool
}

type preparedImage struct {
	Data      []byte
	MimeType  string
	Thumbnail []byte
}

// prepareImage applies the optional webp conversion and compression and
// renders the JPEG thumbnail embedded in the message.
func prepareImage(data []byte, mimeType string, opts ImageOptions) (preparedImage, error) {
	if mimeType == "image/webp" && opts.ConvertWebP {
		decoded, err := imgconv.Decode(bytes.NewReader(data))
		if err != nil {
			return preparedImage{}, errors.New("Error While Decoding Convert Image Stream")
		}
		encoded := new(bytes.Buffer)
		if err := imgconv.Write(encoded, decoded, &imgconv.FormatOption{Format: imgconv.PNG}); err != nil {
			return preparedImage{}, errors.New("Error While Encoding Convert Image Stream")
		}
		data = encoded.Bytes()
		mimeType = "image/png"
	}

	if opts.Compress {
		decoded, err := imgconv.Decode(bytes.NewReader(data))
		if err != nil {
			return preparedImage{}, errors.New("Error While Decoding Resize Image Stream")
		}
		if decoded.Bounds().Dx() > compressedWidth {
			format := imgconv.JPEG
			if mimeType == "image/png" {
				format = imgconv.PNG
			}
			encoded := new(bytes.Buffer)
			err = imgconv.Write(encoded,
				imgconv.Resize(decoded, &imgconv.ResizeOption{Width: compressedWidth}),
				&imgconv.FormatOption{Format: format})
			if err != nil {
				return preparedImage{}, errors.New("Error While Encoding Resize Image Stream")
			}
			data = encoded.Bytes()
			if format == imgconv.JPEG {
				mimeType = "image/jpeg"
			}
		}
	}

	decoded, err := imgconv.Decode(bytes.NewReader(data))
	if err != nil {
		return preparedImage{}, errors.New("Error While Decoding Thumbnail Image Stream")
	}
	thumb := new(bytes.Buffer)
	err = imgconv.Write(thumb,
		imgconv.Resize(decoded, &imgconv.ResizeOption{Width: thumbnailWidth}),
		&imgconv.FormatOption{Format: imgconv.JPEG})
	if err != nil {
		return preparedImage{}, errors.New("Error While Encoding Thumbnail Image Stream")
	}

	return preparedImage{Data: data, MimeType: mimeType, Thumbnail: thumb.Bytes()}, nil
}
