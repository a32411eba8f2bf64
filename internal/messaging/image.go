package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"github.com/vincent-petithory/dataurl"

	"github.com/gdbrns/go-whatsapp-sender/internal/session"
	"github.com/gdbrns/go-whatsapp-sender/pkg/validation"
)

const imageFetchTimeout = 15 * time.Second

// ImageFetcher downloads an image of at most maxSize bytes.
type ImageFetcher func(ctx context.Context, url string, maxSize int) ([]byte, error)

var errImageTooLarge = errors.New("image is too large")

// readImage returns the attached image, if any: a multipart "image" file
// takes precedence over an "image" field holding a data URL or http(s) URL.
func (h *Handler) readImage(c *fiber.Ctx, imageURL string) (*session.Image, error) {
	if strings.HasPrefix(string(c.Request().Header.ContentType()), fiber.MIMEMultipartForm) {
		form, err := c.MultipartForm()
		if err != nil {
			return nil, fmt.Errorf("invalid multipart body: %w", err)
		}
		if files := form.File["image"]; len(files) > 0 {
			return h.readUpload(files[0])
		}
	}

	imageURL = strings.TrimSpace(imageURL)
	if imageURL == "" {
		return nil, nil
	}
	if strings.HasPrefix(imageURL, "data:") {
		inline, err := dataurl.DecodeString(imageURL)
		if err != nil {
			return nil, errors.New("could not decode image data url")
		}
		return h.checkImage(inline.Data)
	}
	if err := validation.ValidateURL(imageURL); err != nil {
		return nil, err
	}
	data, err := h.fetchImage(c.UserContext(), imageURL, h.maxImageSize)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	return h.checkImage(data)
}

func (h *Handler) readUpload(fileHeader *multipart.FileHeader) (*session.Image, error) {
	if fileHeader.Size > int64(h.maxImageSize) {
		return nil, errImageTooLarge
	}
	if declared := fileHeader.Header.Get(fiber.HeaderContentType); declared != "" {
		if err := validation.ValidateImageType(declared); err != nil {
			return nil, err
		}
	}

	file, err := fileHeader.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, int64(h.maxImageSize)+1))
	if err != nil {
		return nil, err
	}
	return h.checkImage(data)
}

// checkImage enforces the size limit and sniffs the real mime type.
func (h *Handler) checkImage(data []byte) (*session.Image, error) {
	if len(data) == 0 {
		return nil, errors.New("image is empty")
	}
	if len(data) > h.maxImageSize {
		return nil, errImageTooLarge
	}
	mimeType := http.DetectContentType(data)
	if err := validation.ValidateImageType(mimeType); err != nil {
		return nil, err
	}
	return &session.Image{Data: data, MimeType: mimeType}, nil
}

// FetchImage downloads rawURL with the fiber client. Hosts on loopback,
// private or link-local networks are refused, both as literals and after
// resolution, and the body is capped at maxSize while it is read.
func FetchImage(ctx context.Context, rawURL string, maxSize int) ([]byte, error) {
	return download(ctx, rawURL, maxSize, false)
}

// NewImageFetcher returns FetchImage, or a variant that may also reach
// private networks when allowPrivate is set.
func NewImageFetcher(allowPrivate bool) ImageFetcher {
	return func(ctx context.Context, rawURL string, maxSize int) ([]byte, error) {
		return download(ctx, rawURL, maxSize, allowPrivate)
	}
}

func download(ctx context.Context, rawURL string, maxSize int, allowPrivate bool) ([]byte, error) {
	if err := validation.ValidateURL(rawURL); err != nil {
		return nil, err
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, err
	}
	if !allowPrivate {
		if err := validation.ValidatePublicHost(u.Hostname()); err != nil {
			return nil, err
		}
	}

	timeout := imageFetchTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	// Redirects are not followed, so the checked host is the one contacted.
	agent := fiber.Get(u.String())
	agent.Timeout(timeout)
	if agent.HostClient != nil {
		agent.HostClient.MaxResponseBodySize = maxSize
		if !allowPrivate {
			agent.HostClient.Dial = publicDial(timeout)
		}
	}

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		if errors.Is(errs[0], fasthttp.ErrBodyTooLarge) {
			return nil, errImageTooLarge
		}
		return nil, errs[0]
	}
	if code < 200 || code > 299 {
		return nil, fmt.Errorf("unexpected status %d", code)
	}
	if len(body) > maxSize {
		return nil, errImageTooLarge
	}
	return body, nil
}

func publicDial(timeout time.Duration) fasthttp.DialFunc {
	dialer := &net.Dialer{Timeout: timeout, Control: validation.DialControl}
	return func(addr string) (net.Conn, error) {
		return dialer.Dial("tcp", addr)
	}
}
