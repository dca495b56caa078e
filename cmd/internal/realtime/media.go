package realtime

import (
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultMaxMediaBytes caps a decoded media payload.
const DefaultMaxMediaBytes = 10 << 20

var (
	errEmptyMedia    = errors.New("empty media content")
	errInvalidBase64 = errors.New("media content is not valid base64")
)

// decodeMedia turns the base64 content of a media frame into bytes and a MIME type.
// A data URL prefix ("data:image/png;base64,") is accepted; its type is used when the frame has none.
// When no type is known it is sniffed from the payload.
func decodeMedia(f mediaFrame, maxBytes int64) ([]byte, string, error) {
	content := strings.TrimSpace(f.Content)
	mimeType := strings.TrimSpace(f.MimeType)

	if rest, ok := strings.CutPrefix(content, "data:"); ok {
		header, payload, found := strings.Cut(rest, ",")
		if !found {
			return nil, "", errInvalidBase64
		}
		if mimeType == "" {
			if mt, _, _ := strings.Cut(header, ";"); mt != "" {
				mimeType = mt
			}
		}
		content = payload
	}
	if content == "" {
		return nil, "", errEmptyMedia
	}

	if maxBytes > 0 && int64(base64.StdEncoding.DecodedLen(len(content))) > maxBytes+2 {
		return nil, "", fmt.Errorf("media exceeds %d bytes", maxBytes)
	}

	data, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(content)
		if err != nil {
			return nil, "", errInvalidBase64
		}
	}
	if len(data) == 0 {
		return nil, "", errEmptyMedia
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, "", fmt.Errorf("media exceeds %d bytes", maxBytes)
	}

	if mimeType == "" {
		mimeType = mimetype.Detect(data).String()
	}
	return data, mimeType, nil
}

// uploadName prefixes the client file name with the upload time in unix milliseconds.
// Directory components are stripped.
func uploadName(now time.Time, fileName string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(fileName), `\`, "/"))
	if base == "." || base == "/" || base == "" {
		base = "file"
	}
	return fmt.Sprintf("%d_%s", now.UnixMilli(), base)
}

// encodedFrameLimit returns the websocket read limit needed to carry maxBytes of media
// as base64 inside a JSON frame.
func encodedFrameLimit(maxBytes int64) int64 {
	if maxBytes <= 0 {
		return maxFrameBytes
	}
	return int64(base64.StdEncoding.EncodedLen(int(maxBytes))) + maxFrameBytes
}
