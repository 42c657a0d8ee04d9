package userdata

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"
)

// walkMIME processes a multipart message, including nested multiparts.
func (p *processor) walkMIME(ctx context.Context, data []byte, depth int) error {
	if depth > maxIncludeDepth {
		return ErrTooDeep
	}

	msg, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to parse MIME user-data: %w", err)
	}

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil {
		return fmt.Errorf("failed to parse MIME content type: %w", err)
	}

	if !strings.HasPrefix(mediaType, "multipart/") {
		body, err := decodeBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			return err
		}
		return p.walk(ctx, body, mediaType, "", mergeTypeHeader(msg.Header.Get), depth+1)
	}

	boundary := params["boundary"]
	if boundary == "" {
		return errors.New("multipart user-data without boundary")
	}

	reader := multipart.NewReader(msg.Body, boundary)
	for {
		part, err := reader.NextRawPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read MIME part: %w", err)
		}

		ctype := part.Header.Get("Content-Type")
		partType := ""
		if ctype != "" {
			if mt, _, err := mime.ParseMediaType(ctype); err == nil {
				partType = mt
			}
		}

		body, err := decodeBody(part, part.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			return err
		}

		if strings.HasPrefix(partType, "multipart/") {
			// Nested multipart bodies need their own header to be re-parsed.
			nested := append([]byte("Content-Type: "+ctype+"\r\n\r\n"), body...)
			if err := p.walkMIME(ctx, nested, depth+1); err != nil {
				return err
			}
			continue
		}

		mergeHow := mergeTypeHeader(func(k string) string { return part.Header.Get(k) })
		if err := p.walk(ctx, body, partType, part.FileName(), mergeHow, depth); err != nil {
			return err
		}
	}
}

func mergeTypeHeader(get func(string) string) string {
	for _, key := range []string{"Merge-Type", "X-Merge-Type"} {
		if v := get(key); v != "" {
			return v
		}
	}
	return ""
}

func decodeBody(r io.Reader, encoding string) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read MIME body: %w", err)
	}

	if strings.EqualFold(strings.TrimSpace(encoding), "base64") {
		clean := strings.Map(func(r rune) rune {
			if r == '\r' || r == '\n' || r == ' ' {
				return -1
			}
			return r
		}, string(data))
		decoded, err := base64.StdEncoding.DecodeString(clean)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 MIME part: %w", err)
		}
		return decoded, nil
	}
	return data, nil
}
