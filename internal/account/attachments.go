package account

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
)

// MaxAttachmentBytes bounds a single attachment read from disk.
const MaxAttachmentBytes = 100 << 20

var (
	errAttachmentIsDir    = errors.New("path is a directory")
	errAttachmentTooLarge = fmt.Errorf("file exceeds %d bytes", MaxAttachmentBytes)
)

func loadAttachments(paths []string) ([]Attachment, error) {
	out := make([]Attachment, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, &AttachmentError{Path: path, Err: err}
		}
		if info.IsDir() {
			return nil, &AttachmentError{Path: path, Err: errAttachmentIsDir}
		}
		if info.Size() > MaxAttachmentBytes {
			return nil, &AttachmentError{Path: path, Err: errAttachmentTooLarge}
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &AttachmentError{Path: path, Err: err}
		}
		contentType := mime.TypeByExtension(filepath.Ext(path))
		if contentType == "" {
			contentType = http.DetectContentType(data)
		}
		out = append(out, Attachment{
			FileName:    filepath.Base(path),
			ContentType: contentType,
			Data:        data,
		})
	}
	return out, nil
}
