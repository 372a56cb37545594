// Package attach converts local files into transferable payloads and
// classifies inbound attachment URLs for display.
package attach

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// fallbackContentType is used when sniffing yields nothing more specific.
// The transport historically assumed images, so the generic fallback stays
// an image type.
const fallbackContentType = "image/jpeg"

// Payload is an encoded attachment ready for the duplex channel.
type Payload struct {
	FileName    string
	Data        string // base64
	ContentType string
}

// ProgressFunc receives the running total of bytes read from the source.
type ProgressFunc func(bytesRead int64)

// Encode reads the full source and produces a transferable payload.
// name may be empty; a generated name is substituted. A read failure is
// returned to the caller and must not abort an otherwise valid text-only
// send; that decision belongs to the session layer.
func Encode(r io.Reader, name string, progress ProgressFunc) (Payload, error) {
	src := io.Reader(r)
	if progress != nil {
		src = &progressReader{r: r, fn: progress}
	}

	data, err := io.ReadAll(src)
	if err != nil {
		return Payload{}, fmt.Errorf("read attachment: %w", err)
	}

	contentType := fallbackContentType
	if mt := mimetype.Detect(data); mt.String() != "application/octet-stream" {
		contentType = mt.String()
	}

	if name == "" {
		name = "upload-" + uuid.New().String() + mimetype.Detect(data).Extension()
	}

	return Payload{
		FileName:    name,
		Data:        base64.StdEncoding.EncodeToString(data),
		ContentType: contentType,
	}, nil
}

// EncodeFile opens path and encodes it, deriving the file name from the path.
func EncodeFile(path string, progress ProgressFunc) (Payload, error) {
	f, err := os.Open(path)
	if err != nil {
		return Payload{}, fmt.Errorf("open attachment: %w", err)
	}
	defer f.Close()

	return Encode(f, filepath.Base(path), progress)
}

type progressReader struct {
	r     io.Reader
	fn    ProgressFunc
	total int64
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.total += int64(n)
		p.fn(p.total)
	}
	return n, err
}
