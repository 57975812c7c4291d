package protocol

import (
	"bytes"
	"io"
)

// FileTransfer is the decoded form of a tag-5 attachment payload. The
// routing layer treats the payload as opaque; only the endpoints and
// the persistence layer decode it.
type FileTransfer struct {
	Name string
	Data []byte
}

// ImageTransfer is the decoded form of a tag-6 attachment payload.
type ImageTransfer struct {
	Name   string
	Format string
	Data   []byte
}

// EncodeFileTransfer serializes a file attachment:
// tag | name | size:int64 | bytes.
func EncodeFileTransfer(ft FileTransfer) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(TagFileTransfer)
	if err := writeString(&buf, ft.Name); err != nil {
		return nil, err
	}
	writeInt64(&buf, int64(len(ft.Data)))
	buf.Write(ft.Data)
	return buf.Bytes(), nil
}

// DecodeFileTransfer parses a tag-5 payload, tag byte included. It
// errors on truncated input.
func DecodeFileTransfer(data []byte) (FileTransfer, error) {
	r := bytes.NewReader(data)
	if _, err := r.ReadByte(); err != nil {
		return FileTransfer{}, ErrTruncated
	}
	name, err := readString(r)
	if err != nil {
		return FileTransfer{}, err
	}
	size, err := readInt64(r)
	if err != nil {
		return FileTransfer{}, ErrTruncated
	}
	if size < 0 || size > int64(r.Len()) {
		return FileTransfer{}, ErrTruncated
	}
	content := make([]byte, size)
	if _, err := io.ReadFull(r, content); err != nil {
		return FileTransfer{}, ErrTruncated
	}
	return FileTransfer{Name: name, Data: content}, nil
}

// EncodeImageTransfer serializes an image attachment:
// tag | name | format | length:int32 | bytes.
func EncodeImageTransfer(it ImageTransfer) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(TagImageTransfer)
	if err := writeString(&buf, it.Name); err != nil {
		return nil, err
	}
	if err := writeString(&buf, it.Format); err != nil {
		return nil, err
	}
	writeInt32(&buf, int32(len(it.Data)))
	buf.Write(it.Data)
	return buf.Bytes(), nil
}

// DecodeImageTransfer parses a tag-6 payload, tag byte included.
func DecodeImageTransfer(data []byte) (ImageTransfer, error) {
	r := bytes.NewReader(data)
	if _, err := r.ReadByte(); err != nil {
		return ImageTransfer{}, ErrTruncated
	}
	name, err := readString(r)
	if err != nil {
		return ImageTransfer{}, err
	}
	format, err := readString(r)
	if err != nil {
		return ImageTransfer{}, err
	}
	length, err := readInt32(r)
	if err != nil {
		return ImageTransfer{}, ErrTruncated
	}
	if length < 0 || int(length) > r.Len() {
		return ImageTransfer{}, ErrTruncated
	}
	content := make([]byte, length)
	if _, err := io.ReadFull(r, content); err != nil {
		return ImageTransfer{}, ErrTruncated
	}
	return ImageTransfer{Name: name, Format: format, Data: content}, nil
}
