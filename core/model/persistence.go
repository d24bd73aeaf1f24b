package model

import (
	"encoding/gob"
	"io"
	"os"

	"github.com/gridproxy/leapnet/pkg/errors"
)

// SaveBlob serializes an opaque value (typically a parameter snapshot) to
// filename using gob encoding.
func SaveBlob(value interface{}, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", filename)
	}
	defer file.Close()

	if err := SaveBlobToWriter(value, file); err != nil {
		return err
	}
	return nil
}

// LoadBlob deserializes a gob-encoded value from filename into value, which
// must be a pointer. A missing file surfaces as a LoadError.
func LoadBlob(value interface{}, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return errors.NewLoadError(filename, err)
	}
	defer file.Close()

	if err := LoadBlobFromReader(value, file); err != nil {
		return errors.NewLoadError(filename, err)
	}
	return nil
}

// SaveBlobToWriter gob-encodes value into w.
func SaveBlobToWriter(value interface{}, w io.Writer) error {
	if err := gob.NewEncoder(w).Encode(value); err != nil {
		return errors.Wrap(err, "failed to encode blob")
	}
	return nil
}

// LoadBlobFromReader gob-decodes a value from r into value, which must be a
// pointer.
func LoadBlobFromReader(value interface{}, r io.Reader) error {
	if err := gob.NewDecoder(r).Decode(value); err != nil {
		return errors.Wrap(err, "failed to decode blob")
	}
	return nil
}
