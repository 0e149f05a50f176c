package epub

import (
	"errors"
	"fmt"
	"io"

	"github.com/beevik/etree"
	"github.com/klauspost/compress/zip"
)

// ErrInvalidPackage is returned by Summary.Validate when the archive breaks
// the container layout rules.
var ErrInvalidPackage = errors.New("invalid epub package")

// EntryInfo describes one archive member as read back from disk.
type EntryInfo struct {
	Name   string
	Method uint16
	Size   uint64
}

// Metadata holds the Dublin Core fields of the package document.
type Metadata struct {
	Title      string
	Creator    string
	Language   string
	Identifier string
}

// Summary is the read-back view of a fixture archive.
type Summary struct {
	Entries  []EntryInfo
	MimeType string
	Rootfile string
	Metadata Metadata
}

// Names returns entry names in archive order.
func (s *Summary) Names() []string {
	names := make([]string, 0, len(s.Entries))
	for _, e := range s.Entries {
		names = append(names, e.Name)
	}
	return names
}

// Validate checks that mimetype is the first entry, stored, with the exact
// marker bytes, and that the container points at a package document.
func (s *Summary) Validate() error {
	if len(s.Entries) == 0 {
		return fmt.Errorf("%w: archive is empty", ErrInvalidPackage)
	}
	first := s.Entries[0]
	if first.Name != NameMimeType {
		return fmt.Errorf("%w: first entry is %q, want %q", ErrInvalidPackage, first.Name, NameMimeType)
	}
	if first.Method != zip.Store {
		return fmt.Errorf("%w: mimetype is compressed (method %d)", ErrInvalidPackage, first.Method)
	}
	if s.MimeType != MimeType {
		return fmt.Errorf("%w: mimetype content %q", ErrInvalidPackage, s.MimeType)
	}
	if s.Rootfile == "" {
		return fmt.Errorf("%w: container has no rootfile", ErrInvalidPackage)
	}
	return nil
}

// Inspect opens the archive at path and summarises its layout and metadata.
func Inspect(path string) (*Summary, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	defer r.Close()

	files := make(map[string]*zip.File, len(r.File))
	sum := &Summary{}
	for _, f := range r.File {
		sum.Entries = append(sum.Entries, EntryInfo{
			Name:   f.Name,
			Method: f.Method,
			Size:   f.UncompressedSize64,
		})
		files[f.Name] = f
	}

	if f, ok := files[NameMimeType]; ok {
		b, err := readFile(f)
		if err != nil {
			return nil, err
		}
		sum.MimeType = string(b)
	}

	f, ok := files[NameContainer]
	if !ok {
		return sum, nil
	}
	b, err := readFile(f)
	if err != nil {
		return nil, err
	}
	container := etree.NewDocument()
	if err := container.ReadFromBytes(b); err != nil {
		return nil, fmt.Errorf("parse %s: %w", NameContainer, err)
	}
	if rf := container.FindElement("//rootfile"); rf != nil {
		sum.Rootfile = rf.SelectAttrValue("full-path", "")
	}

	opf, ok := files[sum.Rootfile]
	if !ok {
		return sum, nil
	}
	b, err = readFile(opf)
	if err != nil {
		return nil, err
	}
	md, err := parseMetadata(b)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", sum.Rootfile, err)
	}
	sum.Metadata = md
	return sum, nil
}

func parseMetadata(b []byte) (Metadata, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(b); err != nil {
		return Metadata{}, err
	}
	var md Metadata
	meta := doc.FindElement("//metadata")
	if meta == nil {
		return md, nil
	}
	for _, el := range meta.ChildElements() {
		switch el.Tag {
		case "title":
			md.Title = el.Text()
		case "creator":
			md.Creator = el.Text()
		case "language":
			md.Language = el.Text()
		case "identifier":
			md.Identifier = el.Text()
		}
	}
	return md, nil
}

func readFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	return b, nil
}
