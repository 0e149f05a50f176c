// Package epub writes the minimal EPUB container used as a reader test fixture.
// The archive layout and payloads are fixed; nothing here is a general EPUB writer.
package epub

import (
	"bufio"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/klauspost/compress/zip"
)

// MimeType is the literal content of the mimetype entry.
const MimeType = "application/epub+zip"

// Entry names in archive order.
const (
	NameMimeType  = "mimetype"
	NameContainer = "META-INF/container.xml"
	NamePackage   = "content.opf"
	NameNCX       = "toc.ncx"
	NamePage      = "page1.html"
)

// DOS date for 1980-01-01, the ZIP epoch. Every entry carries it so that
// repeated runs produce identical bytes.
const (
	fixedModDate uint16 = 1<<5 | 1
	fixedModTime uint16 = 0
)

// Entry is one named member of the archive.
type Entry struct {
	Name   string
	Body   []byte
	Method uint16 // zip.Store or zip.Deflate
}

const containerXML = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

const packageOPF = `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" unique-identifier="BookID" version="2.0">
    <metadata xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:opf="http://www.idpf.org/2007/opf">
        <dc:title>Snoopy's Guide to Life</dc:title>
        <dc:language>en</dc:language>
        <dc:identifier id="BookID" opf:scheme="UUID">urn:uuid:12345</dc:identifier>
        <dc:creator>Charles M. Schulz</dc:creator>
    </metadata>
    <manifest>
        <item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>
        <item id="page1" href="page1.html" media-type="application/xhtml+xml"/>
    </manifest>
    <spine toc="ncx">
        <itemref idref="page1"/>
    </spine>
</package>`

const tocNCX = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE ncx PUBLIC "-//NISO//DTD ncx 2005-1//EN"
 "http://www.daisy.org/z3986/2005/ncx-2005-1.dtd">
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1">
<head>
</head>
<docTitle>
  <text>Snoopy's Guide</text>
</docTitle>
<navMap>
  <navPoint id="navPoint-1" playOrder="1">
    <navLabel>
      <text>Start</text>
    </navLabel>
    <content src="page1.html"/>
  </navPoint>
</navMap>
</ncx>`

const pageHTML = `<html><body><h1>Hello Snoopy!</h1></body></html>`

// Entries returns the fixture entries in the order they are written.
// The mimetype entry is first and stored uncompressed.
func Entries() []Entry {
	return []Entry{
		{Name: NameMimeType, Body: []byte(MimeType), Method: zip.Store},
		{Name: NameContainer, Body: []byte(containerXML), Method: zip.Deflate},
		{Name: NamePackage, Body: []byte(packageOPF), Method: zip.Deflate},
		{Name: NameNCX, Body: []byte(tocNCX), Method: zip.Deflate},
		{Name: NamePage, Body: []byte(pageHTML), Method: zip.Deflate},
	}
}

// Write streams the fixture archive to w.
func Write(w io.Writer) error {
	zw := zip.NewWriter(w)
	for _, e := range Entries() {
		if err := writeEntry(zw, e); err != nil {
			return fmt.Errorf("write %s: %w", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	return nil
}

// Create writes the fixture archive to filename, replacing any existing file.
func Create(filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create %s: %w", filename, err)
	}

	bw := bufio.NewWriter(f)
	if err := Write(bw); err != nil {
		_ = f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush %s: %w", filename, err)
	}
	return f.Close()
}

func writeEntry(zw *zip.Writer, e Entry) error {
	fh := &zip.FileHeader{
		Name:         e.Name,
		Method:       e.Method,
		ModifiedDate: fixedModDate,
		ModifiedTime: fixedModTime,
	}

	// Stored entries go through CreateRaw so the local header carries the
	// real sizes and no data descriptor follows; readers sniff mimetype at
	// a fixed offset.
	if e.Method == zip.Store {
		fh.CRC32 = crc32.ChecksumIEEE(e.Body)
		fh.CompressedSize64 = uint64(len(e.Body))
		fh.UncompressedSize64 = uint64(len(e.Body))
		w, err := zw.CreateRaw(fh)
		if err != nil {
			return err
		}
		_, err = w.Write(e.Body)
		return err
	}

	w, err := zw.CreateHeader(fh)
	if err != nil {
		return err
	}
	_, err = w.Write(e.Body)
	return err
}
