package deidaudit

import (
	"github.com/gradienthealth/dicom/dicomtag"
)

// Identity holds the fields that locate a record in the patient/study/series/instance hierarchy.
// For decoded records these are the post de-identification (remapped) identifiers.
type Identity struct {
	Patient  string
	Study    string
	Series   string
	Instance string
	Modality string
	Class    string
}

// FileInfo is the filesystem side of a record.
type FileInfo struct {
	Name string
	Path string
	Size int64
}

// An Element is one data element of a record. Elements with the "SQ" value representation hold
// their repeating group in Items, one slice of elements per item.
type Element struct {
	Tag    dicomtag.Tag
	VR     string
	Values []string
	Items  [][]*Element
}

// IsSequence reports whether the element is a repeating group container.
func (e *Element) IsSequence() bool {
	return e.VR == "SQ"
}

// IsPrivate reports whether the element belongs to an odd (vendor private) group.
func (e *Element) IsPrivate() bool {
	return e.Tag.Group%2 == 1
}

// IsPrivateCreator reports whether the element reserves a private block, (gggg,0010) to (gggg,00ff).
func (e *Element) IsPrivateCreator() bool {
	return e.IsPrivate() && e.Tag.Element >= 0x0010 && e.Tag.Element <= 0x00ff
}

// IsBulk reports whether the element is one of the binary payload kinds that are never compared
// by value.
func (e *Element) IsBulk() bool {
	switch {
	case e.Tag == dicomtag.PixelData:
		return true
	case e.Tag.Group&0xff00 == 0x6000 && e.Tag.Element == 0x3000:
		// Overlay Data, repeating group 60xx
		return true
	case e.Tag.Group == 0x0002 && e.Tag.Element == 0x0001:
		// File Meta Information Version
		return true
	}
	return false
}

// PixelFrame is the first native frame of a record's pixel payload, kept for pixel checks.
type PixelFrame struct {
	Rows          int
	Cols          int
	BitsPerSample int
	// Samples holds Rows*Cols intensities in row-major order (first sample of each pixel).
	Samples []int
}

// Record is one decoded file. A record is owned by the batch that decoded it and is discarded once
// its checks have been evaluated.
type Record struct {
	Identity
	File     FileInfo
	Elements []*Element
	// Digest of the bulk pixel payload, empty when the record carries no pixel data.
	Digest string
	Pixels *PixelFrame
}
