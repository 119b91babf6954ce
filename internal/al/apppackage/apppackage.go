// Package apppackage loads compiled AL extensions (.app files): a 40-byte
// NAVX header followed by a ZIP archive containing NavxManifest.xml and
// SymbolReference.json.
package apppackage

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"os"
)

// navxHeaderSize is the length of the opaque header every .app file
// carries before the ZIP payload begins.
const navxHeaderSize = 40

// Error is the package loader's error taxonomy. Every failure is fatal to
// the one package being loaded; callers continue loading the rest of the
// dependency set.
type Error struct {
	Path string
	Kind string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(path, kind string, err error) *Error {
	return &Error{Path: path, Kind: kind, Err: err}
}

// Manifest is the subset of NavxManifest.xml this loader needs.
type Manifest struct {
	App struct {
		Name      string `xml:"Name,attr"`
		Publisher string `xml:"Publisher,attr"`
		Version   string `xml:"Version,attr"`
	} `xml:"App"`
}

// SymbolMethod is one procedure within a SymbolReference.json object.
type SymbolMethod struct {
	Name string `json:"Name"`
}

// SymbolObject is one object entry within a SymbolReference.json array.
type SymbolObject struct {
	Name    string         `json:"Name"`
	Id      int            `json:"Id,omitempty"`
	Methods []SymbolMethod `json:"Methods"`
}

// SymbolReference mirrors every object-kind array SymbolReference.json
// carries, including the four extension kinds and the non-code kinds
// (interfaces, control add-ins, permission sets) that still expose
// methods worth indexing.
type SymbolReference struct {
	Tables                  []SymbolObject `json:"Tables"`
	Codeunits               []SymbolObject `json:"Codeunits"`
	Pages                   []SymbolObject `json:"Pages"`
	Reports                 []SymbolObject `json:"Reports"`
	Queries                 []SymbolObject `json:"Queries"`
	XmlPorts                []SymbolObject `json:"XmlPorts"`
	Interfaces              []SymbolObject `json:"Interfaces"`
	EnumTypes               []SymbolObject `json:"EnumTypes"`
	ControlAddIns           []SymbolObject `json:"ControlAddIns"`
	PageExtensions          []SymbolObject `json:"PageExtensions"`
	TableExtensions         []SymbolObject `json:"TableExtensions"`
	EnumExtensionTypes      []SymbolObject `json:"EnumExtensionTypes"`
	PermissionSets          []SymbolObject `json:"PermissionSets"`
	PermissionSetExtensions []SymbolObject `json:"PermissionSetExtensions"`
}

// ObjectGroup pairs one SymbolReference array with the AL object-type name
// it represents, so callers can iterate without repeating the field list.
type ObjectGroup struct {
	ObjectType string
	Objects    []SymbolObject
}

// Groups returns every object array in sr tagged with its ObjectType name.
func (sr *SymbolReference) Groups() []ObjectGroup {
	return []ObjectGroup{
		{"Table", sr.Tables},
		{"Codeunit", sr.Codeunits},
		{"Page", sr.Pages},
		{"Report", sr.Reports},
		{"Query", sr.Queries},
		{"XmlPort", sr.XmlPorts},
		{"Interface", sr.Interfaces},
		{"Enum", sr.EnumTypes},
		{"ControlAddIn", sr.ControlAddIns},
		{"PageExtension", sr.PageExtensions},
		{"TableExtension", sr.TableExtensions},
		{"EnumExtension", sr.EnumExtensionTypes},
		{"PermissionSet", sr.PermissionSets},
		{"PermissionSetExtension", sr.PermissionSetExtensions},
	}
}

// PackageContents is the result of loading one .app file.
type PackageContents struct {
	AppName    string
	AppVersion string
	Symbols    SymbolReference
}

// Load opens path, skips the NAVX header, and reads the manifest and
// symbol reference out of the ZIP payload.
func Load(path string) (*PackageContents, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, newError(path, "Io", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, newError(path, "Io", err)
	}
	if info.Size() <= navxHeaderSize {
		return nil, newError(path, "BadHeader", nil)
	}

	zr, err := zip.NewReader(io.NewSectionReader(f, navxHeaderSize, info.Size()-navxHeaderSize), info.Size()-navxHeaderSize)
	if err != nil {
		return nil, newError(path, "ZipCorrupt", err)
	}

	manifest, err := readManifest(zr, path)
	if err != nil {
		return nil, err
	}
	symbols, err := readSymbolReference(zr, path)
	if err != nil {
		return nil, err
	}

	return &PackageContents{
		AppName:    manifest.App.Name,
		AppVersion: manifest.App.Version,
		Symbols:    *symbols,
	}, nil
}

func readManifest(zr *zip.Reader, path string) (*Manifest, error) {
	f, err := zr.Open("NavxManifest.xml")
	if err != nil {
		return nil, newError(path, "ManifestMissing", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, newError(path, "ManifestMalformed", err)
	}

	var m Manifest
	if err := xml.Unmarshal(data, &m); err != nil {
		return nil, newError(path, "ManifestMalformed", err)
	}
	return &m, nil
}

func readSymbolReference(zr *zip.Reader, path string) (*SymbolReference, error) {
	f, err := zr.Open("SymbolReference.json")
	if err != nil {
		return nil, newError(path, "SymbolReferenceMissing", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, newError(path, "SymbolReferenceMalformed", err)
	}
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})

	var sr SymbolReference
	// The file is padded with trailing NUL bytes after the JSON body;
	// decoding only the first value (rather than scanning to EOF) skips
	// the padding without having to trim it first.
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&sr); err != nil {
		return nil, newError(path, "SymbolReferenceMalformed", err)
	}
	return &sr, nil
}
