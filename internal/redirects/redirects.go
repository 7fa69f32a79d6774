// Package redirects locates functions annotated with a go:redirect-from
// directive and patches the kernel image's redirect table so the rt0 code can
// hook the listed runtime symbols.
//
// A directive has the form
//
//	//go:redirect-from runtime.gopanic
//
// and is placed in the doc comment of the function that replaces the named
// symbol.
package redirects

import (
	"bufio"
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const (
	directive = "//go:redirect-from"

	// TableSection is the name of the ELF section that holds the table.
	TableSection = ".goredirectstbl"

	// entrySize is the size of a table entry: the source and destination
	// addresses as little endian uint64 values.
	entrySize = 16
)

var errNoModuleLine = errors.New("go.mod does not declare a module path")

// Redirect describes a runtime symbol (Src) that is replaced by a kernel
// function (Dst), along with the addresses of both in the kernel image.
type Redirect struct {
	Src string
	Dst string

	SrcVMA uint64
	DstVMA uint64
}

// ModulePath returns the module path declared by the go.mod file in dir.
func ModulePath(dir string) (string, error) {
	f, err := os.Open(filepath.Join(dir, "go.mod"))
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 2 && fields[0] == "module" {
			return strings.Trim(fields[1], `"`), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}

	return "", errNoModuleLine
}

// Find parses every non-test Go file below root/dir and returns the
// redirects declared in them. Destination symbols are qualified with the
// import path modulePath/dir.
func Find(root, dir, modulePath string) ([]*Redirect, error) {
	var redirects []*Redirect

	err := filepath.WalkDir(filepath.Join(root, dir), func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if filepath.Ext(p) != ".go" || strings.HasSuffix(p, "_test.go") {
			return nil
		}

		rel, err := filepath.Rel(root, filepath.Dir(p))
		if err != nil {
			return err
		}

		found, err := findInFile(p, path.Join(modulePath, filepath.ToSlash(rel)))
		if err != nil {
			return err
		}
		redirects = append(redirects, found...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return redirects, nil
}

func findInFile(file, pkgPath string) ([]*Redirect, error) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, file, nil, parser.ParseComments)
	if err != nil {
		return nil, err
	}

	var redirects []*Redirect
	for _, decl := range f.Decls {
		fnDecl, ok := decl.(*ast.FuncDecl)
		if !ok || fnDecl.Doc == nil || fnDecl.Recv != nil {
			continue
		}

		for _, comment := range fnDecl.Doc.List {
			if !strings.HasPrefix(comment.Text, directive) {
				continue
			}

			fqName := pkgPath + "." + fnDecl.Name.Name
			fields := strings.Fields(comment.Text)
			if len(fields) != 2 || fields[0] != directive {
				return nil, fmt.Errorf("%s: malformed go:redirect-from directive for %q",
					fset.Position(comment.Pos()), fqName)
			}

			redirects = append(redirects, &Redirect{Src: fields[1], Dst: fqName})
		}
	}

	return redirects, nil
}

// Resolve fills in the addresses of every redirect from the symbol table.
func Resolve(redirects []*Redirect, symbols []elf.Symbol) error {
	addr := make(map[string]uint64, len(symbols))
	for _, sym := range symbols {
		addr[sym.Name] = sym.Value
	}

	for _, r := range redirects {
		r.SrcVMA, r.DstVMA = addr[r.Src], addr[r.Dst]
		switch {
		case r.SrcVMA == 0:
			return fmt.Errorf("could not locate address of %q", r.Src)
		case r.DstVMA == 0:
			return fmt.Errorf("could not locate address of %q", r.Dst)
		}
	}

	return nil
}

// EncodeTable returns the table entries for the given redirects.
func EncodeTable(redirects []*Redirect) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, len(redirects)*entrySize))
	for _, r := range redirects {
		_ = binary.Write(buf, binary.LittleEndian, r.SrcVMA)
		_ = binary.Write(buf, binary.LittleEndian, r.DstVMA)
	}
	return buf.Bytes()
}

// WriteTable writes the encoded table at offset, failing if it does not fit
// in capacity bytes.
func WriteTable(w io.WriterAt, offset, capacity uint64, redirects []*Redirect) error {
	table := EncodeTable(redirects)
	if uint64(len(table)) > capacity {
		return fmt.Errorf("redirect table needs %d bytes but %s holds %d", len(table), TableSection, capacity)
	}

	_, err := w.WriteAt(table, int64(offset))
	return err
}

// PopulateImage resolves the redirects against the symbols of the ELF file
// at imgFile and writes the table into its TableSection.
func PopulateImage(imgFile string, redirects []*Redirect) error {
	img, err := elf.Open(imgFile)
	if err != nil {
		return err
	}

	section := img.Section(TableSection)
	if section == nil {
		img.Close()
		return fmt.Errorf("%s: missing %s section", imgFile, TableSection)
	}
	offset, capacity := section.Offset, section.Size

	symbols, err := img.Symbols()
	img.Close()
	if err != nil {
		return fmt.Errorf("%s: %w", imgFile, err)
	}

	if err = Resolve(redirects, symbols); err != nil {
		return fmt.Errorf("%s: %w", imgFile, err)
	}

	f, err := os.OpenFile(imgFile, os.O_WRONLY, 0)
	if err != nil {
		return err
	}

	if err = WriteTable(f, offset, capacity, redirects); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
