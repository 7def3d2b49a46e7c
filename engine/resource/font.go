package resource

import (
	"bytes"
	"encoding/binary"
	"path"
	"strings"

	"github.com/fzipp/bmfont"
	"golang.org/x/exp/slices"

	"github.com/Janders1800/crown/engine/core"
	"github.com/Janders1800/crown/engine/sjson"
)

// FontVersion is the schema revision of compiled bitmap font data.
const FontVersion uint16 = 1

// Glyph is one rendered character of a bitmap font atlas.
type Glyph struct {
	Codepoint rune
	X         uint16
	Y         uint16
	Width     uint16
	Height    uint16
	XOffset   int16
	YOffset   int16
	XAdvance  int16
	Page      uint16
}

// FontKerning adjusts the advance between a pair of glyphs.
type FontKerning struct {
	First  rune
	Second rune
	Amount int32
}

// Font is the runtime form of compiled bitmap font data. Pages name the
// texture resources holding the atlas images; glyphs are sorted by
// codepoint.
type Font struct {
	Size       uint32
	LineHeight uint32
	Baseline   uint32
	ScaleW     uint32
	ScaleH     uint32
	Pages      []ID
	Glyphs     []Glyph
	Kernings   []FontKerning
}

// Glyph finds the glyph for a codepoint.
func (f *Font) Glyph(r rune) (Glyph, bool) {
	i, ok := slices.BinarySearchFunc(f.Glyphs, r, func(g Glyph, r rune) int {
		return int(g.Codepoint) - int(r)
	})
	if !ok {
		return Glyph{}, false
	}
	return f.Glyphs[i], true
}

// Kerning returns the advance adjustment for the pair, 0 when none.
func (f *Font) Kerning(first, second rune) int32 {
	for _, k := range f.Kernings {
		if k.First == first && k.Second == second {
			return k.Amount
		}
	}
	return 0
}

// Compiled font payload, little-endian:
//
//	u32 size | u32 line height | u32 baseline | u32 scale w | u32 scale h
//	u32 page count | u32 glyph count | u32 kerning count
//	page count    * u64 page texture resource id
//	glyph count   * { u32 codepoint | u16 x y w h | i16 xoff yoff xadv | u16 page }
//	kerning count * { u32 first | u32 second | i32 amount }
const (
	fontFixedSize   = 32
	fontPageSize    = 8
	fontGlyphSize   = 20
	fontKerningSize = 12
)

// compileFont reads an AngelCode .fnt descriptor and emits the versioned
// glyph tables. Page images are separate texture resources, referenced by
// id; the font carries no pixels of its own.
func compileFont(opts *CompileOptions) error {
	data, err := opts.Read()
	if err != nil {
		return err
	}
	obj, err := sjson.Parse(data)
	if err != nil {
		return parseErr(opts, err)
	}

	srcNode, ok := obj.Get("source")
	if !ok {
		return newError(ErrMissingField, opts.SourcePath(), "source is required")
	}
	src, err := srcNode.Str()
	if err != nil {
		return parseErr(opts, err)
	}
	if !opts.FileExists(src) {
		return newError(ErrSourceNotFound, opts.SourcePath(), "source %q does not exist", src)
	}
	opts.FakeRead(src)

	abs, err := opts.AbsolutePath(src)
	if err != nil {
		return err
	}
	desc, err := bmfont.LoadDescriptor(abs)
	if err != nil {
		return &Error{Code: ErrParse, Asset: opts.SourcePath(), Msg: "bad font descriptor", Err: err}
	}

	// Page atlases live next to the .fnt and are authored as standalone
	// texture resources named after the image stem.
	dir := path.Dir(src)
	pages := make([]bmfont.Page, 0, len(desc.Pages))
	for _, p := range desc.Pages {
		pages = append(pages, p)
	}
	slices.SortFunc(pages, func(a, b bmfont.Page) int { return a.ID - b.ID })
	pageIDs := make([]ID, len(pages))
	for i, p := range pages {
		stem := strings.TrimSuffix(p.File, path.Ext(p.File))
		name := path.Join(dir, stem)
		descriptor := name + ".texture"
		if opts.FileExists(descriptor) {
			opts.FakeRead(descriptor)
		} else {
			core.LogWarn("%s: page %q has no texture descriptor %q", opts.SourcePath(), p.File, descriptor)
		}
		pageIDs[i] = MakeID("texture", name)
	}

	glyphs := make([]Glyph, 0, len(desc.Chars))
	for _, c := range desc.Chars {
		glyphs = append(glyphs, Glyph{
			Codepoint: c.ID,
			X:         uint16(c.X),
			Y:         uint16(c.Y),
			Width:     uint16(c.Width),
			Height:    uint16(c.Height),
			XOffset:   int16(c.XOffset),
			YOffset:   int16(c.YOffset),
			XAdvance:  int16(c.XAdvance),
			Page:      uint16(c.Page),
		})
	}
	slices.SortFunc(glyphs, func(a, b Glyph) int { return int(a.Codepoint) - int(b.Codepoint) })

	kernings := make([]FontKerning, 0, len(desc.Kerning))
	for pair, k := range desc.Kerning {
		kernings = append(kernings, FontKerning{First: pair.First, Second: pair.Second, Amount: int32(k.Amount)})
	}
	slices.SortFunc(kernings, func(a, b FontKerning) int {
		if a.First != b.First {
			return int(a.First) - int(b.First)
		}
		return int(a.Second) - int(b.Second)
	})

	var payload bytes.Buffer
	writeU32(&payload, uint32(desc.Info.Size))
	writeU32(&payload, uint32(desc.Common.LineHeight))
	writeU32(&payload, uint32(desc.Common.Base))
	writeU32(&payload, uint32(desc.Common.ScaleW))
	writeU32(&payload, uint32(desc.Common.ScaleH))
	writeU32(&payload, uint32(len(pageIDs)))
	writeU32(&payload, uint32(len(glyphs)))
	writeU32(&payload, uint32(len(kernings)))
	for _, id := range pageIDs {
		writeU64(&payload, uint64(id))
	}
	for _, g := range glyphs {
		writeU32(&payload, uint32(g.Codepoint))
		writeU16(&payload, g.X)
		writeU16(&payload, g.Y)
		writeU16(&payload, g.Width)
		writeU16(&payload, g.Height)
		writeU16(&payload, uint16(g.XOffset))
		writeU16(&payload, uint16(g.YOffset))
		writeU16(&payload, uint16(g.XAdvance))
		writeU16(&payload, g.Page)
	}
	for _, k := range kernings {
		writeU32(&payload, uint32(k.First))
		writeU32(&payload, uint32(k.Second))
		writeU32(&payload, uint32(k.Amount))
	}

	opts.WriteUint32(Tag(TypeFont, FontVersion))
	opts.WriteUint32(uint32(payload.Len()))
	opts.Write(payload.Bytes())
	return nil
}

func writeU16(b *bytes.Buffer, v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	b.Write(buf[:])
}

func loadFont(payload []byte) (interface{}, error) {
	if len(payload) < fontFixedSize {
		return nil, newError(ErrCorrupt, "", "font payload is %d bytes, want at least %d", len(payload), fontFixedSize)
	}
	pageCount := binary.LittleEndian.Uint32(payload[20:24])
	glyphCount := binary.LittleEndian.Uint32(payload[24:28])
	kerningCount := binary.LittleEndian.Uint32(payload[28:32])
	want := fontFixedSize + int(pageCount)*fontPageSize + int(glyphCount)*fontGlyphSize + int(kerningCount)*fontKerningSize
	if len(payload) != want {
		return nil, newError(ErrCorrupt, "", "font payload is %d bytes, tables need %d", len(payload), want)
	}

	f := &Font{
		Size:       binary.LittleEndian.Uint32(payload[0:4]),
		LineHeight: binary.LittleEndian.Uint32(payload[4:8]),
		Baseline:   binary.LittleEndian.Uint32(payload[8:12]),
		ScaleW:     binary.LittleEndian.Uint32(payload[12:16]),
		ScaleH:     binary.LittleEndian.Uint32(payload[16:20]),
		Pages:      make([]ID, pageCount),
		Glyphs:     make([]Glyph, glyphCount),
		Kernings:   make([]FontKerning, kerningCount),
	}
	off := fontFixedSize
	for i := range f.Pages {
		f.Pages[i] = ID(binary.LittleEndian.Uint64(payload[off : off+8]))
		off += fontPageSize
	}
	for i := range f.Glyphs {
		g := &f.Glyphs[i]
		g.Codepoint = rune(binary.LittleEndian.Uint32(payload[off : off+4]))
		g.X = binary.LittleEndian.Uint16(payload[off+4 : off+6])
		g.Y = binary.LittleEndian.Uint16(payload[off+6 : off+8])
		g.Width = binary.LittleEndian.Uint16(payload[off+8 : off+10])
		g.Height = binary.LittleEndian.Uint16(payload[off+10 : off+12])
		g.XOffset = int16(binary.LittleEndian.Uint16(payload[off+12 : off+14]))
		g.YOffset = int16(binary.LittleEndian.Uint16(payload[off+14 : off+16]))
		g.XAdvance = int16(binary.LittleEndian.Uint16(payload[off+16 : off+18]))
		g.Page = binary.LittleEndian.Uint16(payload[off+18 : off+20])
		off += fontGlyphSize
	}
	for i := range f.Kernings {
		k := &f.Kernings[i]
		k.First = rune(binary.LittleEndian.Uint32(payload[off : off+4]))
		k.Second = rune(binary.LittleEndian.Uint32(payload[off+4 : off+8]))
		k.Amount = int32(binary.LittleEndian.Uint32(payload[off+8 : off+12]))
		off += fontKerningSize
	}
	return f, nil
}

func fontHandler() Handler {
	return Handler{
		Name:     "font",
		Type:     TypeFont,
		Revision: FontVersion,
		Compile:  compileFont,
		Load:     loadFont,
	}
}
