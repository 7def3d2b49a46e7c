package resource

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strconv"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/Janders1800/crown/engine/core"
	"github.com/Janders1800/crown/engine/gfx"
	"github.com/Janders1800/crown/engine/sjson"
)

// TextureVersion is the schema revision of compiled texture data.
const TextureVersion uint16 = 4

// TextureFormat is the converter output format. The set is closed; an
// unrecognized name is a compile fault, never a fallback.
type TextureFormat uint8

const (
	FormatBC1 TextureFormat = iota
	FormatBC2
	FormatBC3
	FormatBC4
	FormatBC5
	FormatPTC14
	FormatRGB8
	FormatRGBA8
)

var textureFormatNames = [...]string{
	FormatBC1:   "BC1",
	FormatBC2:   "BC2",
	FormatBC3:   "BC3",
	FormatBC4:   "BC4",
	FormatBC5:   "BC5",
	FormatPTC14: "PTC14",
	FormatRGB8:  "RGB8",
	FormatRGBA8: "RGBA8",
}

func (f TextureFormat) String() string {
	return textureFormatNames[f]
}

func textureFormatToEnum(name string) (TextureFormat, bool) {
	for f, n := range textureFormatNames {
		if n == name {
			return TextureFormat(f), true
		}
	}
	return 0, false
}

type outputSettings struct {
	format          TextureFormat
	generateMips    bool
	mipSkipSmallest int
	normalMap       bool
}

func defaultOutputSettings() outputSettings {
	return outputSettings{
		format:          FormatRGBA8,
		generateMips:    true,
		mipSkipSmallest: 0,
		normalMap:       false,
	}
}

func parseErr(opts *CompileOptions, err error) *Error {
	return &Error{Code: ErrParse, Asset: opts.SourcePath(), Err: err}
}

// parseOutput applies the overrides of the current platform's block, when
// present. Every key is optional, absent keys keep their defaults.
func parseOutput(settings *outputSettings, output *sjson.Node, opts *CompileOptions) error {
	platform, ok := output.Get(opts.Platform())
	if !ok {
		return nil
	}
	if n, ok := platform.Get("format"); ok {
		name, err := n.Str()
		if err != nil {
			return parseErr(opts, err)
		}
		f, ok := textureFormatToEnum(name)
		if !ok {
			return newError(ErrUnknownFormat, opts.SourcePath(), "unknown texture format %q", name)
		}
		settings.format = f
	}
	if n, ok := platform.Get("generate_mips"); ok {
		v, err := n.Bool()
		if err != nil {
			return parseErr(opts, err)
		}
		settings.generateMips = v
	}
	if n, ok := platform.Get("mip_skip_smallest"); ok {
		v, err := n.Int()
		if err != nil {
			return parseErr(opts, err)
		}
		settings.mipSkipSmallest = v
	}
	if n, ok := platform.Get("normal_map"); ok {
		v, err := n.Bool()
		if err != nil {
			return parseErr(opts, err)
		}
		settings.normalMap = v
	}
	return nil
}

func requireBool(obj *sjson.Node, key string, opts *CompileOptions) (bool, error) {
	n, ok := obj.Get(key)
	if !ok {
		return false, newError(ErrMissingField, opts.SourcePath(), "%s is required", key)
	}
	v, err := n.Bool()
	if err != nil {
		return false, parseErr(opts, err)
	}
	return v, nil
}

// compileTexture converts a source image into compressed texture data by
// shelling out to texturec, then emits the versioned blob.
func compileTexture(opts *CompileOptions) error {
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

	settings := defaultOutputSettings()
	if output, ok := obj.Get("output"); ok {
		if err := parseOutput(&settings, output, opts); err != nil {
			return err
		}
	} else {
		// Legacy descriptors carry the flags at the top level and keep
		// the default format. Compatibility shim, preserved as-is.
		if settings.generateMips, err = requireBool(obj, "generate_mips", opts); err != nil {
			return err
		}
		if settings.normalMap, err = requireBool(obj, "normal_map", opts); err != nil {
			return err
		}
	}

	texSrc, err := opts.AbsolutePath(src)
	if err != nil {
		return err
	}
	probeImage(texSrc)
	texOut := opts.TemporaryPath("ktx")

	texturec, err := opts.FindTool("texturec")
	if err != nil {
		return err
	}

	argv := []string{texturec, "-f", texSrc, "-o", texOut, "-t", settings.format.String()}
	if settings.normalMap {
		argv = append(argv, "-n")
	}
	if settings.generateMips {
		argv = append(argv, "-m")
	}
	if settings.mipSkipSmallest > 0 {
		argv = append(argv, "--mipskip", strconv.Itoa(settings.mipSkipSmallest))
	}

	exit, toolOut, err := opts.RunTool(argv, CaptureMerged)
	if err != nil {
		return err
	}
	if exit != 0 {
		return &Error{Code: ErrToolchainExit, Asset: opts.SourcePath(), Msg: fmt.Sprintf("texturec exited %d", exit), Output: toolOut}
	}

	blob, err := opts.ReadTemporary(texOut)
	if err != nil {
		return err
	}
	if err := opts.DeleteFile(texOut); err != nil {
		core.LogWarn("could not remove %s: %v", texOut, err)
	}

	opts.WriteUint32(Tag(TypeTexture, TextureVersion))
	opts.WriteUint32(uint32(len(blob)))
	opts.Write(blob)
	return nil
}

// probeImage warns about source dimensions the converter will resample.
// Probe failures are not errors, the converter owns real validation.
func probeImage(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return
	}
	if !isPow2(cfg.Width) || !isPow2(cfg.Height) {
		core.LogWarn("%s: %dx%d is not a power of two", path, cfg.Width, cfg.Height)
	}
}

func isPow2(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// Texture is the runtime form of compiled texture data: the converter's
// raw bytes plus the backend handle while online.
type Texture struct {
	Memory []byte
	Handle gfx.TextureHandle
}

func loadTexture(payload []byte) (interface{}, error) {
	return &Texture{Memory: payload, Handle: gfx.InvalidTexture}, nil
}

func onlineTexture(m *Manager, id ID, obj interface{}) error {
	t := obj.(*Texture)
	h, err := m.Backend().CreateTexture(t.Memory)
	if err != nil {
		return err
	}
	t.Handle = h
	return nil
}

func offlineTexture(m *Manager, id ID, obj interface{}) {
	t := obj.(*Texture)
	m.Backend().DestroyTexture(t.Handle)
	t.Handle = gfx.InvalidTexture
}

func textureHandler() Handler {
	return Handler{
		Name:     "texture",
		Type:     TypeTexture,
		Revision: TextureVersion,
		Compile:  compileTexture,
		Load:     loadTexture,
		Online:   onlineTexture,
		Offline:  offlineTexture,
	}
}
