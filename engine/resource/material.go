package resource

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/Janders1800/crown/engine/core"
	"github.com/Janders1800/crown/engine/sjson"
)

// MaterialVersion is the schema revision of compiled material data.
const MaterialVersion uint16 = 2

// UniformType is the value layout of one material uniform.
type UniformType uint32

const (
	UniformFloat UniformType = iota
	UniformVector2
	UniformVector3
	UniformVector4
)

var uniformTypeNames = [...]string{
	UniformFloat:   "float",
	UniformVector2: "vector2",
	UniformVector3: "vector3",
	UniformVector4: "vector4",
}

func (u UniformType) String() string {
	return uniformTypeNames[u]
}

// components reports how many floats of the 16-byte value slot are used.
func (u UniformType) components() int {
	return int(u) + 1
}

func uniformTypeToEnum(name string) (UniformType, bool) {
	for u, n := range uniformTypeNames {
		if n == name {
			return UniformType(u), true
		}
	}
	return 0, false
}

// MaterialTexture binds a sampler name to a texture resource.
type MaterialTexture struct {
	Sampler uint32
	Texture ID
}

// MaterialUniform is one shader parameter with its default value.
type MaterialUniform struct {
	Name  uint32
	Type  UniformType
	Value [4]float32
}

// Material is the runtime form of compiled material data. Going online
// acquires the referenced textures through the manager; going offline
// releases them.
type Material struct {
	Shader   uint32
	Textures []MaterialTexture
	Uniforms []MaterialUniform
}

// Compiled material payload, little-endian:
//
//	u32 shader name hash
//	u32 texture count
//	u32 uniform count
//	texture count * { u32 sampler hash | u64 texture resource id }
//	uniform count * { u32 name hash | u32 type | 4xf32 value }
const (
	materialFixedSize   = 12
	materialTextureSize = 12
	materialUniformSize = 24
)

func compileMaterial(opts *CompileOptions) error {
	data, err := opts.Read()
	if err != nil {
		return err
	}
	obj, err := sjson.Parse(data)
	if err != nil {
		return parseErr(opts, err)
	}

	shaderNode, ok := obj.Get("shader")
	if !ok {
		return newError(ErrMissingField, opts.SourcePath(), "shader is required")
	}
	shader, err := shaderNode.Str()
	if err != nil {
		return parseErr(opts, err)
	}

	var payload bytes.Buffer
	var texBuf bytes.Buffer
	var texCount uint32
	if textures, ok := obj.Get("textures"); ok {
		for _, sampler := range textures.Keys() {
			n, _ := textures.Get(sampler)
			texName, err := n.Str()
			if err != nil {
				return parseErr(opts, err)
			}
			descriptor := texName + ".texture"
			if opts.FileExists(descriptor) {
				opts.FakeRead(descriptor)
			} else {
				core.LogWarn("%s: references missing texture %q", opts.SourcePath(), texName)
			}
			writeU32(&texBuf, core.StringID32(sampler))
			writeU64(&texBuf, uint64(MakeID("texture", texName)))
			texCount++
		}
	}

	var uniBuf bytes.Buffer
	var uniCount uint32
	if uniforms, ok := obj.Get("uniforms"); ok {
		for _, name := range uniforms.Keys() {
			u, _ := uniforms.Get(name)
			if u.Kind() != sjson.KindObject {
				return newError(ErrParse, opts.SourcePath(), "uniform %q is not an object", name)
			}
			typeNode, ok := u.Get("type")
			if !ok {
				return newError(ErrMissingField, opts.SourcePath(), "uniform %q has no type", name)
			}
			typeName, err := typeNode.Str()
			if err != nil {
				return parseErr(opts, err)
			}
			ut, ok := uniformTypeToEnum(typeName)
			if !ok {
				return newError(ErrUnknownUniformType, opts.SourcePath(), "unknown uniform type %q", typeName)
			}
			value, err := parseUniformValue(u, name, ut, opts)
			if err != nil {
				return err
			}
			writeU32(&uniBuf, core.StringID32(name))
			writeU32(&uniBuf, uint32(ut))
			for _, f := range value {
				writeU32(&uniBuf, math.Float32bits(f))
			}
			uniCount++
		}
	}

	writeU32(&payload, core.StringID32(shader))
	writeU32(&payload, texCount)
	writeU32(&payload, uniCount)
	payload.Write(texBuf.Bytes())
	payload.Write(uniBuf.Bytes())

	opts.WriteUint32(Tag(TypeMaterial, MaterialVersion))
	opts.WriteUint32(uint32(payload.Len()))
	opts.Write(payload.Bytes())
	return nil
}

func parseUniformValue(u *sjson.Node, name string, ut UniformType, opts *CompileOptions) ([4]float32, error) {
	var value [4]float32
	valueNode, ok := u.Get("value")
	if !ok {
		return value, newError(ErrMissingField, opts.SourcePath(), "uniform %q has no value", name)
	}
	if ut == UniformFloat {
		f, err := valueNode.Num()
		if err != nil {
			return value, parseErr(opts, err)
		}
		value[0] = float32(f)
		return value, nil
	}
	items, err := valueNode.Items()
	if err != nil {
		return value, parseErr(opts, err)
	}
	if len(items) != ut.components() {
		return value, newError(ErrParse, opts.SourcePath(), "uniform %q: %s value needs %d elements, has %d", name, ut, ut.components(), len(items))
	}
	for i, item := range items {
		f, err := item.Num()
		if err != nil {
			return value, parseErr(opts, err)
		}
		value[i] = float32(f)
	}
	return value, nil
}

func writeU32(b *bytes.Buffer, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	b.Write(buf[:])
}

func writeU64(b *bytes.Buffer, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	b.Write(buf[:])
}

func loadMaterial(payload []byte) (interface{}, error) {
	if len(payload) < materialFixedSize {
		return nil, newError(ErrCorrupt, "", "material payload is %d bytes, want at least %d", len(payload), materialFixedSize)
	}
	texCount := binary.LittleEndian.Uint32(payload[4:8])
	uniCount := binary.LittleEndian.Uint32(payload[8:12])
	want := materialFixedSize + int(texCount)*materialTextureSize + int(uniCount)*materialUniformSize
	if len(payload) != want {
		return nil, newError(ErrCorrupt, "", "material payload is %d bytes, tables need %d", len(payload), want)
	}

	m := &Material{
		Shader:   binary.LittleEndian.Uint32(payload[0:4]),
		Textures: make([]MaterialTexture, texCount),
		Uniforms: make([]MaterialUniform, uniCount),
	}
	off := materialFixedSize
	for i := range m.Textures {
		m.Textures[i].Sampler = binary.LittleEndian.Uint32(payload[off : off+4])
		m.Textures[i].Texture = ID(binary.LittleEndian.Uint64(payload[off+4 : off+12]))
		off += materialTextureSize
	}
	for i := range m.Uniforms {
		m.Uniforms[i].Name = binary.LittleEndian.Uint32(payload[off : off+4])
		m.Uniforms[i].Type = UniformType(binary.LittleEndian.Uint32(payload[off+4 : off+8]))
		for c := 0; c < 4; c++ {
			bits := binary.LittleEndian.Uint32(payload[off+8+4*c : off+12+4*c])
			m.Uniforms[i].Value[c] = math.Float32frombits(bits)
		}
		off += materialUniformSize
	}
	return m, nil
}

// onlineMaterial takes a reference on every referenced texture and makes
// sure it is online. A failure releases what was already acquired.
func onlineMaterial(m *Manager, id ID, obj interface{}) error {
	mat := obj.(*Material)
	for i, t := range mat.Textures {
		if err := acquireTexture(m, t.Texture); err != nil {
			for j := i - 1; j >= 0; j-- {
				releaseTexture(m, mat.Textures[j].Texture)
			}
			return err
		}
	}
	return nil
}

func offlineMaterial(m *Manager, id ID, obj interface{}) {
	mat := obj.(*Material)
	for _, t := range mat.Textures {
		releaseTexture(m, t.Texture)
	}
}

func acquireTexture(m *Manager, id ID) error {
	if err := m.LoadID("texture", id); err != nil {
		return err
	}
	if m.StateID(id) != StateOnline {
		if err := m.OnlineID("texture", id); err != nil {
			if rerr := m.discardLoaded("texture", id); rerr != nil {
				core.LogError("release texture %s: %v", id, rerr)
			}
			return err
		}
	}
	return nil
}

func releaseTexture(m *Manager, id ID) {
	if m.RefsID(id) == 1 && m.StateID(id) == StateOnline {
		if err := m.OfflineID("texture", id); err != nil {
			core.LogError("release texture %s: %v", id, err)
			return
		}
	}
	if err := m.UnloadID("texture", id); err != nil {
		core.LogError("release texture %s: %v", id, err)
	}
}

func materialHandler() Handler {
	return Handler{
		Name:     "material",
		Type:     TypeMaterial,
		Revision: MaterialVersion,
		Compile:  compileMaterial,
		Load:     loadMaterial,
		Online:   onlineMaterial,
		Offline:  offlineMaterial,
	}
}
