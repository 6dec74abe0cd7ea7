package c3d

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Parameter data types as stored in the container.
const (
	typeChar  int8 = -1
	typeByte  int8 = 1
	typeInt16 int8 = 2
	typeFloat int8 = 4
)

// Parameter is one named value inside a parameter group. Data is kept as the
// raw little-endian bytes; the typed accessors decode on demand.
type Parameter struct {
	Group       string
	Name        string
	Description string
	Type        int8
	Dimensions  []int
	Locked      bool

	data []byte
}

func (p *Parameter) elemSize() int {
	switch p.Type {
	case typeChar, typeByte:
		return 1
	case typeInt16:
		return 2
	case typeFloat:
		return 4
	}
	return 0
}

func (p *Parameter) elemCount() int {
	n := 1
	for _, d := range p.Dimensions {
		n *= d
	}
	return n
}

// Float decodes the first element as a float64.
func (p *Parameter) Float() (float64, bool) {
	fs := p.FloatSlice()
	if len(fs) == 0 {
		return 0, false
	}
	return fs[0], true
}

// Int decodes the first element as an int.
func (p *Parameter) Int() (int, bool) {
	f, ok := p.Float()
	if !ok {
		return 0, false
	}
	return int(f), true
}

// FloatSlice decodes every numeric element. Char parameters yield nil.
func (p *Parameter) FloatSlice() []float64 {
	size := p.elemSize()
	if size == 0 || p.Type == typeChar {
		return nil
	}
	n := len(p.data) / size
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		switch p.Type {
		case typeByte:
			out = append(out, float64(p.data[i]))
		case typeInt16:
			out = append(out, float64(int16(binary.LittleEndian.Uint16(p.data[2*i:]))))
		case typeFloat:
			out = append(out, float64(math.Float32frombits(binary.LittleEndian.Uint32(p.data[4*i:]))))
		}
	}
	return out
}

// String decodes a one-dimensional char parameter as a trimmed string.
func (p *Parameter) String() (string, bool) {
	if p.Type != typeChar {
		return "", false
	}
	return strings.TrimSpace(string(p.data)), true
}

// StringSlice decodes a two-dimensional char parameter as a list of trimmed
// fixed-width strings. Dimensions are [width, count] with the character axis
// varying fastest, so each string occupies width consecutive bytes.
func (p *Parameter) StringSlice() []string {
	if p.Type != typeChar || len(p.Dimensions) < 2 {
		if s, ok := p.String(); ok && s != "" {
			return []string{s}
		}
		return nil
	}
	width := p.Dimensions[0]
	count := p.Dimensions[1]
	if width <= 0 || count <= 0 || width*count > len(p.data) {
		return nil
	}
	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, strings.TrimSpace(string(p.data[i*width:(i+1)*width])))
	}
	return out
}

// ParameterMap indexes every parameter by "GROUP:NAME". Group and parameter
// names are stored uppercase, matching how C3D writers emit them.
type ParameterMap struct {
	params map[string]*Parameter
	groups map[string]string
}

// HasGroup reports whether a group record was declared.
func (m ParameterMap) HasGroup(group string) bool {
	_, ok := m.groups[strings.ToUpper(group)]
	return ok
}

// Get returns the parameter GROUP:NAME.
func (m ParameterMap) Get(group, name string) (*Parameter, bool) {
	p, ok := m.params[strings.ToUpper(group)+":"+strings.ToUpper(name)]
	return p, ok
}

// Lookup finds a parameter by bare name across all groups. Game metadata
// writers are inconsistent about group placement, so callers that only know
// the parameter name search group-agnostically.
func (m ParameterMap) Lookup(name string) (*Parameter, bool) {
	suffix := ":" + strings.ToUpper(name)
	for key, p := range m.params {
		if strings.HasSuffix(key, suffix) {
			return p, true
		}
	}
	return nil, false
}

// Float returns GROUP:NAME decoded as a float.
func (m ParameterMap) Float(group, name string) (float64, bool) {
	p, ok := m.Get(group, name)
	if !ok {
		return 0, false
	}
	return p.Float()
}

// Int returns GROUP:NAME decoded as an int.
func (m ParameterMap) Int(group, name string) (int, bool) {
	p, ok := m.Get(group, name)
	if !ok {
		return 0, false
	}
	return p.Int()
}

// Floats returns GROUP:NAME decoded as a float slice, nil when absent.
func (m ParameterMap) Floats(group, name string) []float64 {
	p, ok := m.Get(group, name)
	if !ok {
		return nil
	}
	return p.FloatSlice()
}

// Strings returns GROUP:NAME decoded as a string list, nil when absent.
func (m ParameterMap) Strings(group, name string) []string {
	p, ok := m.Get(group, name)
	if !ok {
		return nil
	}
	return p.StringSlice()
}

// parseParameters walks the record chain of the parameter section. Each
// record starts with a name-length byte (negative when locked) and a group
// id byte whose sign separates group declarations (negative) from parameters
// (positive). A zero next-record offset ends the chain.
func parseParameters(sec []byte) (ParameterMap, error) {
	m := ParameterMap{
		params: make(map[string]*Parameter),
		groups: make(map[string]string),
	}

	// Group names may be declared after parameters that reference them, so
	// parameters are held by group id until the full chain is read.
	type pending struct {
		groupID int
		param   *Parameter
	}
	var queue []pending
	groupNames := make(map[int]string)

	pos := 4
	for {
		if pos+2 > len(sec) {
			return m, fmt.Errorf("%w: parameter record at offset %d truncated", ErrCorruptFile, pos)
		}
		nameLen := int(int8(sec[pos]))
		locked := false
		if nameLen < 0 {
			locked = true
			nameLen = -nameLen
		}
		if nameLen == 0 {
			break
		}
		groupID := int(int8(sec[pos+1]))
		if pos+2+nameLen > len(sec) {
			return m, fmt.Errorf("%w: parameter name at offset %d truncated", ErrCorruptFile, pos)
		}
		name := strings.ToUpper(string(sec[pos+2 : pos+2+nameLen]))

		rec := pos + 2 + nameLen
		if rec+2 > len(sec) {
			return m, fmt.Errorf("%w: parameter %q missing record offset", ErrCorruptFile, name)
		}
		next := int(int16(binary.LittleEndian.Uint16(sec[rec:])))
		body := rec + 2

		if groupID < 0 {
			// Group declaration: description only.
			if body >= len(sec) {
				return m, fmt.Errorf("%w: group %q truncated", ErrCorruptFile, name)
			}
			groupNames[-groupID] = name
			m.groups[name] = name
		} else {
			p, err := parseParameterBody(sec, body, name, locked)
			if err != nil {
				return m, err
			}
			queue = append(queue, pending{groupID: groupID, param: p})
		}

		if next == 0 {
			break
		}
		pos = rec + next
		if pos <= 0 || pos >= len(sec) {
			return m, fmt.Errorf("%w: parameter chain jumps to offset %d", ErrCorruptFile, pos)
		}
	}

	for _, pd := range queue {
		group, ok := groupNames[pd.groupID]
		if !ok {
			group = fmt.Sprintf("GROUP%d", pd.groupID)
		}
		pd.param.Group = group
		m.params[group+":"+pd.param.Name] = pd.param
	}
	return m, nil
}

func parseParameterBody(sec []byte, pos int, name string, locked bool) (*Parameter, error) {
	if pos+2 > len(sec) {
		return nil, fmt.Errorf("%w: parameter %q body truncated", ErrCorruptFile, name)
	}
	p := &Parameter{Name: name, Locked: locked, Type: int8(sec[pos])}
	if p.elemSize() == 0 {
		return nil, fmt.Errorf("%w: parameter %q has invalid type %d", ErrCorruptFile, name, p.Type)
	}
	nDims := int(sec[pos+1])
	pos += 2
	if nDims > 7 || pos+nDims > len(sec) {
		return nil, fmt.Errorf("%w: parameter %q has %d dimensions", ErrCorruptFile, name, nDims)
	}
	p.Dimensions = make([]int, nDims)
	for i := 0; i < nDims; i++ {
		p.Dimensions[i] = int(sec[pos+i])
	}
	pos += nDims

	dataLen := p.elemCount() * p.elemSize()
	if pos+dataLen > len(sec) {
		return nil, fmt.Errorf("%w: parameter %q data truncated", ErrCorruptFile, name)
	}
	p.data = sec[pos : pos+dataLen]
	pos += dataLen

	if pos < len(sec) {
		descLen := int(sec[pos])
		pos++
		if pos+descLen <= len(sec) {
			p.Description = strings.TrimSpace(string(sec[pos : pos+descLen]))
		}
	}
	return p, nil
}
