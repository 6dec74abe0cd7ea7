// Package c3d decodes the C3D biomechanics container: a fixed-size binary
// header, a parameter section of named groups, and interleaved point/analog
// frames. The package is a pure decoder — no signal processing happens here;
// downstream consumers receive raw analog channels exactly as stored.
package c3d

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	blockSize = 512

	// headerMagic is the second byte of every valid C3D file.
	headerMagic = 0x50

	processorIntel = 84
	processorDEC   = 85
	processorMIPS  = 86
)

var (
	// ErrCorruptFile marks containers whose header or sections are
	// unreadable: truncated files, bad magic, impossible offsets.
	ErrCorruptFile = errors.New("c3d: corrupt file")

	// ErrUnsupportedFormat marks well-formed containers this decoder does
	// not handle: non-Intel word order or missing required parameter groups.
	ErrUnsupportedFormat = errors.New("c3d: unsupported format")
)

// Header carries the decoded container geometry. FrameCount counts analog
// samples per channel, not 3D point frames.
type Header struct {
	SamplingRateHz float64
	FrameCount     int
	ChannelCount   int
	ChannelLabels  []string

	PointCount      int
	PointFrames     int
	PointRateHz     float64
	SamplesPerFrame int
}

// File is a fully decoded C3D container.
type File struct {
	Header     Header
	Parameters ParameterMap

	// analog holds one slice per channel, scaled to real units.
	analog [][]float64
}

// AnalogChannel returns the samples for channel index i.
func (f *File) AnalogChannel(i int) []float64 {
	if i < 0 || i >= len(f.analog) {
		return nil
	}
	return f.analog[i]
}

// AnalogByLabel returns the samples for the channel with the given raw label.
func (f *File) AnalogByLabel(label string) ([]float64, bool) {
	for i, l := range f.Header.ChannelLabels {
		if l == label {
			return f.analog[i], true
		}
	}
	return nil, false
}

// BaseName derives the logical muscle name from a raw channel label by
// stripping the " Raw" and " activated" view suffixes. Sibling channels
// sharing a base name are views of the same muscle.
func BaseName(label string) string {
	name := strings.TrimSuffix(label, " Raw")
	name = strings.TrimSuffix(name, " activated")
	return strings.TrimSpace(name)
}

// IsActivatedLabel reports whether a raw label names the pre-activated view
// of a muscle.
func IsActivatedLabel(label string) bool {
	return strings.HasSuffix(label, " activated")
}

// Parse decodes a C3D container from a byte blob.
func Parse(data []byte) (*File, error) {
	if len(data) < blockSize {
		return nil, fmt.Errorf("%w: %d bytes is smaller than one header block", ErrCorruptFile, len(data))
	}
	if data[1] != headerMagic {
		return nil, fmt.Errorf("%w: header magic 0x%02x, want 0x%02x", ErrCorruptFile, data[1], headerMagic)
	}

	firstParamBlock := int(data[0])
	if firstParamBlock < 1 {
		return nil, fmt.Errorf("%w: parameter section pointer %d", ErrCorruptFile, firstParamBlock)
	}

	hdr := decodeHeaderWords(data)

	paramOffset := (firstParamBlock - 1) * blockSize
	if paramOffset+4 > len(data) {
		return nil, fmt.Errorf("%w: parameter section starts past end of file", ErrCorruptFile)
	}

	proc := data[paramOffset+3]
	switch proc {
	case processorIntel:
		// Little-endian throughout; the only word order this decoder reads.
	case processorDEC, processorMIPS:
		return nil, fmt.Errorf("%w: processor type %d", ErrUnsupportedFormat, proc)
	default:
		return nil, fmt.Errorf("%w: unknown processor type %d", ErrCorruptFile, proc)
	}

	params, err := parseParameters(data[paramOffset:])
	if err != nil {
		return nil, err
	}
	if !params.HasGroup("ANALOG") || !params.HasGroup("POINT") {
		return nil, fmt.Errorf("%w: required parameter groups ANALOG and POINT", ErrUnsupportedFormat)
	}

	f := &File{Parameters: params}
	if err := f.resolveGeometry(hdr, data); err != nil {
		return nil, err
	}
	if err := f.decodeAnalog(hdr, data); err != nil {
		return nil, err
	}
	return f, nil
}

// rawHeader mirrors the first header words of the container.
type rawHeader struct {
	pointCount      int
	analogPerFrame  int
	firstFrame      int
	lastFrame       int
	pointScale      float32
	dataStartBlock  int
	samplesPerFrame int
	pointRate       float32
}

func decodeHeaderWords(data []byte) rawHeader {
	word := func(i int) int {
		return int(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return rawHeader{
		pointCount:      word(1),
		analogPerFrame:  word(2),
		firstFrame:      word(3),
		lastFrame:       word(4),
		pointScale:      math.Float32frombits(binary.LittleEndian.Uint32(data[12:])),
		dataStartBlock:  word(8),
		samplesPerFrame: word(9),
		pointRate:       math.Float32frombits(binary.LittleEndian.Uint32(data[20:])),
	}
}

// resolveGeometry reconciles header words against the authoritative ANALOG
// and POINT parameters. Parameters win on conflict; the header fills gaps.
func (f *File) resolveGeometry(hdr rawHeader, data []byte) error {
	channels := hdr.channelCount()
	if used, ok := f.Parameters.Int("ANALOG", "USED"); ok {
		channels = used
	}
	if channels <= 0 {
		return fmt.Errorf("%w: no analog channels", ErrUnsupportedFormat)
	}

	samplesPerFrame := hdr.samplesPerFrame
	if samplesPerFrame <= 0 && channels > 0 && hdr.analogPerFrame > 0 {
		samplesPerFrame = hdr.analogPerFrame / channels
	}
	if samplesPerFrame <= 0 {
		samplesPerFrame = 1
	}

	pointFrames := hdr.lastFrame - hdr.firstFrame + 1
	if pf, ok := f.Parameters.Int("POINT", "FRAMES"); ok && (hdr.lastFrame == 0xFFFF || pointFrames <= 0) {
		pointFrames = pf
	}
	if pointFrames <= 0 {
		return fmt.Errorf("%w: frame range %d..%d", ErrCorruptFile, hdr.firstFrame, hdr.lastFrame)
	}

	pointRate := float64(hdr.pointRate)
	if r, ok := f.Parameters.Float("POINT", "RATE"); ok && r > 0 {
		pointRate = r
	}

	// ANALOG:RATE is authoritative; otherwise derive from the point rate.
	// When neither exists the rate is left at zero — the reader never
	// fabricates a sampling rate, consumers apply their own default.
	analogRate := 0.0
	if r, ok := f.Parameters.Float("ANALOG", "RATE"); ok && r > 0 {
		analogRate = r
	} else if pointRate > 0 {
		analogRate = pointRate * float64(samplesPerFrame)
	}

	labels := f.Parameters.Strings("ANALOG", "LABELS")
	for len(labels) < channels {
		labels = append(labels, fmt.Sprintf("CH%d", len(labels)+1))
	}
	labels = labels[:channels]

	f.Header = Header{
		SamplingRateHz:  analogRate,
		FrameCount:      pointFrames * samplesPerFrame,
		ChannelCount:    channels,
		ChannelLabels:   labels,
		PointCount:      hdr.pointCount,
		PointFrames:     pointFrames,
		PointRateHz:     pointRate,
		SamplesPerFrame: samplesPerFrame,
	}
	return nil
}

func (h rawHeader) channelCount() int {
	if h.samplesPerFrame > 0 {
		return h.analogPerFrame / h.samplesPerFrame
	}
	return h.analogPerFrame
}

// decodeAnalog walks the data section frame by frame. Each 3D frame carries
// pointCount*4 point values followed by samplesPerFrame*channels analog
// values, channel-interleaved per subframe. Integer containers scale by
// (raw - OFFSET[ch]) * SCALE[ch] * GEN_SCALE; float containers store real
// values with the same (usually identity) scaling applied.
func (f *File) decodeAnalog(hdr rawHeader, data []byte) error {
	start := (hdr.dataStartBlock - 1) * blockSize
	if ds, ok := f.Parameters.Int("POINT", "DATA_START"); ok && ds > 0 {
		start = (ds - 1) * blockSize
	}
	if start < 0 || start >= len(data) {
		return fmt.Errorf("%w: data section offset %d outside file", ErrCorruptFile, start)
	}

	floatData := hdr.pointScale < 0
	if s, ok := f.Parameters.Float("POINT", "SCALE"); ok {
		floatData = s < 0
	}
	wordSize := 2
	if floatData {
		wordSize = 4
	}

	channels := f.Header.ChannelCount
	spf := f.Header.SamplesPerFrame

	genScale := 1.0
	if g, ok := f.Parameters.Float("ANALOG", "GEN_SCALE"); ok && g != 0 {
		genScale = g
	}
	scales := f.Parameters.Floats("ANALOG", "SCALE")
	offsets := f.Parameters.Floats("ANALOG", "OFFSET")

	chScale := func(ch int) float64 {
		if ch < len(scales) && scales[ch] != 0 {
			return scales[ch]
		}
		return 1.0
	}
	chOffset := func(ch int) float64 {
		if ch < len(offsets) {
			return offsets[ch]
		}
		return 0.0
	}

	pointWords := f.Header.PointCount * 4
	frameBytes := (pointWords + spf*channels) * wordSize

	f.analog = make([][]float64, channels)
	for ch := range f.analog {
		f.analog[ch] = make([]float64, 0, f.Header.PointFrames*spf)
	}

	buf := data[start:]
	for frame := 0; frame < f.Header.PointFrames; frame++ {
		base := frame * frameBytes
		if base+frameBytes > len(buf) {
			return fmt.Errorf("%w: data section truncated at frame %d of %d",
				ErrCorruptFile, frame, f.Header.PointFrames)
		}
		analogBase := base + pointWords*wordSize
		for sub := 0; sub < spf; sub++ {
			for ch := 0; ch < channels; ch++ {
				off := analogBase + (sub*channels+ch)*wordSize
				var raw float64
				if floatData {
					raw = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[off:])))
				} else {
					raw = float64(int16(binary.LittleEndian.Uint16(buf[off:])))
				}
				f.analog[ch] = append(f.analog[ch], (raw-chOffset(ch))*chScale(ch)*genScale)
			}
		}
	}
	return nil
}
