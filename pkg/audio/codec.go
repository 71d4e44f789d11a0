package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrOddLength is returned when a PCM payload does not hold a whole number of
// 16-bit samples.
var ErrOddLength = errors.New("audio: odd PCM byte count")

// FloatToPCM16 converts float samples to little-endian signed 16-bit PCM.
//
// Each sample is scaled by 32768 and truncated toward zero. Values are not
// clamped: 1.0 becomes 32768, which wraps to -32768 in int16. The result
// always holds exactly 2*len(samples) bytes.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(int32(s * 32768))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// PCM16ToFloat converts little-endian signed 16-bit PCM to float samples in
// [-1, 1). It returns [ErrOddLength] if pcm has an odd number of bytes.
func PCM16ToFloat(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddLength, len(pcm))
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return out, nil
}

// EncodeBlob encodes a captured frame into a [Blob] tagged with
// [InputMIMEType].
func EncodeBlob(samples []float32) Blob {
	return Blob{
		Data:     base64.StdEncoding.EncodeToString(FloatToPCM16(samples)),
		MIMEType: InputMIMEType,
	}
}

// DecodeBase64PCM decodes a base64 string of interleaved 16-bit PCM into a
// [Buffer] with the given sample rate and channel count. Interleaved sample
// i*channels+ch lands in Channels[ch][i]; trailing samples that do not fill a
// whole frame are dropped.
func DecodeBase64PCM(data string, sampleRate, channels int) (Buffer, error) {
	if channels <= 0 {
		return Buffer{}, fmt.Errorf("audio: decode: invalid channel count %d", channels)
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return Buffer{}, fmt.Errorf("audio: decode base64: %w", err)
	}
	samples, err := PCM16ToFloat(raw)
	if err != nil {
		return Buffer{}, fmt.Errorf("audio: decode: %w", err)
	}

	frames := len(samples) / channels
	buf := Buffer{
		Channels:   make([][]float32, channels),
		SampleRate: sampleRate,
	}
	for ch := range channels {
		data := make([]float32, frames)
		for i := range frames {
			data[i] = samples[i*channels+ch]
		}
		buf.Channels[ch] = data
	}
	return buf, nil
}
