package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/zaf/g711"

	"kioskagent/core"
)

// PCMBytesToULaw converts PCM bytes to µ-law
func PCMBytesToULaw(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, errors.New("PCM byte slice length must be even (16-bit samples)")
	}
	return g711.EncodeUlaw(pcm), nil
}

// ULawBytesToPCM converts µ-law bytes to PCM bytes
func ULawBytesToPCM(uBytes []byte) []byte {
	return g711.DecodeUlaw(uBytes)
}

// PCMBytesToALaw converts PCM bytes to A-law
func PCMBytesToALaw(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, errors.New("PCM byte slice length must be even (16-bit samples)")
	}
	return g711.EncodeAlaw(pcm), nil
}

func ALawBytesToPCM(aBytes []byte) []byte {
	return g711.DecodeAlaw(aBytes)
}

// PCMBytesToWavBytes wraps 16-bit PCM in a RIFF/WAVE header.
func PCMBytesToWavBytes(pcm []byte, numChannels, sampleRate int) ([]byte, error) {
	if err := ValidatePCMData(pcm, numChannels); err != nil {
		return nil, err
	}
	if sampleRate <= 0 {
		return nil, errors.New("sample rate must be positive")
	}

	const (
		bitsPerSample  = 16
		audioFormatPCM = 1
		subchunk1Size  = 16
	)
	blockAlign := numChannels * bitsPerSample / 8
	buf := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(subchunk1Size))
	binary.Write(buf, binary.LittleEndian, uint16(audioFormatPCM))
	binary.Write(buf, binary.LittleEndian, uint16(numChannels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes(), nil
}

// ValidatePCMData validates PCM byte array for basic integrity
func ValidatePCMData(pcm []byte, numChannels int) error {
	if len(pcm) == 0 {
		return errors.New("PCM data is empty")
	}
	if numChannels <= 0 {
		return errors.New("invalid number of channels")
	}
	if len(pcm)%(2*numChannels) != 0 {
		return errors.New("PCM data length doesn't match channel count")
	}
	return nil
}

// ConvertAudioChunk brings input to the target format, channel count and
// sample rate, going through PCM when the encoding differs.
func ConvertAudioChunk(
	input core.AudioChunk,
	targetFormat core.AudioEncodingFormat,
	targetChannels int,
	targetSampleRate int,
) (core.AudioChunk, error) {
	needToConvertFormat := input.Format != targetFormat
	needToConvertSampleRate := input.SampleRate != targetSampleRate
	needToConvertChannels := input.Channels != targetChannels

	if !needToConvertFormat && !needToConvertSampleRate && !needToConvertChannels {
		return input, nil
	}
	if input.Data == nil {
		return core.AudioChunk{}, errors.New("audio chunk has no data")
	}

	if input.Format != core.PCM {
		pcmBytes, err := convertToPCM(input)
		if err != nil {
			return core.AudioChunk{}, err
		}
		input.Data = &pcmBytes
		input.Format = core.PCM
	}

	if needToConvertChannels {
		pcmBytes, err := convertChannels(*input.Data, input.Channels, targetChannels)
		if err != nil {
			return core.AudioChunk{}, err
		}
		input.Data = &pcmBytes
		input.Channels = targetChannels
	}

	if needToConvertSampleRate {
		resampled, err := ResamplePCMBytes(*input.Data, input.Channels, input.SampleRate, targetSampleRate)
		if err != nil {
			return core.AudioChunk{}, err
		}
		input.Data = &resampled
		input.SampleRate = targetSampleRate
	}

	if targetFormat != core.PCM {
		converted, err := convertFromPCM(*input.Data, targetFormat)
		if err != nil {
			return core.AudioChunk{}, err
		}
		input.Data = &converted
		input.Format = targetFormat
	}
	return input, nil
}

func convertToPCM(input core.AudioChunk) ([]byte, error) {
	switch input.Format {
	case core.ULAW:
		return ULawBytesToPCM(*input.Data), nil
	case core.ALAW:
		return ALawBytesToPCM(*input.Data), nil
	default:
		return nil, fmt.Errorf("unsupported format %d for PCM conversion", input.Format)
	}
}

func convertFromPCM(pcm []byte, targetFormat core.AudioEncodingFormat) ([]byte, error) {
	switch targetFormat {
	case core.ULAW:
		return PCMBytesToULaw(pcm)
	case core.ALAW:
		return PCMBytesToALaw(pcm)
	default:
		return nil, fmt.Errorf("unsupported target format %d", targetFormat)
	}
}

func convertChannels(pcm []byte, fromChannels, toChannels int) ([]byte, error) {
	switch {
	case fromChannels == toChannels:
		return pcm, nil
	case fromChannels == 1 && toChannels == 2:
		return monoToStereo(pcm), nil
	case fromChannels == 2 && toChannels == 1:
		return stereoToMono(pcm), nil
	}
	return nil, fmt.Errorf("unsupported channel conversion: %d to %d", fromChannels, toChannels)
}

func monoToStereo(monoPCM []byte) []byte {
	samples := len(monoPCM) / 2
	result := make([]byte, samples*4)
	for i := 0; i < samples; i++ {
		copy(result[i*4:], monoPCM[i*2:i*2+2])
		copy(result[i*4+2:], monoPCM[i*2:i*2+2])
	}
	return result
}

// stereoToMono averages the two channels.
func stereoToMono(stereoPCM []byte) []byte {
	samples := len(stereoPCM) / 4
	result := make([]byte, samples*2)
	for i := range samples {
		left := int16(binary.LittleEndian.Uint16(stereoPCM[i*4:]))
		right := int16(binary.LittleEndian.Uint16(stereoPCM[i*4+2:]))
		binary.LittleEndian.PutUint16(result[i*2:], uint16(int16((int(left)+int(right))/2)))
	}
	return result
}

// ResamplePCMBytes converts interleaved PCM16 between sample rates with
// linear interpolation.
func ResamplePCMBytes(pcm []byte, numChannels, oldRate, newRate int) ([]byte, error) {
	if err := ValidatePCMData(pcm, numChannels); err != nil {
		return nil, err
	}
	if oldRate <= 0 || newRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates: in=%d, out=%d", oldRate, newRate)
	}
	if oldRate == newRate {
		return pcm, nil
	}

	inFrames := len(pcm) / (2 * numChannels)
	outFrames := int(int64(inFrames) * int64(newRate) / int64(oldRate))
	out := make([]byte, outFrames*2*numChannels)
	sample := func(frame, ch int) float64 {
		if frame >= inFrames {
			frame = inFrames - 1
		}
		return float64(int16(binary.LittleEndian.Uint16(pcm[(frame*numChannels+ch)*2:])))
	}

	step := float64(oldRate) / float64(newRate)
	for i := 0; i < outFrames; i++ {
		pos := float64(i) * step
		base := int(pos)
		frac := pos - float64(base)
		for ch := 0; ch < numChannels; ch++ {
			v := sample(base, ch)*(1-frac) + sample(base+1, ch)*frac
			binary.LittleEndian.PutUint16(out[(i*numChannels+ch)*2:], uint16(int16(v)))
		}
	}
	return out, nil
}
