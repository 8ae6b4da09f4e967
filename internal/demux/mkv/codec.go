package mkv

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/zzzwannasleep/WebPlayer/internal/media"
	"github.com/zzzwannasleep/WebPlayer/internal/subtitle"
)

// vp9DefaultCodecString is used when V_VP9's CodecPrivate is absent or too
// short to carry a VPCodecConfigurationRecord.
const vp9DefaultCodecString = "vp09.00.10.08"

// avcCodecStringFromRecord builds avc1.PPccLL from bytes 1-3 of an
// AVCDecoderConfigurationRecord (profile_idc, compatibility, level_idc at
// the same offsets as in the raw SPS NAL unit).
func avcCodecStringFromRecord(cp []byte) (string, error) {
	if len(cp) < 4 {
		return "", fmt.Errorf("mkv: AVC CodecPrivate too short (%d bytes)", len(cp))
	}
	return fmt.Sprintf("avc1.%02X%02X%02X", cp[1], cp[2], cp[3]), nil
}

// hevcCodecString builds the hvc1.{space}{profile}.{compat-hex}.{L|H}{level}.{constraint-hex}
// codec string from an HEVCDecoderConfigurationRecord.
func hevcCodecString(cp []byte) (string, error) {
	if len(cp) < 13 {
		return "", fmt.Errorf("mkv: HEVC CodecPrivate too short (%d bytes)", len(cp))
	}
	profileSpace := (cp[1] >> 6) & 0x03
	tierFlag := (cp[1] >> 5) & 0x01
	profileIdc := cp[1] & 0x1F

	var spacePrefix string
	switch profileSpace {
	case 1:
		spacePrefix = "A"
	case 2:
		spacePrefix = "B"
	case 3:
		spacePrefix = "C"
	}

	compatFlags := binary.BigEndian.Uint32(cp[2:6])
	compatHex := strconv.FormatUint(uint64(reverseBits32(compatFlags)), 16)

	tier := "L"
	if tierFlag == 1 {
		tier = "H"
	}
	levelIdc := cp[12]

	constraintBytes := cp[6:12]
	lastNonZero := -1
	for i, b := range constraintBytes {
		if b != 0 {
			lastNonZero = i
		}
	}
	var constraintParts []string
	for i := 0; i <= lastNonZero; i++ {
		constraintParts = append(constraintParts, fmt.Sprintf("%02X", constraintBytes[i]))
	}

	codec := fmt.Sprintf("hvc1.%s%d.%s.%s%d", spacePrefix, profileIdc, compatHex, tier, levelIdc)
	if len(constraintParts) > 0 {
		codec += "." + strings.Join(constraintParts, ".")
	}
	return codec, nil
}

func reverseBits32(v uint32) uint32 {
	var r uint32
	for i := 0; i < 32; i++ {
		r = (r << 1) | (v & 1)
		v >>= 1
	}
	return r
}

// vp9CodecString builds vp09.PP.LL.DD.CC.CP.TC.MC.FR from the first 8
// bytes of a VPCodecConfigurationRecord.
func vp9CodecString(cp []byte) string {
	if len(cp) < 8 {
		return vp9DefaultCodecString
	}
	profile := cp[0]
	level := cp[1]
	bitDepth := (cp[2] >> 4) & 0x0F
	chromaSubsampling := (cp[2] >> 1) & 0x07
	fullRange := cp[2] & 0x01
	colourPrimaries := cp[3]
	transferChar := cp[4]
	matrixCoeff := cp[5]
	return fmt.Sprintf("vp09.%02d.%02d.%02d.%02d.%02d.%02d.%02d.%02d",
		profile, level, bitDepth, chromaSubsampling, colourPrimaries, transferChar, matrixCoeff, fullRange)
}

// av1CodecString builds av01.{profile}.{level}{tier}.{bd} from the first
// 3 bytes of an AV1CodecConfigurationRecord.
func av1CodecString(cp []byte) (string, error) {
	if len(cp) < 3 {
		return "", fmt.Errorf("mkv: AV1 CodecPrivate too short (%d bytes)", len(cp))
	}
	profile := (cp[1] >> 5) & 0x07
	level := cp[1] & 0x1F
	tierBit := (cp[2] >> 7) & 0x01
	highBitdepth := (cp[2] >> 6) & 0x01
	twelveBit := (cp[2] >> 5) & 0x01

	tier := "M"
	if tierBit == 1 {
		tier = "H"
	}
	bd := 8
	if highBitdepth == 1 {
		if twelveBit == 1 {
			bd = 12
		} else {
			bd = 10
		}
	}
	return fmt.Sprintf("av01.%d.%02d%s.%02d", profile, level, tier, bd), nil
}

// aacCodecString builds mp4a.40.{AOT} from the top 5 bits of the first
// AudioSpecificConfig byte (A_AAC's CodecPrivate is the ASC itself).
func aacCodecString(cp []byte) (string, error) {
	if len(cp) < 1 {
		return "", fmt.Errorf("mkv: AAC CodecPrivate empty")
	}
	aot := cp[0] >> 3
	return fmt.Sprintf("mp4a.40.%d", aot), nil
}

// opusChannels reads the channel count out of an OpusHead CodecPrivate,
// when present.
func opusChannels(cp []byte) int {
	if len(cp) >= 10 && string(cp[0:8]) == "OpusHead" {
		return int(cp[9])
	}
	return 0
}

// trackBuild accumulates a TrackEntry's children while it is being parsed.
type trackBuild struct {
	number          int
	trackType       int
	codecID         string
	codecPrivate    []byte
	defaultDuration int64 // ns
	name            string
	language        string
	width, height   int
	sampleRate      int
	channels        int
}

// describeTrack maps a parsed TrackEntry to a TrackDescriptor by its
// CodecID. It returns ok=false for unsupported CodecIDs.
func describeTrack(tb trackBuild) (media.TrackDescriptor, bool) {
	td := media.TrackDescriptor{
		ID:                tb.number,
		CodecPrivate:       tb.codecPrivate,
		Width:             tb.width,
		Height:            tb.height,
		SampleRate:        tb.sampleRate,
		Channels:          tb.channels,
		DefaultDurationUs: tb.defaultDuration / 1000,
		Language:          tb.language,
		Name:              tb.name,
	}

	switch tb.codecID {
	case "V_MPEG4/ISO/AVC":
		codec, err := avcCodecStringFromRecord(tb.codecPrivate)
		if err != nil {
			return td, false
		}
		td.Kind, td.Codec = media.TrackVideo, codec
	case "V_MPEGH/ISO/HEVC":
		codec, err := hevcCodecString(tb.codecPrivate)
		if err != nil {
			return td, false
		}
		td.Kind, td.Codec = media.TrackVideo, codec
	case "V_VP9":
		td.Kind, td.Codec = media.TrackVideo, vp9CodecString(tb.codecPrivate)
	case "V_AV1":
		codec, err := av1CodecString(tb.codecPrivate)
		if err != nil {
			return td, false
		}
		td.Kind, td.Codec = media.TrackVideo, codec
	case "A_AAC":
		codec, err := aacCodecString(tb.codecPrivate)
		if err != nil {
			return td, false
		}
		td.Kind, td.Codec = media.TrackAudio, codec
	case "A_OPUS":
		td.Kind, td.Codec = media.TrackAudio, "opus"
		td.SampleRate = 48000
		if td.Channels == 0 {
			td.Channels = opusChannels(tb.codecPrivate)
		}
	case "A_MPEG/L3":
		td.Kind, td.Codec = media.TrackAudio, "mp3"
	case "A_FLAC":
		td.Kind, td.Codec = media.TrackAudio, "flac"
	case "S_TEXT/UTF8", "S_TEXT/ASS", "S_TEXT/SSA":
		td.Kind, td.Codec = media.TrackSubtitle, tb.codecID
		if tb.codecID != "S_TEXT/UTF8" {
			td.ASSFormat = subtitle.ParseFormat(tb.codecPrivate)
		}
	case "S_HDMV/PGS":
		td.Kind, td.Codec = media.TrackSubtitle, tb.codecID
	default:
		return td, false
	}
	return td, true
}
