package mp4

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Sample-description child box types carrying the codec configuration
// record, in the priority order spec'd for description selection.
const (
	boxAvcC = "avcC"
	boxHvcC = "hvcC"
	boxVpcC = "vpcC"
	boxAv1C = "av1C"
	boxEsds = "esds"
	boxDOps = "dOps"
	boxDfLa = "dfLa"
)

// avcCodecString builds avc1.PPccLL from bytes 1-3 of an
// AVCDecoderConfigurationRecord.
func avcCodecString(record []byte) (string, error) {
	if len(record) < 4 {
		return "", fmt.Errorf("mp4: avcC record too short (%d bytes)", len(record))
	}
	return fmt.Sprintf("avc1.%02X%02X%02X", record[1], record[2], record[3]), nil
}

// hevcCodecString builds the hvc1.{space}{profile}.{compat-hex}.{L|H}{level}.{constraint-hex}
// codec string from an HEVCDecoderConfigurationRecord.
func hevcCodecString(record []byte) (string, error) {
	if len(record) < 13 {
		return "", fmt.Errorf("mp4: hvcC record too short (%d bytes)", len(record))
	}
	profileSpace := (record[1] >> 6) & 0x03
	tierFlag := (record[1] >> 5) & 0x01
	profileIdc := record[1] & 0x1F

	var spacePrefix string
	switch profileSpace {
	case 1:
		spacePrefix = "A"
	case 2:
		spacePrefix = "B"
	case 3:
		spacePrefix = "C"
	}

	compatFlags := binary.BigEndian.Uint32(record[2:6])
	compatHex := strconv.FormatUint(uint64(reverseBits32(compatFlags)), 16)

	tier := "L"
	if tierFlag == 1 {
		tier = "H"
	}
	levelIdc := record[12]

	constraintBytes := record[6:12]
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

// vp9CodecString builds vp09.PP.LL.DD.CC.CP.TC.MC.FR from a
// VPCodecConfigurationRecord (the vpcC payload with its full-box header
// already stripped).
func vp9CodecString(record []byte) string {
	if len(record) < 6 {
		return "vp09.00.10.08"
	}
	profile := record[0]
	level := record[1]
	bitDepth := (record[2] >> 4) & 0x0F
	chromaSubsampling := (record[2] >> 1) & 0x07
	fullRange := record[2] & 0x01
	colourPrimaries := record[3]
	transferChar := record[4]
	matrixCoeff := record[5]
	return fmt.Sprintf("vp09.%02d.%02d.%02d.%02d.%02d.%02d.%02d.%02d",
		profile, level, bitDepth, chromaSubsampling, colourPrimaries, transferChar, matrixCoeff, fullRange)
}

// av1CodecString builds av01.{profile}.{level}{tier}.{bd} from an
// AV1CodecConfigurationRecord.
func av1CodecString(record []byte) (string, error) {
	if len(record) < 3 {
		return "", fmt.Errorf("mp4: av1C record too short (%d bytes)", len(record))
	}
	profile := (record[1] >> 5) & 0x07
	level := record[1] & 0x1F
	tierBit := (record[2] >> 7) & 0x01
	highBitdepth := (record[2] >> 6) & 0x01
	twelveBit := (record[2] >> 5) & 0x01

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

// audioSpecificConfigFromEsds walks the esds box payload (full-box header
// included) down ES_Descriptor → DecoderConfigDescriptor →
// DecSpecificInfo and returns the AudioSpecificConfig bytes.
func audioSpecificConfigFromEsds(payload []byte) ([]byte, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("mp4: esds too short")
	}
	return findDescriptor(payload[4:], 0x05)
}

// findDescriptor scans an MPEG-4 descriptor sequence for the first
// descriptor with the wanted tag, descending into ES_Descriptor (0x03)
// and DecoderConfigDescriptor (0x04) bodies.
func findDescriptor(data []byte, want byte) ([]byte, error) {
	for len(data) >= 2 {
		tag := data[0]
		size, n, err := readDescriptorSize(data[1:])
		if err != nil {
			return nil, err
		}
		body := data[1+n:]
		if len(body) < size {
			return nil, fmt.Errorf("mp4: truncated descriptor 0x%02X", tag)
		}
		body = body[:size]

		if tag == want {
			return body, nil
		}
		switch tag {
		case 0x03: // ES_Descriptor: ES_ID(2) + flags(1) + optional fields
			if len(body) < 3 {
				return nil, fmt.Errorf("mp4: ES descriptor too short")
			}
			flags := body[2]
			skip := 3
			if flags&0x80 != 0 { // streamDependenceFlag
				skip += 2
			}
			if flags&0x40 != 0 { // URL_Flag
				if len(body) <= skip {
					return nil, fmt.Errorf("mp4: ES descriptor URL length missing")
				}
				skip += 1 + int(body[skip])
			}
			if flags&0x20 != 0 { // OCRstreamFlag
				skip += 2
			}
			if len(body) < skip {
				return nil, fmt.Errorf("mp4: ES descriptor optional fields truncated")
			}
			if asc, err := findDescriptor(body[skip:], want); err == nil {
				return asc, nil
			}
		case 0x04: // DecoderConfigDescriptor: 13 fixed bytes then children
			if len(body) > 13 {
				if asc, err := findDescriptor(body[13:], want); err == nil {
					return asc, nil
				}
			}
		}
		data = data[1+n+size:]
	}
	return nil, fmt.Errorf("mp4: descriptor 0x%02X not found", want)
}

// readDescriptorSize decodes the MPEG-4 expandable size field (7 bits per
// byte, MSB is the continuation flag).
func readDescriptorSize(data []byte) (size, n int, err error) {
	for n < len(data) && n < 4 {
		b := data[n]
		size = size<<7 | int(b&0x7F)
		n++
		if b&0x80 == 0 {
			return size, n, nil
		}
	}
	return 0, 0, fmt.Errorf("mp4: unterminated descriptor size")
}

// aacCodecString builds mp4a.40.{AOT} from the top 5 bits of the first
// AudioSpecificConfig byte.
func aacCodecString(asc []byte) (string, error) {
	if len(asc) < 1 {
		return "", fmt.Errorf("mp4: empty AudioSpecificConfig")
	}
	return fmt.Sprintf("mp4a.40.%d", asc[0]>>3), nil
}
