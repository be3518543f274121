package validation

import "bytes"

// magicSignature pairs a byte prefix with a human readable name. Offset allows
// matching container formats whose marker is not at byte zero (mp4).
type magicSignature struct {
	name   string
	offset int
	prefix []byte
}

// dangerousSignatures are headers that should never appear in a teacher
// resource regardless of what the filename claims: executables and the archive
// formats commonly used to smuggle payloads.
var dangerousSignatures = []magicSignature{
	{name: "windows executable (MZ)", prefix: []byte{0x4D, 0x5A}},
	{name: "ELF executable", prefix: []byte{0x7F, 0x45, 0x4C, 0x46}},
	{name: "Mach-O executable", prefix: []byte{0xFE, 0xED, 0xFA, 0xCE}},
	{name: "Mach-O executable (64-bit)", prefix: []byte{0xFE, 0xED, 0xFA, 0xCF}},
	{name: "Mach-O executable (little-endian)", prefix: []byte{0xCF, 0xFA, 0xED, 0xFE}},
	{name: "script shebang", prefix: []byte("#!")},
	{name: "zip archive", prefix: []byte{0x50, 0x4B, 0x03, 0x04}},
	{name: "rar archive", prefix: []byte{0x52, 0x61, 0x72, 0x21, 0x1A, 0x07}},
	{name: "7z archive", prefix: []byte{0x37, 0x7A, 0xBC, 0xAF, 0x27, 0x1C}},
	{name: "gzip archive", prefix: []byte{0x1F, 0x8B}},
	{name: "java class file", prefix: []byte{0xCA, 0xFE, 0xBA, 0xBE}},
}

// expectedSignatures maps a file extension to the header(s) a genuine file of
// that type starts with. Extensions absent from the map get no signature
// agreement check (e.g. plain text has no magic bytes).
var expectedSignatures = map[string][]magicSignature{
	".pdf":  {{name: "pdf", prefix: []byte("%PDF")}},
	".png":  {{name: "png", prefix: []byte{0x89, 0x50, 0x4E, 0x47}}},
	".jpg":  {{name: "jpeg", prefix: []byte{0xFF, 0xD8, 0xFF}}},
	".jpeg": {{name: "jpeg", prefix: []byte{0xFF, 0xD8, 0xFF}}},
	".gif":  {{name: "gif", prefix: []byte("GIF8")}},
	".bmp":  {{name: "bmp", prefix: []byte("BM")}},
	".webp": {{name: "riff", prefix: []byte("RIFF")}},
	".mp4":  {{name: "mp4", offset: 4, prefix: []byte("ftyp")}},
	".mov":  {{name: "mov", offset: 4, prefix: []byte("ftyp")}},
	".avi":  {{name: "avi", prefix: []byte("RIFF")}},
	".webm": {{name: "webm", prefix: []byte{0x1A, 0x45, 0xDF, 0xA3}}},
	".flv":  {{name: "flv", prefix: []byte("FLV")}},
	".wmv":  {{name: "asf", prefix: []byte{0x30, 0x26, 0xB2, 0x75}}},
	".doc":  {{name: "ole2", prefix: []byte{0xD0, 0xCF, 0x11, 0xE0}}},
	// docx/odt are zip containers; they carry the PK header on purpose.
	".docx": {{name: "zip", prefix: []byte{0x50, 0x4B, 0x03, 0x04}}},
	".odt":  {{name: "zip", prefix: []byte{0x50, 0x4B, 0x03, 0x04}}},
}

func (m magicSignature) matches(header []byte) bool {
	end := m.offset + len(m.prefix)
	if len(header) < end {
		return false
	}
	return bytes.Equal(header[m.offset:end], m.prefix)
}

// MatchDangerous returns the name of the first dangerous signature found at
// the start of header, or "". The scanner's structural pass shares this list.
func MatchDangerous(header []byte) string {
	for _, sig := range dangerousSignatures {
		if sig.matches(header) {
			return sig.name
		}
	}
	return ""
}

// signatureAgrees reports whether the header is plausible for the given
// extension. Extensions without a registered signature always agree.
func signatureAgrees(ext string, header []byte) bool {
	sigs, ok := expectedSignatures[ext]
	if !ok {
		return true
	}
	for _, sig := range sigs {
		if sig.matches(header) {
			return true
		}
	}
	return false
}
