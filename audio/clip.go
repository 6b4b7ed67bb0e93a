package audio

import "strings"

// Clip is one consolidated piece of encoded audio.
type Clip struct {
	Data     []byte
	MIMEType string
}

func (c Clip) Len() int {
	return len(c.Data)
}

// Extension maps the clip's container type to a file extension.
func (c Clip) Extension() string {
	base, _, _ := strings.Cut(c.MIMEType, ";")
	switch strings.TrimSpace(strings.ToLower(base)) {
	case "audio/ogg", "audio/opus":
		return "ogg"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return "mp4"
	case "audio/wav", "audio/wave", "audio/x-wav":
		return "wav"
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	default:
		return "webm"
	}
}

func (c Clip) Filename() string {
	return "audio." + c.Extension()
}
