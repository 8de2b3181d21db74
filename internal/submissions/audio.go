package submissions

import (
	"path/filepath"
	"strings"
)

// sniffLen matches http.DetectContentType's window.
const sniffLen = 512

// allowedAudioMimes is the intake allow-list. Keys are content types as
// http.DetectContentType reports them plus the common aliases browsers
// declare; values are the canonical type we persist.
var allowedAudioMimes = map[string]string{
	"audio/webm":      "audio/webm",
	"video/webm":      "audio/webm",
	"audio/ogg":       "audio/ogg",
	"application/ogg": "audio/ogg",
	"audio/opus":      "audio/ogg",
	"audio/wav":       "audio/wav",
	"audio/wave":      "audio/wav",
	"audio/x-wav":     "audio/wav",
	"audio/mpeg":      "audio/mpeg",
	"audio/mp3":       "audio/mpeg",
	"audio/mp4":       "audio/mp4",
	"video/mp4":       "audio/mp4",
	"audio/x-m4a":     "audio/mp4",
	"audio/flac":      "audio/flac",
	"audio/x-flac":    "audio/flac",
}

// audioExtensions resolves formats the content sniffer cannot identify
// (flac and raw opus are not in its table and sniff as octet-stream).
var audioExtensions = map[string]string{
	".webm": "audio/webm",
	".ogg":  "audio/ogg",
	".opus": "audio/ogg",
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".mp4":  "audio/mp4",
	".flac": "audio/flac",
}

// ResolveAudioMime validates a clip against the allow-list. The sniffed
// content type wins; when sniffing is inconclusive (octet-stream) the
// declared type and then the file extension break the tie. Returns the
// canonical type and whether the clip is acceptable.
func ResolveAudioMime(sniffed, declared, fileName string) (string, bool) {
	if canonical, ok := allowedAudioMimes[normalizeMime(sniffed)]; ok {
		return canonical, true
	}
	if normalizeMime(sniffed) != "application/octet-stream" && sniffed != "" {
		return "", false
	}
	if canonical, ok := allowedAudioMimes[normalizeMime(declared)]; ok {
		return canonical, true
	}
	if canonical, ok := audioExtensions[strings.ToLower(filepath.Ext(fileName))]; ok {
		return canonical, true
	}
	return "", false
}

func normalizeMime(raw string) string {
	if i := strings.Index(raw, ";"); i >= 0 {
		raw = raw[:i]
	}
	return strings.ToLower(strings.TrimSpace(raw))
}
