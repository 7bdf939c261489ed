// Package demux opens a playback source and exposes it as a Container:
// a table of elementary streams and programs plus a blocking, interruptible
// packet reader.
//
// MPEG transport streams are read from files, UDP or SRT through
// [github.com/zsiec/reel/internal/mpegts]. WAV, AIFF, MP3 and Ogg Vorbis
// files are decoded to PCM packets by their go-audio, go-mp3 and oggvorbis
// readers.
package demux
