// Package srt pulls MPEG-TS over SRT (Secure Reliable Transport) in caller
// mode and feeds it into the ingest registry.
package srt
