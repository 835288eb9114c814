package main

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func wavHeader(format, channels uint16, rate uint32, bits uint16) []byte {
	h := make([]byte, wavHeaderSize)
	copy(h[0:4], "RIFF")
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint16(h[20:22], format)
	binary.LittleEndian.PutUint16(h[22:24], channels)
	binary.LittleEndian.PutUint32(h[24:28], rate)
	binary.LittleEndian.PutUint16(h[34:36], bits)
	copy(h[36:40], "data")
	return h
}

func TestReadWAVHeader(t *testing.T) {
	tests := []struct {
		name    string
		header  []byte
		wantErr bool
	}{
		{"pcm mono 16k", wavHeader(1, 1, 16000, 16), false},
		{"not pcm", wavHeader(3, 1, 16000, 32), true},
		{"stereo", wavHeader(1, 2, 16000, 16), true},
		{"not riff", append([]byte("JUNK"), make([]byte, 40)...), true},
		{"truncated", []byte("RIFF"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := readWAVHeader(bytes.NewReader(tt.header))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && info.sampleRate != 16000 {
				t.Errorf("sampleRate = %d", info.sampleRate)
			}
		})
	}
}
