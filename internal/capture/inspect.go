package capture

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"

	"github.com/timvw/pcap-patrol/internal/model"
	"github.com/timvw/pcap-patrol/internal/qerr"
)

// TimeLayout formats packet timestamps in summaries.
const TimeLayout = "2006-01-02 15:04:05.000000"

var ngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

type packetSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
}

// Format reports whether the file at path is "pcap" or "pcapng".
func Format(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	_, format, err := openSource(bufio.NewReader(f))
	return format, err
}

// Inspect summarises a pcap or pcapng file without external tools.
func Inspect(path string) (*model.CaptureSummary, error) {
	sum, err := fileSHA256(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()

	src, _, err := openSource(bufio.NewReader(f))
	if err != nil {
		return nil, err
	}

	s := &model.CaptureSummary{PcapPath: path, SHA256: sum, Source: "native"}
	var first, last time.Time
	for {
		_, ci, err := src.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			// A capture cut off mid-record still yields its complete packets.
			break
		}
		if err != nil {
			return nil, qerr.WithDetails(qerr.Internal, "read capture", map[string]any{
				"pcap_path": path,
				"error":     err.Error(),
				"packets":   s.PacketCount,
			})
		}
		if s.PacketCount == 0 {
			first = ci.Timestamp
		}
		last = ci.Timestamp
		s.PacketCount++
	}

	if s.PacketCount > 0 {
		s.TimeStart = first.UTC().Format(TimeLayout)
		s.TimeEnd = last.UTC().Format(TimeLayout)
		s.Duration = last.Sub(first).Seconds()
	}
	return s, nil
}

func openSource(r *bufio.Reader) (packetSource, string, error) {
	magic, err := r.Peek(4)
	if err != nil {
		return nil, "", qerr.WithDetails(qerr.InvalidArgument, "not a capture file", map[string]any{"error": err.Error()})
	}
	if bytes.Equal(magic, ngMagic) {
		ng, err := pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, "", qerr.WithDetails(qerr.InvalidArgument, "invalid pcapng file", map[string]any{"error": err.Error()})
		}
		return ng, "pcapng", nil
	}
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, "", qerr.WithDetails(qerr.InvalidArgument, "invalid pcap file", map[string]any{"error": err.Error()})
	}
	return pr, "pcap", nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash capture: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
