package voice

import (
	"bufio"
	"fmt"
	"io"
)

// oggScanner splits an Ogg stream into opus packets, the unit discordgo's
// OpusSend channel expects. Page CRCs are not verified; the stream comes
// from a local ffmpeg pipe.
type oggScanner struct {
	r       *bufio.Reader
	packets [][]byte // packets parsed from the current page, not yet returned
	partial []byte   // packet continued onto the next page
}

func newOggScanner(r io.Reader) *oggScanner {
	return &oggScanner{r: bufio.NewReaderSize(r, 64<<10)}
}

// next returns the next opus packet, io.EOF at end of stream.
func (s *oggScanner) next() ([]byte, error) {
	for len(s.packets) == 0 {
		if err := s.readPage(); err != nil {
			return nil, err
		}
	}
	pkt := s.packets[0]
	s.packets = s.packets[1:]
	return pkt, nil
}

func (s *oggScanner) readPage() error {
	var header [27]byte
	if _, err := io.ReadFull(s.r, header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return io.EOF
		}
		return err
	}
	if string(header[0:4]) != "OggS" {
		return fmt.Errorf("bad ogg page magic %q", header[0:4])
	}

	segCount := int(header[26])
	segTable := make([]byte, segCount)
	if _, err := io.ReadFull(s.r, segTable); err != nil {
		return err
	}

	payloadLen := 0
	for _, v := range segTable {
		payloadLen += int(v)
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(s.r, payload); err != nil {
		return err
	}

	// Lacing: a packet spans segments until a value < 255 terminates it.
	pos := 0
	for _, v := range segTable {
		s.partial = append(s.partial, payload[pos:pos+int(v)]...)
		pos += int(v)
		if v < 255 {
			s.emit(s.partial)
			s.partial = nil
		}
	}
	return nil
}

func (s *oggScanner) emit(pkt []byte) {
	// The OpusHead and OpusTags header packets are stream metadata, not audio.
	if len(pkt) >= 8 {
		switch string(pkt[0:8]) {
		case "OpusHead", "OpusTags":
			return
		}
	}
	cp := make([]byte, len(pkt))
	copy(cp, pkt)
	s.packets = append(s.packets, cp)
}
