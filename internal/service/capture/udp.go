package capture

import (
	"bytes"
	"fmt"
	"net"
	"strconv"

	"github.com/disintegration/imaging"

	"potholecam/internal/logger"
	"potholecam/internal/model"
)

const (
	maxPacketSize = 65535
	maxFrameSize  = 8 << 20
)

var (
	jpegHeader = []byte{0xFF, 0xD8}
	jpegFooter = []byte{0xFF, 0xD9}
)

// UDPSource receives JPEG frames pushed by network cameras. A frame starts
// with a packet beginning with the JPEG SOI marker and ends with a packet
// ending with the EOI marker; packets are reassembled per sender.
type UDPSource struct {
	Base

	port   int
	conn   *net.UDPConn
	logger *logger.Logger
}

// NewUDPSource creates a source listening on port. Port 0 picks a free port.
func NewUDPSource(port int, logger *logger.Logger) *UDPSource {
	s := &UDPSource{port: port, logger: logger}
	s.Init()
	return s
}

func (s *UDPSource) Start() error {
	addr, err := net.ResolveUDPAddr("udp", ":"+strconv.Itoa(s.port))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP port %d: %w", s.port, err)
	}
	s.conn = conn

	s.logger.Info("UDP capture listening on %s", conn.LocalAddr())
	go s.readLoop()
	return nil
}

// Addr returns the bound address once started.
func (s *UDPSource) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

func (s *UDPSource) Stop() {
	s.Close(func() {
		if s.conn != nil {
			s.conn.Close()
		}
	})
}

func (s *UDPSource) readLoop() {
	packet := make([]byte, maxPacketSize)
	buffers := make(map[string]*bytes.Buffer)

	for {
		n, remote, err := s.conn.ReadFromUDP(packet)
		if err != nil {
			if s.Stopped() {
				return
			}
			s.logger.Error("Error reading UDP packet: %v", err)
			continue
		}

		sender := remote.IP.String()
		buf, ok := buffers[sender]
		if !ok {
			buf = new(bytes.Buffer)
			buffers[sender] = buf
		}

		if frame := s.assemble(buf, packet[:n]); frame != nil {
			s.Offer(frame)
		}
	}
}

// assemble appends data to buf and returns the decoded frame once the
// EOI marker arrives.
func (s *UDPSource) assemble(buf *bytes.Buffer, data []byte) *model.Frame {
	if bytes.HasPrefix(data, jpegHeader) {
		buf.Reset()
	} else if buf.Len() == 0 {
		// mid-frame packet without a start marker
		return nil
	}
	buf.Write(data)

	if buf.Len() > maxFrameSize {
		s.logger.Warning("Discarding oversized UDP frame (%d bytes)", buf.Len())
		buf.Reset()
		return nil
	}

	if !bytes.HasSuffix(data, jpegFooter) {
		return nil
	}

	img, err := imaging.Decode(bytes.NewReader(buf.Bytes()))
	buf.Reset()
	if err != nil {
		s.logger.Warning("Error decoding UDP frame: %v", err)
		return nil
	}
	return model.NewFrame(img)
}
