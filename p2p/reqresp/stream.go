package reqresp

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/golang/snappy"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/geanlabs/poet/poet"
	"github.com/geanlabs/poet/types"
)

const (
	ReadTimeout  = 10 * time.Second
	WriteTimeout = 10 * time.Second
	MaxMsgSize   = poet.MaxEnvelopeSize
)

// Response codes
const (
	RespCodeSuccess     byte = 0x00
	RespCodeInvalidReq  byte = 0x01
	RespCodeServerError byte = 0x02
)

var ErrMessageTooLarge = errors.New("message too large")

// StatusFunc observes a status received from a peer.
type StatusFunc func(from peer.ID, status *Status)

// StreamHandler manages request/response protocol streams.
type StreamHandler struct {
	host     host.Host
	handler  *Handler
	onStatus StatusFunc
	logger   *slog.Logger
}

// NewStreamHandler creates a new stream handler. onStatus may be nil.
func NewStreamHandler(h host.Host, handler *Handler, onStatus StatusFunc, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{
		host:     h,
		handler:  handler,
		onStatus: onStatus,
		logger:   logger,
	}
}

// RegisterProtocols registers all request/response protocol handlers.
func (s *StreamHandler) RegisterProtocols() {
	s.host.SetStreamHandler(protocol.ID(StatusProtocolV1), s.handleStatusStream)
	s.host.SetStreamHandler(protocol.ID(CertificateChainProtocolV1), s.handleCertificateChainStream)
}

// handleStatusStream handles incoming Status requests.
func (s *StreamHandler) handleStatusStream(stream network.Stream) {
	defer stream.Close()

	_ = stream.SetReadDeadline(time.Now().Add(ReadTimeout))

	data, err := readMessage(bufio.NewReader(stream))
	if err != nil {
		s.logger.Debug("status: failed to read message", "err", err)
		writeErrorResponse(stream, RespCodeInvalidReq)
		return
	}

	var peerStatus Status
	if err := peerStatus.UnmarshalSSZ(data); err != nil {
		s.logger.Debug("status: failed to unmarshal", "err", err)
		writeErrorResponse(stream, RespCodeInvalidReq)
		return
	}

	if s.onStatus != nil {
		s.onStatus(stream.Conn().RemotePeer(), &peerStatus)
	}

	respData, err := s.handler.GetStatus().MarshalSSZ()
	if err != nil {
		s.logger.Debug("status: failed to marshal response", "err", err)
		writeErrorResponse(stream, RespCodeServerError)
		return
	}

	_ = stream.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if err := writeSuccessResponse(stream, respData); err != nil {
		s.logger.Debug("status: failed to write response", "err", err)
	}
}

// handleCertificateChainStream handles incoming CertificateChain requests.
func (s *StreamHandler) handleCertificateChainStream(stream network.Stream) {
	defer stream.Close()

	_ = stream.SetReadDeadline(time.Now().Add(ReadTimeout))

	data, err := readMessage(bufio.NewReader(stream))
	if err != nil {
		writeErrorResponse(stream, RespCodeInvalidReq)
		return
	}

	var request CertificateChainRequest
	if err := request.UnmarshalSSZ(data); err != nil {
		writeErrorResponse(stream, RespCodeInvalidReq)
		return
	}

	chain, err := s.handler.HandleCertificateChain(&request)
	if err != nil {
		s.logger.Warn("certificate chain: store lookup failed", "err", err)
		writeErrorResponse(stream, RespCodeServerError)
		return
	}

	// Write each certificate as a separate response chunk
	_ = stream.SetWriteDeadline(time.Now().Add(WriteTimeout))
	for _, signed := range chain {
		envelope, err := signed.MarshalSSZ()
		if err != nil {
			continue
		}
		if err := writeSuccessResponse(stream, envelope); err != nil {
			s.logger.Debug("certificate chain: failed to write chunk", "err", err)
			return
		}
	}
}

// SendStatus sends a Status request to a peer and returns their status.
func (s *StreamHandler) SendStatus(ctx context.Context, peerID peer.ID, status *Status) (*Status, error) {
	data, err := status.MarshalSSZ()
	if err != nil {
		return nil, fmt.Errorf("marshal status: %w", err)
	}

	stream, err := s.request(ctx, peerID, StatusProtocolV1, data)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	_ = stream.SetReadDeadline(time.Now().Add(ReadTimeout))
	respCode, respData, err := readResponse(bufio.NewReader(stream))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if respCode != RespCodeSuccess {
		return nil, fmt.Errorf("peer returned error code %d", respCode)
	}

	var peerStatus Status
	if err := peerStatus.UnmarshalSSZ(respData); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	return &peerStatus, nil
}

// RequestCertificateChain requests up to count certificates from a peer,
// starting at from and walking back. Certificates are returned newest first.
func (s *StreamHandler) RequestCertificateChain(ctx context.Context, peerID peer.ID, from types.CertificateID, count uint64) ([]*poet.SignedWaitCertificate, error) {
	request := &CertificateChainRequest{Count: count, From: from}
	data, err := request.MarshalSSZ()
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	stream, err := s.request(ctx, peerID, CertificateChainProtocolV1, data)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	_ = stream.SetReadDeadline(time.Now().Add(ReadTimeout))
	return readCertificateChain(bufio.NewReader(stream), count)
}

// request opens a stream, writes data and closes the write side.
func (s *StreamHandler) request(ctx context.Context, peerID peer.ID, proto string, data []byte) (network.Stream, error) {
	stream, err := s.host.NewStream(ctx, peerID, protocol.ID(proto))
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}

	_ = stream.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if err := writeMessage(stream, data); err != nil {
		stream.Reset()
		return nil, fmt.Errorf("write request: %w", err)
	}

	// Close write side to signal end of request
	if err := stream.CloseWrite(); err != nil {
		stream.Reset()
		return nil, fmt.Errorf("close write: %w", err)
	}
	return stream, nil
}

// readCertificateChain reads response chunks until EOF or limit.
func readCertificateChain(r *bufio.Reader, limit uint64) ([]*poet.SignedWaitCertificate, error) {
	var chain []*poet.SignedWaitCertificate
	for uint64(len(chain)) < limit {
		respCode, respData, err := readResponse(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return chain, fmt.Errorf("read response: %w", err)
		}
		if respCode != RespCodeSuccess {
			return chain, fmt.Errorf("peer returned error code %d", respCode)
		}

		signed, err := poet.UnmarshalSignedWaitCertificate(respData)
		if err != nil {
			return chain, fmt.Errorf("decode certificate: %w", err)
		}
		chain = append(chain, signed)
	}
	return chain, nil
}

// Framed message I/O: varint length prefix of the uncompressed size, then
// the SSZ bytes in snappy framing format.

// readMessage reads one varint-prefixed, snappy-framed message. It returns
// io.EOF only when the stream ends cleanly before the prefix.
func readMessage(r *bufio.Reader) ([]byte, error) {
	size, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if size > MaxMsgSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, size)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(snappy.NewReader(r), buf); err != nil {
		return nil, fmt.Errorf("snappy decode: %w", noEOF(err))
	}
	return buf, nil
}

// writeMessage writes a varint-prefixed, snappy-framed message.
func writeMessage(w io.Writer, data []byte) error {
	varintBuf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(varintBuf, uint64(len(data)))
	if _, err := w.Write(varintBuf[:n]); err != nil {
		return err
	}

	sw := snappy.NewBufferedWriter(w)
	if _, err := sw.Write(data); err != nil {
		return err
	}
	return sw.Close()
}

// readResponse reads a response code followed by the message. Error codes
// carry no message.
func readResponse(r *bufio.Reader) (byte, []byte, error) {
	code, err := r.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	if code != RespCodeSuccess {
		return code, nil, nil
	}

	data, err := readMessage(r)
	return code, data, noEOF(err)
}

// writeSuccessResponse writes a success response with data.
func writeSuccessResponse(w io.Writer, data []byte) error {
	if _, err := w.Write([]byte{RespCodeSuccess}); err != nil {
		return err
	}
	return writeMessage(w, data)
}

// writeErrorResponse writes an error response code.
func writeErrorResponse(w io.Writer, code byte) error {
	_, err := w.Write([]byte{code})
	return err
}

// noEOF turns an EOF inside a message into an unexpected EOF.
func noEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
